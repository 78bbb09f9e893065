package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/egh-labs/egh-backend/internal/accounts"
	"github.com/egh-labs/egh-backend/internal/comments"
	"github.com/egh-labs/egh-backend/internal/devices"
	"github.com/egh-labs/egh-backend/internal/journal"
	"github.com/egh-labs/egh-backend/internal/push"
	"github.com/egh-labs/egh-backend/internal/reflections"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const currentUserContextKey = "egh_current_user"

var (
	errMissingAccounts    = errors.New("accounts service dependency required")
	errMissingJournal     = errors.New("journal service dependency required")
	errMissingReflections = errors.New("reflections service dependency required")
	errMissingComments    = errors.New("comments service dependency required")
	errMissingDevices     = errors.New("device registry dependency required")
)

// Dependencies wires domain services into the HTTP layer. Notifier is
// optional; the test-notification endpoint reports unavailable without it.
type Dependencies struct {
	Accounts    *accounts.Service
	Journal     *journal.Service
	Reflections *reflections.Service
	Comments    *comments.Service
	Devices     *devices.Registry
	Notifier    *push.Notifier
	Logger      *zap.Logger
}

// NewHTTPHandler assembles the gin router with CORS and basic-auth gating.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Accounts == nil {
		return nil, errMissingAccounts
	}
	if deps.Journal == nil {
		return nil, errMissingJournal
	}
	if deps.Reflections == nil {
		return nil, errMissingReflections
	}
	if deps.Comments == nil {
		return nil, errMissingComments
	}
	if deps.Devices == nil {
		return nil, errMissingDevices
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		accounts:    deps.Accounts,
		journal:     deps.Journal,
		reflections: deps.Reflections,
		comments:    deps.Comments,
		devices:     deps.Devices,
		notifier:    deps.Notifier,
		logger:      logger,
	}

	router.GET("/", handler.handleHealth)
	router.POST("/auth/signup", handler.handleSignup)

	protected := router.Group("/")
	protected.Use(handler.authenticateRequest)
	protected.POST("/auth/device/register", handler.handleDeviceRegister)
	protected.POST("/summaries", handler.handleCreateSummary)
	protected.GET("/summaries/mine", handler.handleListMySummaries)
	protected.POST("/ai/generate", handler.handleGenerate)
	protected.GET("/ai/items/:id", handler.handleGetItem)
	protected.POST("/ai/vote", handler.handleVote)
	protected.POST("/ai/impressions", handler.handleImpression)
	protected.GET("/ai/feed", handler.handleFeed)
	protected.GET("/ai/mine/today", handler.handleMineToday)
	protected.POST("/comments", handler.handleCreateComment)
	protected.GET("/comments", handler.handleListComments)
	protected.DELETE("/comments/:id", handler.handleDeleteComment)
	protected.POST("/users/:username/follow", handler.handleFollow)
	protected.DELETE("/users/:username/follow", handler.handleUnfollow)
	protected.POST("/notify/test", handler.handleNotifyTest)

	return router, nil
}

type httpHandler struct {
	accounts    *accounts.Service
	journal     *journal.Service
	reflections *reflections.Service
	comments    *comments.Service
	devices     *devices.Registry
	notifier    *push.Notifier
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// authenticateRequest gates protected routes behind HTTP Basic credentials.
func (h *httpHandler) authenticateRequest(c *gin.Context) {
	email, password, ok := c.Request.BasicAuth()
	if !ok {
		c.Header("WWW-Authenticate", `Basic realm="egh"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "credentials_required"})
		return
	}

	user, err := h.accounts.Authenticate(c.Request.Context(), email, password)
	if err != nil {
		switch {
		case errors.Is(err, accounts.ErrInvalidCredentials):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		case errors.Is(err, accounts.ErrAccountLocked):
			c.AbortWithStatusJSON(http.StatusLocked, gin.H{"error": "account_locked"})
		default:
			h.logger.Error("authentication failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth_failed"})
		}
		return
	}

	c.Set(currentUserContextKey, user)
	c.Next()
}

func (h *httpHandler) currentUser(c *gin.Context) *accounts.User {
	value, exists := c.Get(currentUserContextKey)
	if !exists {
		return nil
	}
	user, ok := value.(*accounts.User)
	if !ok {
		return nil
	}
	return user
}

type signupPayload struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Timezone string `json:"timezone"`
}

func (h *httpHandler) handleSignup(c *gin.Context) {
	var request signupPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.Email) == "" ||
		strings.TrimSpace(request.Username) == "" ||
		request.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.accounts.Signup(c.Request.Context(), accounts.SignupRequest{
		Email:    request.Email,
		Username: request.Username,
		Password: request.Password,
		Timezone: request.Timezone,
	})
	if err != nil {
		switch {
		case errors.Is(err, accounts.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		case errors.Is(err, accounts.ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "username_taken"})
		default:
			h.logger.Error("signup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "signup_failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":       user.ID,
		"email":    user.Email,
		"username": user.Username,
	})
}

type deviceRegisterPayload struct {
	Platform    string `json:"platform"`
	DeviceToken string `json:"device_token"`
}

func (h *httpHandler) handleDeviceRegister(c *gin.Context) {
	user := h.currentUser(c)

	var request deviceRegisterPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(strings.TrimSpace(request.DeviceToken)) < 10 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	platform := strings.TrimSpace(request.Platform)
	if platform == "" {
		platform = "iOS"
	}

	outcome, err := h.devices.Register(c.Request.Context(), user.ID, platform, strings.TrimSpace(request.DeviceToken))
	if err != nil {
		h.logger.Error("device registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "register_failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"ok": true, string(outcome): true})
}

type summaryPayload struct {
	Text string `json:"text"`
}

type summaryResponse struct {
	ID          uint   `json:"id"`
	SummaryDate string `json:"summary_date"`
	SummaryText string `json:"summary_text"`
	CreatedAt   string `json:"created_at"`
}

func (h *httpHandler) handleCreateSummary(c *gin.Context) {
	user := h.currentUser(c)

	var request summaryPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if len([]rune(request.Text)) > journal.MaxSummaryLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text_too_long"})
		return
	}

	date := h.accounts.CurrentDate(user)
	summary, err := h.journal.CreateSummary(c.Request.Context(), user.ID, date, request.Text)
	if err != nil {
		h.logger.Error("summary creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}

	c.JSON(http.StatusCreated, newSummaryResponse(summary))
}

func (h *httpHandler) handleListMySummaries(c *gin.Context) {
	user := h.currentUser(c)
	limit := parseIntQuery(c, "limit", 20)

	summaries, err := h.journal.ListMine(c.Request.Context(), user.ID, limit)
	if err != nil {
		h.logger.Error("summary listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	response := make([]summaryResponse, 0, len(summaries))
	for i := range summaries {
		response = append(response, newSummaryResponse(&summaries[i]))
	}
	c.JSON(http.StatusOK, gin.H{"items": response})
}

func newSummaryResponse(summary *journal.DailySummary) summaryResponse {
	return summaryResponse{
		ID:          summary.ID,
		SummaryDate: summary.SummaryDate.Format("2006-01-02"),
		SummaryText: summary.SummaryText,
		CreatedAt:   summary.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type generatePayload struct {
	SummaryID         uint   `json:"summary_id"`
	Model             string `json:"model"`
	GeneratedText     string `json:"generated_text"`
	PromptFingerprint string `json:"prompt_fingerprint"`
	DeactivateOthers  *bool  `json:"deactivate_others"`
}

type generationResponse struct {
	ID            uint   `json:"id"`
	SummaryID     uint   `json:"summary_id"`
	Model         string `json:"model"`
	GeneratedText string `json:"generated_text"`
	IsActive      bool   `json:"is_active"`
	CreatedAt     string `json:"created_at"`
}

func (h *httpHandler) handleGenerate(c *gin.Context) {
	user := h.currentUser(c)

	var request generatePayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		request.SummaryID == 0 ||
		strings.TrimSpace(request.GeneratedText) == "" ||
		len([]rune(request.GeneratedText)) > 4000 ||
		len(request.PromptFingerprint) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	model := strings.TrimSpace(request.Model)
	if model == "" {
		model = "stub"
	}
	deactivate := true
	if request.DeactivateOthers != nil {
		deactivate = *request.DeactivateOthers
	}

	generation, err := h.reflections.CreateGeneration(c.Request.Context(), user.ID, reflections.GenerateRequest{
		SummaryID:         request.SummaryID,
		Model:             model,
		GeneratedText:     request.GeneratedText,
		PromptFingerprint: request.PromptFingerprint,
		DeactivateOthers:  deactivate,
	})
	if err != nil {
		switch {
		case errors.Is(err, journal.ErrSummaryNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "summary_not_found"})
		case errors.Is(err, reflections.ErrNotSummaryOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "not_summary_owner"})
		default:
			h.logger.Error("generation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "generate_failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, newGenerationResponse(generation))
}

func newGenerationResponse(generation *reflections.Generation) generationResponse {
	return generationResponse{
		ID:            generation.ID,
		SummaryID:     generation.SummaryID,
		Model:         generation.Model,
		GeneratedText: generation.GeneratedText,
		IsActive:      generation.IsActive,
		CreatedAt:     generation.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *httpHandler) handleGetItem(c *gin.Context) {
	aiID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	item, err := h.reflections.GetItem(c.Request.Context(), aiID)
	if err != nil {
		if errors.Is(err, reflections.ErrGenerationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "generation_not_found"})
			return
		}
		h.logger.Error("item lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}

	c.JSON(http.StatusOK, item)
}

type votePayload struct {
	AIID  uint   `json:"ai_id"`
	Label string `json:"label"`
}

func (h *httpHandler) handleVote(c *gin.Context) {
	user := h.currentUser(c)

	var request votePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.AIID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	label, err := reflections.ParseVoteLabel(request.Label)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_label"})
		return
	}

	counts, err := h.reflections.CastVote(c.Request.Context(), request.AIID, user.ID, label)
	if err != nil {
		if errors.Is(err, reflections.ErrGenerationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "generation_not_found"})
			return
		}
		h.logger.Error("vote failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "vote_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ai_id":   request.AIID,
		"counts":  counts,
		"my_vote": label,
	})
}

type impressionPayload struct {
	AIID uint   `json:"ai_id"`
	Kind string `json:"kind"`
}

func (h *httpHandler) handleImpression(c *gin.Context) {
	user := h.currentUser(c)

	var request impressionPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.AIID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	kind, err := reflections.ParseImpressionKind(request.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_kind"})
		return
	}

	if err := h.reflections.RecordImpression(c.Request.Context(), request.AIID, user.ID, kind); err != nil {
		if errors.Is(err, reflections.ErrGenerationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "generation_not_found"})
			return
		}
		h.logger.Error("impression failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "impression_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *httpHandler) handleFeed(c *gin.Context) {
	user := h.currentUser(c)

	scope, err := reflections.ParseFeedScope(c.Query("scope"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_scope"})
		return
	}
	includeSelf := strings.EqualFold(c.Query("include_self"), "true")
	limit := parseIntQuery(c, "limit", 20)

	items, err := h.reflections.BuildFeed(c.Request.Context(), user.ID, reflections.FeedRequest{
		Scope:          scope,
		IncludeSelf:    includeSelf,
		Limit:          limit,
		LogImpressions: true,
	})
	if err != nil {
		h.logger.Error("feed build failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "feed_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *httpHandler) handleMineToday(c *gin.Context) {
	user := h.currentUser(c)

	generation, err := h.reflections.MineToday(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error("mine/today failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	if generation == nil {
		c.JSON(http.StatusOK, nil)
		return
	}

	c.JSON(http.StatusOK, newGenerationResponse(generation))
}

type commentPayload struct {
	AIID      *uint  `json:"ai_id"`
	SummaryID *uint  `json:"summary_id"`
	ParentID  *uint  `json:"parent_id"`
	Body      string `json:"body"`
}

type commentResponse struct {
	ID        uint   `json:"id"`
	AIID      *uint  `json:"ai_id,omitempty"`
	SummaryID *uint  `json:"summary_id,omitempty"`
	AuthorID  uint   `json:"author_id"`
	ParentID  *uint  `json:"parent_id,omitempty"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

func (h *httpHandler) handleCreateComment(c *gin.Context) {
	user := h.currentUser(c)

	var request commentPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	comment, err := h.comments.Create(c.Request.Context(), user.ID, comments.CreateRequest{
		AIID:      request.AIID,
		SummaryID: request.SummaryID,
		ParentID:  request.ParentID,
		Body:      request.Body,
	})
	if err != nil {
		switch {
		case errors.Is(err, comments.ErrMissingTarget):
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_target"})
		case errors.Is(err, reflections.ErrGenerationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "generation_not_found"})
		case errors.Is(err, journal.ErrSummaryNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "summary_not_found"})
		case errors.Is(err, comments.ErrParentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "parent_not_found"})
		default:
			h.logger.Error("comment creation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, newCommentResponse(comment))
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	aiRaw := c.Query("ai_id")
	summaryRaw := c.Query("summary_id")
	if (aiRaw == "") == (summaryRaw == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_target"})
		return
	}

	var thread []comments.Comment
	var err error
	if aiRaw != "" {
		id, parseErr := strconv.ParseUint(aiRaw, 10, 64)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		thread, err = h.comments.ListForGeneration(c.Request.Context(), uint(id))
	} else {
		id, parseErr := strconv.ParseUint(summaryRaw, 10, 64)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		thread, err = h.comments.ListForSummary(c.Request.Context(), uint(id))
	}
	if err != nil {
		h.logger.Error("comment listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	response := make([]commentResponse, 0, len(thread))
	for i := range thread {
		response = append(response, newCommentResponse(&thread[i]))
	}
	c.JSON(http.StatusOK, gin.H{"items": response})
}

func (h *httpHandler) handleDeleteComment(c *gin.Context) {
	user := h.currentUser(c)
	commentID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	err := h.comments.Delete(c.Request.Context(), user.ID, commentID)
	if err != nil {
		switch {
		case errors.Is(err, comments.ErrCommentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "comment_not_found"})
		case errors.Is(err, comments.ErrNotAuthor):
			c.JSON(http.StatusForbidden, gin.H{"error": "not_comment_author"})
		default:
			h.logger.Error("comment deletion failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func newCommentResponse(comment *comments.Comment) commentResponse {
	return commentResponse{
		ID:        comment.ID,
		AIID:      comment.AIID,
		SummaryID: comment.SummaryID,
		AuthorID:  comment.AuthorID,
		ParentID:  comment.ParentID,
		Body:      comment.Body,
		CreatedAt: comment.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *httpHandler) handleFollow(c *gin.Context) {
	user := h.currentUser(c)

	target, err := h.accounts.FindByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.respondFollowError(c, err)
		return
	}

	if err := h.accounts.Follow(c.Request.Context(), user.ID, target.ID); err != nil {
		h.respondFollowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true})
}

func (h *httpHandler) handleUnfollow(c *gin.Context) {
	user := h.currentUser(c)

	target, err := h.accounts.FindByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.respondFollowError(c, err)
		return
	}

	if err := h.accounts.Unfollow(c.Request.Context(), user.ID, target.ID); err != nil {
		h.respondFollowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *httpHandler) respondFollowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, accounts.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
	case errors.Is(err, accounts.ErrAlreadyFollowing):
		c.JSON(http.StatusConflict, gin.H{"error": "already_following"})
	case errors.Is(err, accounts.ErrNotFollowing):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_following"})
	default:
		h.logger.Error("follow operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "follow_failed"})
	}
}

type notifyTestPayload struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Deeplink string `json:"deeplink"`
}

func (h *httpHandler) handleNotifyTest(c *gin.Context) {
	user := h.currentUser(c)

	if h.notifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push_not_configured"})
		return
	}

	var request notifyTestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	title := strings.TrimSpace(request.Title)
	if title == "" {
		title = "EGH"
	}
	body := strings.TrimSpace(request.Body)
	if body == "" {
		body = "Time to write today's summary."
	}

	results, err := h.notifier.NotifyUser(c.Request.Context(), user.ID, push.Notification{
		Title:    title,
		Body:     body,
		Deeplink: request.Deeplink,
	})
	if err != nil {
		h.logger.Error("notification fan-out failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "notify_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	value, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || value == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return 0, false
	}
	return uint(value), true
}

func parseIntQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
