package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	// ErrInvalidCredentials indicates the email/password pair did not match an account.
	ErrInvalidCredentials = errors.New("accounts: invalid credentials")
	// ErrAccountLocked indicates the account exists but is deactivated.
	ErrAccountLocked = errors.New("accounts: account locked")
	// ErrEmailTaken indicates the signup email already belongs to an account.
	ErrEmailTaken = errors.New("accounts: email already registered")
	// ErrUsernameTaken indicates the signup username already belongs to an account.
	ErrUsernameTaken = errors.New("accounts: username already registered")
	// ErrUserNotFound indicates the referenced user does not exist.
	ErrUserNotFound = errors.New("accounts: user not found")
	// ErrNotFollowing indicates there is no follow edge to remove.
	ErrNotFollowing = errors.New("accounts: not following")
	// ErrAlreadyFollowing indicates the follow edge already exists.
	ErrAlreadyFollowing = errors.New("accounts: already following")
)

const (
	opServiceNew   = "accounts.service.new"
	opSignup       = "accounts.signup"
	opAuthenticate = "accounts.authenticate"
	opFollow       = "accounts.follow"
	opUnfollow     = "accounts.unfollow"
	opFollowees    = "accounts.followees"
)

// ServiceError wraps account failures with a dotted operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes dependencies for the accounts service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	Logger     *zap.Logger
	BcryptCost int
}

// Service manages account signup, credential verification, and follow edges.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	logger     *zap.Logger
	bcryptCost int
}

// NewService constructs the accounts service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger, bcryptCost: cost}, nil
}

// SignupRequest carries validated signup input.
type SignupRequest struct {
	Email    string
	Username string
	Password string
	Timezone string
}

// Signup creates a new active account. Emails are lowercased before storage so
// lookups are case-insensitive.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.TrimSpace(req.Username)

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, newServiceError(opSignup, "hash_failed", err)
	}

	user := &User{
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
		IsActive:     true,
		Timezone:     strings.TrimSpace(req.Timezone),
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&User{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return newServiceError(opSignup, "email_lookup_failed", err)
		}
		if count > 0 {
			return ErrEmailTaken
		}
		if err := tx.Model(&User{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return newServiceError(opSignup, "username_lookup_failed", err)
		}
		if count > 0 {
			return ErrUsernameTaken
		}
		if err := tx.Create(user).Error; err != nil {
			return newServiceError(opSignup, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	s.logger.Info("account created", zap.Uint("user_id", user.ID), zap.String("username", user.Username))
	return user, nil
}

// Authenticate verifies an email/password pair and returns the active account.
// Bad credentials yield ErrInvalidCredentials; a deactivated account yields
// ErrAccountLocked.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, newServiceError(opAuthenticate, "lookup_failed", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrAccountLocked
	}
	return &user, nil
}

// FindByUsername resolves a user by exact username.
func (s *Service) FindByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, newServiceError(opFollow, "lookup_failed", err)
	}
	return &user, nil
}

// Follow adds a directional follow edge. The unique index on the pair is the
// correctness backstop under concurrent requests; a duplicate insert surfaces
// as ErrAlreadyFollowing.
func (s *Service) Follow(ctx context.Context, followerID, followeeID uint) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Follow{}).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Count(&count).Error; err != nil {
		return newServiceError(opFollow, "lookup_failed", err)
	}
	if count > 0 {
		return ErrAlreadyFollowing
	}
	err := s.db.WithContext(ctx).Create(&Follow{FollowerID: followerID, FolloweeID: followeeID}).Error
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyFollowing
		}
		return newServiceError(opFollow, "insert_failed", err)
	}
	return nil
}

// Unfollow removes the follow edge if present.
func (s *Service) Unfollow(ctx context.Context, followerID, followeeID uint) error {
	result := s.db.WithContext(ctx).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Delete(&Follow{})
	if result.Error != nil {
		return newServiceError(opUnfollow, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFollowing
	}
	return nil
}

// FolloweeIDs returns the set of users the given user follows.
func (s *Service) FolloweeIDs(ctx context.Context, followerID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&Follow{}).
		Where("follower_id = ?", followerID).
		Pluck("followee_id", &ids).Error
	if err != nil {
		return nil, newServiceError(opFollowees, "query_failed", err)
	}
	return ids, nil
}

// CurrentDate computes the calendar date of "now" in the user's stored
// timezone, falling back to UTC when the identifier is unrecognized.
func (s *Service) CurrentDate(user *User) time.Time {
	loc := time.UTC
	if user != nil && user.Timezone != "" {
		if parsed, err := time.LoadLocation(user.Timezone); err == nil {
			loc = parsed
		}
	}
	now := s.clock().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique") || strings.Contains(message, "duplicate")
}
