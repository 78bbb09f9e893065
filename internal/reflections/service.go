package reflections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/egh-labs/egh-backend/internal/journal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingFollowees = errors.New("followee source is required")
	noOpLogger          = zap.NewNop()

	// ErrGenerationNotFound indicates the referenced AI item does not exist.
	ErrGenerationNotFound = errors.New("reflections: generation not found")
	// ErrNotSummaryOwner indicates the caller does not own the target summary.
	ErrNotSummaryOwner = errors.New("reflections: not the summary owner")
)

const (
	opServiceNew       = "reflections.service.new"
	opCreateGeneration = "reflections.create_generation"
	opGetItem          = "reflections.get_item"
	opCastVote         = "reflections.cast_vote"
	opVoteCounts       = "reflections.vote_counts"
	opRecordImpression = "reflections.record_impression"
	opBuildFeed        = "reflections.build_feed"
	opMineToday        = "reflections.mine_today"
)

// ServiceError wraps reflection failures with a dotted operation.reason code.
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

func (e *ServiceError) Unwrap() error { return e.err }

func (e *ServiceError) Code() string { return e.code }

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// FolloweeSource resolves the set of users a viewer follows.
type FolloweeSource interface {
	FolloweeIDs(ctx context.Context, followerID uint) ([]uint, error)
}

// ServiceConfig describes dependencies for the reflections service.
type ServiceConfig struct {
	Database  *gorm.DB
	Clock     func() time.Time
	Logger    *zap.Logger
	Followees FolloweeSource
}

// Service implements generation lifecycle, vote aggregation, impression
// logging, and feed assembly.
type Service struct {
	db        *gorm.DB
	clock     func() time.Time
	logger    *zap.Logger
	followees FolloweeSource
}

// NewService constructs the reflections service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Followees == nil {
		return nil, newServiceError(opServiceNew, "missing_followees", errMissingFollowees)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger, followees: cfg.Followees}, nil
}

// GenerateRequest carries the input for storing a generation. The text is
// produced elsewhere; this service only records the result.
type GenerateRequest struct {
	SummaryID         uint
	Model             string
	GeneratedText     string
	PromptFingerprint string
	DeactivateOthers  bool
}

// CreateGeneration stores AI text for the caller's summary. When
// DeactivateOthers is set, the existing active generation is deactivated and
// the new row inserted inside one transaction, so no two generations for the
// same summary can end up concurrently active.
func (s *Service) CreateGeneration(ctx context.Context, userID uint, req GenerateRequest) (*Generation, error) {
	generation := &Generation{
		SummaryID:         req.SummaryID,
		Model:             req.Model,
		PromptFingerprint: req.PromptFingerprint,
		GeneratedText:     req.GeneratedText,
		IsActive:          true,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var summary journal.DailySummary
		err := tx.Take(&summary, req.SummaryID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return journal.ErrSummaryNotFound
		}
		if err != nil {
			return newServiceError(opCreateGeneration, "summary_lookup_failed", err)
		}
		if summary.UserID != userID {
			return ErrNotSummaryOwner
		}

		if req.DeactivateOthers {
			err := tx.Model(&Generation{}).
				Where("summary_id = ? AND is_active = ?", summary.ID, true).
				Update("is_active", false).Error
			if err != nil {
				return newServiceError(opCreateGeneration, "deactivate_failed", err)
			}
		}

		if err := tx.Create(generation).Error; err != nil {
			return newServiceError(opCreateGeneration, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	s.logger.Info("generation stored",
		zap.Uint("summary_id", generation.SummaryID),
		zap.Uint("ai_id", generation.ID),
		zap.Bool("deactivated_others", req.DeactivateOthers))
	return generation, nil
}

// GetItem returns the denormalized card for one generation.
func (s *Service) GetItem(ctx context.Context, aiID uint) (*FeedItem, error) {
	var item *FeedItem
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		generation, err := s.loadGeneration(tx, aiID, opGetItem)
		if err != nil {
			return err
		}
		items, err := s.denormalize(tx, opGetItem, []Generation{*generation})
		if err != nil {
			return err
		}
		item = &items[0]
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return item, nil
}

// CastVote records the voter's opinion as an upsert: a second cast from the
// same voter overwrites the label in place. The unique index on
// (ai_id, voter_id) plus the ON CONFLICT clause makes concurrent casts safe.
func (s *Service) CastVote(ctx context.Context, aiID, voterID uint, label VoteLabel) (VoteCounts, error) {
	var counts VoteCounts
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadGeneration(tx, aiID, opCastVote); err != nil {
			return err
		}

		vote := Vote{AIID: aiID, VoterID: voterID, Label: label}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ai_id"}, {Name: "voter_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"label", "updated_at"}),
		}).Create(&vote).Error
		if err != nil {
			return newServiceError(opCastVote, "upsert_failed", err)
		}

		tallies, err := s.countVotes(tx, opCastVote, []uint{aiID})
		if err != nil {
			return err
		}
		counts = tallies[aiID]
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	s.logger.Debug("vote cast",
		zap.Uint("ai_id", aiID),
		zap.Uint("voter_id", voterID),
		zap.String("label", string(label)))
	return counts, nil
}

// Counts returns the zero-filled tally for one generation.
func (s *Service) Counts(ctx context.Context, aiID uint) (VoteCounts, error) {
	db := s.db.WithContext(ctx)
	if _, err := s.loadGeneration(db, aiID, opVoteCounts); err != nil {
		return nil, err
	}
	tallies, err := s.countVotes(db, opVoteCounts, []uint{aiID})
	if err != nil {
		return nil, err
	}
	return tallies[aiID], nil
}

// RecordImpression appends one engagement event for a generation.
func (s *Service) RecordImpression(ctx context.Context, aiID, viewerID uint, kind ImpressionKind) error {
	db := s.db.WithContext(ctx)
	if _, err := s.loadGeneration(db, aiID, opRecordImpression); err != nil {
		return err
	}
	impression := Impression{AIID: aiID, ViewerID: viewerID, Kind: kind}
	if err := db.Create(&impression).Error; err != nil {
		return newServiceError(opRecordImpression, "insert_failed", err)
	}
	return nil
}

// MineToday returns the active generation attached to the caller's most recent
// summary, or nil when the caller has no summary or no active generation.
func (s *Service) MineToday(ctx context.Context, userID uint) (*Generation, error) {
	db := s.db.WithContext(ctx)

	var summary journal.DailySummary
	err := db.Where("user_id = ?", userID).
		Order("summary_date DESC, id DESC").
		Take(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newServiceError(opMineToday, "summary_query_failed", err)
	}

	var generation Generation
	err = db.Where("summary_id = ? AND is_active = ?", summary.ID, true).
		Order("created_at DESC, id DESC").
		Take(&generation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newServiceError(opMineToday, "generation_query_failed", err)
	}
	return &generation, nil
}

func (s *Service) loadGeneration(db *gorm.DB, aiID uint, operation string) (*Generation, error) {
	var generation Generation
	err := db.Take(&generation, aiID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGenerationNotFound
	}
	if err != nil {
		return nil, newServiceError(operation, "generation_lookup_failed", err)
	}
	return &generation, nil
}

// countVotes groups votes by label for each requested generation and
// zero-fills the full label universe.
func (s *Service) countVotes(db *gorm.DB, operation string, aiIDs []uint) (map[uint]VoteCounts, error) {
	tallies := make(map[uint]VoteCounts, len(aiIDs))
	for _, id := range aiIDs {
		tallies[id] = NewVoteCounts()
	}
	if len(aiIDs) == 0 {
		return tallies, nil
	}

	type tallyRow struct {
		AIID  uint      `gorm:"column:ai_id"`
		Label VoteLabel `gorm:"column:label"`
		Count int64     `gorm:"column:count"`
	}
	var rows []tallyRow
	err := db.Model(&Vote{}).
		Select("ai_id AS ai_id, label AS label, COUNT(id) AS count").
		Where("ai_id IN ?", aiIDs).
		Group("ai_id, label").
		Scan(&rows).Error
	if err != nil {
		return nil, newServiceError(operation, "count_query_failed", err)
	}

	for _, row := range rows {
		if counts, ok := tallies[row.AIID]; ok {
			counts[row.Label] = row.Count
		}
	}
	return tallies, nil
}
