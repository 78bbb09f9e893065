package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	// ErrSummaryNotFound indicates the referenced summary does not exist.
	ErrSummaryNotFound = errors.New("journal: summary not found")
)

const (
	opServiceNew    = "journal.service.new"
	opCreateSummary = "journal.create_summary"
	opGetSummary    = "journal.get_summary"
	opListMine      = "journal.list_mine"
	opLatestMine    = "journal.latest_mine"
)

// ServiceError wraps journal failures with a dotted operation.reason code.
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

// ServiceConfig describes dependencies for the journal service.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service manages daily summaries.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs the journal service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// CreateSummary stores a summary for the given user and calendar date. The
// caller supplies the date already resolved in the user's timezone.
func (s *Service) CreateSummary(ctx context.Context, userID uint, date time.Time, text string) (*DailySummary, error) {
	summary := &DailySummary{
		UserID:      userID,
		SummaryDate: date,
		SummaryText: text,
	}
	if err := s.db.WithContext(ctx).Create(summary).Error; err != nil {
		return nil, newServiceError(opCreateSummary, "insert_failed", err)
	}
	s.logger.Debug("summary created", zap.Uint("user_id", userID), zap.Uint("summary_id", summary.ID))
	return summary, nil
}

// GetSummary loads a summary by id.
func (s *Service) GetSummary(ctx context.Context, summaryID uint) (*DailySummary, error) {
	var summary DailySummary
	err := s.db.WithContext(ctx).Take(&summary, summaryID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSummaryNotFound
	}
	if err != nil {
		return nil, newServiceError(opGetSummary, "query_failed", err)
	}
	return &summary, nil
}

// ListMine returns the user's summaries, newest date first.
func (s *Service) ListMine(ctx context.Context, userID uint, limit int) ([]DailySummary, error) {
	if limit < 1 {
		limit = 20
	}
	var summaries []DailySummary
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("summary_date DESC, id DESC").
		Limit(limit).
		Find(&summaries).Error
	if err != nil {
		return nil, newServiceError(opListMine, "query_failed", err)
	}
	return summaries, nil
}

// LatestMine returns the user's most recent summary by date, or
// ErrSummaryNotFound when the user has none.
func (s *Service) LatestMine(ctx context.Context, userID uint) (*DailySummary, error) {
	var summary DailySummary
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("summary_date DESC, id DESC").
		Take(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSummaryNotFound
	}
	if err != nil {
		return nil, newServiceError(opLatestMine, "query_failed", err)
	}
	return &summary, nil
}
