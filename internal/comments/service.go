package comments

import (
	"context"
	"errors"
	"fmt"

	"github.com/egh-labs/egh-backend/internal/journal"
	"github.com/egh-labs/egh-backend/internal/reflections"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	// ErrCommentNotFound indicates the referenced comment does not exist.
	ErrCommentNotFound = errors.New("comments: comment not found")
	// ErrParentNotFound indicates the reply parent does not exist.
	ErrParentNotFound = errors.New("comments: parent comment not found")
	// ErrMissingTarget indicates neither ai_id nor summary_id was supplied,
	// or both were.
	ErrMissingTarget = errors.New("comments: exactly one of ai_id or summary_id is required")
	// ErrNotAuthor indicates the caller does not own the comment.
	ErrNotAuthor = errors.New("comments: not the comment author")
)

const (
	opServiceNew = "comments.service.new"
	opCreate     = "comments.create"
	opList       = "comments.list"
	opDelete     = "comments.delete"
)

// ServiceError wraps comment failures with a dotted operation.reason code.
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

// ServiceConfig describes dependencies for the comments service.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service manages comment threads under generations and summaries.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs the comments service.
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

// CreateRequest carries comment input. Exactly one of AIID/SummaryID must be set.
type CreateRequest struct {
	AIID      *uint
	SummaryID *uint
	ParentID  *uint
	Body      string
}

// Create stores a comment after verifying its content target and, for
// replies, the parent comment.
func (s *Service) Create(ctx context.Context, authorID uint, req CreateRequest) (*Comment, error) {
	if (req.AIID == nil) == (req.SummaryID == nil) {
		return nil, ErrMissingTarget
	}

	comment := &Comment{
		AIID:      req.AIID,
		SummaryID: req.SummaryID,
		AuthorID:  authorID,
		ParentID:  req.ParentID,
		Body:      req.Body,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.AIID != nil {
			var generation reflections.Generation
			err := tx.Take(&generation, *req.AIID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return reflections.ErrGenerationNotFound
			}
			if err != nil {
				return newServiceError(opCreate, "generation_lookup_failed", err)
			}
		}
		if req.SummaryID != nil {
			var summary journal.DailySummary
			err := tx.Take(&summary, *req.SummaryID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return journal.ErrSummaryNotFound
			}
			if err != nil {
				return newServiceError(opCreate, "summary_lookup_failed", err)
			}
		}
		if req.ParentID != nil {
			var parent Comment
			err := tx.Take(&parent, *req.ParentID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrParentNotFound
			}
			if err != nil {
				return newServiceError(opCreate, "parent_lookup_failed", err)
			}
		}
		if err := tx.Create(comment).Error; err != nil {
			return newServiceError(opCreate, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	s.logger.Debug("comment created", zap.Uint("comment_id", comment.ID), zap.Uint("author_id", authorID))
	return comment, nil
}

// ListForGeneration returns the thread under a generation, oldest first.
func (s *Service) ListForGeneration(ctx context.Context, aiID uint) ([]Comment, error) {
	var thread []Comment
	err := s.db.WithContext(ctx).
		Where("ai_id = ?", aiID).
		Order("created_at ASC, id ASC").
		Find(&thread).Error
	if err != nil {
		return nil, newServiceError(opList, "query_failed", err)
	}
	return thread, nil
}

// ListForSummary returns the thread under a summary, oldest first.
func (s *Service) ListForSummary(ctx context.Context, summaryID uint) ([]Comment, error) {
	var thread []Comment
	err := s.db.WithContext(ctx).
		Where("summary_id = ?", summaryID).
		Order("created_at ASC, id ASC").
		Find(&thread).Error
	if err != nil {
		return nil, newServiceError(opList, "query_failed", err)
	}
	return thread, nil
}

// Delete removes the caller's own comment. Replies keep their parent_id
// back-reference; the tree is non-owning.
func (s *Service) Delete(ctx context.Context, callerID, commentID uint) error {
	var comment Comment
	err := s.db.WithContext(ctx).Take(&comment, commentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrCommentNotFound
	}
	if err != nil {
		return newServiceError(opDelete, "lookup_failed", err)
	}
	if comment.AuthorID != callerID {
		return ErrNotAuthor
	}
	if err := s.db.WithContext(ctx).Delete(&comment).Error; err != nil {
		return newServiceError(opDelete, "delete_failed", err)
	}
	return nil
}
