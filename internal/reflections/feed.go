package reflections

import (
	"context"

	"github.com/egh-labs/egh-backend/internal/accounts"
	"github.com/egh-labs/egh-backend/internal/journal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	feedLimitDefault = 20
	feedLimitMin     = 1
	feedLimitMax     = 100
)

// FeedRequest describes one feed page request. LogImpressions controls the
// impression side effect; handlers leave it on, tests may disable it.
type FeedRequest struct {
	Scope          FeedScope
	IncludeSelf    bool
	Limit          int
	LogImpressions bool
}

// BuildFeed assembles a page of active generations for the viewer, newest
// first, with denormalized author/summary/tally data. When LogImpressions is
// set, one impression event per returned item is appended for the viewer; the
// page computation and the impression writes commit as one transaction.
//
// A "following" scope for a viewer with no followees returns an empty page
// without touching generation storage.
func (s *Service) BuildFeed(ctx context.Context, viewerID uint, req FeedRequest) ([]FeedItem, error) {
	scope := req.Scope
	if scope == "" {
		scope = FeedScopeAll
	}

	limit := req.Limit
	if limit == 0 {
		limit = feedLimitDefault
	}
	if limit < feedLimitMin {
		limit = feedLimitMin
	}
	if limit > feedLimitMax {
		limit = feedLimitMax
	}

	var followeeIDs []uint
	if scope == FeedScopeFollowing {
		ids, err := s.followees.FolloweeIDs(ctx, viewerID)
		if err != nil {
			return nil, newServiceError(opBuildFeed, "followees_failed", err)
		}
		if len(ids) == 0 {
			return []FeedItem{}, nil
		}
		followeeIDs = ids
	}

	var items []FeedItem
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&Generation{}).Where("is_active = ?", true)
		if scope == FeedScopeFollowing {
			query = query.Where(
				"summary_id IN (SELECT id FROM daily_summaries WHERE user_id IN ?)", followeeIDs)
		}
		if !req.IncludeSelf {
			query = query.Where(
				"summary_id NOT IN (SELECT id FROM daily_summaries WHERE user_id = ?)", viewerID)
		}

		var generations []Generation
		if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&generations).Error; err != nil {
			return newServiceError(opBuildFeed, "query_failed", err)
		}

		denormalized, err := s.denormalize(tx, opBuildFeed, generations)
		if err != nil {
			return err
		}
		items = denormalized

		if req.LogImpressions && len(generations) > 0 {
			impressions := make([]Impression, 0, len(generations))
			for _, generation := range generations {
				impressions = append(impressions, Impression{
					AIID:     generation.ID,
					ViewerID: viewerID,
					Kind:     ImpressionKindImpression,
				})
			}
			if err := tx.Create(&impressions).Error; err != nil {
				return newServiceError(opBuildFeed, "impression_insert_failed", err)
			}
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	s.logger.Debug("feed built",
		zap.Uint("viewer_id", viewerID),
		zap.String("scope", string(scope)),
		zap.Int("items", len(items)))
	return items, nil
}

// denormalize resolves summary text, author, and vote tallies for each
// generation, preserving input order.
func (s *Service) denormalize(db *gorm.DB, operation string, generations []Generation) ([]FeedItem, error) {
	if len(generations) == 0 {
		return []FeedItem{}, nil
	}

	summaryIDs := make([]uint, 0, len(generations))
	aiIDs := make([]uint, 0, len(generations))
	for _, generation := range generations {
		summaryIDs = append(summaryIDs, generation.SummaryID)
		aiIDs = append(aiIDs, generation.ID)
	}

	var summaries []journal.DailySummary
	if err := db.Where("id IN ?", summaryIDs).Find(&summaries).Error; err != nil {
		return nil, newServiceError(operation, "summary_query_failed", err)
	}
	summariesByID := make(map[uint]journal.DailySummary, len(summaries))
	userIDs := make([]uint, 0, len(summaries))
	for _, summary := range summaries {
		summariesByID[summary.ID] = summary
		userIDs = append(userIDs, summary.UserID)
	}

	var authors []accounts.User
	if err := db.Where("id IN ?", userIDs).Find(&authors).Error; err != nil {
		return nil, newServiceError(operation, "author_query_failed", err)
	}
	authorsByID := make(map[uint]accounts.User, len(authors))
	for _, author := range authors {
		authorsByID[author.ID] = author
	}

	tallies, err := s.countVotes(db, operation, aiIDs)
	if err != nil {
		return nil, err
	}

	items := make([]FeedItem, 0, len(generations))
	for _, generation := range generations {
		summary := summariesByID[generation.SummaryID]
		author := authorsByID[summary.UserID]
		items = append(items, FeedItem{
			AIID:          generation.ID,
			SummaryID:     generation.SummaryID,
			SummaryText:   summary.SummaryText,
			UserID:        author.ID,
			Username:      author.Username,
			GeneratedText: generation.GeneratedText,
			CreatedAt:     generation.CreatedAt,
			Counts:        tallies[generation.ID],
		})
	}
	return items, nil
}
