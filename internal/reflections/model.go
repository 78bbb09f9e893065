package reflections

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// VoteLabel enumerates the fixed opinion universe for a generation.
type VoteLabel string

const (
	VoteLabelCorrect   VoteLabel = "correct"
	VoteLabelIncorrect VoteLabel = "incorrect"
	VoteLabelUnknown   VoteLabel = "unknown"
)

// VoteLabels lists every label, in the order counts are reported.
var VoteLabels = []VoteLabel{VoteLabelCorrect, VoteLabelIncorrect, VoteLabelUnknown}

// ErrInvalidVoteLabel indicates a label outside the fixed universe.
var ErrInvalidVoteLabel = errors.New("reflections: invalid vote label")

// ParseVoteLabel validates raw input and returns a VoteLabel.
func ParseVoteLabel(rawInput string) (VoteLabel, error) {
	switch VoteLabel(strings.ToLower(strings.TrimSpace(rawInput))) {
	case VoteLabelCorrect:
		return VoteLabelCorrect, nil
	case VoteLabelIncorrect:
		return VoteLabelIncorrect, nil
	case VoteLabelUnknown:
		return VoteLabelUnknown, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVoteLabel, rawInput)
	}
}

// ImpressionKind enumerates engagement event types.
type ImpressionKind string

const (
	ImpressionKindImpression ImpressionKind = "impression"
	ImpressionKindOpen       ImpressionKind = "open"
	ImpressionKindShare      ImpressionKind = "share"
)

// ErrInvalidImpressionKind indicates an unrecognized engagement kind.
var ErrInvalidImpressionKind = errors.New("reflections: invalid impression kind")

// ParseImpressionKind validates raw input, defaulting empty to "impression".
func ParseImpressionKind(rawInput string) (ImpressionKind, error) {
	trimmed := strings.ToLower(strings.TrimSpace(rawInput))
	if trimmed == "" {
		return ImpressionKindImpression, nil
	}
	switch ImpressionKind(trimmed) {
	case ImpressionKindImpression:
		return ImpressionKindImpression, nil
	case ImpressionKindOpen:
		return ImpressionKindOpen, nil
	case ImpressionKindShare:
		return ImpressionKindShare, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidImpressionKind, rawInput)
	}
}

// FeedScope selects which generations a feed page draws from.
type FeedScope string

const (
	FeedScopeAll       FeedScope = "all"
	FeedScopeFollowing FeedScope = "following"
)

// ErrInvalidFeedScope indicates a scope other than all/following.
var ErrInvalidFeedScope = errors.New("reflections: scope must be 'all' or 'following'")

// ParseFeedScope validates raw input, defaulting empty to "all".
func ParseFeedScope(rawInput string) (FeedScope, error) {
	trimmed := strings.ToLower(strings.TrimSpace(rawInput))
	if trimmed == "" {
		return FeedScopeAll, nil
	}
	switch FeedScope(trimmed) {
	case FeedScopeAll:
		return FeedScopeAll, nil
	case FeedScopeFollowing:
		return FeedScopeFollowing, nil
	default:
		return "", fmt.Errorf("%w: got %q", ErrInvalidFeedScope, rawInput)
	}
}

// Generation is an AI-authored reflection attached to a daily summary. At most
// one generation is active per summary in steady state; activation is enforced
// by the deactivate-then-insert transaction in CreateGeneration.
type Generation struct {
	ID                uint      `gorm:"column:id;primaryKey"`
	SummaryID         uint      `gorm:"column:summary_id;not null;index:idx_generations_summary_active,priority:1"`
	Model             string    `gorm:"column:model;size:100;not null"`
	PromptFingerprint string    `gorm:"column:prompt_fingerprint;size:64"`
	GeneratedText     string    `gorm:"column:generated_text;size:4000;not null"`
	IsActive          bool      `gorm:"column:is_active;not null;default:true;index:idx_generations_summary_active,priority:2"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime;index"`
}

// TableName provides the explicit table binding for GORM.
func (Generation) TableName() string {
	return "ai_generations"
}

// Vote records one user's opinion on a generation. The (ai_id, voter_id) pair
// is unique; casting again overwrites the label.
type Vote struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	AIID      uint      `gorm:"column:ai_id;not null;uniqueIndex:idx_votes_ai_voter,priority:1"`
	VoterID   uint      `gorm:"column:voter_id;not null;uniqueIndex:idx_votes_ai_voter,priority:2"`
	Label     VoteLabel `gorm:"column:label;size:16;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Vote) TableName() string {
	return "ai_votes"
}

// Impression is an append-only engagement event. Repeat views accumulate rows;
// there is deliberately no uniqueness constraint.
type Impression struct {
	ID        uint           `gorm:"column:id;primaryKey"`
	AIID      uint           `gorm:"column:ai_id;not null;index"`
	ViewerID  uint           `gorm:"column:viewer_id;not null;index"`
	Kind      ImpressionKind `gorm:"column:kind;size:16;not null;default:'impression'"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Impression) TableName() string {
	return "ai_impressions"
}

// VoteCounts maps every label in the fixed universe to its tally; labels with
// no votes are zero-filled, never omitted.
type VoteCounts map[VoteLabel]int64

// NewVoteCounts returns a zero-filled tally over the full label universe.
func NewVoteCounts() VoteCounts {
	counts := make(VoteCounts, len(VoteLabels))
	for _, label := range VoteLabels {
		counts[label] = 0
	}
	return counts
}

// Total sums the tally across all labels.
func (c VoteCounts) Total() int64 {
	var total int64
	for _, count := range c {
		total += count
	}
	return total
}

// FeedItem is the denormalized card rendered for one generation.
type FeedItem struct {
	AIID          uint       `json:"ai_id"`
	SummaryID     uint       `json:"summary_id"`
	SummaryText   string     `json:"summary_text"`
	UserID        uint       `json:"user_id"`
	Username      string     `json:"username"`
	GeneratedText string     `json:"generated_text"`
	CreatedAt     time.Time  `json:"created_at"`
	Counts        VoteCounts `json:"counts"`
}
