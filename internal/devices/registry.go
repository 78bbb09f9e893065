package devices

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
)

const (
	opRegistryNew  = "devices.registry.new"
	opRegister     = "devices.register"
	opListByUser   = "devices.list_by_user"
	opDeleteTokens = "devices.delete_tokens"
)

// RegistryError wraps device registry failures with a dotted operation.reason code.
type RegistryError struct {
	code string
	err  error
}

func (e *RegistryError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *RegistryError) Unwrap() error { return e.err }

func (e *RegistryError) Code() string { return e.code }

func newRegistryError(operation, reason string, cause error) error {
	return &RegistryError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// RegistryConfig describes dependencies for the device registry.
type RegistryConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Registry maps device tokens to their owning users.
type Registry struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewRegistry constructs the device registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Database == nil {
		return nil, newRegistryError(opRegistryNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Registry{db: cfg.Database, clock: clock, logger: logger}, nil
}

// RegisterOutcome reports whether registration created a new binding or
// updated an existing one.
type RegisterOutcome string

const (
	RegisterOutcomeCreated RegisterOutcome = "created"
	RegisterOutcomeUpdated RegisterOutcome = "updated"
)

// Register binds the token to the user. An existing token is reassigned to
// the caller with refreshed platform and last-seen; this silent ownership
// transfer supports shared devices and reinstalls.
func (r *Registry) Register(ctx context.Context, userID uint, platform, deviceToken string) (RegisterOutcome, error) {
	now := r.clock().UTC()
	outcome := RegisterOutcomeCreated

	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var device Device
		err := tx.Where("device_token = ?", deviceToken).Take(&device).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			device = Device{
				UserID:      userID,
				Platform:    platform,
				DeviceToken: deviceToken,
				LastSeenAt:  now,
			}
			if err := tx.Create(&device).Error; err != nil {
				return newRegistryError(opRegister, "insert_failed", err)
			}
			return nil
		}
		if err != nil {
			return newRegistryError(opRegister, "lookup_failed", err)
		}

		outcome = RegisterOutcomeUpdated
		updates := map[string]interface{}{
			"user_id":      userID,
			"platform":     platform,
			"last_seen_at": now,
		}
		if err := tx.Model(&device).Updates(updates).Error; err != nil {
			return newRegistryError(opRegister, "update_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return "", txErr
	}

	r.logger.Debug("device registered",
		zap.Uint("user_id", userID),
		zap.String("platform", platform),
		zap.String("outcome", string(outcome)))
	return outcome, nil
}

// ListByUser returns the user's devices for one platform.
func (r *Registry) ListByUser(ctx context.Context, userID uint, platform string) ([]Device, error) {
	var userDevices []Device
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND platform = ?", userID, platform).
		Order("id ASC").
		Find(&userDevices).Error
	if err != nil {
		return nil, newRegistryError(opListByUser, "query_failed", err)
	}
	return userDevices, nil
}

// DeleteTokens removes all listed device tokens in one batch.
func (r *Registry) DeleteTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Where("device_token IN ?", tokens).
		Delete(&Device{}).Error
	if err != nil {
		return newRegistryError(opDeleteTokens, "delete_failed", err)
	}
	r.logger.Info("stale device tokens removed", zap.Int("count", len(tokens)))
	return nil
}
