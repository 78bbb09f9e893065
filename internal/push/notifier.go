package push

import (
	"context"
	"errors"

	"github.com/egh-labs/egh-backend/internal/devices"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultPlatform = "iOS"

var (
	errMissingSender   = errors.New("push: delivery sender must be provided")
	errMissingRegistry = errors.New("push: device registry must be provided")
)

// Sender delivers one notification to one device token.
type Sender interface {
	Send(ctx context.Context, deviceToken string, notification Notification) (Result, error)
}

// DeviceSource lists a user's devices and removes stale tokens.
type DeviceSource interface {
	ListByUser(ctx context.Context, userID uint, platform string) ([]devices.Device, error)
	DeleteTokens(ctx context.Context, tokens []string) error
}

// NotifierConfig configures the fan-out notifier.
type NotifierConfig struct {
	Sender   Sender
	Registry DeviceSource
	Platform string
	Logger   *zap.Logger
}

// Notifier fans one logical notification out to every device a user has
// registered for one platform.
type Notifier struct {
	sender   Sender
	registry DeviceSource
	platform string
	logger   *zap.Logger
}

// NewNotifier constructs the notifier.
func NewNotifier(cfg NotifierConfig) (*Notifier, error) {
	if cfg.Sender == nil {
		return nil, errMissingSender
	}
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	platform := cfg.Platform
	if platform == "" {
		platform = defaultPlatform
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		sender:   cfg.Sender,
		registry: cfg.Registry,
		platform: platform,
		logger:   logger,
	}, nil
}

// DeviceResult pairs one device token with its delivery outcome.
type DeviceResult struct {
	DeviceToken string `json:"device_token"`
	Result      Result `json:"result"`
}

// NotifyUser delivers the notification to each of the user's devices, one
// attempt per device with no retry. Per-device failures never abort sibling
// deliveries. Tokens the gateway reports as gone (400/410 with
// BadDeviceToken/Unregistered) are deleted in one batch after the fan-out.
func (n *Notifier) NotifyUser(ctx context.Context, userID uint, notification Notification) ([]DeviceResult, error) {
	userDevices, err := n.registry.ListByUser(ctx, userID, n.platform)
	if err != nil {
		return nil, err
	}

	results := make([]DeviceResult, 0, len(userDevices))
	var staleTokens []string
	for _, device := range userDevices {
		delivery := notification
		if delivery.ID == "" {
			delivery.ID = uuid.NewString()
		}

		result, err := n.sender.Send(ctx, device.DeviceToken, delivery)
		if err != nil {
			return results, err
		}
		results = append(results, DeviceResult{DeviceToken: device.DeviceToken, Result: result})

		if result.IndicatesStaleToken() {
			staleTokens = append(staleTokens, device.DeviceToken)
		}
	}

	if len(staleTokens) > 0 {
		if err := n.registry.DeleteTokens(ctx, staleTokens); err != nil {
			return results, err
		}
		n.logger.Info("evicted stale device tokens",
			zap.Uint("user_id", userID),
			zap.Int("count", len(staleTokens)))
	}

	return results, nil
}
