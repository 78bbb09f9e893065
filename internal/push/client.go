package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxRawReasonLength    = 200

	pushTypeAlert = "alert"

	// Gateway rejection reasons that mean the device token is gone for good.
	reasonBadDeviceToken = "BadDeviceToken"
	reasonUnregistered   = "Unregistered"
)

var (
	errMissingHost        = errors.New("push: gateway host must be provided")
	errMissingTopic       = errors.New("push: topic must be provided")
	errMissingTokenSource = errors.New("push: provider token source must be provided")
)

// BearerSource produces the provider credential attached to each delivery.
type BearerSource interface {
	Token() (string, error)
}

// ClientConfig configures the APNs delivery client.
type ClientConfig struct {
	Host       string
	Topic      string
	Tokens     BearerSource
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Client delivers one notification per device over the APNs HTTP API.
type Client struct {
	host       string
	topic      string
	tokens     BearerSource
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs the delivery client.
func NewClient(cfg ClientConfig) (*Client, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		return nil, errMissingHost
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errMissingTopic
	}
	if cfg.Tokens == nil {
		return nil, errMissingTokenSource
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		host:       host,
		topic:      strings.TrimSpace(cfg.Topic),
		tokens:     cfg.Tokens,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Notification is the payload delivered to one device. Deeplink is passed
// through opaquely to the client app; ID becomes the apns-id delivery header.
type Notification struct {
	Title    string
	Body     string
	Deeplink string
	ID       string
}

// Result classifies one delivery attempt. Status is zero when the request
// never reached the gateway (transport failure or timeout).
type Result struct {
	Delivered bool   `json:"delivered"`
	Status    int    `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// IndicatesStaleToken reports whether the gateway said this device token
// should never be used again. Timeouts and transient failures do not qualify.
func (r Result) IndicatesStaleToken() bool {
	if r.Status != http.StatusBadRequest && r.Status != http.StatusGone {
		return false
	}
	return r.Reason == reasonBadDeviceToken || r.Reason == reasonUnregistered
}

type apsAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type apsPayload struct {
	Alert apsAlert `json:"alert"`
	Sound string   `json:"sound"`
}

type pushPayload struct {
	APS      apsPayload `json:"aps"`
	Deeplink string     `json:"deeplink,omitempty"`
}

type gatewayError struct {
	Reason string `json:"reason"`
}

// Send delivers one notification to one device and classifies the outcome.
// Transport failures and timeouts come back as an undelivered Result, not an
// error; the returned error covers only credential or request construction
// problems.
func (c *Client) Send(ctx context.Context, deviceToken string, notification Notification) (Result, error) {
	bearer, err := c.tokens.Token()
	if err != nil {
		return Result{}, fmt.Errorf("push: obtaining provider token: %w", err)
	}

	body, err := json.Marshal(pushPayload{
		APS: apsPayload{
			Alert: apsAlert{Title: notification.Title, Body: notification.Body},
			Sound: "default",
		},
		Deeplink: notification.Deeplink,
	})
	if err != nil {
		return Result{}, fmt.Errorf("push: encoding payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/3/device/%s", c.host, deviceToken)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("push: building request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+bearer)
	request.Header.Set("apns-topic", c.topic)
	request.Header.Set("apns-push-type", pushTypeAlert)
	if notification.ID != "" {
		request.Header.Set("apns-id", notification.ID)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("push delivery transport failure", zap.Error(err))
		return Result{Delivered: false, Reason: truncateReason(err.Error())}, nil
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusOK || response.StatusCode == http.StatusAccepted {
		return Result{Delivered: true, Status: response.StatusCode}, nil
	}

	raw, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
	reason := extractReason(raw)
	c.logger.Warn("push delivery rejected",
		zap.Int("status", response.StatusCode),
		zap.String("reason", reason))
	return Result{Delivered: false, Status: response.StatusCode, Reason: reason}, nil
}

// extractReason pulls the structured reason out of a gateway error body,
// falling back to the truncated raw response.
func extractReason(raw []byte) string {
	var parsed gatewayError
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Reason != "" {
		return parsed.Reason
	}
	return truncateReason(string(raw))
}

func truncateReason(reason string) string {
	if len(reason) > maxRawReasonLength {
		return reason[:maxRawReasonLength]
	}
	return reason
}
