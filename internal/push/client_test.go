package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type staticBearerSource struct {
	token string
}

func (s *staticBearerSource) Token() (string, error) {
	return s.token, nil
}

func newTestClient(t *testing.T, gatewayURL string, timeout time.Duration) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		Host:    gatewayURL,
		Topic:   "com.egh.app",
		Tokens:  &staticBearerSource{token: "provider-token"},
		Timeout: timeout,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return client
}

func TestSendDeliversWithExpectedHeadersAndPayload(t *testing.T) {
	var captured *http.Request
	var capturedBody map[string]interface{}

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		if err := json.NewDecoder(r.Body).Decode(&capturedBody); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	client := newTestClient(t, gateway.URL, time.Second)
	result, err := client.Send(context.Background(), "device-token-1", Notification{
		Title:    "EGH",
		Body:     "hello",
		Deeplink: "egh://summary/1",
		ID:       "delivery-42",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Delivered || result.Status != http.StatusOK {
		t.Fatalf("expected delivered result, got %+v", result)
	}

	if !strings.HasSuffix(captured.URL.Path, "/3/device/device-token-1") {
		t.Fatalf("unexpected endpoint path: %s", captured.URL.Path)
	}
	if captured.Header.Get("Authorization") != "Bearer provider-token" {
		t.Fatalf("unexpected authorization header: %s", captured.Header.Get("Authorization"))
	}
	if captured.Header.Get("apns-topic") != "com.egh.app" {
		t.Fatalf("unexpected topic header: %s", captured.Header.Get("apns-topic"))
	}
	if captured.Header.Get("apns-push-type") != "alert" {
		t.Fatalf("unexpected push type header: %s", captured.Header.Get("apns-push-type"))
	}
	if captured.Header.Get("apns-id") != "delivery-42" {
		t.Fatalf("unexpected delivery id header: %s", captured.Header.Get("apns-id"))
	}

	aps, ok := capturedBody["aps"].(map[string]interface{})
	if !ok {
		t.Fatalf("payload missing aps object: %v", capturedBody)
	}
	alert, ok := aps["alert"].(map[string]interface{})
	if !ok || alert["title"] != "EGH" || alert["body"] != "hello" {
		t.Fatalf("unexpected alert payload: %v", aps)
	}
	if aps["sound"] != "default" {
		t.Fatalf("expected default sound, got %v", aps["sound"])
	}
	if capturedBody["deeplink"] != "egh://summary/1" {
		t.Fatalf("expected deeplink passthrough, got %v", capturedBody["deeplink"])
	}
}

func TestSendExtractsStructuredRejectionReason(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte(`{"reason":"Unregistered"}`))
	}))
	defer gateway.Close()

	client := newTestClient(t, gateway.URL, time.Second)
	result, err := client.Send(context.Background(), "stale-token", Notification{Title: "t", Body: "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Delivered {
		t.Fatalf("expected rejection")
	}
	if result.Status != http.StatusGone || result.Reason != "Unregistered" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !result.IndicatesStaleToken() {
		t.Fatalf("410/Unregistered should indicate a stale token")
	}
}

func TestSendTruncatesUnstructuredErrorBody(t *testing.T) {
	longBody := strings.Repeat("x", 500)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(longBody))
	}))
	defer gateway.Close()

	client := newTestClient(t, gateway.URL, time.Second)
	result, err := client.Send(context.Background(), "token", Notification{Title: "t", Body: "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Delivered {
		t.Fatalf("expected rejection")
	}
	if len(result.Reason) != 200 {
		t.Fatalf("expected reason truncated to 200 characters, got %d", len(result.Reason))
	}
	if result.IndicatesStaleToken() {
		t.Fatalf("a 500 must not mark the token stale")
	}
}

func TestSendTreatsTimeoutAsDeliveryFailure(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	client := newTestClient(t, gateway.URL, 50*time.Millisecond)
	result, err := client.Send(context.Background(), "slow-token", Notification{Title: "t", Body: "b"})
	if err != nil {
		t.Fatalf("timeout must not surface as an error: %v", err)
	}
	if result.Delivered {
		t.Fatalf("expected failed delivery on timeout")
	}
	if result.Status != 0 {
		t.Fatalf("timeout result should carry no gateway status, got %d", result.Status)
	}
	if result.IndicatesStaleToken() {
		t.Fatalf("a timeout must not mark the token stale")
	}
}

func TestSendBadDeviceTokenIndicatesStale(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"reason":"BadDeviceToken"}`))
	}))
	defer gateway.Close()

	client := newTestClient(t, gateway.URL, time.Second)
	result, err := client.Send(context.Background(), "bad-token", Notification{Title: "t", Body: "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IndicatesStaleToken() {
		t.Fatalf("400/BadDeviceToken should indicate a stale token")
	}
}
