package devices

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestRegistry(t *testing.T, clock func() time.Time) (*Registry, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:devices_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Device{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	registry, err := NewRegistry(RegistryConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct registry: %v", err)
	}
	return registry, db
}

func TestRegisterCreatesNewBinding(t *testing.T) {
	clock := func() time.Time { return time.Unix(1700000000, 0).UTC() }
	registry, db := newTestRegistry(t, clock)

	outcome, err := registry.Register(context.Background(), 1, "iOS", "device-token-alpha")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != RegisterOutcomeCreated {
		t.Fatalf("expected created outcome, got %s", outcome)
	}

	var stored Device
	if err := db.Take(&stored).Error; err != nil {
		t.Fatalf("failed to load device: %v", err)
	}
	if stored.UserID != 1 || stored.Platform != "iOS" {
		t.Fatalf("unexpected stored device: %+v", stored)
	}
	if !stored.LastSeenAt.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Fatalf("unexpected last seen: %v", stored.LastSeenAt)
	}
}

func TestRegisterTransfersOwnership(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	clock := func() time.Time { return now }
	registry, db := newTestRegistry(t, clock)

	if _, err := registry.Register(context.Background(), 1, "iOS", "shared-token"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now = now.Add(time.Hour)
	outcome, err := registry.Register(context.Background(), 2, "iOS", "shared-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != RegisterOutcomeUpdated {
		t.Fatalf("expected updated outcome, got %s", outcome)
	}

	var count int64
	if err := db.Model(&Device{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count devices: %v", err)
	}
	if count != 1 {
		t.Fatalf("re-registration must not create a second row, found %d", count)
	}

	var stored Device
	if err := db.Where("device_token = ?", "shared-token").Take(&stored).Error; err != nil {
		t.Fatalf("failed to load device: %v", err)
	}
	if stored.UserID != 2 {
		t.Fatalf("expected ownership transferred to user 2, got %d", stored.UserID)
	}
	if !stored.LastSeenAt.Equal(time.Unix(1700000000, 0).UTC().Add(time.Hour)) {
		t.Fatalf("expected last seen refreshed, got %v", stored.LastSeenAt)
	}
}

func TestListByUserFiltersPlatform(t *testing.T) {
	clock := func() time.Time { return time.Unix(1700000000, 0).UTC() }
	registry, _ := newTestRegistry(t, clock)
	ctx := context.Background()

	if _, err := registry.Register(ctx, 1, "iOS", "ios-token-0001"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := registry.Register(ctx, 1, "android", "android-token-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := registry.Register(ctx, 2, "iOS", "ios-token-0002"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	listed, err := registry.ListByUser(ctx, 1, "iOS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listed) != 1 || listed[0].DeviceToken != "ios-token-0001" {
		t.Fatalf("unexpected listing: %+v", listed)
	}
}

func TestDeleteTokensRemovesBatch(t *testing.T) {
	clock := func() time.Time { return time.Unix(1700000000, 0).UTC() }
	registry, db := newTestRegistry(t, clock)
	ctx := context.Background()

	for _, token := range []string{"token-aaaaaa", "token-bbbbbb", "token-cccccc"} {
		if _, err := registry.Register(ctx, 1, "iOS", token); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if err := registry.DeleteTokens(ctx, []string{"token-aaaaaa", "token-cccccc"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var remaining []Device
	if err := db.Find(&remaining).Error; err != nil {
		t.Fatalf("failed to load devices: %v", err)
	}
	if len(remaining) != 1 || remaining[0].DeviceToken != "token-bbbbbb" {
		t.Fatalf("unexpected remaining devices: %+v", remaining)
	}

	if err := registry.DeleteTokens(ctx, nil); err != nil {
		t.Fatalf("empty batch must be a no-op: %v", err)
	}
}
