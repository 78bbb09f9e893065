package journal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	dsn := fmt.Sprintf("file:journal_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&DailySummary{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct journal service: %v", err)
	}
	return service
}

func day(value string) time.Time {
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return parsed
}

func TestCreateAndGetSummary(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	created, err := service.CreateSummary(ctx, 1, day("2026-08-01"), "wrote tests all day")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected assigned id")
	}

	loaded, err := service.GetSummary(ctx, created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.SummaryText != "wrote tests all day" || loaded.UserID != 1 {
		t.Fatalf("unexpected summary: %+v", loaded)
	}

	if _, err := service.GetSummary(ctx, created.ID+100); !errors.Is(err, ErrSummaryNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListMineOrdersNewestFirst(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	for _, date := range []string{"2026-08-01", "2026-08-03", "2026-08-02"} {
		if _, err := service.CreateSummary(ctx, 1, day(date), "entry "+date); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := service.CreateSummary(ctx, 2, day("2026-08-04"), "someone else"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	listed, err := service.ListMine(ctx, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected three summaries, got %d", len(listed))
	}
	for index, want := range []string{"2026-08-03", "2026-08-02", "2026-08-01"} {
		if got := listed[index].SummaryDate.Format("2006-01-02"); got != want {
			t.Fatalf("position %d: expected %s, got %s", index, want, got)
		}
	}

	limited, err := service.ListMine(ctx, 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit applied, got %d entries", len(limited))
	}
}

func TestLatestMinePrefersNewestEntryOnSameDate(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if _, err := service.CreateSummary(ctx, 1, day("2026-08-05"), "first take"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := service.CreateSummary(ctx, 1, day("2026-08-05"), "second take")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	latest, err := service.LatestMine(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest.ID != second.ID {
		t.Fatalf("expected the later row on ties, got %d", latest.ID)
	}

	if _, err := service.LatestMine(ctx, 99); !errors.Is(err, ErrSummaryNotFound) {
		t.Fatalf("expected not found for user without summaries, got %v", err)
	}
}
