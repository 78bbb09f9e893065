package accounts

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, clock func() time.Time) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:accounts_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}, &Follow{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to construct accounts service: %v", err)
	}
	return service, db
}

func fixedClock() time.Time { return time.Unix(1700000000, 0).UTC() }

func mustSignup(t *testing.T, service *Service, email, username string) *User {
	t.Helper()
	user, err := service.Signup(context.Background(), SignupRequest{
		Email:    email,
		Username: username,
		Password: "StrongPassw0rd!",
	})
	if err != nil {
		t.Fatalf("unexpected signup error: %v", err)
	}
	return user
}

func TestSignupNormalizesEmailAndAuthenticates(t *testing.T) {
	service, _ := newTestService(t, fixedClock)
	ctx := context.Background()

	user := mustSignup(t, service, "Alice@Example.COM", "alice")
	if user.Email != "alice@example.com" {
		t.Fatalf("expected lowercased email, got %s", user.Email)
	}

	authed, err := service.Authenticate(ctx, "ALICE@example.com", "StrongPassw0rd!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if authed.ID != user.ID {
		t.Fatalf("expected the signed-up account")
	}
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	service, _ := newTestService(t, fixedClock)
	ctx := context.Background()
	mustSignup(t, service, "alice@example.com", "alice")

	if _, err := service.Authenticate(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := service.Authenticate(ctx, "nobody@example.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
}

func TestAuthenticateRejectsLockedAccount(t *testing.T) {
	service, db := newTestService(t, fixedClock)
	ctx := context.Background()
	user := mustSignup(t, service, "alice@example.com", "alice")

	if err := db.Model(&User{}).Where("id = ?", user.ID).Update("is_active", false).Error; err != nil {
		t.Fatalf("failed to deactivate account: %v", err)
	}

	if _, err := service.Authenticate(ctx, "alice@example.com", "StrongPassw0rd!"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected locked account, got %v", err)
	}
}

func TestSignupRejectsDuplicates(t *testing.T) {
	service, _ := newTestService(t, fixedClock)
	ctx := context.Background()
	mustSignup(t, service, "alice@example.com", "alice")

	_, err := service.Signup(ctx, SignupRequest{
		Email:    "ALICE@example.com",
		Username: "alice2",
		Password: "x",
	})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected email conflict, got %v", err)
	}

	_, err = service.Signup(ctx, SignupRequest{
		Email:    "other@example.com",
		Username: "alice",
		Password: "x",
	})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected username conflict, got %v", err)
	}
}

func TestFollowLifecycle(t *testing.T) {
	service, _ := newTestService(t, fixedClock)
	ctx := context.Background()
	alice := mustSignup(t, service, "alice@example.com", "alice")
	bob := mustSignup(t, service, "bob@example.com", "bob")

	if err := service.Follow(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.Follow(ctx, alice.ID, bob.ID); !errors.Is(err, ErrAlreadyFollowing) {
		t.Fatalf("expected duplicate edge conflict, got %v", err)
	}

	ids, err := service.FolloweeIDs(ctx, alice.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != bob.ID {
		t.Fatalf("unexpected followees: %v", ids)
	}

	if err := service.Unfollow(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.Unfollow(ctx, alice.ID, bob.ID); !errors.Is(err, ErrNotFollowing) {
		t.Fatalf("expected not-following, got %v", err)
	}
}

func TestSelfFollowIsPermitted(t *testing.T) {
	service, _ := newTestService(t, fixedClock)
	ctx := context.Background()
	alice := mustSignup(t, service, "alice@example.com", "alice")

	if err := service.Follow(ctx, alice.ID, alice.ID); err != nil {
		t.Fatalf("self-follow should be permitted, got %v", err)
	}
}

func TestCurrentDateUsesStoredTimezone(t *testing.T) {
	// 2023-11-14 22:13:20 UTC is already 2023-11-15 in Tokyo.
	service, _ := newTestService(t, fixedClock)

	tokyo := service.CurrentDate(&User{Timezone: "Asia/Tokyo"})
	if tokyo.Format("2006-01-02") != "2023-11-15" {
		t.Fatalf("unexpected Tokyo date: %s", tokyo.Format("2006-01-02"))
	}

	utc := service.CurrentDate(&User{Timezone: ""})
	if utc.Format("2006-01-02") != "2023-11-14" {
		t.Fatalf("unexpected UTC date: %s", utc.Format("2006-01-02"))
	}

	fallback := service.CurrentDate(&User{Timezone: "Not/AZone"})
	if !fallback.Equal(utc) {
		t.Fatalf("unrecognized timezone should fall back to UTC")
	}
}
