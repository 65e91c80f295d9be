package identity

import (
	"context"
	"testing"

	"github.com/lattice-run/core/internal/app/storage/memory"
)

func TestResolveProvisionsOnFirstSight(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	user, err := svc.Resolve(ctx, "User@Example.com")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if user.ID == "" {
		t.Fatalf("expected a provisioned user to have an id")
	}
	if user.Email != "user@example.com" {
		t.Fatalf("expected email to be lowercased, got %q", user.Email)
	}
}

func TestResolveReturnsExistingUserOnSecondSight(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := svc.Resolve(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same user to be returned, got %s and %s", first.ID, second.ID)
	}
}

func TestResolveRejectsBlankEmail(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	if _, err := svc.Resolve(context.Background(), "   "); err == nil {
		t.Fatalf("expected blank email to be rejected")
	}
}

func TestGetFetchesByID(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	created, err := svc.Resolve(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	fetched, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.Email != created.Email {
		t.Fatalf("expected fetched user to match created user")
	}
}
