package service

import (
	"context"
	"fmt"
	"strings"
)

// Base bundles the account-validation and tracing helpers shared by every
// subsystem service.
type Base struct {
	ensure func(ctx context.Context, accountID string) error
	tracer Tracer
}

// NewBase constructs a helper that validates account IDs using ensure. Pass
// nil to skip existence checks (identifier presence is still validated).
func NewBase(ensure func(ctx context.Context, accountID string) error) *Base {
	return &Base{ensure: ensure, tracer: NoopTracer}
}

// SetTracer configures the tracer used for cross-cutting spans.
func (b *Base) SetTracer(tracer Tracer) {
	if tracer == nil {
		b.tracer = NoopTracer
		return
	}
	b.tracer = tracer
}

// EnsureAccount validates presence and, if an existence check is configured,
// existence of an account ID.
func (b *Base) EnsureAccount(ctx context.Context, accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("account_id is required")
	}
	if b.ensure == nil {
		return nil
	}
	return b.ensure(ctx, accountID)
}

// NormalizeAccount trims and validates an account identifier, returning the
// trimmed ID after confirming existence (when configured).
func (b *Base) NormalizeAccount(ctx context.Context, accountID string) (string, error) {
	trimmed := strings.TrimSpace(accountID)
	if trimmed == "" {
		return "", fmt.Errorf("account_id is required")
	}
	if b.ensure == nil {
		return trimmed, nil
	}
	if err := b.ensure(ctx, trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// Tracer exposes the currently configured tracer (defaults to no-op).
func (b *Base) Tracer() Tracer {
	if b == nil || b.tracer == nil {
		return NoopTracer
	}
	return b.tracer
}
