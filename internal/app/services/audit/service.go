// Package audit implements the Audit Sink: a pure append-only log every
// subsystem writes domain events to. No decision anywhere in the system
// depends on audit content.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	core "github.com/lattice-run/core/internal/app/core/service"
	"github.com/lattice-run/core/internal/app/domain/audit"
	"github.com/lattice-run/core/internal/app/storage"
	"github.com/lattice-run/core/pkg/logger"
)

// Service is the Audit Sink.
type Service struct {
	store storage.AuditStore
	log   *logger.Logger
}

// New creates a configured audit sink.
func New(store storage.AuditStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("audit")
	}
	return &Service{store: store, log: log}
}

// Append writes one audit entry.
func (s *Service) Append(ctx context.Context, domain, eventType, entityType, entityID string, actorType audit.ActorType, actorID string, payload map[string]string) (audit.Entry, error) {
	domain = strings.TrimSpace(domain)
	eventType = strings.TrimSpace(eventType)
	entityType = strings.TrimSpace(entityType)
	entityID = strings.TrimSpace(entityID)
	if domain == "" || eventType == "" || entityType == "" || entityID == "" {
		return audit.Entry{}, fmt.Errorf("domain, event_type, entity_type, and entity_id are required")
	}
	return s.store.Append(ctx, audit.Entry{
		Domain:     domain,
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		ActorType:  actorType,
		ActorID:    actorID,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	})
}

// Query reads audit entries matching filter, most recent first.
func (s *Service) Query(ctx context.Context, filter storage.AuditFilter, limit int) ([]audit.Entry, error) {
	limit = core.ClampLimit(limit, 100, core.MaxListLimit)
	return s.store.Query(ctx, filter, limit)
}

// Descriptor advertises the service placement and capabilities.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "audit",
		Domain:       "audit",
		Layer:        core.LayerData,
		Capabilities: []string{"append", "query"},
	}
}
