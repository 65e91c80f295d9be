package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/lattice-run/core/internal/app/domain/audit"
	"github.com/lattice-run/core/internal/app/storage"
)

func TestStoreAppendInsertsGeneratedID(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(".*INSERT INTO audit_entries.*").
		WillReturnResult(sqlmock.NewResult(1, 1))

	e, err := store.Append(context.Background(), audit.Entry{
		Domain: "dispatch", EventType: "JOB_CREATED", EntityType: "Job", EntityID: "job-1",
		ActorType: audit.ActorUser, ActorID: "user-1",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if e.ID == "" {
		t.Fatalf("expected a generated entry id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreQueryFiltersByEntityAndUnmarshalsPayload(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(".*FROM audit_entries.*").
		WithArgs("dispatch", "Job", "job-1", 10).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "domain", "event_type", "entity_type", "entity_id", "actor_type", "actor_id", "payload", "occurred_at",
		}).AddRow("entry-1", "dispatch", "JOB_CREATED", "Job", "job-1", string(audit.ActorUser), "user-1", []byte(`{"k":"v"}`), now))

	entries, err := store.Query(context.Background(), storage.AuditFilter{Domain: "dispatch", EntityType: "Job", EntityID: "job-1"}, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(entries) != 1 || entries[0].Payload["k"] != "v" {
		t.Fatalf("unexpected entries: %#v", entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
