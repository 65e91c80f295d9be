package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-run/core/internal/app/domain/audit"
	"github.com/lattice-run/core/internal/app/storage"
)

func (s *Store) Append(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Payload == nil {
		e.Payload = map[string]string{}
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return audit.Entry{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, domain, event_type, entity_type, entity_id, actor_type, actor_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.Domain, e.EventType, e.EntityType, e.EntityID, e.ActorType, e.ActorID, payload, e.Timestamp)
	if err != nil {
		return audit.Entry{}, err
	}
	return e, nil
}

func (s *Store) Query(ctx context.Context, filter storage.AuditFilter, limit int) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, event_type, entity_type, entity_id, actor_type, actor_id, payload, occurred_at
		FROM audit_entries
		WHERE ($1 = '' OR domain = $1)
		  AND ($2 = '' OR entity_type = $2)
		  AND ($3 = '' OR entity_id::text = $3)
		ORDER BY occurred_at DESC
		LIMIT $4
	`, filter.Domain, filter.EntityType, filter.EntityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.Domain, &e.EventType, &e.EntityType, &e.EntityID,
			&e.ActorType, &e.ActorID, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
