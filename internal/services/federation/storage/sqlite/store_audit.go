package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/flowdeck/flowdeck/internal/platform/id"
	"github.com/flowdeck/flowdeck/internal/services/federation/storage"
)

// AppendAuditEvent inserts one audit trail entry.
func (s *Store) AppendAuditEvent(ctx context.Context, event storage.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(event.ID) == "" {
		eventID, err := id.NewID()
		if err != nil {
			return fmt.Errorf("generate audit event id: %w", err)
		}
		event.ID = eventID
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	detail := event.Detail
	if detail == nil {
		detail = map[string]string{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encode audit detail: %w", err)
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO federation_audit_events (
		   id, org_id, kind, subject, detail, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.OrgID,
		event.Kind,
		event.Subject,
		string(raw),
		toMillis(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns recent audit entries for an organization, newest first.
func (s *Store) ListAuditEvents(ctx context.Context, orgID string, limit int) ([]storage.AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, org_id, kind, subject, detail, created_at
		   FROM federation_audit_events
		  WHERE org_id = ?
		  ORDER BY created_at DESC, id ASC
		  LIMIT ?`,
		strings.TrimSpace(orgID),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []storage.AuditEvent
	for rows.Next() {
		var event storage.AuditEvent
		var detail string
		var createdAt int64
		if err := rows.Scan(&event.ID, &event.OrgID, &event.Kind, &event.Subject, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("list audit events: %w", err)
		}
		if err := json.Unmarshal([]byte(detail), &event.Detail); err != nil {
			return nil, fmt.Errorf("decode audit detail: %w", err)
		}
		event.Timestamp = fromMillis(createdAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}
