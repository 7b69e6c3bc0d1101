package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowdeck/flowdeck/internal/services/federation/partner"
	"github.com/flowdeck/flowdeck/internal/services/federation/storage"
)

const partnerColumns = `id, org_id, node_id, node_name, node_url, secret_key,
		        active, sync_status, last_heartbeat, created_at, updated_at`

func scanPartner(row interface{ Scan(...any) error }) (partner.Partner, error) {
	var p partner.Partner
	var active int
	var lastHeartbeat sql.NullInt64
	var createdAt int64
	var updatedAt int64
	err := row.Scan(
		&p.ID,
		&p.OrgID,
		&p.NodeID,
		&p.NodeName,
		&p.NodeURL,
		&p.SecretKey,
		&active,
		&p.SyncStatus,
		&lastHeartbeat,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return partner.Partner{}, err
	}
	p.Active = active != 0
	p.LastHeartbeat = fromNullMillis(lastHeartbeat)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

// CreatePartner inserts one partner registry row.
func (s *Store) CreatePartner(ctx context.Context, p partner.Partner) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("partner id is required")
	}

	active := 0
	if p.Active {
		active = 1
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO federation_partners (
		   id, org_id, node_id, node_name, node_url, secret_key,
		   active, sync_status, last_heartbeat, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.OrgID,
		p.NodeID,
		p.NodeName,
		p.NodeURL,
		p.SecretKey,
		active,
		p.SyncStatus,
		toNullMillis(p.LastHeartbeat),
		toMillis(p.CreatedAt),
		toMillis(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create partner: %w", err)
	}
	return nil
}

// GetPartner returns one partner scoped to an organization.
func (s *Store) GetPartner(ctx context.Context, orgID, partnerID string) (partner.Partner, error) {
	if err := ctx.Err(); err != nil {
		return partner.Partner{}, err
	}
	if s == nil || s.sqlDB == nil {
		return partner.Partner{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+partnerColumns+`
		   FROM federation_partners
		  WHERE org_id = ? AND id = ?`,
		strings.TrimSpace(orgID),
		strings.TrimSpace(partnerID),
	)
	p, err := scanPartner(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return partner.Partner{}, storage.ErrNotFound
		}
		return partner.Partner{}, fmt.Errorf("get partner: %w", err)
	}
	return p, nil
}

// ListPartners returns all partners owned by an organization.
func (s *Store) ListPartners(ctx context.Context, orgID string) ([]partner.Partner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+partnerColumns+`
		   FROM federation_partners
		  WHERE org_id = ?
		  ORDER BY created_at ASC, id ASC`,
		strings.TrimSpace(orgID),
	)
	if err != nil {
		return nil, fmt.Errorf("list partners: %w", err)
	}
	defer rows.Close()

	var partners []partner.Partner
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, fmt.Errorf("list partners: %w", err)
		}
		partners = append(partners, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list partners: %w", err)
	}
	return partners, nil
}

// ListPartnersByNodeID returns partner rows for a node across organizations.
func (s *Store) ListPartnersByNodeID(ctx context.Context, nodeID string) ([]partner.Partner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	nodeID = strings.TrimSpace(nodeID)
	if nodeID == "" {
		return nil, fmt.Errorf("node id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+partnerColumns+`
		   FROM federation_partners
		  WHERE node_id = ?
		  ORDER BY created_at ASC, id ASC`,
		nodeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list partners by node: %w", err)
	}
	defer rows.Close()

	var partners []partner.Partner
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, fmt.Errorf("list partners by node: %w", err)
		}
		partners = append(partners, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list partners by node: %w", err)
	}
	return partners, nil
}

// UpdatePartnerHeartbeat records the most recent heartbeat for a partner.
func (s *Store) UpdatePartnerHeartbeat(ctx context.Context, orgID, partnerID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE federation_partners
		    SET last_heartbeat = ?, updated_at = ?
		  WHERE org_id = ? AND id = ?`,
		toMillis(at),
		toMillis(at),
		strings.TrimSpace(orgID),
		strings.TrimSpace(partnerID),
	)
	if err != nil {
		return fmt.Errorf("update partner heartbeat: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update partner heartbeat: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeletePartner removes one partner registry row.
func (s *Store) DeletePartner(ctx context.Context, orgID, partnerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM federation_partners WHERE org_id = ? AND id = ?`,
		strings.TrimSpace(orgID),
		strings.TrimSpace(partnerID),
	)
	if err != nil {
		return fmt.Errorf("delete partner: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete partner: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
