package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/flowdeck/flowdeck/internal/services/federation/identity"
	"github.com/flowdeck/flowdeck/internal/services/federation/storage"
)

const identityColumns = `org_id, role, node_id, node_name, node_url,
		        principle_node_id, principle_node_url, last_heartbeat,
		        created_at, updated_at`

func scanIdentity(row interface{ Scan(...any) error }) (identity.Identity, error) {
	var ident identity.Identity
	var role string
	var lastHeartbeat sql.NullInt64
	var createdAt int64
	var updatedAt int64
	err := row.Scan(
		&ident.OrgID,
		&role,
		&ident.NodeID,
		&ident.NodeName,
		&ident.NodeURL,
		&ident.PrincipleNodeID,
		&ident.PrincipleNodeURL,
		&lastHeartbeat,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return identity.Identity{}, err
	}
	ident.Role = identity.Role(role)
	ident.LastHeartbeat = fromNullMillis(lastHeartbeat)
	ident.CreatedAt = fromMillis(createdAt)
	ident.UpdatedAt = fromMillis(updatedAt)
	return ident, nil
}

// GetIdentity returns one organization's federation identity.
func (s *Store) GetIdentity(ctx context.Context, orgID string) (identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return identity.Identity{}, err
	}
	if s == nil || s.sqlDB == nil {
		return identity.Identity{}, fmt.Errorf("storage is not configured")
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return identity.Identity{}, fmt.Errorf("org id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+identityColumns+`
		   FROM federation_identities
		  WHERE org_id = ?`,
		orgID,
	)
	ident, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.Identity{}, storage.ErrNotFound
		}
		return identity.Identity{}, fmt.Errorf("get identity: %w", err)
	}
	return ident, nil
}

// PutIdentity upserts one organization's federation identity.
func (s *Store) PutIdentity(ctx context.Context, ident identity.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(ident.OrgID) == "" {
		return fmt.Errorf("org id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO federation_identities (
		   org_id, role, node_id, node_name, node_url,
		   principle_node_id, principle_node_url, last_heartbeat,
		   created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (org_id) DO UPDATE SET
		   role = excluded.role,
		   node_id = excluded.node_id,
		   node_name = excluded.node_name,
		   node_url = excluded.node_url,
		   principle_node_id = excluded.principle_node_id,
		   principle_node_url = excluded.principle_node_url,
		   last_heartbeat = excluded.last_heartbeat,
		   updated_at = excluded.updated_at`,
		ident.OrgID,
		string(ident.Role),
		ident.NodeID,
		ident.NodeName,
		ident.NodeURL,
		ident.PrincipleNodeID,
		ident.PrincipleNodeURL,
		toNullMillis(ident.LastHeartbeat),
		toMillis(ident.CreatedAt),
		toMillis(ident.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put identity: %w", err)
	}
	return nil
}

// ListPartnerIdentitiesByPrinciple returns partner identities bound to the
// given principle node across all organizations.
func (s *Store) ListPartnerIdentitiesByPrinciple(ctx context.Context, principleNodeID string) ([]identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	principleNodeID = strings.TrimSpace(principleNodeID)
	if principleNodeID == "" {
		return nil, fmt.Errorf("principle node id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+identityColumns+`
		   FROM federation_identities
		  WHERE role = ? AND principle_node_id = ?
		  ORDER BY org_id ASC`,
		string(identity.RolePartner),
		principleNodeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list partner identities: %w", err)
	}
	defer rows.Close()

	var identities []identity.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("list partner identities: %w", err)
		}
		identities = append(identities, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list partner identities: %w", err)
	}
	return identities, nil
}
