package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/flowdeck/flowdeck/internal/services/federation/request"
	"github.com/flowdeck/flowdeck/internal/services/federation/storage"
)

const requestColumns = `id, org_id, direction, status,
		        requester_node_id, requester_node_name, requester_node_url,
		        target_node_id, secret_key, expires_at,
		        acknowledged_at, rejected_at, rejection_reason, metadata,
		        created_at, updated_at`

func scanRequest(row interface{ Scan(...any) error }) (request.Request, error) {
	var req request.Request
	var direction string
	var status string
	var expiresAt int64
	var acknowledgedAt sql.NullInt64
	var rejectedAt sql.NullInt64
	var metadata string
	var createdAt int64
	var updatedAt int64
	err := row.Scan(
		&req.ID,
		&req.OrgID,
		&direction,
		&status,
		&req.RequesterNodeID,
		&req.RequesterNodeName,
		&req.RequesterNodeURL,
		&req.TargetNodeID,
		&req.SecretKey,
		&expiresAt,
		&acknowledgedAt,
		&rejectedAt,
		&req.RejectionReason,
		&metadata,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return request.Request{}, err
	}
	req.Direction = request.Direction(direction)
	req.Status = request.Status(status)
	req.ExpiresAt = fromMillis(expiresAt)
	req.AcknowledgedAt = fromNullMillis(acknowledgedAt)
	req.RejectedAt = fromNullMillis(rejectedAt)
	req.CreatedAt = fromMillis(createdAt)
	req.UpdatedAt = fromMillis(updatedAt)
	if err := json.Unmarshal([]byte(metadata), &req.Metadata); err != nil {
		return request.Request{}, fmt.Errorf("decode request metadata: %w", err)
	}
	return req, nil
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode request metadata: %w", err)
	}
	return string(raw), nil
}

// CreateRequest inserts one ledger entry.
func (s *Store) CreateRequest(ctx context.Context, req request.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(req.ID) == "" {
		return fmt.Errorf("request id is required")
	}

	metadata, err := encodeMetadata(req.Metadata)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO federation_requests (
		   id, org_id, direction, status,
		   requester_node_id, requester_node_name, requester_node_url,
		   target_node_id, secret_key, expires_at,
		   acknowledged_at, rejected_at, rejection_reason, metadata,
		   created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID,
		req.OrgID,
		string(req.Direction),
		string(req.Status),
		req.RequesterNodeID,
		req.RequesterNodeName,
		req.RequesterNodeURL,
		req.TargetNodeID,
		req.SecretKey,
		toMillis(req.ExpiresAt),
		toNullMillis(req.AcknowledgedAt),
		toNullMillis(req.RejectedAt),
		req.RejectionReason,
		metadata,
		toMillis(req.CreatedAt),
		toMillis(req.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// GetRequest returns one ledger entry scoped to an organization.
func (s *Store) GetRequest(ctx context.Context, orgID, requestID string) (request.Request, error) {
	if err := ctx.Err(); err != nil {
		return request.Request{}, err
	}
	if s == nil || s.sqlDB == nil {
		return request.Request{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+requestColumns+`
		   FROM federation_requests
		  WHERE org_id = ? AND id = ?`,
		strings.TrimSpace(orgID),
		strings.TrimSpace(requestID),
	)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return request.Request{}, storage.ErrNotFound
		}
		return request.Request{}, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// ListRequests returns all ledger entries for an organization, newest first.
func (s *Store) ListRequests(ctx context.Context, orgID string) ([]request.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+requestColumns+`
		   FROM federation_requests
		  WHERE org_id = ?
		  ORDER BY created_at DESC, id ASC`,
		strings.TrimSpace(orgID),
	)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var requests []request.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("list requests: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return requests, nil
}

// ListPendingOutgoingRequests returns pending outgoing entries across
// organizations.
func (s *Store) ListPendingOutgoingRequests(ctx context.Context) ([]request.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+requestColumns+`
		   FROM federation_requests
		  WHERE direction = ? AND status = ?
		  ORDER BY created_at ASC, id ASC`,
		string(request.DirectionOutgoing),
		string(request.StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("list pending outgoing requests: %w", err)
	}
	defer rows.Close()

	var requests []request.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("list pending outgoing requests: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending outgoing requests: %w", err)
	}
	return requests, nil
}

// UpdateRequest writes one ledger entry's mutable fields by id.
func (s *Store) UpdateRequest(ctx context.Context, req request.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(req.ID) == "" {
		return fmt.Errorf("request id is required")
	}

	metadata, err := encodeMetadata(req.Metadata)
	if err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE federation_requests
		    SET status = ?,
		        target_node_id = ?,
		        acknowledged_at = ?,
		        rejected_at = ?,
		        rejection_reason = ?,
		        metadata = ?,
		        updated_at = ?
		  WHERE org_id = ? AND id = ?`,
		string(req.Status),
		req.TargetNodeID,
		toNullMillis(req.AcknowledgedAt),
		toNullMillis(req.RejectedAt),
		req.RejectionReason,
		metadata,
		toMillis(req.UpdatedAt),
		req.OrgID,
		req.ID,
	)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
