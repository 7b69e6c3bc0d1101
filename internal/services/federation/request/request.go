// Package request models the partnership request ledger.
//
// Each row tracks one handshake attempt between two nodes. Status moves only
// from pending into one of four terminal states: acknowledged, rejected,
// expired, or cancelled. Rows are retained as history and never deleted.
package request

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowdeck/flowdeck/internal/platform/id"
)

// Direction indicates whether this node initiated the handshake.
type Direction string

const (
	// DirectionIncoming marks a proposal received from a remote node.
	DirectionIncoming Direction = "incoming"
	// DirectionOutgoing marks a proposal this node sent to a remote node.
	DirectionOutgoing Direction = "outgoing"
)

// Status is the ledger lifecycle state of a request.
type Status string

const (
	// StatusPending indicates the request awaits a decision.
	StatusPending Status = "pending"
	// StatusAcknowledged indicates the request was accepted.
	StatusAcknowledged Status = "acknowledged"
	// StatusRejected indicates an administrator declined the request.
	StatusRejected Status = "rejected"
	// StatusExpired indicates the request outlived its expiry.
	StatusExpired Status = "expired"
	// StatusCancelled indicates the requester withdrew the request.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusAcknowledged, StatusRejected, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// DefaultRejectionReason is recorded when an administrator rejects a request
// without providing a reason.
const DefaultRejectionReason = "Rejected by administrator"

// DefaultTTL bounds how long a pending request stays answerable.
const DefaultTTL = 24 * time.Hour

var (
	// ErrEmptyOrgID indicates an organization ID is required.
	ErrEmptyOrgID = errors.New("org id is required")
	// ErrEmptyRequesterNodeID indicates the requester node ID is required.
	ErrEmptyRequesterNodeID = errors.New("requester node id is required")
	// ErrEmptyRequesterNodeURL indicates the requester node URL is required.
	ErrEmptyRequesterNodeURL = errors.New("requester node url is required")
	// ErrEmptySecretKey indicates the proposed trust token is required.
	ErrEmptySecretKey = errors.New("secret key is required")
	// ErrInvalidDirection indicates the direction is not incoming/outgoing.
	ErrInvalidDirection = errors.New("direction is invalid")
	// ErrEmptyTargetNodeID indicates the acknowledging node ID is required.
	ErrEmptyTargetNodeID = errors.New("target node id is required")
	// ErrNotPending indicates terminal requests are immutable.
	ErrNotPending = errors.New("request is not pending")
)

// Request is one ledger entry for a handshake attempt.
type Request struct {
	ID    string
	OrgID string

	Direction Direction
	Status    Status

	RequesterNodeID   string
	RequesterNodeName string
	RequesterNodeURL  string

	// TargetNodeID holds the accepting principle's node ID once an outgoing
	// request is acknowledged.
	TargetNodeID string

	// SecretKey is the trust token proposed by the requester. It becomes the
	// partner secret on acceptance and the correlation key for callbacks.
	SecretKey string

	ExpiresAt       time.Time
	AcknowledgedAt  *time.Time
	RejectedAt      *time.Time
	RejectionReason string

	Metadata map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether a pending request's expiry has passed.
func (r Request) Expired(now time.Time) bool {
	return r.Status == StatusPending && !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// CreateInput contains the fields required to open a ledger entry.
type CreateInput struct {
	OrgID             string
	Direction         Direction
	RequesterNodeID   string
	RequesterNodeName string
	RequesterNodeURL  string
	SecretKey         string
	ExpiresAt         time.Time
	Metadata          map[string]string
}

// NormalizeCreateInput canonicalizes and validates ledger creation input.
func NormalizeCreateInput(input CreateInput) (CreateInput, error) {
	input.OrgID = strings.TrimSpace(input.OrgID)
	if input.OrgID == "" {
		return CreateInput{}, ErrEmptyOrgID
	}

	input.Direction = Direction(strings.ToLower(strings.TrimSpace(string(input.Direction))))
	if input.Direction != DirectionIncoming && input.Direction != DirectionOutgoing {
		return CreateInput{}, ErrInvalidDirection
	}

	input.RequesterNodeID = strings.TrimSpace(input.RequesterNodeID)
	if input.RequesterNodeID == "" {
		return CreateInput{}, ErrEmptyRequesterNodeID
	}
	input.RequesterNodeURL = strings.TrimSpace(input.RequesterNodeURL)
	if input.RequesterNodeURL == "" {
		return CreateInput{}, ErrEmptyRequesterNodeURL
	}
	input.SecretKey = strings.TrimSpace(input.SecretKey)
	if input.SecretKey == "" {
		return CreateInput{}, ErrEmptySecretKey
	}
	input.RequesterNodeName = strings.TrimSpace(input.RequesterNodeName)
	return input, nil
}

// New constructs a pending ledger entry.
func New(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (Request, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateInput(input)
	if err != nil {
		return Request{}, err
	}

	requestID, err := idGenerator()
	if err != nil {
		return Request{}, fmt.Errorf("generate request id: %w", err)
	}

	createdAt := now().UTC()
	expiresAt := normalized.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = createdAt.Add(DefaultTTL)
	}
	metadata := normalized.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	return Request{
		ID:                requestID,
		OrgID:             normalized.OrgID,
		Direction:         normalized.Direction,
		Status:            StatusPending,
		RequesterNodeID:   normalized.RequesterNodeID,
		RequesterNodeName: normalized.RequesterNodeName,
		RequesterNodeURL:  normalized.RequesterNodeURL,
		SecretKey:         normalized.SecretKey,
		ExpiresAt:         expiresAt.UTC(),
		Metadata:          metadata,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
	}, nil
}

// Acknowledge marks a pending request accepted. For outgoing requests the
// accepting principle's node ID is recorded as the target.
func Acknowledge(req Request, targetNodeID string, now func() time.Time) (Request, error) {
	if now == nil {
		now = time.Now
	}
	if req.Status != StatusPending {
		return Request{}, ErrNotPending
	}

	acknowledgedAt := now().UTC()
	req.Status = StatusAcknowledged
	req.AcknowledgedAt = &acknowledgedAt
	req.TargetNodeID = strings.TrimSpace(targetNodeID)
	req.UpdatedAt = acknowledgedAt
	return req, nil
}

// Reject marks a pending request declined with the given reason.
func Reject(req Request, reason string, now func() time.Time) (Request, error) {
	if now == nil {
		now = time.Now
	}
	if req.Status != StatusPending {
		return Request{}, ErrNotPending
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultRejectionReason
	}

	rejectedAt := now().UTC()
	req.Status = StatusRejected
	req.RejectedAt = &rejectedAt
	req.RejectionReason = reason
	req.UpdatedAt = rejectedAt
	return req, nil
}

// Cancel marks a pending request withdrawn by its owner.
func Cancel(req Request, now func() time.Time) (Request, error) {
	if now == nil {
		now = time.Now
	}
	if req.Status != StatusPending {
		return Request{}, ErrNotPending
	}

	req.Status = StatusCancelled
	req.UpdatedAt = now().UTC()
	return req, nil
}

// Expire marks a pending request as having outlived its expiry.
func Expire(req Request, now func() time.Time) (Request, error) {
	if now == nil {
		now = time.Now
	}
	if req.Status != StatusPending {
		return Request{}, ErrNotPending
	}

	req.Status = StatusExpired
	req.UpdatedAt = now().UTC()
	return req, nil
}
