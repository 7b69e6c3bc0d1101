// Package storage defines persistence contracts for federation state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/flowdeck/flowdeck/internal/services/federation/identity"
	"github.com/flowdeck/flowdeck/internal/services/federation/partner"
	"github.com/flowdeck/flowdeck/internal/services/federation/request"
)

var (
	// ErrNotFound indicates a requested federation record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained record already exists.
	ErrAlreadyExists = errors.New("record already exists")
)

// IdentityStore persists per-organization federation identities.
type IdentityStore interface {
	GetIdentity(ctx context.Context, orgID string) (identity.Identity, error)
	// PutIdentity upserts the identity row for its organization.
	PutIdentity(ctx context.Context, ident identity.Identity) error
	// ListPartnerIdentitiesByPrinciple returns every partner-role identity
	// bound to the given principle node, across organizations. Node-to-node
	// messages carry no organization scope, so resolution is global.
	ListPartnerIdentitiesByPrinciple(ctx context.Context, principleNodeID string) ([]identity.Identity, error)
}

// PartnerStore persists the principle-side partner registry.
type PartnerStore interface {
	CreatePartner(ctx context.Context, p partner.Partner) error
	GetPartner(ctx context.Context, orgID, partnerID string) (partner.Partner, error)
	ListPartners(ctx context.Context, orgID string) ([]partner.Partner, error)
	// ListPartnersByNodeID returns partner rows for a node across
	// organizations; heartbeat handling matches the secret per candidate.
	ListPartnersByNodeID(ctx context.Context, nodeID string) ([]partner.Partner, error)
	UpdatePartnerHeartbeat(ctx context.Context, orgID, partnerID string, at time.Time) error
	DeletePartner(ctx context.Context, orgID, partnerID string) error
}

// RequestStore persists the partnership request ledger.
type RequestStore interface {
	CreateRequest(ctx context.Context, req request.Request) error
	GetRequest(ctx context.Context, orgID, requestID string) (request.Request, error)
	ListRequests(ctx context.Context, orgID string) ([]request.Request, error)
	// ListPendingOutgoingRequests returns pending outgoing requests across
	// organizations; acknowledge callbacks correlate by secret only.
	ListPendingOutgoingRequests(ctx context.Context) ([]request.Request, error)
	UpdateRequest(ctx context.Context, req request.Request) error
}

// AuditEvent records one federation state transition for the audit trail.
type AuditEvent struct {
	ID        string
	OrgID     string
	Kind      string
	Subject   string
	Detail    map[string]string
	Timestamp time.Time
}

// AuditStore persists the federation audit trail.
type AuditStore interface {
	AppendAuditEvent(ctx context.Context, event AuditEvent) error
	ListAuditEvents(ctx context.Context, orgID string, limit int) ([]AuditEvent, error)
}
