// Package identity models each organization's federation identity and role.
//
// Every organization owns exactly one identity row. It starts standalone,
// becomes a partner only through the acknowledge callback of a successful
// outgoing handshake, and reverts to standalone only through a disconnection
// notice or an explicit local action. The principle role is assigned out of
// band and is never transitioned by this package.
package identity

import (
	"errors"
	"strings"
	"time"
)

// Role is an organization's position in a federation.
type Role string

const (
	// RoleStandalone indicates no federation relationship.
	RoleStandalone Role = "standalone"
	// RolePartner indicates the organization is subordinate to a principle.
	RolePartner Role = "partner"
	// RolePrinciple indicates the organization coordinates partner nodes.
	RolePrinciple Role = "principle"
)

var (
	// ErrEmptyOrgID indicates an organization ID is required.
	ErrEmptyOrgID = errors.New("org id is required")
	// ErrEmptyNodeID indicates the node's own identifier is required.
	ErrEmptyNodeID = errors.New("node id is required")
	// ErrEmptyPrincipleNodeID indicates the principle node ID is required.
	ErrEmptyPrincipleNodeID = errors.New("principle node id is required")
	// ErrEmptyPrincipleNodeURL indicates the principle node URL is required.
	ErrEmptyPrincipleNodeURL = errors.New("principle node url is required")
	// ErrNotPartner indicates the identity has no principle relationship.
	ErrNotPartner = errors.New("identity is not a partner")
	// ErrPrincipleMismatch indicates the notice names a different principle.
	ErrPrincipleMismatch = errors.New("identity belongs to a different principle")
)

// Identity is one organization's federation identity record.
type Identity struct {
	OrgID string

	Role     Role
	NodeID   string
	NodeName string
	NodeURL  string

	// Principle fields are populated iff Role is RolePartner.
	PrincipleNodeID  string
	PrincipleNodeURL string

	// LastHeartbeat tracks the most recent heartbeat received from the
	// principle. Populated only while Role is RolePartner.
	LastHeartbeat *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a standalone identity for an organization.
func New(orgID, nodeID, nodeName, nodeURL string, now func() time.Time) (Identity, error) {
	if now == nil {
		now = time.Now
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return Identity{}, ErrEmptyOrgID
	}
	nodeID = strings.TrimSpace(nodeID)
	if nodeID == "" {
		return Identity{}, ErrEmptyNodeID
	}

	createdAt := now().UTC()
	return Identity{
		OrgID:     orgID,
		Role:      RoleStandalone,
		NodeID:    nodeID,
		NodeName:  strings.TrimSpace(nodeName),
		NodeURL:   strings.TrimSpace(nodeURL),
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}

// AdoptPrinciple transitions the identity to the partner role under the
// given principle. Any previous principle relationship is replaced.
func AdoptPrinciple(ident Identity, principleNodeID, principleNodeURL string, now func() time.Time) (Identity, error) {
	if now == nil {
		now = time.Now
	}
	principleNodeID = strings.TrimSpace(principleNodeID)
	if principleNodeID == "" {
		return Identity{}, ErrEmptyPrincipleNodeID
	}
	principleNodeURL = strings.TrimSpace(principleNodeURL)
	if principleNodeURL == "" {
		return Identity{}, ErrEmptyPrincipleNodeURL
	}

	ident.Role = RolePartner
	ident.PrincipleNodeID = principleNodeID
	ident.PrincipleNodeURL = principleNodeURL
	ident.LastHeartbeat = nil
	ident.UpdatedAt = now().UTC()
	return ident, nil
}

// RevertStandalone clears the partner relationship named by principleNodeID.
// It fails when the identity is not a partner of that principle, so stale or
// forged disconnection notices leave the identity unchanged.
func RevertStandalone(ident Identity, principleNodeID string, now func() time.Time) (Identity, error) {
	if now == nil {
		now = time.Now
	}
	principleNodeID = strings.TrimSpace(principleNodeID)
	if principleNodeID == "" {
		return Identity{}, ErrEmptyPrincipleNodeID
	}
	if ident.Role != RolePartner {
		return Identity{}, ErrNotPartner
	}
	if ident.PrincipleNodeID != principleNodeID {
		return Identity{}, ErrPrincipleMismatch
	}

	ident.Role = RoleStandalone
	ident.PrincipleNodeID = ""
	ident.PrincipleNodeURL = ""
	ident.LastHeartbeat = nil
	ident.UpdatedAt = now().UTC()
	return ident, nil
}

// Touch records a heartbeat received from the identity's principle.
func Touch(ident Identity, now func() time.Time) (Identity, error) {
	if now == nil {
		now = time.Now
	}
	if ident.Role != RolePartner {
		return Identity{}, ErrNotPartner
	}

	at := now().UTC()
	ident.LastHeartbeat = &at
	ident.UpdatedAt = at
	return ident, nil
}
