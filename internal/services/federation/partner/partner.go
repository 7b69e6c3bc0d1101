// Package partner models the principle-side registry of accepted nodes.
package partner

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowdeck/flowdeck/internal/platform/id"
)

// Sync status values reported for a partner node.
const (
	// SyncStatusPending indicates the partner has not completed a first sync.
	SyncStatusPending = "pending"
	// SyncStatusSynced indicates the partner has reconciled at least once.
	SyncStatusSynced = "synced"
)

var (
	// ErrEmptyOrgID indicates an organization ID is required.
	ErrEmptyOrgID = errors.New("org id is required")
	// ErrEmptyNodeID indicates the partner node ID is required.
	ErrEmptyNodeID = errors.New("node id is required")
	// ErrEmptyNodeURL indicates the partner node URL is required.
	ErrEmptyNodeURL = errors.New("node url is required")
	// ErrEmptySecretKey indicates the shared trust token is required.
	ErrEmptySecretKey = errors.New("secret key is required")
)

// Partner is one accepted subordinate node, owned by the principle's org.
type Partner struct {
	ID    string
	OrgID string

	NodeID   string
	NodeName string
	NodeURL  string

	// SecretKey is the trust token agreed during the handshake; partners
	// present it on every heartbeat.
	SecretKey string

	Active     bool
	SyncStatus string

	LastHeartbeat *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateInput contains the fields captured from an accepted request.
type CreateInput struct {
	OrgID     string
	NodeID    string
	NodeName  string
	NodeURL   string
	SecretKey string
}

// New constructs an active partner record from accepted-request fields.
func New(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (Partner, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.OrgID = strings.TrimSpace(input.OrgID)
	if input.OrgID == "" {
		return Partner{}, ErrEmptyOrgID
	}
	input.NodeID = strings.TrimSpace(input.NodeID)
	if input.NodeID == "" {
		return Partner{}, ErrEmptyNodeID
	}
	input.NodeURL = strings.TrimSpace(input.NodeURL)
	if input.NodeURL == "" {
		return Partner{}, ErrEmptyNodeURL
	}
	input.SecretKey = strings.TrimSpace(input.SecretKey)
	if input.SecretKey == "" {
		return Partner{}, ErrEmptySecretKey
	}

	partnerID, err := idGenerator()
	if err != nil {
		return Partner{}, fmt.Errorf("generate partner id: %w", err)
	}

	createdAt := now().UTC()
	return Partner{
		ID:         partnerID,
		OrgID:      input.OrgID,
		NodeID:     input.NodeID,
		NodeName:   strings.TrimSpace(input.NodeName),
		NodeURL:    input.NodeURL,
		SecretKey:  input.SecretKey,
		Active:     true,
		SyncStatus: SyncStatusPending,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}, nil
}
