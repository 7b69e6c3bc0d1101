// Package heartbeat tracks federation liveness in both directions.
//
// Principles receive heartbeats from partners and authenticate them with the
// shared trust token. Partners receive heartbeats from their principle and
// verify the sender matches the recorded relationship. Liveness is derived
// on read from the last recorded heartbeat; nothing here runs a timer.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/flowdeck/flowdeck/internal/platform/errors"
	"github.com/flowdeck/flowdeck/internal/services/federation/identity"
	"github.com/flowdeck/flowdeck/internal/services/federation/partner"
	"github.com/flowdeck/flowdeck/internal/services/federation/secret"
	"github.com/flowdeck/flowdeck/internal/services/federation/storage"
	"go.uber.org/zap"
)

// LivenessThreshold is how long a node stays considered alive after its last
// heartbeat.
const LivenessThreshold = 60 * time.Second

// Alive reports whether a heartbeat timestamp is recent enough to count as
// live. A nil timestamp means no heartbeat was ever received; exactly at the
// threshold counts as dead.
func Alive(last *time.Time, now time.Time) bool {
	if last == nil {
		return false
	}
	return now.Sub(*last) < LivenessThreshold
}

// Monitor records and reports heartbeat state.
type Monitor struct {
	identities storage.IdentityStore
	partners   storage.PartnerStore
	logger     *zap.Logger

	now func() time.Time
}

// Config assembles a Monitor's dependencies.
type Config struct {
	Identities storage.IdentityStore
	Partners   storage.PartnerStore
	Logger     *zap.Logger
}

// New creates a heartbeat monitor.
func New(cfg Config) *Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		identities: cfg.Identities,
		partners:   cfg.Partners,
		logger:     logger,
		now:        time.Now,
	}
}

// ReceiveFromPartner records a heartbeat presented by a partner node and
// returns the receiver's role. The sender authenticates with the shared
// trust token; any mismatch is reported as an unknown partner so callers
// cannot distinguish a wrong secret from a wrong node ID.
func (m *Monitor) ReceiveFromPartner(ctx context.Context, nodeID, secretKey string) (identity.Role, error) {
	candidates, err := m.partners.ListPartnersByNodeID(ctx, nodeID)
	if err != nil {
		return "", fmt.Errorf("list partners by node: %w", err)
	}

	for _, candidate := range candidates {
		if !candidate.Active || !secret.Match(candidate.SecretKey, secretKey) {
			continue
		}
		at := m.now().UTC()
		if err := m.partners.UpdatePartnerHeartbeat(ctx, candidate.OrgID, candidate.ID, at); err != nil {
			return "", fmt.Errorf("update partner heartbeat: %w", err)
		}
		m.logger.Debug("partner heartbeat",
			zap.String("org_id", candidate.OrgID),
			zap.String("node_id", candidate.NodeID),
		)
		return identity.RolePrinciple, nil
	}

	return "", apperrors.New(apperrors.CodeUnknownPartner, "no partner matches the heartbeat")
}

// ReceiveFromPrinciple records a heartbeat sent by this node's principle and
// returns the receiver's role. The sender must match the recorded principle
// relationship.
func (m *Monitor) ReceiveFromPrinciple(ctx context.Context, principleNodeID string) (identity.Role, error) {
	idents, err := m.identities.ListPartnerIdentitiesByPrinciple(ctx, principleNodeID)
	if err != nil {
		return "", fmt.Errorf("list identities by principle: %w", err)
	}
	if len(idents) == 0 {
		return "", apperrors.New(apperrors.CodeNotAPartner, "this node is not a partner of the sender")
	}

	for _, ident := range idents {
		touched, err := identity.Touch(ident, m.now)
		if err != nil {
			if errors.Is(err, identity.ErrNotPartner) {
				continue
			}
			return "", fmt.Errorf("touch identity: %w", err)
		}
		if err := m.identities.PutIdentity(ctx, touched); err != nil {
			return "", fmt.Errorf("put identity: %w", err)
		}
	}
	return identity.RolePartner, nil
}

// PartnerStatus is one partner's liveness as seen by the principle.
type PartnerStatus struct {
	PartnerID string
	NodeID    string
	NodeName  string
	NodeURL   string

	Active     bool
	SyncStatus string

	LastHeartbeat         *time.Time
	Alive                 bool
	SecondsSinceHeartbeat *int64
}

// PrincipleStatus is the principle's liveness as seen by a partner.
type PrincipleStatus struct {
	NodeID  string
	NodeURL string

	LastHeartbeat         *time.Time
	Alive                 bool
	SecondsSinceHeartbeat *int64
}

// Report is the organization's federation liveness view.
type Report struct {
	Role      identity.Role
	Partners  []PartnerStatus
	Principle *PrincipleStatus
}

// Status builds the liveness report for one organization. Partners see their
// principle's liveness; every other role sees the partner registry, which is
// empty for a truly standalone node.
func (m *Monitor) Status(ctx context.Context, orgID string) (Report, error) {
	ident, err := m.identities.GetIdentity(ctx, orgID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Report{}, fmt.Errorf("get identity: %w", err)
	}

	now := m.now().UTC()
	report := Report{Role: identity.RoleStandalone}
	if err == nil {
		report.Role = ident.Role
	}

	if report.Role == identity.RolePartner {
		report.Principle = &PrincipleStatus{
			NodeID:                ident.PrincipleNodeID,
			NodeURL:               ident.PrincipleNodeURL,
			LastHeartbeat:         ident.LastHeartbeat,
			Alive:                 Alive(ident.LastHeartbeat, now),
			SecondsSinceHeartbeat: secondsSince(ident.LastHeartbeat, now),
		}
		return report, nil
	}

	partners, err := m.partners.ListPartners(ctx, orgID)
	if err != nil {
		return Report{}, fmt.Errorf("list partners: %w", err)
	}
	report.Partners = make([]PartnerStatus, 0, len(partners))
	for _, p := range partners {
		report.Partners = append(report.Partners, partnerStatus(p, now))
	}
	return report, nil
}

func partnerStatus(p partner.Partner, now time.Time) PartnerStatus {
	return PartnerStatus{
		PartnerID:             p.ID,
		NodeID:                p.NodeID,
		NodeName:              p.NodeName,
		NodeURL:               p.NodeURL,
		Active:                p.Active,
		SyncStatus:            p.SyncStatus,
		LastHeartbeat:         p.LastHeartbeat,
		Alive:                 Alive(p.LastHeartbeat, now),
		SecondsSinceHeartbeat: secondsSince(p.LastHeartbeat, now),
	}
}

func secondsSince(last *time.Time, now time.Time) *int64 {
	if last == nil {
		return nil
	}
	seconds := int64(now.Sub(*last) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	return &seconds
}
