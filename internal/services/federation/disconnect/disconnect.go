// Package disconnect tears down federation relationships from either side.
//
// A principle revokes a partner locally and sends a best-effort notice; a
// partner receiving such a notice reverts to standalone only when the sender
// matches its recorded principle.
package disconnect

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/flowdeck/flowdeck/internal/platform/errors"
	"github.com/flowdeck/flowdeck/internal/services/federation/audit"
	"github.com/flowdeck/flowdeck/internal/services/federation/identity"
	"github.com/flowdeck/flowdeck/internal/services/federation/notify"
	"github.com/flowdeck/flowdeck/internal/services/federation/storage"
	"go.uber.org/zap"
)

// Notifier delivers best-effort JSON notifications to remote nodes.
type Notifier interface {
	NotifyBestEffort(ctx context.Context, url string, payload any)
}

// Config assembles a Handler's dependencies.
type Config struct {
	Identities storage.IdentityStore
	Partners   storage.PartnerStore
	Notifier   Notifier
	Audit      *audit.Emitter
	Logger     *zap.Logger

	// SelfNodeID names this node in outgoing disconnection notices.
	SelfNodeID string

	// RefreshPeers is invoked after any topology change. Optional.
	RefreshPeers func(ctx context.Context)
}

// Handler applies disconnections on both sides of a federation.
type Handler struct {
	identities storage.IdentityStore
	partners   storage.PartnerStore
	notifier   Notifier
	audit      *audit.Emitter
	logger     *zap.Logger
	selfNodeID string

	refreshPeers func(ctx context.Context)

	now func() time.Time
}

// New creates a disconnection handler.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		identities:   cfg.Identities,
		partners:     cfg.Partners,
		notifier:     cfg.Notifier,
		audit:        cfg.Audit,
		logger:       logger,
		selfNodeID:   cfg.SelfNodeID,
		refreshPeers: cfg.RefreshPeers,
		now:          time.Now,
	}
}

// Revoke removes a partner from the principle's registry. The local deletion
// commits first; the disconnection notice to the partner is best effort, and
// an unreachable partner discovers the revocation through failing heartbeats.
func (h *Handler) Revoke(ctx context.Context, orgID, partnerID string) error {
	p, err := h.partners.GetPartner(ctx, orgID, partnerID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.New(apperrors.CodePartnerNotFound, "partner not found")
	}
	if err != nil {
		return fmt.Errorf("get partner: %w", err)
	}

	if err := h.partners.DeletePartner(ctx, orgID, partnerID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodePartnerNotFound, "partner not found")
		}
		return fmt.Errorf("delete partner: %w", err)
	}

	h.audit.Emit(ctx, orgID, audit.KindPartnerRevoked, p.ID, map[string]string{
		"node_id": p.NodeID,
	})

	h.notifier.NotifyBestEffort(ctx, notify.Endpoint(p.NodeURL, notify.PathDisconnected), notify.DisconnectPayload{
		PrincipleNodeID: h.selfNodeID,
	})

	if h.refreshPeers != nil {
		h.refreshPeers(ctx)
	}
	return nil
}

// HandleDisconnected processes a disconnection notice from a principle. Every
// identity bound to that principle reverts to standalone; a notice naming a
// principle this node never partnered with is rejected so stale or forged
// notices cannot detach a live federation.
func (h *Handler) HandleDisconnected(ctx context.Context, principleNodeID string) error {
	idents, err := h.identities.ListPartnerIdentitiesByPrinciple(ctx, principleNodeID)
	if err != nil {
		return fmt.Errorf("list identities by principle: %w", err)
	}
	if len(idents) == 0 {
		return apperrors.New(apperrors.CodeNotAPartnerOfThisPrinciple, "no identity is bound to the sender")
	}

	for _, ident := range idents {
		reverted, err := identity.RevertStandalone(ident, principleNodeID, h.now)
		if err != nil {
			return fmt.Errorf("revert identity: %w", err)
		}
		if err := h.identities.PutIdentity(ctx, reverted); err != nil {
			return fmt.Errorf("put identity: %w", err)
		}
		h.audit.Emit(ctx, reverted.OrgID, audit.KindIdentityReverted, reverted.OrgID, map[string]string{
			"principle_node": principleNodeID,
		})
		h.logger.Info("reverted to standalone",
			zap.String("org_id", reverted.OrgID),
			zap.String("principle_node", principleNodeID),
		)
	}

	if h.refreshPeers != nil {
		h.refreshPeers(ctx)
	}
	return nil
}
