// Package audit records federation state transitions to the audit trail.
package audit

import (
	"context"
	"time"

	"github.com/flowdeck/flowdeck/internal/services/federation/storage"
	"go.uber.org/zap"
)

// Event kinds appended by the federation services.
const (
	KindRequestCreated      = "request.created"
	KindRequestAcknowledged = "request.acknowledged"
	KindRequestRejected     = "request.rejected"
	KindRequestCancelled    = "request.cancelled"
	KindRequestExpired      = "request.expired"
	KindPartnerCreated      = "partner.created"
	KindPartnerRevoked      = "partner.revoked"
	KindIdentityAdopted     = "identity.adopted_principle"
	KindIdentityReverted    = "identity.reverted_standalone"
)

// Emitter appends audit events without ever failing the triggering
// transition: append errors are logged and discarded.
type Emitter struct {
	store  storage.AuditStore
	logger *zap.Logger
	clock  func() time.Time
}

// NewEmitter creates an audit emitter. A nil store yields a no-op emitter.
func NewEmitter(store storage.AuditStore, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{store: store, logger: logger, clock: time.Now}
}

// Emit appends one audit event. It never blocks on or propagates storage
// failures; the local transition is already committed when Emit runs.
func (e *Emitter) Emit(ctx context.Context, orgID, kind, subject string, detail map[string]string) {
	if e == nil || e.store == nil {
		return
	}
	clock := e.clock
	if clock == nil {
		clock = time.Now
	}
	event := storage.AuditEvent{
		OrgID:     orgID,
		Kind:      kind,
		Subject:   subject,
		Detail:    detail,
		Timestamp: clock().UTC(),
	}
	if err := e.store.AppendAuditEvent(ctx, event); err != nil {
		e.logger.Warn("append audit event",
			zap.String("org_id", orgID),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}
