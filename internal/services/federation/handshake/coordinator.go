// Package handshake coordinates the partnership handshake between nodes.
//
// The coordinator owns the full request lifecycle on both sides: initiating
// outgoing proposals, recording incoming ones, applying administrator
// decisions, and processing the asynchronous callbacks that close the loop.
// Local state commits first; remote notifications are best effort.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/flowdeck/flowdeck/internal/platform/errors"
	"github.com/flowdeck/flowdeck/internal/platform/id"
	"github.com/flowdeck/flowdeck/internal/services/federation/audit"
	"github.com/flowdeck/flowdeck/internal/services/federation/identity"
	"github.com/flowdeck/flowdeck/internal/services/federation/notify"
	"github.com/flowdeck/flowdeck/internal/services/federation/partner"
	"github.com/flowdeck/flowdeck/internal/services/federation/request"
	"github.com/flowdeck/flowdeck/internal/services/federation/secret"
	"github.com/flowdeck/flowdeck/internal/services/federation/storage"
	"go.uber.org/zap"
)

// Response actions accepted by Respond.
const (
	ActionAccept = "accept"
	ActionReject = "reject"
)

// Callback statuses carried on the acknowledge-callback endpoint.
const (
	CallbackStatusAcknowledged = "acknowledged"
	CallbackStatusRejected     = "rejected"
)

// Metadata keys on outgoing requests. metadataTargetURL records the URL the
// proposal was sent to; the acknowledge callback supplies the authoritative
// principle URL and display name, the latter stored under
// metadataPrincipleNodeName.
const (
	metadataTargetURL         = "target_url"
	metadataPrincipleNodeName = "principle_node_name"
)

// Notifier delivers best-effort JSON notifications to remote nodes.
type Notifier interface {
	NotifyBestEffort(ctx context.Context, url string, payload any)
}

// SelfNode identifies this deployment on the wire.
type SelfNode struct {
	ID   string
	Name string
	URL  string
}

// Config assembles a Coordinator's dependencies.
type Config struct {
	Identities storage.IdentityStore
	Partners   storage.PartnerStore
	Requests   storage.RequestStore
	Notifier   Notifier
	Audit      *audit.Emitter
	Logger     *zap.Logger
	Self       SelfNode

	// RefreshPeers is invoked after any topology change so dependent
	// components (peer caches, dashboards) can resynchronize. Optional.
	RefreshPeers func(ctx context.Context)
}

// Coordinator drives the handshake request lifecycle.
type Coordinator struct {
	identities storage.IdentityStore
	partners   storage.PartnerStore
	requests   storage.RequestStore
	notifier   Notifier
	audit      *audit.Emitter
	logger     *zap.Logger
	self       SelfNode

	refreshPeers func(ctx context.Context)

	now       func() time.Time
	newID     func() (string, error)
	newSecret func() (string, error)
}

// New creates a handshake coordinator.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		identities:   cfg.Identities,
		partners:     cfg.Partners,
		requests:     cfg.Requests,
		notifier:     cfg.Notifier,
		audit:        cfg.Audit,
		logger:       logger,
		self:         cfg.Self,
		refreshPeers: cfg.RefreshPeers,
		now:          time.Now,
		newID:        id.NewID,
		newSecret:    secret.NewKey,
	}
}

// InitiateInput describes an outgoing partnership proposal.
type InitiateInput struct {
	OrgID     string
	TargetURL string
	Metadata  map[string]string
}

// Initiate opens an outgoing request and sends the proposal to the target
// node. The local ledger entry commits before delivery is attempted; an
// undelivered proposal simply expires unanswered.
func (c *Coordinator) Initiate(ctx context.Context, input InitiateInput) (request.Request, error) {
	targetURL := strings.TrimSpace(input.TargetURL)
	if targetURL == "" {
		return request.Request{}, apperrors.New(apperrors.CodeInvalidArgument, "target url is required")
	}

	secretKey, err := c.newSecret()
	if err != nil {
		return request.Request{}, fmt.Errorf("generate secret key: %w", err)
	}

	metadata := map[string]string{}
	for k, v := range input.Metadata {
		metadata[k] = v
	}
	metadata[metadataTargetURL] = targetURL

	req, err := request.New(request.CreateInput{
		OrgID:             input.OrgID,
		Direction:         request.DirectionOutgoing,
		RequesterNodeID:   c.self.ID,
		RequesterNodeName: c.self.Name,
		RequesterNodeURL:  c.self.URL,
		SecretKey:         secretKey,
		Metadata:          metadata,
	}, c.now, c.newID)
	if err != nil {
		return request.Request{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid proposal", err)
	}

	if err := c.requests.CreateRequest(ctx, req); err != nil {
		return request.Request{}, fmt.Errorf("create outgoing request: %w", err)
	}
	c.audit.Emit(ctx, req.OrgID, audit.KindRequestCreated, req.ID, map[string]string{
		"direction":  string(req.Direction),
		"target_url": targetURL,
	})

	c.notifier.NotifyBestEffort(ctx, notify.Endpoint(targetURL, notify.PathRequests), notify.ProposalPayload{
		NodeID:    c.self.ID,
		NodeName:  c.self.Name,
		NodeURL:   c.self.URL,
		SecretKey: secretKey,
		ExpiresAt: req.ExpiresAt,
	})

	return req, nil
}

// ReceiveInput describes an incoming partnership proposal.
type ReceiveInput struct {
	// OrgID is optional on the wire; empty falls back to the deployment's
	// default organization at the HTTP layer before reaching here.
	OrgID     string
	NodeID    string
	NodeName  string
	NodeURL   string
	SecretKey string
	ExpiresAt time.Time
}

// Receive records an incoming proposal as a pending request awaiting an
// administrator decision.
func (c *Coordinator) Receive(ctx context.Context, input ReceiveInput) (request.Request, error) {
	req, err := request.New(request.CreateInput{
		OrgID:             input.OrgID,
		Direction:         request.DirectionIncoming,
		RequesterNodeID:   input.NodeID,
		RequesterNodeName: input.NodeName,
		RequesterNodeURL:  input.NodeURL,
		SecretKey:         input.SecretKey,
		ExpiresAt:         input.ExpiresAt,
	}, c.now, c.newID)
	if err != nil {
		return request.Request{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid proposal", err)
	}

	if err := c.requests.CreateRequest(ctx, req); err != nil {
		return request.Request{}, fmt.Errorf("create incoming request: %w", err)
	}
	c.audit.Emit(ctx, req.OrgID, audit.KindRequestCreated, req.ID, map[string]string{
		"direction":      string(req.Direction),
		"requester_node": req.RequesterNodeID,
	})

	return req, nil
}

// Get returns one request, expiring it first if its deadline has passed.
func (c *Coordinator) Get(ctx context.Context, orgID, requestID string) (request.Request, error) {
	req, err := c.requests.GetRequest(ctx, orgID, requestID)
	if errors.Is(err, storage.ErrNotFound) {
		return request.Request{}, apperrors.New(apperrors.CodeRequestNotFound, "request not found")
	}
	if err != nil {
		return request.Request{}, fmt.Errorf("get request: %w", err)
	}
	return c.expireIfStale(ctx, req)
}

// List returns the organization's ledger, newest first, expiring any pending
// entries whose deadline has passed.
func (c *Coordinator) List(ctx context.Context, orgID string) ([]request.Request, error) {
	reqs, err := c.requests.ListRequests(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	for i, req := range reqs {
		swept, err := c.expireIfStale(ctx, req)
		if err != nil {
			return nil, err
		}
		reqs[i] = swept
	}
	return reqs, nil
}

// Respond applies an administrator decision to a pending incoming request.
// Accept creates the partner record, notifies the requester with the agreed
// secret, and triggers a peer refresh. Reject notifies with the reason.
func (c *Coordinator) Respond(ctx context.Context, orgID, requestID, action, reason string) (request.Request, error) {
	req, err := c.Get(ctx, orgID, requestID)
	if err != nil {
		return request.Request{}, err
	}
	if req.Status == request.StatusExpired {
		return request.Request{}, apperrors.New(apperrors.CodeRequestExpired, "request has expired")
	}
	if req.Status.Terminal() {
		return request.Request{}, apperrors.WithMetadata(apperrors.CodeRequestAlreadyProcessed, "request already processed", map[string]string{
			"status": string(req.Status),
		})
	}

	switch action {
	case ActionAccept:
		return c.accept(ctx, req)
	case ActionReject:
		return c.reject(ctx, req, reason)
	default:
		return request.Request{}, apperrors.WithMetadata(apperrors.CodeInvalidRequestAction, "unsupported action", map[string]string{
			"action": action,
		})
	}
}

func (c *Coordinator) accept(ctx context.Context, req request.Request) (request.Request, error) {
	if req.Direction != request.DirectionIncoming {
		return request.Request{}, apperrors.New(apperrors.CodeInvalidRequestDirection, "only incoming requests can be accepted")
	}

	accepted, err := request.Acknowledge(req, req.RequesterNodeID, c.now)
	if err != nil {
		return request.Request{}, fmt.Errorf("acknowledge request: %w", err)
	}

	record, err := partner.New(partner.CreateInput{
		OrgID:     accepted.OrgID,
		NodeID:    accepted.RequesterNodeID,
		NodeName:  accepted.RequesterNodeName,
		NodeURL:   accepted.RequesterNodeURL,
		SecretKey: accepted.SecretKey,
	}, c.now, c.newID)
	if err != nil {
		return request.Request{}, fmt.Errorf("build partner record: %w", err)
	}

	if err := c.partners.CreatePartner(ctx, record); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return request.Request{}, apperrors.New(apperrors.CodeRequestAlreadyProcessed, "node is already a partner")
		}
		return request.Request{}, fmt.Errorf("create partner: %w", err)
	}
	if err := c.requests.UpdateRequest(ctx, accepted); err != nil {
		return request.Request{}, fmt.Errorf("update request: %w", err)
	}

	c.audit.Emit(ctx, accepted.OrgID, audit.KindRequestAcknowledged, accepted.ID, map[string]string{
		"partner_node": accepted.RequesterNodeID,
	})
	c.audit.Emit(ctx, record.OrgID, audit.KindPartnerCreated, record.ID, map[string]string{
		"node_id": record.NodeID,
	})

	c.notifier.NotifyBestEffort(ctx, notify.Endpoint(accepted.RequesterNodeURL, notify.PathAcknowledgeCallback), notify.AcknowledgePayload{
		RequestID:         accepted.ID,
		Status:            CallbackStatusAcknowledged,
		SecretKey:         accepted.SecretKey,
		PrincipleNodeID:   c.self.ID,
		PrincipleNodeName: c.self.Name,
		PrincipleNodeURL:  c.self.URL,
	})

	if c.refreshPeers != nil {
		c.refreshPeers(ctx)
	}
	return accepted, nil
}

func (c *Coordinator) reject(ctx context.Context, req request.Request, reason string) (request.Request, error) {
	rejected, err := request.Reject(req, reason, c.now)
	if err != nil {
		return request.Request{}, fmt.Errorf("reject request: %w", err)
	}
	if err := c.requests.UpdateRequest(ctx, rejected); err != nil {
		return request.Request{}, fmt.Errorf("update request: %w", err)
	}

	c.audit.Emit(ctx, rejected.OrgID, audit.KindRequestRejected, rejected.ID, map[string]string{
		"reason": rejected.RejectionReason,
	})

	// Only incoming requests have a remote requester to notify; on an
	// outgoing request RequesterNodeURL is this node's own URL.
	if rejected.Direction == request.DirectionIncoming {
		c.notifier.NotifyBestEffort(ctx, notify.Endpoint(rejected.RequesterNodeURL, notify.PathAcknowledgeCallback), notify.RejectPayload{
			RequestID: rejected.ID,
			Status:    CallbackStatusRejected,
			SecretKey: rejected.SecretKey,
			Reason:    rejected.RejectionReason,
		})
	}

	return rejected, nil
}

// Cancel withdraws a pending request in either direction before it resolves.
func (c *Coordinator) Cancel(ctx context.Context, orgID, requestID string) (request.Request, error) {
	req, err := c.Get(ctx, orgID, requestID)
	if err != nil {
		return request.Request{}, err
	}
	if req.Status == request.StatusExpired {
		return request.Request{}, apperrors.New(apperrors.CodeRequestExpired, "request has expired")
	}
	if req.Status.Terminal() {
		return request.Request{}, apperrors.WithMetadata(apperrors.CodeRequestAlreadyProcessed, "request already processed", map[string]string{
			"status": string(req.Status),
		})
	}

	cancelled, err := request.Cancel(req, c.now)
	if err != nil {
		return request.Request{}, fmt.Errorf("cancel request: %w", err)
	}
	if err := c.requests.UpdateRequest(ctx, cancelled); err != nil {
		return request.Request{}, fmt.Errorf("update request: %w", err)
	}

	c.audit.Emit(ctx, cancelled.OrgID, audit.KindRequestCancelled, cancelled.ID, nil)
	return cancelled, nil
}

// CallbackInput is a decoded acknowledge-callback body. Correlation happens
// exclusively through the secret key.
type CallbackInput struct {
	Status    string
	SecretKey string
	Reason    string

	PrincipleNodeID   string
	PrincipleNodeName string
	PrincipleNodeURL  string
}

// HandleCallback processes the requester-side completion of a handshake. The
// matching pending outgoing request is found by constant-time secret
// comparison across all organizations; node-to-node traffic carries no
// organization scope.
func (c *Coordinator) HandleCallback(ctx context.Context, input CallbackInput) error {
	pending, err := c.requests.ListPendingOutgoingRequests(ctx)
	if err != nil {
		return fmt.Errorf("list pending outgoing requests: %w", err)
	}

	var matched *request.Request
	for i := range pending {
		if secret.Match(pending[i].SecretKey, input.SecretKey) {
			matched = &pending[i]
			break
		}
	}
	if matched == nil {
		return apperrors.New(apperrors.CodeNoMatchingRequest, "no pending request matches the callback")
	}

	req, err := c.expireIfStale(ctx, *matched)
	if err != nil {
		return err
	}
	if req.Status == request.StatusExpired {
		return apperrors.New(apperrors.CodeRequestExpired, "request has expired")
	}

	switch input.Status {
	case CallbackStatusAcknowledged:
		return c.completeAcknowledged(ctx, req, input)
	case CallbackStatusRejected:
		rejected, err := request.Reject(req, input.Reason, c.now)
		if err != nil {
			return fmt.Errorf("reject request: %w", err)
		}
		if err := c.requests.UpdateRequest(ctx, rejected); err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		c.audit.Emit(ctx, rejected.OrgID, audit.KindRequestRejected, rejected.ID, map[string]string{
			"reason": rejected.RejectionReason,
		})
		return nil
	default:
		return apperrors.WithMetadata(apperrors.CodeInvalidArgument, "unsupported callback status", map[string]string{
			"status": input.Status,
		})
	}
}

func (c *Coordinator) completeAcknowledged(ctx context.Context, req request.Request, input CallbackInput) error {
	acknowledged, err := request.Acknowledge(req, input.PrincipleNodeID, c.now)
	if err != nil {
		return fmt.Errorf("acknowledge request: %w", err)
	}
	if input.PrincipleNodeName != "" {
		if acknowledged.Metadata == nil {
			acknowledged.Metadata = map[string]string{}
		}
		acknowledged.Metadata[metadataPrincipleNodeName] = input.PrincipleNodeName
	}
	if err := c.requests.UpdateRequest(ctx, acknowledged); err != nil {
		return fmt.Errorf("update request: %w", err)
	}

	ident, err := c.EnsureIdentity(ctx, acknowledged.OrgID)
	if err != nil {
		return err
	}
	adopted, err := identity.AdoptPrinciple(ident, input.PrincipleNodeID, input.PrincipleNodeURL, c.now)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid principle identity", err)
	}
	if err := c.identities.PutIdentity(ctx, adopted); err != nil {
		return fmt.Errorf("put identity: %w", err)
	}

	c.audit.Emit(ctx, acknowledged.OrgID, audit.KindRequestAcknowledged, acknowledged.ID, map[string]string{
		"principle_node": input.PrincipleNodeID,
	})
	c.audit.Emit(ctx, adopted.OrgID, audit.KindIdentityAdopted, adopted.OrgID, map[string]string{
		"principle_node": adopted.PrincipleNodeID,
	})
	c.logger.Info("adopted principle",
		zap.String("org_id", adopted.OrgID),
		zap.String("principle_node", adopted.PrincipleNodeID),
	)

	if c.refreshPeers != nil {
		c.refreshPeers(ctx)
	}
	return nil
}

// EnsureIdentity returns the organization's identity, creating a standalone
// row from the deployment's node identity on first use.
func (c *Coordinator) EnsureIdentity(ctx context.Context, orgID string) (identity.Identity, error) {
	ident, err := c.identities.GetIdentity(ctx, orgID)
	if err == nil {
		return ident, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return identity.Identity{}, fmt.Errorf("get identity: %w", err)
	}

	created, err := identity.New(orgID, c.self.ID, c.self.Name, c.self.URL, c.now)
	if err != nil {
		return identity.Identity{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid identity", err)
	}
	if err := c.identities.PutIdentity(ctx, created); err != nil {
		return identity.Identity{}, fmt.Errorf("put identity: %w", err)
	}
	return created, nil
}

// expireIfStale transitions a pending request past its deadline to expired
// and persists the change. Non-stale requests pass through unchanged.
func (c *Coordinator) expireIfStale(ctx context.Context, req request.Request) (request.Request, error) {
	if !req.Expired(c.now()) {
		return req, nil
	}
	expired, err := request.Expire(req, c.now)
	if err != nil {
		return request.Request{}, fmt.Errorf("expire request: %w", err)
	}
	if err := c.requests.UpdateRequest(ctx, expired); err != nil {
		return request.Request{}, fmt.Errorf("update request: %w", err)
	}
	c.audit.Emit(ctx, expired.OrgID, audit.KindRequestExpired, expired.ID, nil)
	return expired, nil
}
