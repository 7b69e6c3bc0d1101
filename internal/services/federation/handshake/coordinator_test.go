package handshake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "github.com/flowdeck/flowdeck/internal/platform/errors"
	"github.com/flowdeck/flowdeck/internal/services/federation/identity"
	"github.com/flowdeck/flowdeck/internal/services/federation/partner"
	"github.com/flowdeck/flowdeck/internal/services/federation/request"
	"github.com/flowdeck/flowdeck/internal/services/federation/storage"
)

type memoryStore struct {
	mu         sync.Mutex
	identities map[string]identity.Identity
	partners   map[string]partner.Partner
	requests   map[string]request.Request
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		identities: map[string]identity.Identity{},
		partners:   map[string]partner.Partner{},
		requests:   map[string]request.Request{},
	}
}

func (s *memoryStore) GetIdentity(_ context.Context, orgID string) (identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[orgID]
	if !ok {
		return identity.Identity{}, storage.ErrNotFound
	}
	return ident, nil
}

func (s *memoryStore) PutIdentity(_ context.Context, ident identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[ident.OrgID] = ident
	return nil
}

func (s *memoryStore) ListPartnerIdentitiesByPrinciple(_ context.Context, principleNodeID string) ([]identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []identity.Identity
	for _, ident := range s.identities {
		if ident.Role == identity.RolePartner && ident.PrincipleNodeID == principleNodeID {
			out = append(out, ident)
		}
	}
	return out, nil
}

func (s *memoryStore) CreatePartner(_ context.Context, p partner.Partner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.partners {
		if existing.OrgID == p.OrgID && existing.NodeID == p.NodeID {
			return storage.ErrAlreadyExists
		}
	}
	s.partners[p.ID] = p
	return nil
}

func (s *memoryStore) GetPartner(_ context.Context, orgID, partnerID string) (partner.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partners[partnerID]
	if !ok || p.OrgID != orgID {
		return partner.Partner{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *memoryStore) ListPartners(_ context.Context, orgID string) ([]partner.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []partner.Partner
	for _, p := range s.partners {
		if p.OrgID == orgID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memoryStore) ListPartnersByNodeID(_ context.Context, nodeID string) ([]partner.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []partner.Partner
	for _, p := range s.partners {
		if p.NodeID == nodeID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memoryStore) UpdatePartnerHeartbeat(_ context.Context, orgID, partnerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partners[partnerID]
	if !ok || p.OrgID != orgID {
		return storage.ErrNotFound
	}
	p.LastHeartbeat = &at
	p.UpdatedAt = at
	s.partners[partnerID] = p
	return nil
}

func (s *memoryStore) DeletePartner(_ context.Context, orgID, partnerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partners[partnerID]
	if !ok || p.OrgID != orgID {
		return storage.ErrNotFound
	}
	delete(s.partners, partnerID)
	return nil
}

func (s *memoryStore) CreateRequest(_ context.Context, req request.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	return nil
}

func (s *memoryStore) GetRequest(_ context.Context, orgID, requestID string) (request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok || req.OrgID != orgID {
		return request.Request{}, storage.ErrNotFound
	}
	return req, nil
}

func (s *memoryStore) ListRequests(_ context.Context, orgID string) ([]request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []request.Request
	for _, req := range s.requests {
		if req.OrgID == orgID {
			out = append(out, req)
		}
	}
	return out, nil
}

func (s *memoryStore) ListPendingOutgoingRequests(_ context.Context) ([]request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []request.Request
	for _, req := range s.requests {
		if req.Status == request.StatusPending && req.Direction == request.DirectionOutgoing {
			out = append(out, req)
		}
	}
	return out, nil
}

func (s *memoryStore) UpdateRequest(_ context.Context, req request.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		return storage.ErrNotFound
	}
	s.requests[req.ID] = req
	return nil
}

type sentNotification struct {
	URL     string
	Payload any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) NotifyBestEffort(_ context.Context, url string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{URL: url, Payload: payload})
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *recordingNotifier) last(t *testing.T) sentNotification {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("expected a notification")
	}
	return n.sent[len(n.sent)-1]
}

type fixture struct {
	store       *memoryStore
	notifier    *recordingNotifier
	coordinator *Coordinator
	refreshed   int
	clock       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemoryStore(),
		notifier: &recordingNotifier{},
		clock:    time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC),
	}
	f.coordinator = New(Config{
		Identities: f.store,
		Partners:   f.store,
		Requests:   f.store,
		Notifier:   f.notifier,
		Self:       SelfNode{ID: "node-self", Name: "Self", URL: "https://self.example.com"},
		RefreshPeers: func(context.Context) {
			f.refreshed++
		},
	})
	f.coordinator.now = func() time.Time { return f.clock }
	counter := 0
	f.coordinator.newID = func() (string, error) {
		counter++
		return fmt.Sprintf("id-%d", counter), nil
	}
	f.coordinator.newSecret = func() (string, error) {
		return "generated-secret", nil
	}
	return f
}

func (f *fixture) seedIncoming(t *testing.T, orgID string) request.Request {
	t.Helper()
	req, err := f.coordinator.Receive(context.Background(), ReceiveInput{
		OrgID:     orgID,
		NodeID:    "node-remote",
		NodeName:  "Remote",
		NodeURL:   "https://remote.example.com",
		SecretKey: "remote-secret",
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return req
}

func TestInitiateCreatesPendingAndNotifies(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req, err := f.coordinator.Initiate(context.Background(), InitiateInput{
		OrgID:     "org-1",
		TargetURL: "https://target.example.com/",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if req.Status != request.StatusPending || req.Direction != request.DirectionOutgoing {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.SecretKey != "generated-secret" {
		t.Fatalf("secret = %q", req.SecretKey)
	}
	if req.ExpiresAt != f.clock.Add(request.DefaultTTL) {
		t.Fatalf("expires at = %v", req.ExpiresAt)
	}

	sent := f.notifier.last(t)
	if sent.URL != "https://target.example.com/federation/requests" {
		t.Fatalf("notified %q", sent.URL)
	}
}

func TestInitiateRequiresTargetURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.coordinator.Initiate(context.Background(), InitiateInput{OrgID: "org-1"})
	if !errors.Is(err, apperrors.New(apperrors.CodeInvalidArgument, "")) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestRespondAcceptCreatesPartnerAndCallsBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := f.seedIncoming(t, "org-1")

	accepted, err := f.coordinator.Respond(context.Background(), "org-1", req.ID, ActionAccept, "")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if accepted.Status != request.StatusAcknowledged {
		t.Fatalf("status = %s", accepted.Status)
	}
	if accepted.TargetNodeID != "node-remote" {
		t.Fatalf("target = %q", accepted.TargetNodeID)
	}

	partners, err := f.store.ListPartners(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("list partners: %v", err)
	}
	if len(partners) != 1 {
		t.Fatalf("expected 1 partner, got %d", len(partners))
	}
	p := partners[0]
	if p.NodeID != "node-remote" || p.SecretKey != "remote-secret" || !p.Active {
		t.Fatalf("unexpected partner: %+v", p)
	}

	sent := f.notifier.last(t)
	if sent.URL != "https://remote.example.com/federation/acknowledge-callback" {
		t.Fatalf("notified %q", sent.URL)
	}
	if f.refreshed != 1 {
		t.Fatalf("refreshed = %d, want 1", f.refreshed)
	}
}

func TestRespondRejectRecordsReasonAndNotifies(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := f.seedIncoming(t, "org-1")

	rejected, err := f.coordinator.Respond(context.Background(), "org-1", req.ID, ActionReject, "")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if rejected.Status != request.StatusRejected {
		t.Fatalf("status = %s", rejected.Status)
	}
	if rejected.RejectionReason != request.DefaultRejectionReason {
		t.Fatalf("reason = %q", rejected.RejectionReason)
	}
	if f.refreshed != 0 {
		t.Fatalf("refreshed = %d, want 0", f.refreshed)
	}

	partners, _ := f.store.ListPartners(context.Background(), "org-1")
	if len(partners) != 0 {
		t.Fatalf("reject must not create partners, got %d", len(partners))
	}
}

func TestRespondRejectOutgoingSkipsCallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req, err := f.coordinator.Initiate(context.Background(), InitiateInput{
		OrgID:     "org-1",
		TargetURL: "https://target.example.com",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	before := f.notifier.count()

	rejected, err := f.coordinator.Respond(context.Background(), "org-1", req.ID, ActionReject, "changed our mind")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if rejected.Status != request.StatusRejected {
		t.Fatalf("status = %s", rejected.Status)
	}
	if f.notifier.count() != before {
		t.Fatalf("rejecting an outgoing request must not post a callback to ourselves")
	}
}

func TestRespondRefusesTerminalRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := f.seedIncoming(t, "org-1")
	if _, err := f.coordinator.Respond(context.Background(), "org-1", req.ID, ActionReject, "no"); err != nil {
		t.Fatalf("first respond: %v", err)
	}

	_, err := f.coordinator.Respond(context.Background(), "org-1", req.ID, ActionAccept, "")
	if !errors.Is(err, apperrors.New(apperrors.CodeRequestAlreadyProcessed, "")) {
		t.Fatalf("expected already processed, got %v", err)
	}
}

func TestRespondExpiresStaleRequestLazily(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := f.seedIncoming(t, "org-1")

	f.clock = f.clock.Add(request.DefaultTTL + time.Minute)
	_, err := f.coordinator.Respond(context.Background(), "org-1", req.ID, ActionAccept, "")
	if !errors.Is(err, apperrors.New(apperrors.CodeRequestExpired, "")) {
		t.Fatalf("expected expired, got %v", err)
	}

	stored, getErr := f.store.GetRequest(context.Background(), "org-1", req.ID)
	if getErr != nil {
		t.Fatalf("get request: %v", getErr)
	}
	if stored.Status != request.StatusExpired {
		t.Fatalf("stored status = %s, want expired", stored.Status)
	}
}

func TestRespondAcceptRefusesOutgoingRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req, err := f.coordinator.Initiate(context.Background(), InitiateInput{
		OrgID:     "org-1",
		TargetURL: "https://target.example.com",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	_, err = f.coordinator.Respond(context.Background(), "org-1", req.ID, ActionAccept, "")
	if !errors.Is(err, apperrors.New(apperrors.CodeInvalidRequestDirection, "")) {
		t.Fatalf("expected direction error, got %v", err)
	}
}

func TestRespondUnknownRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.coordinator.Respond(context.Background(), "org-1", "missing", ActionAccept, "")
	if !errors.Is(err, apperrors.New(apperrors.CodeRequestNotFound, "")) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRespondScopedToOrganization(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := f.seedIncoming(t, "org-1")

	_, err := f.coordinator.Respond(context.Background(), "org-2", req.ID, ActionAccept, "")
	if !errors.Is(err, apperrors.New(apperrors.CodeRequestNotFound, "")) {
		t.Fatalf("expected not found for foreign org, got %v", err)
	}
}

func TestCancelWithdrawsOutgoingRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req, err := f.coordinator.Initiate(context.Background(), InitiateInput{
		OrgID:     "org-1",
		TargetURL: "https://target.example.com",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	cancelled, err := f.coordinator.Cancel(context.Background(), "org-1", req.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != request.StatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
}

func TestCancelWithdrawsIncomingRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := f.seedIncoming(t, "org-1")

	cancelled, err := f.coordinator.Cancel(context.Background(), "org-1", req.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != request.StatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}

	_, err = f.coordinator.Respond(context.Background(), "org-1", req.ID, ActionAccept, "")
	if !errors.Is(err, apperrors.New(apperrors.CodeRequestAlreadyProcessed, "")) {
		t.Fatalf("expected already processed after cancel, got %v", err)
	}
}

func TestHandleCallbackAcknowledgedAdoptsPrinciple(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req, err := f.coordinator.Initiate(context.Background(), InitiateInput{
		OrgID:     "org-1",
		TargetURL: "https://principle.example.com",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	err = f.coordinator.HandleCallback(context.Background(), CallbackInput{
		Status:            CallbackStatusAcknowledged,
		SecretKey:         req.SecretKey,
		PrincipleNodeID:   "node-principle",
		PrincipleNodeName: "Principle",
		PrincipleNodeURL:  "https://principle.example.com",
	})
	if err != nil {
		t.Fatalf("handle callback: %v", err)
	}

	stored, err := f.store.GetRequest(context.Background(), "org-1", req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Status != request.StatusAcknowledged || stored.TargetNodeID != "node-principle" {
		t.Fatalf("unexpected request: %+v", stored)
	}
	if stored.Metadata["principle_node_name"] != "Principle" {
		t.Fatalf("metadata = %v, want principle name recorded", stored.Metadata)
	}

	ident, err := f.store.GetIdentity(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if ident.Role != identity.RolePartner || ident.PrincipleNodeID != "node-principle" {
		t.Fatalf("unexpected identity: %+v", ident)
	}
	if f.refreshed != 1 {
		t.Fatalf("refreshed = %d, want 1", f.refreshed)
	}
}

func TestHandleCallbackRejectedClosesRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req, err := f.coordinator.Initiate(context.Background(), InitiateInput{
		OrgID:     "org-1",
		TargetURL: "https://principle.example.com",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	err = f.coordinator.HandleCallback(context.Background(), CallbackInput{
		Status:    CallbackStatusRejected,
		SecretKey: req.SecretKey,
		Reason:    "not today",
	})
	if err != nil {
		t.Fatalf("handle callback: %v", err)
	}

	stored, _ := f.store.GetRequest(context.Background(), "org-1", req.ID)
	if stored.Status != request.StatusRejected || stored.RejectionReason != "not today" {
		t.Fatalf("unexpected request: %+v", stored)
	}
	if _, err := f.store.GetIdentity(context.Background(), "org-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("rejection must not touch identity, got %v", err)
	}
}

func TestHandleCallbackUnknownSecret(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.coordinator.Initiate(context.Background(), InitiateInput{
		OrgID:     "org-1",
		TargetURL: "https://principle.example.com",
	}); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	err := f.coordinator.HandleCallback(context.Background(), CallbackInput{
		Status:    CallbackStatusAcknowledged,
		SecretKey: "wrong-secret",
	})
	if !errors.Is(err, apperrors.New(apperrors.CodeNoMatchingRequest, "")) {
		t.Fatalf("expected no matching request, got %v", err)
	}
}

func TestHandleCallbackExpiredRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req, err := f.coordinator.Initiate(context.Background(), InitiateInput{
		OrgID:     "org-1",
		TargetURL: "https://principle.example.com",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	f.clock = f.clock.Add(request.DefaultTTL + time.Minute)
	err = f.coordinator.HandleCallback(context.Background(), CallbackInput{
		Status:           CallbackStatusAcknowledged,
		SecretKey:        req.SecretKey,
		PrincipleNodeID:  "node-principle",
		PrincipleNodeURL: "https://principle.example.com",
	})
	if !errors.Is(err, apperrors.New(apperrors.CodeRequestExpired, "")) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestCancelAfterAcknowledgeFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req, err := f.coordinator.Initiate(context.Background(), InitiateInput{
		OrgID:     "org-1",
		TargetURL: "https://principle.example.com",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	err = f.coordinator.HandleCallback(context.Background(), CallbackInput{
		Status:           CallbackStatusAcknowledged,
		SecretKey:        req.SecretKey,
		PrincipleNodeID:  "node-principle",
		PrincipleNodeURL: "https://principle.example.com",
	})
	if err != nil {
		t.Fatalf("handle callback: %v", err)
	}

	_, err = f.coordinator.Cancel(context.Background(), "org-1", req.ID)
	if !errors.Is(err, apperrors.New(apperrors.CodeRequestAlreadyProcessed, "")) {
		t.Fatalf("expected already processed, got %v", err)
	}
}

func TestListExpiresStaleEntries(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedIncoming(t, "org-1")

	f.clock = f.clock.Add(request.DefaultTTL + time.Minute)
	reqs, err := f.coordinator.List(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if reqs[0].Status != request.StatusExpired {
		t.Fatalf("status = %s, want expired", reqs[0].Status)
	}
}

func TestEnsureIdentityCreatesStandaloneOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first, err := f.coordinator.EnsureIdentity(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("ensure identity: %v", err)
	}
	if first.Role != identity.RoleStandalone || first.NodeID != "node-self" {
		t.Fatalf("unexpected identity: %+v", first)
	}

	second, err := f.coordinator.EnsureIdentity(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("ensure identity: %v", err)
	}
	if second != first {
		t.Fatalf("expected stable identity, got %+v", second)
	}
}
