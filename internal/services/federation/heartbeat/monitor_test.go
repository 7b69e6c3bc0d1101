package heartbeat

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/flowdeck/flowdeck/internal/platform/errors"
	"github.com/flowdeck/flowdeck/internal/services/federation/identity"
	"github.com/flowdeck/flowdeck/internal/services/federation/partner"
	"github.com/flowdeck/flowdeck/internal/services/federation/storage"
)

type fakeStore struct {
	identities map[string]identity.Identity
	partners   map[string]partner.Partner
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		identities: map[string]identity.Identity{},
		partners:   map[string]partner.Partner{},
	}
}

func (s *fakeStore) GetIdentity(_ context.Context, orgID string) (identity.Identity, error) {
	ident, ok := s.identities[orgID]
	if !ok {
		return identity.Identity{}, storage.ErrNotFound
	}
	return ident, nil
}

func (s *fakeStore) PutIdentity(_ context.Context, ident identity.Identity) error {
	s.identities[ident.OrgID] = ident
	return nil
}

func (s *fakeStore) ListPartnerIdentitiesByPrinciple(_ context.Context, principleNodeID string) ([]identity.Identity, error) {
	var out []identity.Identity
	for _, ident := range s.identities {
		if ident.Role == identity.RolePartner && ident.PrincipleNodeID == principleNodeID {
			out = append(out, ident)
		}
	}
	return out, nil
}

func (s *fakeStore) CreatePartner(_ context.Context, p partner.Partner) error {
	s.partners[p.ID] = p
	return nil
}

func (s *fakeStore) GetPartner(_ context.Context, orgID, partnerID string) (partner.Partner, error) {
	p, ok := s.partners[partnerID]
	if !ok || p.OrgID != orgID {
		return partner.Partner{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) ListPartners(_ context.Context, orgID string) ([]partner.Partner, error) {
	var out []partner.Partner
	for _, p := range s.partners {
		if p.OrgID == orgID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) ListPartnersByNodeID(_ context.Context, nodeID string) ([]partner.Partner, error) {
	var out []partner.Partner
	for _, p := range s.partners {
		if p.NodeID == nodeID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdatePartnerHeartbeat(_ context.Context, orgID, partnerID string, at time.Time) error {
	p, ok := s.partners[partnerID]
	if !ok || p.OrgID != orgID {
		return storage.ErrNotFound
	}
	p.LastHeartbeat = &at
	p.UpdatedAt = at
	s.partners[partnerID] = p
	return nil
}

func (s *fakeStore) DeletePartner(_ context.Context, orgID, partnerID string) error {
	if _, ok := s.partners[partnerID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.partners, partnerID)
	return nil
}

func newTestMonitor(store *fakeStore, now time.Time) *Monitor {
	m := New(Config{Identities: store, Partners: store})
	m.now = func() time.Time { return now }
	return m
}

func seedPartner(store *fakeStore, id, orgID, nodeID, secretKey string) partner.Partner {
	p := partner.Partner{
		ID:         id,
		OrgID:      orgID,
		NodeID:     nodeID,
		NodeURL:    "https://" + nodeID + ".example.com",
		SecretKey:  secretKey,
		Active:     true,
		SyncStatus: partner.SyncStatusPending,
	}
	store.partners[id] = p
	return p
}

func TestAlive(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	if Alive(nil, now) {
		t.Fatal("nil heartbeat must not be alive")
	}

	fresh := now.Add(-LivenessThreshold + time.Second)
	if !Alive(&fresh, now) {
		t.Fatal("heartbeat inside the threshold must be alive")
	}

	stale := now.Add(-LivenessThreshold)
	if Alive(&stale, now) {
		t.Fatal("heartbeat at the threshold must not be alive")
	}
}

func TestReceiveFromPartnerUpdatesHeartbeat(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	seedPartner(store, "partner-1", "org-1", "node-b", "secret-b")
	monitor := newTestMonitor(store, now)

	role, err := monitor.ReceiveFromPartner(context.Background(), "node-b", "secret-b")
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if role != identity.RolePrinciple {
		t.Fatalf("role = %s, want principle", role)
	}

	p := store.partners["partner-1"]
	if p.LastHeartbeat == nil || !p.LastHeartbeat.Equal(now) {
		t.Fatalf("heartbeat = %v, want %v", p.LastHeartbeat, now)
	}
}

func TestReceiveFromPartnerWrongSecret(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	seedPartner(store, "partner-1", "org-1", "node-b", "secret-b")
	monitor := newTestMonitor(store, time.Now())

	_, err := monitor.ReceiveFromPartner(context.Background(), "node-b", "wrong")
	if !errors.Is(err, apperrors.New(apperrors.CodeUnknownPartner, "")) {
		t.Fatalf("expected unknown partner, got %v", err)
	}
}

func TestReceiveFromPartnerUnknownNode(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	monitor := newTestMonitor(store, time.Now())

	_, err := monitor.ReceiveFromPartner(context.Background(), "node-missing", "secret")
	if !errors.Is(err, apperrors.New(apperrors.CodeUnknownPartner, "")) {
		t.Fatalf("expected unknown partner, got %v", err)
	}
}

func TestReceiveFromPartnerMatchesAcrossOrgs(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	// Same node federated with two orgs under different secrets; only the
	// row whose secret matches gets the heartbeat.
	seedPartner(store, "partner-1", "org-1", "node-b", "secret-org1")
	seedPartner(store, "partner-2", "org-2", "node-b", "secret-org2")
	monitor := newTestMonitor(store, now)

	if _, err := monitor.ReceiveFromPartner(context.Background(), "node-b", "secret-org2"); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if store.partners["partner-1"].LastHeartbeat != nil {
		t.Fatal("non-matching row must stay untouched")
	}
	if store.partners["partner-2"].LastHeartbeat == nil {
		t.Fatal("matching row must record the heartbeat")
	}
}

func TestReceiveFromPrincipleTouchesIdentity(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.identities["org-1"] = identity.Identity{
		OrgID:            "org-1",
		Role:             identity.RolePartner,
		NodeID:           "node-self",
		PrincipleNodeID:  "node-p",
		PrincipleNodeURL: "https://p.example.com",
	}
	monitor := newTestMonitor(store, now)

	role, err := monitor.ReceiveFromPrinciple(context.Background(), "node-p")
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if role != identity.RolePartner {
		t.Fatalf("role = %s, want partner", role)
	}

	ident := store.identities["org-1"]
	if ident.LastHeartbeat == nil || !ident.LastHeartbeat.Equal(now) {
		t.Fatalf("heartbeat = %v, want %v", ident.LastHeartbeat, now)
	}
}

func TestReceiveFromPrincipleUnknownSender(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	monitor := newTestMonitor(store, time.Now())

	_, err := monitor.ReceiveFromPrinciple(context.Background(), "node-stranger")
	if !errors.Is(err, apperrors.New(apperrors.CodeNotAPartner, "")) {
		t.Fatalf("expected not a partner, got %v", err)
	}
}

func TestStatusForPartnerReportsPrinciple(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	last := now.Add(-30 * time.Second)
	store := newFakeStore()
	store.identities["org-1"] = identity.Identity{
		OrgID:            "org-1",
		Role:             identity.RolePartner,
		NodeID:           "node-self",
		PrincipleNodeID:  "node-p",
		PrincipleNodeURL: "https://p.example.com",
		LastHeartbeat:    &last,
	}
	monitor := newTestMonitor(store, now)

	report, err := monitor.Status(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.Role != identity.RolePartner {
		t.Fatalf("role = %s", report.Role)
	}
	if report.Principle == nil {
		t.Fatal("expected principle status")
	}
	if !report.Principle.Alive {
		t.Fatal("expected principle alive")
	}
	if report.Principle.SecondsSinceHeartbeat == nil || *report.Principle.SecondsSinceHeartbeat != 30 {
		t.Fatalf("seconds since = %v", report.Principle.SecondsSinceHeartbeat)
	}
	if len(report.Partners) != 0 {
		t.Fatalf("partner view must be empty, got %d", len(report.Partners))
	}
}

func TestStatusForPrincipleReportsPartners(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-2 * time.Minute)
	store := newFakeStore()
	store.identities["org-1"] = identity.Identity{
		OrgID:  "org-1",
		Role:   identity.RolePrinciple,
		NodeID: "node-self",
	}
	fresh := seedPartner(store, "partner-1", "org-1", "node-b", "secret-b")
	fresh.LastHeartbeat = &now
	store.partners["partner-1"] = fresh
	dead := seedPartner(store, "partner-2", "org-1", "node-c", "secret-c")
	dead.LastHeartbeat = &stale
	store.partners["partner-2"] = dead

	monitor := newTestMonitor(store, now)
	report, err := monitor.Status(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.Role != identity.RolePrinciple {
		t.Fatalf("role = %s", report.Role)
	}
	if report.Principle != nil {
		t.Fatal("principle view must be nil")
	}
	if len(report.Partners) != 2 {
		t.Fatalf("expected 2 partners, got %d", len(report.Partners))
	}

	byNode := map[string]PartnerStatus{}
	for _, p := range report.Partners {
		byNode[p.NodeID] = p
	}
	if !byNode["node-b"].Alive {
		t.Fatal("node-b must be alive")
	}
	if byNode["node-c"].Alive {
		t.Fatal("node-c must be dead")
	}
}

func TestStatusForUnknownOrgIsStandalone(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	monitor := newTestMonitor(store, time.Now())

	report, err := monitor.Status(context.Background(), "org-new")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.Role != identity.RoleStandalone {
		t.Fatalf("role = %s", report.Role)
	}
	if len(report.Partners) != 0 || report.Principle != nil {
		t.Fatalf("unexpected report: %+v", report)
	}
}
