package httpapi

import (
	"net/http"
	"time"

	"github.com/flowdeck/flowdeck/internal/platform/requestctx"
	"github.com/flowdeck/flowdeck/internal/services/federation/handshake"
	"github.com/flowdeck/flowdeck/internal/services/federation/heartbeat"
	"github.com/flowdeck/flowdeck/internal/services/federation/partner"
	"github.com/flowdeck/flowdeck/internal/services/federation/request"
)

// requestView is the admin wire shape of a ledger entry.
type requestView struct {
	ID                string            `json:"id"`
	Direction         string            `json:"direction"`
	Status            string            `json:"status"`
	RequesterNodeID   string            `json:"requesterNodeId"`
	RequesterNodeName string            `json:"requesterNodeName,omitempty"`
	RequesterNodeURL  string            `json:"requesterNodeUrl"`
	TargetNodeID      string            `json:"targetNodeId,omitempty"`
	ExpiresAt         time.Time         `json:"expiresAt"`
	AcknowledgedAt    *time.Time        `json:"acknowledgedAt,omitempty"`
	RejectedAt        *time.Time        `json:"rejectedAt,omitempty"`
	RejectionReason   string            `json:"rejectionReason,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// The secret key never leaves the service, not even to admins.
func viewRequest(req request.Request) requestView {
	return requestView{
		ID:                req.ID,
		Direction:         string(req.Direction),
		Status:            string(req.Status),
		RequesterNodeID:   req.RequesterNodeID,
		RequesterNodeName: req.RequesterNodeName,
		RequesterNodeURL:  req.RequesterNodeURL,
		TargetNodeID:      req.TargetNodeID,
		ExpiresAt:         req.ExpiresAt,
		AcknowledgedAt:    req.AcknowledgedAt,
		RejectedAt:        req.RejectedAt,
		RejectionReason:   req.RejectionReason,
		Metadata:          req.Metadata,
		CreatedAt:         req.CreatedAt,
		UpdatedAt:         req.UpdatedAt,
	}
}

func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request) {
	caller := requestctx.CallerFromContext(r.Context())
	reqs, err := h.coordinator.List(r.Context(), caller.OrgID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	views := make([]requestView, 0, len(reqs))
	for _, req := range reqs {
		views = append(views, viewRequest(req))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"requests": views})
}

type initiateBody struct {
	TargetURL string            `json:"targetUrl"`
	Metadata  map[string]string `json:"metadata"`
}

func (h *Handler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var body initiateBody
	if !h.decode(w, r, &body) {
		return
	}
	caller := requestctx.CallerFromContext(r.Context())

	req, err := h.coordinator.Initiate(r.Context(), handshake.InitiateInput{
		OrgID:     caller.OrgID,
		TargetURL: body.TargetURL,
		Metadata:  body.Metadata,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, viewRequest(req))
}

type respondBody struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

func (h *Handler) handleRespond(w http.ResponseWriter, r *http.Request) {
	var body respondBody
	if !h.decode(w, r, &body) {
		return
	}
	caller := requestctx.CallerFromContext(r.Context())

	req, err := h.coordinator.Respond(r.Context(), caller.OrgID, r.PathValue("id"), body.Action, body.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewRequest(req))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	caller := requestctx.CallerFromContext(r.Context())

	req, err := h.coordinator.Cancel(r.Context(), caller.OrgID, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewRequest(req))
}

// partnerView is the admin wire shape of a partner record.
type partnerView struct {
	ID            string     `json:"id"`
	NodeID        string     `json:"nodeId"`
	NodeName      string     `json:"nodeName,omitempty"`
	NodeURL       string     `json:"nodeUrl"`
	Active        bool       `json:"active"`
	SyncStatus    string     `json:"syncStatus"`
	LastHeartbeat *time.Time `json:"lastHeartbeat,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func viewPartner(p partner.Partner) partnerView {
	return partnerView{
		ID:            p.ID,
		NodeID:        p.NodeID,
		NodeName:      p.NodeName,
		NodeURL:       p.NodeURL,
		Active:        p.Active,
		SyncStatus:    p.SyncStatus,
		LastHeartbeat: p.LastHeartbeat,
		CreatedAt:     p.CreatedAt,
	}
}

func (h *Handler) handleListPartners(w http.ResponseWriter, r *http.Request) {
	caller := requestctx.CallerFromContext(r.Context())
	partners, err := h.partners.ListPartners(r.Context(), caller.OrgID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	views := make([]partnerView, 0, len(partners))
	for _, p := range partners {
		views = append(views, viewPartner(p))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"partners": views})
}

func (h *Handler) handleRevokePartner(w http.ResponseWriter, r *http.Request) {
	caller := requestctx.CallerFromContext(r.Context())
	if err := h.disconnect.Revoke(r.Context(), caller.OrgID, r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// livenessView is the admin wire shape of the liveness report.
type livenessView struct {
	Role      string              `json:"role"`
	Partners  []partnerLiveness   `json:"partners,omitempty"`
	Principle *principleLiveness  `json:"principle,omitempty"`
	Threshold heartbeatThresholds `json:"threshold"`
}

type heartbeatThresholds struct {
	Seconds int64 `json:"seconds"`
}

type partnerLiveness struct {
	PartnerID             string     `json:"partnerId"`
	NodeID                string     `json:"nodeId"`
	NodeName              string     `json:"nodeName,omitempty"`
	NodeURL               string     `json:"nodeUrl"`
	Active                bool       `json:"active"`
	SyncStatus            string     `json:"syncStatus"`
	Alive                 bool       `json:"alive"`
	LastHeartbeat         *time.Time `json:"lastHeartbeat,omitempty"`
	SecondsSinceHeartbeat *int64     `json:"secondsSinceHeartbeat,omitempty"`
}

type principleLiveness struct {
	NodeID                string     `json:"nodeId"`
	NodeURL               string     `json:"nodeUrl"`
	Alive                 bool       `json:"alive"`
	LastHeartbeat         *time.Time `json:"lastHeartbeat,omitempty"`
	SecondsSinceHeartbeat *int64     `json:"secondsSinceHeartbeat,omitempty"`
}

func (h *Handler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	caller := requestctx.CallerFromContext(r.Context())
	report, err := h.monitor.Status(r.Context(), caller.OrgID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	view := livenessView{
		Role:      string(report.Role),
		Threshold: heartbeatThresholds{Seconds: int64(heartbeat.LivenessThreshold / time.Second)},
	}
	for _, p := range report.Partners {
		view.Partners = append(view.Partners, partnerLiveness{
			PartnerID:             p.PartnerID,
			NodeID:                p.NodeID,
			NodeName:              p.NodeName,
			NodeURL:               p.NodeURL,
			Active:                p.Active,
			SyncStatus:            p.SyncStatus,
			Alive:                 p.Alive,
			LastHeartbeat:         p.LastHeartbeat,
			SecondsSinceHeartbeat: p.SecondsSinceHeartbeat,
		})
	}
	if report.Principle != nil {
		view.Principle = &principleLiveness{
			NodeID:                report.Principle.NodeID,
			NodeURL:               report.Principle.NodeURL,
			Alive:                 report.Principle.Alive,
			LastHeartbeat:         report.Principle.LastHeartbeat,
			SecondsSinceHeartbeat: report.Principle.SecondsSinceHeartbeat,
		}
	}
	h.writeJSON(w, http.StatusOK, view)
}
