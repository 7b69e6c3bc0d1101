package httpapi

import (
	"net/http"
	"strings"
	"time"

	apperrors "github.com/flowdeck/flowdeck/internal/platform/errors"
	"github.com/flowdeck/flowdeck/internal/services/federation/handshake"
	"github.com/flowdeck/flowdeck/internal/services/federation/identity"
	"github.com/flowdeck/flowdeck/internal/services/federation/notify"
)

// heartbeatBody carries the sender's identity and claimed role. Partner
// heartbeats present the trust token in the secret header; principle
// heartbeats carry only the sender node ID and are verified against the
// recorded relationship.
type heartbeatBody struct {
	NodeID  string `json:"nodeId"`
	NodeURL string `json:"nodeUrl"`
	Role    string `json:"role"`
}

type heartbeatResponse struct {
	Success   bool      `json:"success"`
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body heartbeatBody
	if !h.decode(w, r, &body) {
		return
	}
	nodeID := strings.TrimSpace(body.NodeID)
	if nodeID == "" {
		h.writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "nodeId is required"))
		return
	}

	// The role field names the sender; partners always present their trust
	// token. An unsigned heartbeat without a role can only be a principle's.
	secretKey := r.Header.Get(notify.SecretHeader)
	var (
		role identity.Role
		err  error
	)
	switch identity.Role(strings.ToLower(strings.TrimSpace(body.Role))) {
	case identity.RolePartner:
		role, err = h.monitor.ReceiveFromPartner(r.Context(), nodeID, secretKey)
	case identity.RolePrinciple:
		role, err = h.monitor.ReceiveFromPrinciple(r.Context(), nodeID)
	default:
		if secretKey != "" {
			role, err = h.monitor.ReceiveFromPartner(r.Context(), nodeID, secretKey)
		} else {
			role, err = h.monitor.ReceiveFromPrinciple(r.Context(), nodeID)
		}
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, heartbeatResponse{
		Success:   true,
		Role:      string(role),
		Timestamp: time.Now().UTC(),
	})
}

// proposalBody mirrors notify.ProposalPayload on the receiving side.
type proposalBody struct {
	OrgID     string    `json:"orgId"`
	NodeID    string    `json:"nodeId"`
	NodeName  string    `json:"nodeName"`
	NodeURL   string    `json:"nodeUrl"`
	SecretKey string    `json:"secretKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *Handler) handleIncomingProposal(w http.ResponseWriter, r *http.Request) {
	var body proposalBody
	if !h.decode(w, r, &body) {
		return
	}

	orgID := strings.TrimSpace(body.OrgID)
	if orgID == "" {
		orgID = h.defaultOrgID
	}

	req, err := h.coordinator.Receive(r.Context(), handshake.ReceiveInput{
		OrgID:     orgID,
		NodeID:    body.NodeID,
		NodeName:  body.NodeName,
		NodeURL:   body.NodeURL,
		SecretKey: body.SecretKey,
		ExpiresAt: body.ExpiresAt,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"requestId": req.ID,
		"status":    string(req.Status),
	})
}

// callbackBody mirrors the acknowledge and reject callback payloads.
type callbackBody struct {
	Status            string `json:"status"`
	SecretKey         string `json:"secretKey"`
	Reason            string `json:"reason"`
	PrincipleNodeID   string `json:"principleNodeId"`
	PrincipleNodeName string `json:"principleNodeName"`
	PrincipleNodeURL  string `json:"principleNodeUrl"`
}

func (h *Handler) handleAcknowledgeCallback(w http.ResponseWriter, r *http.Request) {
	var body callbackBody
	if !h.decode(w, r, &body) {
		return
	}

	err := h.coordinator.HandleCallback(r.Context(), handshake.CallbackInput{
		Status:            body.Status,
		SecretKey:         body.SecretKey,
		Reason:            body.Reason,
		PrincipleNodeID:   body.PrincipleNodeID,
		PrincipleNodeName: body.PrincipleNodeName,
		PrincipleNodeURL:  body.PrincipleNodeURL,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type disconnectedBody struct {
	PrincipleNodeID string `json:"principleNodeId"`
}

func (h *Handler) handleDisconnected(w http.ResponseWriter, r *http.Request) {
	var body disconnectedBody
	if !h.decode(w, r, &body) {
		return
	}
	principleNodeID := strings.TrimSpace(body.PrincipleNodeID)
	if principleNodeID == "" {
		h.writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "principleNodeId is required"))
		return
	}

	if err := h.disconnect.HandleDisconnected(r.Context(), principleNodeID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
