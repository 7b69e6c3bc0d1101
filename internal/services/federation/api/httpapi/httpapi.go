// Package httpapi exposes the federation service over HTTP.
//
// Two surfaces share one mux. Node-to-node endpoints under /federation are
// unauthenticated except for the trust token on heartbeats; they carry no
// organization scope. Admin endpoints under /api/federation require an
// authenticated dashboard session and are scoped to the caller's org.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/flowdeck/flowdeck/internal/platform/errors"
	"github.com/flowdeck/flowdeck/internal/services/federation/disconnect"
	"github.com/flowdeck/flowdeck/internal/services/federation/handshake"
	"github.com/flowdeck/flowdeck/internal/services/federation/heartbeat"
	"github.com/flowdeck/flowdeck/internal/services/federation/storage"
	"go.uber.org/zap"
)

// Config assembles the HTTP handler's dependencies.
type Config struct {
	Coordinator *handshake.Coordinator
	Monitor     *heartbeat.Monitor
	Disconnect  *disconnect.Handler
	Partners    storage.PartnerStore
	Sessions    *Sessions
	Logger      *zap.Logger

	// DefaultOrgID receives incoming proposals that carry no organization.
	DefaultOrgID string
}

// Handler serves the federation HTTP surfaces.
type Handler struct {
	coordinator  *handshake.Coordinator
	monitor      *heartbeat.Monitor
	disconnect   *disconnect.Handler
	partners     storage.PartnerStore
	sessions     *Sessions
	logger       *zap.Logger
	defaultOrgID string
}

// New creates the federation HTTP handler.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		coordinator:  cfg.Coordinator,
		monitor:      cfg.Monitor,
		disconnect:   cfg.Disconnect,
		partners:     cfg.Partners,
		sessions:     cfg.Sessions,
		logger:       logger,
		defaultOrgID: cfg.DefaultOrgID,
	}
}

// Routes builds the HTTP mux for both surfaces.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Node-to-node surface.
	mux.HandleFunc("POST /federation/heartbeat", h.handleHeartbeat)
	mux.HandleFunc("POST /federation/requests", h.handleIncomingProposal)
	mux.HandleFunc("POST /federation/acknowledge-callback", h.handleAcknowledgeCallback)
	mux.HandleFunc("POST /federation/disconnected", h.handleDisconnected)

	// Admin surface.
	mux.Handle("GET /api/federation/requests", h.sessions.Require(http.HandlerFunc(h.handleListRequests)))
	mux.Handle("POST /api/federation/requests", h.sessions.RequireAdmin(http.HandlerFunc(h.handleInitiate)))
	mux.Handle("POST /api/federation/requests/{id}/respond", h.sessions.RequireAdmin(http.HandlerFunc(h.handleRespond)))
	mux.Handle("POST /api/federation/requests/{id}/cancel", h.sessions.RequireAdmin(http.HandlerFunc(h.handleCancel)))
	mux.Handle("GET /api/federation/partners", h.sessions.Require(http.HandlerFunc(h.handleListPartners)))
	mux.Handle("DELETE /api/federation/partners/{id}", h.sessions.RequireAdmin(http.HandlerFunc(h.handleRevokePartner)))
	mux.Handle("GET /api/federation/liveness", h.sessions.Require(http.HandlerFunc(h.handleLiveness)))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}

// errorBody is the wire shape of every error response.
type errorBody struct {
	Code    string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		h.writeJSON(w, domainErr.Code.HTTPStatus(), errorBody{
			Code:    string(domainErr.Code),
			Message: domainErr.Message,
			Details: domainErr.Metadata,
		})
		return
	}

	h.logger.Error("internal error", zap.Error(err))
	h.writeJSON(w, http.StatusInternalServerError, errorBody{
		Code:    string(apperrors.CodeUnknown),
		Message: "internal error",
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		h.writeError(w, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid request body", err))
		return false
	}
	return true
}
