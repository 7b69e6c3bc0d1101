// Package notify sends best-effort JSON notifications to remote nodes.
//
// Every call is fire-and-forget with respect to the caller's success: the
// local state change that triggered it is already committed, delivery is
// bounded by a fixed timeout, and failures are logged and discarded. The
// remote side reconciles through its own heartbeat cycle or by
// re-requesting.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Timeout bounds every outbound notification attempt.
const Timeout = 5 * time.Second

// Node-to-node endpoint paths, shared with the HTTP API so notification
// targets and served routes cannot drift apart.
const (
	PathHeartbeat           = "/federation/heartbeat"
	PathRequests            = "/federation/requests"
	PathAcknowledgeCallback = "/federation/acknowledge-callback"
	PathDisconnected        = "/federation/disconnected"
)

// SecretHeader carries the trust token on heartbeat requests.
const SecretHeader = "X-Flowdeck-Federation-Secret"

// AcknowledgePayload is the callback body sent to a requester after accept.
type AcknowledgePayload struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	SecretKey string `json:"secretKey"`
	// Principle identity lets the requester adopt its new principle without
	// a second round trip.
	PrincipleNodeID   string `json:"principleNodeId"`
	PrincipleNodeName string `json:"principleNodeName,omitempty"`
	PrincipleNodeURL  string `json:"principleNodeUrl"`
}

// RejectPayload is the callback body sent to a requester after reject. The
// secret key is echoed back because callbacks correlate by secret, never by
// request ID (the requester's ledger IDs are unknown to the responder).
type RejectPayload struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	SecretKey string `json:"secretKey"`
	Reason    string `json:"reason"`
}

// ProposalPayload is the body of an outgoing partnership proposal.
type ProposalPayload struct {
	OrgID     string    `json:"orgId,omitempty"`
	NodeID    string    `json:"nodeId"`
	NodeName  string    `json:"nodeName,omitempty"`
	NodeURL   string    `json:"nodeUrl"`
	SecretKey string    `json:"secretKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// DisconnectPayload is the notice a principle sends when revoking a partner.
type DisconnectPayload struct {
	PrincipleNodeID string `json:"principleNodeId"`
}

// Notifier posts JSON payloads to remote federation endpoints.
type Notifier struct {
	client *http.Client
	logger *zap.Logger
}

// New creates a notifier with the standard bounded-timeout client.
func New(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		client: &http.Client{Timeout: Timeout},
		logger: logger,
	}
}

// NewWithClient creates a notifier with a caller-supplied HTTP client.
func NewWithClient(client *http.Client, logger *zap.Logger) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{client: client, logger: logger}
}

// Endpoint joins a node's base URL with a federation path.
func Endpoint(nodeURL, path string) string {
	return strings.TrimRight(strings.TrimSpace(nodeURL), "/") + path
}

// NotifyBestEffort posts payload to url and discards the outcome. The name
// is deliberate: a failed delivery is an expected condition, not a bug, and
// it never affects the committed local state that triggered it.
func (n *Notifier) NotifyBestEffort(ctx context.Context, url string, payload any) {
	if n == nil || n.client == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Warn("encode notification", zap.String("url", url), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("build notification request", zap.String("url", url), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("deliver notification", zap.String("url", url), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.Warn("notification refused",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
		)
	}
}
