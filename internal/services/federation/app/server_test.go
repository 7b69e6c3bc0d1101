package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestServer_HealthAndNodeSurfaceRoundTrip(t *testing.T) {
	dbPath := t.TempDir() + "/federation.db"
	t.Setenv("FLOWDECK_FEDERATION_DB_PATH", dbPath)
	t.Setenv("FLOWDECK_FEDERATION_NODE_ID", "node-test")
	t.Setenv("FLOWDECK_FEDERATION_NODE_URL", "https://node-test.example.com")
	t.Setenv("FLOWDECK_FEDERATION_SESSION_SECRET", "test-signing-secret")
	t.Setenv("FLOWDECK_FEDERATION_DEFAULT_ORG_ID", "org-test")

	srv, err := NewWithAddr("127.0.0.1:0")
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.Serve(runCtx)
	}()
	t.Cleanup(func() {
		runCancel()
		select {
		case serveErr := <-serveDone:
			if serveErr != nil {
				t.Fatalf("serve: %v", serveErr)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for server shutdown")
		}
	})

	base := "http://" + srv.Addr()

	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("healthz status = %d, want 204", resp.StatusCode)
	}

	proposal := `{"nodeId":"node-remote","nodeName":"Remote","nodeUrl":"https://remote.example.com","secretKey":"remote-secret"}`
	resp, err = http.Post(base+"/federation/requests", "application/json", strings.NewReader(proposal))
	if err != nil {
		t.Fatalf("post proposal: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("proposal status = %d, want 200", resp.StatusCode)
	}
	var created struct {
		RequestID string `json:"requestId"`
		Status    string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode proposal response: %v", err)
	}
	if created.RequestID == "" || created.Status != "pending" {
		t.Fatalf("unexpected proposal response: %+v", created)
	}

	// Admin surface refuses unauthenticated access.
	resp, err = http.Get(base + "/api/federation/requests")
	if err != nil {
		t.Fatalf("get requests: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("requests status = %d, want 401", resp.StatusCode)
	}
}

func TestNewWithAddrRequiresNodeIdentity(t *testing.T) {
	t.Setenv("FLOWDECK_FEDERATION_DB_PATH", t.TempDir()+"/federation.db")
	t.Setenv("FLOWDECK_FEDERATION_NODE_ID", "")
	t.Setenv("FLOWDECK_FEDERATION_SESSION_SECRET", "test-signing-secret")

	if _, err := NewWithAddr("127.0.0.1:0"); err == nil {
		t.Fatal("expected error without node id")
	}
}

