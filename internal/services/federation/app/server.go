// Package server wires the federation runtime and HTTP lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flowdeck/flowdeck/internal/platform/config"
	"github.com/flowdeck/flowdeck/internal/platform/logging"
	"github.com/flowdeck/flowdeck/internal/services/federation/api/httpapi"
	"github.com/flowdeck/flowdeck/internal/services/federation/audit"
	"github.com/flowdeck/flowdeck/internal/services/federation/disconnect"
	"github.com/flowdeck/flowdeck/internal/services/federation/handshake"
	"github.com/flowdeck/flowdeck/internal/services/federation/heartbeat"
	"github.com/flowdeck/flowdeck/internal/services/federation/notify"
	federationsqlite "github.com/flowdeck/flowdeck/internal/services/federation/storage/sqlite"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type serverEnv struct {
	DBPath        string `env:"FLOWDECK_FEDERATION_DB_PATH"`
	NodeID        string `env:"FLOWDECK_FEDERATION_NODE_ID"`
	NodeName      string `env:"FLOWDECK_FEDERATION_NODE_NAME"`
	NodeURL       string `env:"FLOWDECK_FEDERATION_NODE_URL"`
	SessionSecret string `env:"FLOWDECK_FEDERATION_SESSION_SECRET"`
	DefaultOrgID  string `env:"FLOWDECK_FEDERATION_DEFAULT_ORG_ID"`
}

func loadServerEnv() serverEnv {
	var cfg serverEnv
	_ = config.ParseEnv(&cfg)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "federation.db")
	}
	return cfg
}

// Server hosts the federation HTTP API and storage lifecycle.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *federationsqlite.Store
	logger     *zap.Logger
}

// New creates a configured federation server listening on the provided port.
func New(port int) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port))
}

// NewWithAddr creates a configured federation server for the provided address.
func NewWithAddr(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	env := loadServerEnv()
	if strings.TrimSpace(env.NodeID) == "" {
		_ = listener.Close()
		return nil, errors.New("FLOWDECK_FEDERATION_NODE_ID is required")
	}
	if strings.TrimSpace(env.SessionSecret) == "" {
		_ = listener.Close()
		return nil, errors.New("FLOWDECK_FEDERATION_SESSION_SECRET is required")
	}

	logger, err := logging.New("federation", false)
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("build logger: %w", err)
	}

	store, err := openFederationStore(env.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	handler := buildHandler(env, store, logger)
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		listener:   listener,
		httpServer: httpServer,
		store:      store,
		logger:     logger,
	}, nil
}

func buildHandler(env serverEnv, store *federationsqlite.Store, logger *zap.Logger) http.Handler {
	self := handshake.SelfNode{
		ID:   strings.TrimSpace(env.NodeID),
		Name: strings.TrimSpace(env.NodeName),
		URL:  strings.TrimSpace(env.NodeURL),
	}
	notifier := notify.New(logger)
	emitter := audit.NewEmitter(store, logger)

	coordinator := handshake.New(handshake.Config{
		Identities: store,
		Partners:   store,
		Requests:   store,
		Notifier:   notifier,
		Audit:      emitter,
		Logger:     logger,
		Self:       self,
	})
	monitor := heartbeat.New(heartbeat.Config{
		Identities: store,
		Partners:   store,
		Logger:     logger,
	})
	disconnector := disconnect.New(disconnect.Config{
		Identities: store,
		Partners:   store,
		Notifier:   notifier,
		Audit:      emitter,
		Logger:     logger,
		SelfNodeID: self.ID,
	})

	api := httpapi.New(httpapi.Config{
		Coordinator:  coordinator,
		Monitor:      monitor,
		Disconnect:   disconnector,
		Partners:     store,
		Sessions:     httpapi.NewSessions([]byte(env.SessionSecret)),
		Logger:       logger,
		DefaultOrgID: strings.TrimSpace(env.DefaultOrgID),
	})
	return api.Routes()
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a federation server until context cancellation.
func Run(ctx context.Context, port int) error {
	server, err := New(port)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the HTTP server until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	log.Printf("federation server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases federation server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close federation store: %v", err)
		}
	}
	if s.logger != nil {
		_ = s.logger.Sync()
	}
}

func openFederationStore(path string) (*federationsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := federationsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open federation sqlite store: %w", err)
	}
	return store, nil
}
