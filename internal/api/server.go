package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/voicelink-core/internal/audit"
	"github.com/nerrad567/voicelink-core/internal/infrastructure/config"
	"github.com/nerrad567/voicelink-core/internal/infrastructure/database"
	"github.com/nerrad567/voicelink-core/internal/infrastructure/logging"
	"github.com/nerrad567/voicelink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/voicelink-core/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ManagerFactory builds a session manager bound to one gateway connection's
// sender. Each gateway connection owns its own manager, so device sessions
// live and die with the connection that created them.
type ManagerFactory func(sender session.Sender) (*session.Manager, error)

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Managers ManagerFactory
	Audit    audit.Repository
	MQTT     *mqtt.Client
	DB       *database.DB
	Version  string
}

// Server is the HTTP and gateway WebSocket server for VoiceLink Core.
//
// It manages the HTTP listener, routes, middleware, and the set of live
// gateway connections. The server is created with New() and started with
// Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	managers  ManagerFactory
	auditRepo audit.Repository
	mqtt      *mqtt.Client
	db        *database.DB
	version   string
	startTime time.Time

	server  *http.Server
	baseCtx context.Context    // parent context for gateway connections
	cancel  context.CancelFunc // cancels gateway contexts on Close()

	gateways map[*gatewayConn]struct{}
	gwMu     sync.RWMutex
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, manager factory)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Managers == nil {
		return nil, fmt.Errorf("session manager factory is required")
	}
	// Audit, MQTT, and DB are optional; the gateway works without them,
	// only the corresponding operator endpoints degrade.

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		managers:  deps.Managers,
		auditRepo: deps.Audit,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
		gateways:  make(map[*gatewayConn]struct{}),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It builds the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for gateway connection lifetimes
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop gateway connections
	// independently of the parent context.
	s.baseCtx, s.cancel = context.WithCancel(ctx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	// Start listening in background
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It closes all gateway connections (shutting down their session managers),
// then waits up to 10 seconds for in-flight HTTP requests to complete.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	// Gateway sockets are hijacked connections; http.Server.Shutdown does
	// not close them, so force each read loop to exit and run its manager
	// teardown.
	s.closeGateways()

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// registerGateway adds a gateway connection to the live set.
func (s *Server) registerGateway(g *gatewayConn) {
	s.gwMu.Lock()
	s.gateways[g] = struct{}{}
	s.gwMu.Unlock()
}

// unregisterGateway removes a gateway connection from the live set.
func (s *Server) unregisterGateway(g *gatewayConn) {
	s.gwMu.Lock()
	delete(s.gateways, g)
	s.gwMu.Unlock()
}

// gatewaySnapshot returns the current set of live gateway connections.
func (s *Server) gatewaySnapshot() []*gatewayConn {
	s.gwMu.RLock()
	defer s.gwMu.RUnlock()

	conns := make([]*gatewayConn, 0, len(s.gateways))
	for g := range s.gateways {
		conns = append(conns, g)
	}
	return conns
}

// closeGateways force-closes every live gateway connection. Each read loop
// exits on the closed socket and shuts down its session manager.
func (s *Server) closeGateways() {
	for _, g := range s.gatewaySnapshot() {
		g.close()
	}
}

// GatewayCount returns the number of connected gateways.
func (s *Server) GatewayCount() int {
	s.gwMu.RLock()
	defer s.gwMu.RUnlock()
	return len(s.gateways)
}
