// Package server wires subhub's HTTP listener, websocket acceptor,
// per-topic subscription registries, and their NATS cluster bridges
// together, grounded on the teacher's internal/server.Server (an HTTP
// mux of health/stats/auth endpoints, CORS middleware, and a
// signal-driven graceful shutdown), generalized from one flat hub to
// seven registry.Kind instances.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hevyhomie/subhub/internal/auth"
	"github.com/hevyhomie/subhub/internal/clusterbridge"
	"github.com/hevyhomie/subhub/internal/config"
	"github.com/hevyhomie/subhub/internal/logging"
	"github.com/hevyhomie/subhub/internal/metrics"
	natsClient "github.com/hevyhomie/subhub/pkg/nats"
	"github.com/hevyhomie/subhub/pkg/registry"
	"github.com/hevyhomie/subhub/pkg/wsconn"
)

var registryKinds = []registry.Kind{
	registry.Record,
	registry.Event,
	registry.RPC,
	registry.Presence,
	registry.Monitoring,
	registry.RecordListenPatterns,
	registry.EventListenPatterns,
}

// Server owns one subscription registry per registry.Kind, the shared
// NATS connection their cluster bridges gossip over, and the HTTP/
// websocket listener that turns client traffic into registry calls.
type Server struct {
	cfg config.Config

	httpServer  *http.Server
	nats        *natsClient.Client
	jwtManager  *auth.JWTManager
	logger      *zap.Logger
	system      *metrics.SystemMetrics
	prom        *metrics.Metrics
	monitor     *metrics.RegistryMonitor
	connTracker *metrics.ConnectionTracker

	registries map[registry.Kind]*registry.Registry
	bridges    map[registry.Kind]*clusterbridge.Bridge

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedAt time.Time
}

// New constructs a Server wired from cfg. It blocks briefly dialing
// NATS and establishing each registry kind's cluster-bridge subscriptions.
func New(cfg config.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build logger: %w", err)
	}

	promMetrics := metrics.NewMetrics()
	monitor := metrics.NewRegistryMonitor(promMetrics)
	system := metrics.NewSystemMetrics()

	jwtManager := auth.NewJWTManager(cfg.Auth.Secret, cfg.Auth.Issuer, 24*time.Hour)

	nc, err := natsClient.NewClient(natsClient.Config{
		URL:             cfg.Cluster.NATSURL,
		MaxReconnects:   cfg.Cluster.MaxReconnects,
		ReconnectWait:   cfg.Cluster.ReconnectWait,
		ReconnectJitter: cfg.Cluster.ReconnectJitter,
		MaxPingsOut:     cfg.Cluster.MaxPingsOut,
		PingInterval:    cfg.Cluster.PingInterval,
	}, promMetrics, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	s := &Server{
		cfg:         cfg,
		nats:        nc,
		jwtManager:  jwtManager,
		logger:      logger,
		system:      system,
		prom:        promMetrics,
		monitor:     monitor,
		connTracker: metrics.NewConnectionTracker(),
		registries:  make(map[registry.Kind]*registry.Registry),
		bridges:    make(map[registry.Kind]*clusterbridge.Bridge),
		ctx:        ctx,
		cancel:     cancel,
		startedAt:  time.Now(),
	}

	registryLogger := logging.NewRegistryLogger(logger)

	for _, kind := range registryKinds {
		bridge, err := clusterbridge.New(kind, cfg.Server.ID, nc.Conn(), promMetrics)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("build cluster bridge for %s: %w", kind, err)
		}
		transport := clusterbridge.NewTransport(kind, nc.Conn(), promMetrics)
		s.bridges[kind] = bridge
		s.registries[kind] = registry.New(kind, cfg.Server.ID, bridge, transport, monitor, registryLogger)
	}

	s.setupHTTPServer()
	return s, nil
}

func (s *Server) setupHTTPServer() {
	mux := http.NewServeMux()

	mux.HandleFunc(s.cfg.Server.WebsocketPath, s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics/system", s.debugAuth(s.handleSystemMetrics))
	mux.HandleFunc("/metrics/connections", s.debugAuth(s.handleConnectionMetrics))
	mux.HandleFunc("/auth/token", s.handleGenerateToken)
	if s.cfg.Metrics.Enabled {
		mux.Handle(s.cfg.Metrics.Endpoint, promhttp.Handler())
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s.corsMiddleware(mux),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
}

// handleWebSocket admits the connection (JWT, if required), upgrades
// it, and routes every decoded inbound frame to the registry named by
// its kind field.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth.Required {
		claims, err := s.jwtManager.WebSocketAuth(r)
		if err != nil {
			s.logger.Warn("websocket authentication failed", zap.Error(err))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			s.prom.RecordConnectionError()
			return
		}
		r = r.WithContext(auth.SetUserContext(r.Context(), claims))
	}
	userID := auth.SubscriberID(r.Context())

	registryLogger := logging.NewRegistryLogger(s.logger)
	conn, err := wsconn.Accept(w, r, userID, s.prom, registryLogger, s.routeInbound)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		s.prom.RecordConnectionError()
		return
	}

	trackingID := trackingIDFor(conn)
	s.connTracker.AddConnection(trackingID, r.RemoteAddr)
	conn.OnClose(registry.NewCloseHook(func(registry.Connection) {
		s.connTracker.RemoveConnection(trackingID)
	}))
}

// trackingIDFor derives the key internal/metrics.ConnectionTracker
// uses for conn. A raw user id isn't unique across a user's multiple
// simultaneous connections, so it's combined with the connection's
// own pointer identity.
func trackingIDFor(conn *wsconn.Conn) string {
	return fmt.Sprintf("%s-%p", conn.User(), conn)
}

// inboundFrame is the wire shape a client sends to drive registry
// operations; Kind/Action/Name/Silent/Names mirror the registry's own
// vocabulary (spec §6) so the acceptor can dispatch without a
// protocol-specific translation layer.
type inboundFrame struct {
	Kind          string   `json:"kind"`
	Action        string   `json:"action"`
	Name          string   `json:"name"`
	Names         []string `json:"names"`
	CorrelationID string   `json:"correlationId"`
	Silent        bool     `json:"silent"`
	NoDelay       bool     `json:"noDelay"`
	Payload       any      `json:"payload"`
}

func (s *Server) routeInbound(conn *wsconn.Conn, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.prom.RecordError("inbound_decode")
		return
	}

	kind, ok := parseKind(frame.Kind)
	if !ok {
		s.prom.RecordError("inbound_unknown_kind")
		return
	}
	reg, ok := s.registries[kind]
	if !ok {
		s.prom.RecordError("inbound_unknown_registry")
		return
	}

	req := &registry.Message{
		Topic:         kind,
		Action:        registry.Action(frame.Action),
		Name:          frame.Name,
		CorrelationID: frame.CorrelationID,
		Payload:       frame.Payload,
	}

	trackingID := trackingIDFor(conn)

	switch frame.Action {
	case "SUBSCRIBE":
		if len(frame.Names) > 0 {
			reg.SubscribeBulk(&registry.BulkMessage{Message: req, Names: frame.Names}, conn, frame.Silent)
			s.connTracker.RecordTopicActivity(trackingID, kind.String(), len(frame.Names))
			return
		}
		reg.Subscribe(frame.Name, req, conn, frame.Silent)
		s.connTracker.RecordTopicActivity(trackingID, kind.String(), 1)
	case "UNSUBSCRIBE":
		if len(frame.Names) > 0 {
			reg.UnsubscribeBulk(&registry.BulkMessage{Message: req, Names: frame.Names}, conn, frame.Silent)
			s.connTracker.RecordTopicActivity(trackingID, kind.String(), -len(frame.Names))
			return
		}
		reg.Unsubscribe(frame.Name, req, conn, frame.Silent)
		s.connTracker.RecordTopicActivity(trackingID, kind.String(), -1)
	case "PUBLISH":
		reg.SendToSubscribers(frame.Name, req, frame.NoDelay, conn, false)
	default:
		s.prom.RecordError("inbound_unknown_action")
	}
}

func parseKind(s string) (registry.Kind, bool) {
	for _, k := range registryKinds {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make(map[string]int, len(registryKinds))
	for _, kind := range registryKinds {
		names[kind.String()] = len(s.registries[kind].GetNames())
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.startedAt).Seconds(),
		"services": map[string]interface{}{
			"nats": map[string]interface{}{
				"status":    s.nats.Status().String(),
				"connected": s.nats.IsConnected(),
			},
			"registries": names,
		},
		"system": map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// debugAuth gates a debug endpoint behind JWT auth when the server
// requires it; with auth disabled the endpoint stays open, matching
// the same rule handleWebSocket applies to connection admission.
func (s *Server) debugAuth(next http.HandlerFunc) http.HandlerFunc {
	if !s.cfg.Auth.Required {
		return next
	}
	return s.jwtManager.AuthMiddleware(next)
}

func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	s.system.Update()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.system.GetSystemInfo())
}

func (s *Server) handleConnectionMetrics(w http.ResponseWriter, r *http.Request) {
	if s.logger.Core().Enabled(zap.DebugLevel) {
		s.logger.Debug("connection metrics accessed", zap.String("subscriber", auth.SubscriberID(r.Context())))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.connTracker.GetSummary())
}

func (s *Server) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token, err := s.jwtManager.GenerateTestToken()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start runs the HTTP server and the periodic system metrics
// collector, blocking until a shutdown signal arrives.
func (s *Server) Start() error {
	s.logger.Info("starting subhub", zap.String("server_id", s.cfg.Server.ID), zap.String("addr", s.httpServer.Addr))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.collectSystemMetrics()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	s.waitForShutdown()
	return nil
}

func (s *Server) collectSystemMetrics() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.system.Update()
			s.prom.UpdateGoroutinesCount(runtime.NumGoroutine())
			s.prom.UpdateCPUUsage(s.system.GetCPUPercent())
			s.prom.UpdateMemoryUsage(uint64(s.system.GetMemoryMB() * 1024 * 1024))
			for _, kind := range registryKinds {
				s.monitor.SetClusterNames(kind, len(s.bridges[kind].GetAll()))
			}
		}
	}
}

func (s *Server) waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	s.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	s.Shutdown()
}

// Shutdown stops the HTTP server, drains every registry's command loop,
// then closes the NATS connection. The HTTP shutdown and the wait for
// background goroutines are bounded by the configured shutdown timeout.
func (s *Server) Shutdown() {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	for _, reg := range s.registries {
		reg.Close()
	}

	if err := s.nats.Close(); err != nil {
		s.logger.Warn("NATS close error", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("shutdown complete")
	case <-ctx.Done():
		s.logger.Warn("shutdown timed out")
	}
}
