// ABOUTME: Gateway orchestrator that wires the webhook pipeline, read API and reaper
// ABOUTME: Manages store, listeners (TCP or tailnet), health endpoints and shutdown

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/centinai-gateway/internal/auth"
	"github.com/2389/centinai-gateway/internal/config"
	"github.com/2389/centinai-gateway/internal/conversation"
	"github.com/2389/centinai-gateway/internal/dedupe"
	"github.com/2389/centinai-gateway/internal/export"
	"github.com/2389/centinai-gateway/internal/reaper"
	"github.com/2389/centinai-gateway/internal/store"
	"github.com/2389/centinai-gateway/internal/webhook"
)

// Gateway orchestrates the centinai-gateway server components.
type Gateway struct {
	config        *config.Config
	store         store.Store
	lifecycle     *conversation.Lifecycle
	router        *conversation.Router
	broadcaster   *conversation.MessageBroadcaster
	authenticator *webhook.Authenticator
	reaper        *reaper.Reaper
	httpServer    *http.Server
	tsnetServer   *tsnet.Server
	logger        *slog.Logger

	// dedupe suppresses repeated webhook deliveries; nil when disabled
	dedupe *dedupe.Window

	// verifier guards /api; nil when no jwt_secret is configured
	verifier *auth.JWTVerifier
}

// initStore opens the SQLite store named by the config.
func initStore(cfg *config.Config) (store.Store, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// NewDispatcher builds the export dispatcher for the configured destinations.
// With no analyzer URL and no export directory, batches are only logged.
func NewDispatcher(cfg *config.Config, logger *slog.Logger) (export.Dispatcher, error) {
	var dispatchers export.MultiDispatcher

	if cfg.Analyzer.URL != "" {
		dispatchers = append(dispatchers, export.NewHTTPDispatcher(cfg.Analyzer.URL, cfg.Analyzer.Timeout, logger))
	}
	if cfg.Export.Dir != "" {
		fd, err := export.NewFileDispatcher(cfg.Export.Dir, logger)
		if err != nil {
			return nil, fmt.Errorf("creating file dispatcher: %w", err)
		}
		dispatchers = append(dispatchers, fd)
	}

	switch len(dispatchers) {
	case 0:
		logger.Warn("no analyzer.url or export.dir configured - expired conversations are only logged")
		return export.NopDispatcher{Logger: logger}, nil
	case 1:
		return dispatchers[0], nil
	default:
		return dispatchers, nil
	}
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	dispatcher, err := NewDispatcher(cfg, logger.With("component", "export"))
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	lifecycle := conversation.NewLifecycle(s, dispatcher, cfg.Conversations.Timeout, logger)
	broadcaster := conversation.NewMessageBroadcaster(logger)

	gw := &Gateway{
		config:        cfg,
		store:         s,
		lifecycle:     lifecycle,
		router:        conversation.NewRouter(lifecycle, s, broadcaster, logger),
		broadcaster:   broadcaster,
		authenticator: webhook.NewAuthenticator(s, logger),
		reaper:        reaper.New(lifecycle, dispatcher, cfg.Conversations.SweepSchedule, logger),
		logger:        logger.With("component", "gateway"),
	}

	if cfg.Webhook.DedupeWindow > 0 {
		gw.dedupe = dedupe.New(cfg.Webhook.DedupeWindow, cfg.Webhook.DedupeSize)
		gw.logger.Info("webhook duplicate suppression enabled", "window", cfg.Webhook.DedupeWindow)
	}

	if cfg.Auth.JWTSecret != "" {
		gw.verifier, err = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
	} else {
		gw.logger.Warn("read API disabled - no jwt_secret configured")
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Shutdown does not cancel request contexts; closing the broadcaster ends open streams.
	gw.httpServer.RegisterOnShutdown(gw.broadcaster.Close)

	return gw, nil
}

// Handler returns the gateway's HTTP routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	// Agents authenticate each delivery with their own secret
	mux.HandleFunc("POST /webhook", g.handleWebhook)

	if g.verifier != nil {
		requireAccount := auth.RequireAccount(g.verifier, g.logger)
		mux.Handle("GET /api/conversations", requireAccount(http.HandlerFunc(g.handleListConversations)))
		mux.Handle("GET /api/conversations/{id}/messages", requireAccount(http.HandlerFunc(g.handleConversationMessages)))
		mux.Handle("GET /api/stream", requireAccount(http.HandlerFunc(g.handleStream)))
	}

	return mux
}

// setupTCPListener creates the standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// warnIgnoredAddress logs a warning if a server address is configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddress() {
	if g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListener creates the HTTP listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddress()
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the HTTP server and the reaper and blocks until the context is
// canceled. Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	if err := g.reaper.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("starting reaper: %w", err)
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "centinai-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and returns the HTTP listener on it.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := g.listenTailnet(selectTailnetListener(tsCfg))
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, err
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// tailnetListener says how the gateway is exposed on the tailnet.
type tailnetListener struct {
	addr   string
	funnel bool // public internet via Funnel, so chat providers can reach /webhook
	tls    bool // tailnet-only HTTPS with tailnet certificates
}

// selectTailnetListener picks the listener for the config. Funnel wins over https.
func selectTailnetListener(tsCfg config.TailscaleConfig) tailnetListener {
	switch {
	case tsCfg.Funnel:
		return tailnetListener{addr: ":443", funnel: true}
	case tsCfg.HTTPS:
		return tailnetListener{addr: ":443", tls: true}
	default:
		return tailnetListener{addr: ":80"}
	}
}

func (g *Gateway) listenTailnet(l tailnetListener) (net.Listener, error) {
	if l.funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS)", "addr", l.addr)
		ln, err := g.tsnetServer.ListenFunnel("tcp", l.addr)
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	}

	ln, err := g.tsnetServer.Listen("tcp", l.addr)
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale port %s: %w", l.addr, err)
	}
	if !l.tls {
		return ln, nil
	}

	g.logger.Info("enabling HTTPS with tailscale certs", "addr", l.addr)
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the reaper and HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "reaper stop", g.reaper.Stop(ctx))
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	g.broadcaster.Close()
	if g.dedupe != nil {
		g.dedupe.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Error("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
