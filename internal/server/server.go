// Package server sets up the HTTP server with all routes.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/lootlabs/drawpool/internal/config"
	"github.com/lootlabs/drawpool/internal/draws"
	"github.com/lootlabs/drawpool/internal/health"
	"github.com/lootlabs/drawpool/internal/logging"
	"github.com/lootlabs/drawpool/internal/metrics"
	"github.com/lootlabs/drawpool/internal/pool"
	"github.com/lootlabs/drawpool/internal/ratelimit"
	"github.com/lootlabs/drawpool/internal/realtime"
	"github.com/lootlabs/drawpool/internal/reserve"
	"github.com/lootlabs/drawpool/internal/retry"
	"github.com/lootlabs/drawpool/internal/security"
	"github.com/lootlabs/drawpool/internal/token"
	"github.com/lootlabs/drawpool/internal/traces"
	"github.com/lootlabs/drawpool/internal/treasury"
	"github.com/lootlabs/drawpool/internal/validation"
	"github.com/lootlabs/drawpool/internal/vrf"
)

// Server wraps the HTTP server and the draw engine's components.
type Server struct {
	cfg          *config.Config
	reserve      *reserve.Ledger
	pools        *pool.Service
	treasury     *treasury.Treasury
	provider     *vrf.LocalProvider
	drawService  *draws.Service
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	healthReg    *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	shutdownOTel func(context.Context) error
	cancelRunCtx context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdownOTel, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	s.shutdownOTel = shutdownOTel

	var (
		reserveStore  reserve.Store
		poolStore     pool.Store
		drawStore     draws.Store
		treasuryStore treasury.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		// The database may still be starting up; ping with backoff.
		if err := retry.Do(context.Background(), 5, 500*time.Millisecond, db.Ping); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		reserveStore = reserve.NewPostgresStore(db)
		poolStore = pool.NewPostgresStore(db)
		drawStore = draws.NewPostgresStore(db)
		treasuryStore = treasury.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		reserveStore = reserve.NewMemoryStore()
		poolStore = pool.NewMemoryStore()
		drawStore = draws.NewMemoryStore()
		treasuryStore = treasury.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.reserve, err = reserve.NewLedger(ctx, reserveStore)
	if err != nil {
		return nil, fmt.Errorf("init reserve ledger: %w", err)
	}
	s.pools = pool.NewService(poolStore, s.reserve, cfg.MaxPoolItems)
	s.treasury = treasury.New(treasuryStore)

	s.provider = vrf.NewLocalProvider(cfg.VRFDeliveryDelay, s.logger)
	s.logger.Info("local randomness provider enabled", "delay", cfg.VRFDeliveryDelay)

	s.realtimeHub = realtime.NewHub(s.logger)

	terms, err := flexTerms(cfg)
	if err != nil {
		return nil, err
	}
	s.drawService, err = draws.NewService(ctx, drawStore, s.pools, s.reserve, s.treasury, s.provider, terms, s.realtimeHub)
	if err != nil {
		return nil, fmt.Errorf("init draw service: %w", err)
	}
	s.provider.SetFulfiller(s.drawService)

	s.healthReg = health.NewRegistry(2 * time.Second)
	if s.db != nil {
		s.healthReg.Register("database", s.db.PingContext)
	}
	s.healthReg.Register("reserve", func(ctx context.Context) error {
		// Status acquires the ledger mutex; a wedged ledger shows up here.
		_ = s.reserve.Status()
		return nil
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

func flexTerms(cfg *config.Config) (draws.FlexTerms, error) {
	minPayment, ok := token.Parse(cfg.MinFlexPayment)
	if !ok {
		return draws.FlexTerms{}, fmt.Errorf("bad MIN_FLEX_PAYMENT %q", cfg.MinFlexPayment)
	}
	basePayout, ok := token.Parse(cfg.FlexBasePayout)
	if !ok {
		return draws.FlexTerms{}, fmt.Errorf("bad FLEX_BASE_PAYOUT %q", cfg.FlexBasePayout)
	}
	return draws.FlexTerms{
		MinPayment:     minPayment,
		NothingBps:     int64(cfg.FlexNothingBps),
		ItemBpsMin:     int64(cfg.FlexItemBpsMin),
		ItemBpsMax:     int64(cfg.FlexItemBpsMax),
		ItemBpsPerUnit: int64(cfg.FlexItemBpsPerUnit),
		BasePayout:     basePayout,
		PayoutRateBps:  int64(cfg.FlexPayoutRateBps),
	}, nil
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "internal_error",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	limiterCfg := ratelimit.DefaultConfig()
	limiterCfg.RequestsPerSecond = s.cfg.RateLimitRPS
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(b)
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/api", s.infoHandler)

	// WebSocket draw-event stream
	s.router.GET("/v1/events/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1")

	// PUBLIC ROUTES: reads and opens.
	draws.RegisterRoutes(v1, s.drawService)

	// OPERATOR ROUTES: deposits, delivery, and recovery. Gated on the
	// admin secret when one is configured; open in development mode.
	admin := v1.Group("")
	admin.Use(security.RequireAdmin(s.cfg.AdminSecret))
	draws.RegisterOperatorRoutes(admin, s.drawService)
	pool.RegisterRoutes(admin, s.pools)
	treasury.RegisterRoutes(admin, s.treasury)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "drawpool",
		"description": "Weighted reward pools with asynchronous randomness",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
	}

	return s.Shutdown()
}

// Shutdown stops the server and background workers gracefully.
func (s *Server) Shutdown() error {
	s.ready.Store(false)

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Let in-flight randomness deliveries land before closing the store.
	s.provider.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var firstErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			firstErr = fmt.Errorf("http shutdown: %w", err)
		}
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.shutdownOTel != nil {
		if err := s.shutdownOTel(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("otel shutdown: %w", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("db close: %w", err)
		}
	}

	s.logger.Info("server stopped")
	return firstErr
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
