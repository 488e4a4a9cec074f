package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mky2266/mats/logger"
	"github.com/mky2266/mats/store"
)

// StatusFunc returns the current snapshot of one engine
type StatusFunc func() any

// EquityHistory is the read side of the equity snapshot table
type EquityHistory interface {
	GetLatest(bot string, limit int) ([]*store.EquitySnapshot, error)
}

// Leaderboard is the read side of the backtest run table
type Leaderboard interface {
	Leaderboard(limit int) ([]store.SymbolAggregate, error)
}

// Server read-only status HTTP server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	addr       string
	started    time.Time

	engines     map[string]StatusFunc
	equity      EquityHistory
	leaderboard Leaderboard
}

// NewServer creates the status server. equity and leaderboard may be nil.
func NewServer(addr string, engines map[string]StatusFunc, equity EquityHistory, leaderboard Leaderboard) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:      router,
		addr:        addr,
		started:     time.Now(),
		engines:     engines,
		equity:      equity,
		leaderboard: leaderboard,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/status", s.handleStatus)

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)
		api.GET("/status/:engine", s.handleEngineStatus)
		api.GET("/equity-history", s.handleEquityHistory)
		api.GET("/backtest/leaderboard", s.handleLeaderboard)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// handleStatus returns every engine snapshot keyed by engine name
func (s *Server) handleStatus(c *gin.Context) {
	out := make(gin.H, len(s.engines))
	for name, fn := range s.engines {
		out[name] = fn()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleEngineStatus(c *gin.Context) {
	fn, ok := s.engines[c.Param("engine")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown engine"})
		return
	}
	c.JSON(http.StatusOK, fn())
}

// handleEquityHistory ?bot=grid&limit=100
func (s *Server) handleEquityHistory(c *gin.Context) {
	if s.equity == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "equity history is not recorded"})
		return
	}
	limit, err := queryLimit(c, 100)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snapshots, err := s.equity.GetLatest(c.DefaultQuery("bot", "grid"), limit)
	if err != nil {
		logger.Warnf("⚠️ [API] Equity history failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load equity history"})
		return
	}
	if snapshots == nil {
		snapshots = []*store.EquitySnapshot{}
	}
	c.JSON(http.StatusOK, snapshots)
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	if s.leaderboard == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backtest store is not available"})
		return
	}
	limit, err := queryLimit(c, 20)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := s.leaderboard.Leaderboard(limit)
	if err != nil {
		logger.Warnf("⚠️ [API] Leaderboard failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load leaderboard"})
		return
	}
	if rows == nil {
		rows = []store.SymbolAggregate{}
	}
	c.JSON(http.StatusOK, rows)
}

func queryLimit(c *gin.Context, def int) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 1000 {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return n, nil
}

// Start serves until Shutdown; it blocks
func (s *Server) Start() error {
	logger.Infof("🌐 Status server listening on %s", s.addr)
	logger.Infof("  • GET /health, /status, /api/status/:engine, /api/equity-history?bot=grid, /api/backtest/leaderboard")

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting up to five seconds for requests
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
