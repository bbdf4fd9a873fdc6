// Package gateway serves the small HTTP control surface: liveness, the bot's
// X identity, a trigger for the mention loop, usage totals and metrics.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/artcritic/artcritic/pkg/channels"
	"github.com/artcritic/artcritic/pkg/logger"
	"github.com/artcritic/artcritic/pkg/metrics"
	"github.com/artcritic/artcritic/pkg/twitter"
	"github.com/artcritic/artcritic/pkg/usage"
)

// MentionLoop is the part of the Twitter channel the gateway can trigger.
type MentionLoop interface {
	Start(ctx context.Context) error
	LoopRunning() bool
}

// Identity resolves the authenticated X account.
type Identity interface {
	Me(ctx context.Context) (*twitter.User, error)
}

// UsageSource is satisfied by *usage.Store.
type UsageSource interface {
	Query(f usage.Filter) []usage.Record
}

type Options struct {
	Host     string
	Port     int
	Version  string
	Loop     MentionLoop
	Identity Identity
	Usage    UsageSource
	Metrics  metrics.Metrics
	// LoopContext bounds loops started over HTTP. Defaults to context.Background.
	LoopContext context.Context
}

type Server struct {
	opts   Options
	engine *gin.Engine

	mu  sync.Mutex
	srv *http.Server
}

func NewServer(opts Options) *Server {
	if opts.LoopContext == nil {
		opts.LoopContext = context.Background()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoop()
	}

	s := &Server{opts: opts}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.ginlogger)

	router.GET("/", s.handleRoot)
	router.GET("/healthz", s.handleHealth)
	router.GET("/whoami", s.handleWhoami)
	router.GET("/run-critic/", s.handleRunCritic)
	router.POST("/run-critic/", s.handleRunCritic)
	router.GET("/usage", s.handleUsage)
	router.GET("/metrics", gin.WrapH(metrics.NewHandler(opts.Metrics)))

	s.engine = router
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

// Start listens in the background. Bind errors are returned synchronously.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return fmt.Errorf("gateway already started")
	}

	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srv = srv

	logger.InfoCF("gateway", "HTTP gateway listening", map[string]interface{}{
		"addr": ln.Addr().String(),
	})
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("gateway", "HTTP gateway stopped", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) ginlogger(c *gin.Context) {
	c.Next()

	for _, ginErr := range c.Errors {
		logger.WarnCF("gateway", ginErr.Error(), map[string]interface{}{
			"path":   c.FullPath(),
			"status": c.Writer.Status(),
		})
	}
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Hello, world!"})
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{"status": "ok", "version": s.opts.Version}
	if s.opts.Loop != nil {
		resp["mention_loop"] = s.opts.Loop.LoopRunning()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleWhoami(c *gin.Context) {
	if s.opts.Identity == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "twitter is not configured"})
		return
	}
	me, err := s.opts.Identity.Me(c.Request.Context())
	if err != nil {
		_ = c.Error(fmt.Errorf("whoami: %w", err))
		c.JSON(http.StatusBadGateway, gin.H{"twitter_handle": nil, "error": "could not load the bot account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"twitter_handle": me.Username})
}

func (s *Server) handleRunCritic(c *gin.Context) {
	if s.opts.Loop == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "twitter is not configured"})
		return
	}
	if s.opts.Loop.LoopRunning() {
		c.JSON(http.StatusConflict, gin.H{"status": "already running"})
		return
	}
	if err := s.opts.Loop.Start(s.opts.LoopContext); err != nil {
		if errors.Is(err, channels.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"status": "already running"})
			return
		}
		_ = c.AbortWithError(http.StatusInternalServerError, fmt.Errorf("start mention loop: %w", err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (s *Server) handleUsage(c *gin.Context) {
	if s.opts.Usage == nil {
		c.JSON(http.StatusOK, gin.H{"totals": usage.Aggregate{}, "providers": gin.H{}})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	records := s.opts.Usage.Query(usage.Filter{
		DayKey:    c.Query("day"),
		Provider:  c.Query("provider"),
		Operation: c.Query("operation"),
		Limit:     limit,
	})
	c.JSON(http.StatusOK, gin.H{
		"totals":    usage.AggregateRecords(records),
		"providers": usage.ProviderBreakdown(records),
		"summary":   usage.Summary(records),
	})
}
