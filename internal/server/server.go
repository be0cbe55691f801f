// Package server exposes the daemon over HTTP/1.1 and WebSocket on one
// localhost port.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/codescope-dev/codescope/internal/apperror"
	"github.com/codescope-dev/codescope/internal/authtoken"
	"github.com/codescope-dev/codescope/internal/config"
	"github.com/codescope-dev/codescope/internal/mcpproxy"
	"github.com/codescope-dev/codescope/internal/review"
	"github.com/codescope-dev/codescope/internal/session"
)

// DiffApplicator applies a unified diff to a file. The production
// implementation is an external collaborator injected at wiring time.
type DiffApplicator func(repoPath, filePath, diff string) error

// Server wires every subsystem behind the HTTP surface.
type Server struct {
	mu  sync.RWMutex // guards cfg swaps from /init
	cfg *config.Config

	coord  *session.Coordinator
	embed  *swappableEmbedder
	broker *authtoken.Broker
	proxy  *mcpproxy.Proxy
	review *review.Manager
	diff   DiffApplicator

	httpSrv *http.Server
}

// New builds a fully wired server. diff may be nil; apply-diff then
// reports a tool error.
func New(cfg *config.Config, diff DiffApplicator) (*Server, error) {
	broker, err := authtoken.NewBroker(cfg.Store.DataDir)
	if err != nil {
		return nil, err
	}
	embed := newSwappableEmbedder(cfg, broker)
	coord, err := session.NewCoordinator(cfg, embed)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:    cfg,
		coord:  coord,
		embed:  embed,
		broker: broker,
		proxy:  mcpproxy.NewProxy(nil),
		review: review.NewManager(nil),
		diff:   diff,
	}, nil
}

// Coordinator exposes the session coordinator, mainly for tests.
func (s *Server) Coordinator() *session.Coordinator { return s.coord }

func (s *Server) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Server) setConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.embed.rebuild(cfg)
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ping", s.handlePing)
	r.GET("/shutdown", s.handleShutdown)
	r.POST("/init", s.handleInit)

	v1 := r.Group("/v1")
	{
		v1.GET("/update_chunks", s.handleUpdateChunksWS)
		v1.POST("/update_chunks", s.handleUpdateChunksWS)
		v1.GET("/relevant_chunks", s.handleRelevantChunksWS)

		v1.POST("/get-focus-chunks", s.handleFocusChunks)
		v1.POST("/get-focus-search-results", s.handleFocusSearch)
		v1.POST("/batch_chunks_search", s.handleBatchSearch)

		v1.POST("/get-directory-structure", s.handleDirectoryStructure)
		v1.POST("/get-files-in-dir", s.handleFilesInDir)
		v1.POST("/grep-search", s.handleGrepSearch)
		v1.POST("/iteratively-read-file", s.handleReadLines)
		v1.POST("/read-file-or-summary", s.handleReadFileOrSummary)

		v1.POST("/diff-applicator/apply-diff", s.handleApplyDiff)

		v1.POST("/auth/store_token", s.handleStoreToken)
		v1.POST("/auth/load_token", s.handleLoadToken)
		v1.POST("/auth/delete_token", s.handleDeleteToken)

		v1.GET("/mcp/servers", s.handleMCPServers)
		v1.POST("/mcp/servers", s.handleMCPRegister)
		v1.DELETE("/mcp/servers/:name", s.handleMCPDeregister)
		v1.GET("/mcp/servers/:name/tools", s.handleMCPTools)
		v1.POST("/mcp/servers/:name/tools/:tool", s.handleMCPInvoke)

		v1.POST("/read_urls", s.handleReadURLs)
		v1.POST("/saved_url", s.handleSaveURL)
		v1.POST("/search_url", s.handleSearchURL)
		v1.GET("/saved_url/list", s.handleListURLs)
		v1.POST("/saved_url/delete", s.handleDeleteURL)

		v1.POST("/review/take-snapshot", s.handleTakeSnapshot)
		v1.POST("/review/get-changes", s.handleGetChanges)
	}
	return r
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	cfg := s.config()
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  cfg.Server.RequestTimeout,
		WriteTimeout: cfg.Server.RequestTimeout,
		IdleTimeout:  cfg.Server.RequestTimeout,
	}
	log.Printf("listening on %s", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown stops everything: coordinator first (jobs, heartbeat, store),
// then the listener. Idempotent.
func (s *Server) Shutdown(ctx context.Context) {
	s.coord.Shutdown()
	s.proxy.Close()
	if s.httpSrv != nil {
		_ = s.httpSrv.Shutdown(ctx)
	}
}

// fail renders any error as the wire envelope.
func fail(c *gin.Context, err error) {
	status, env := apperror.Classify(err)
	c.AbortWithStatusJSON(status, env)
}
