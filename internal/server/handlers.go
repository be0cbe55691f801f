package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codescope-dev/codescope/internal/apperror"
	"github.com/codescope-dev/codescope/internal/config"
	"github.com/codescope-dev/codescope/internal/mcpproxy"
	"github.com/codescope-dev/codescope/internal/reader"
	"github.com/codescope-dev/codescope/internal/retrieval"
	"github.com/codescope-dev/codescope/internal/review"
	"github.com/codescope-dev/codescope/internal/scanner"
	"github.com/codescope-dev/codescope/internal/urlstore"
)

// engine builds a retrieval engine against the live store handle.
func (s *Server) engine(c *gin.Context) (*retrieval.Engine, error) {
	return s.engineWS(c.Request.Context())
}

// urls builds the URL store service against the live store handle.
func (s *Server) urls(c *gin.Context) (*urlstore.Service, error) {
	st, err := s.coord.Store(c.Request.Context())
	if err != nil {
		return nil, err
	}
	return urlstore.NewService(st, s.embed, nil, 60*time.Second), nil
}

func (s *Server) handlePing(c *gin.Context) {
	status := "ok"
	if !s.coord.Healthy() {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Server) handleShutdown(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "shutting down"})
	go func() {
		ctx, cancel := gracefulContext()
		defer cancel()
		s.Shutdown(ctx)
	}()
}

func (s *Server) handleInit(c *gin.Context) {
	var boot config.Bootstrap
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&boot); err != nil {
			fail(c, apperror.BadRequest("malformed bootstrap payload: "+err.Error()))
			return
		}
	}
	merged, err := config.ApplyBootstrap(s.config(), &boot)
	if err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	s.setConfig(merged)

	if _, err := s.coord.Store(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "initialized",
		"store_recreated": s.coord.StoreRecreated(),
	})
}

type focusChunksRequest struct {
	RepoPath string               `json:"repo_path"`
	Focus    []retrieval.FocusRef `json:"focus"`
}

func (s *Server) handleFocusChunks(c *gin.Context) {
	var req focusChunksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	eng, err := s.engine(c)
	if err != nil {
		fail(c, err)
		return
	}
	chunks, err := eng.FocusChunks(c.Request.Context(), req.Focus)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chunks": chunks})
}

type focusSearchRequest struct {
	RepoPath string `json:"repo_path"`
	Keyword  string `json:"keyword"`
	Type     string `json:"type"`
}

func (s *Server) handleFocusSearch(c *gin.Context) {
	var req focusSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	eng, err := s.engine(c)
	if err != nil {
		fail(c, err)
		return
	}
	manifest, err := s.coord.EnsureManifest(c.Request.Context(), req.RepoPath, false)
	if err != nil {
		fail(c, err)
		return
	}
	results, err := eng.SearchSymbols(c.Request.Context(), req.RepoPath, req.Keyword, retrieval.SymbolType(req.Type), manifest)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type batchSearchRequest struct {
	RepoPath string                 `json:"repo_path"`
	Queries  []retrieval.BatchQuery `json:"queries"`
}

func (s *Server) handleBatchSearch(c *gin.Context) {
	var req batchSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	eng, err := s.engine(c)
	if err != nil {
		fail(c, err)
		return
	}
	manifest, err := s.coord.EnsureManifest(c.Request.Context(), req.RepoPath, false)
	if err != nil {
		fail(c, err)
		return
	}
	results, err := eng.BatchChunksSearch(c.Request.Context(), req.RepoPath, req.Queries, manifest)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type dirRequest struct {
	RepoPath  string `json:"repo_path"`
	Directory string `json:"directory"`
}

func (s *Server) handleDirectoryStructure(c *gin.Context) {
	var req dirRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	tree, err := reader.DirectoryStructure(req.RepoPath, req.Directory)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tree": tree})
}

func (s *Server) handleFilesInDir(c *gin.Context) {
	var req dirRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	files, err := reader.FilesInDir(req.RepoPath, req.Directory)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

type grepRequest struct {
	RepoPath string `json:"repo_path"`
	Pattern  string `json:"pattern"`
}

func (s *Server) handleGrepSearch(c *gin.Context) {
	var req grepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	sc, err := scanner.New(req.RepoPath, s.config().Indexing.IgnorePatterns)
	if err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	res, err := reader.GrepSearch(sc, req.Pattern)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type readLinesRequest struct {
	RepoPath  string `json:"repo_path"`
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

func (s *Server) handleReadLines(c *gin.Context) {
	var req readLinesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	r := reader.NewReader(s.config().Reader.SummaryLineThreshold)
	res, err := r.ReadLines(req.RepoPath, req.FilePath, req.StartLine, req.EndLine)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type readFileRequest struct {
	RepoPath      string `json:"repo_path"`
	FilePath      string `json:"file_path"`
	LineThreshold int    `json:"line_threshold,omitempty"`
}

func (s *Server) handleReadFileOrSummary(c *gin.Context) {
	var req readFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	r := reader.NewReader(s.config().Reader.SummaryLineThreshold)
	res, err := r.ReadFileOrSummary(req.RepoPath, req.FilePath, req.LineThreshold)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type applyDiffRequest struct {
	RepoPath string `json:"repo_path"`
	FilePath string `json:"file_path"`
	Diff     string `json:"diff"`
}

func (s *Server) handleApplyDiff(c *gin.Context) {
	var req applyDiffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	if s.diff == nil {
		c.JSON(http.StatusOK, gin.H{"applied": false, "tool_error": "no diff applicator configured"})
		return
	}
	if err := s.diff(req.RepoPath, req.FilePath, req.Diff); err != nil {
		c.JSON(http.StatusOK, gin.H{"applied": false, "tool_error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": true})
}

type tokenRequest struct {
	Name  string `json:"name"`
	Token string `json:"token,omitempty"`
}

func (s *Server) handleStoreToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	if err := s.broker.Store(req.Name, req.Token); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stored"})
}

func (s *Server) handleLoadToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	token, err := s.broker.Load(req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) handleDeleteToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	if err := s.broker.Delete(req.Name); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleMCPServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"servers": s.proxy.ListServers()})
}

func (s *Server) handleMCPRegister(c *gin.Context) {
	var cfg mcpproxy.ServerConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	if err := s.proxy.Register(cfg); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "registered"})
}

func (s *Server) handleMCPDeregister(c *gin.Context) {
	s.proxy.Deregister(c.Param("name"))
	c.JSON(http.StatusOK, gin.H{"status": "deregistered"})
}

func (s *Server) handleMCPTools(c *gin.Context) {
	tools, err := s.proxy.ListTools(c.Request.Context(), c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": tools})
}

type mcpInvokeRequest struct {
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleMCPInvoke(c *gin.Context) {
	var req mcpInvokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	res, err := s.proxy.Invoke(c.Request.Context(), c.Param("name"), c.Param("tool"), req.Arguments)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type readURLsRequest struct {
	URLs []string `json:"urls"`
}

func (s *Server) handleReadURLs(c *gin.Context) {
	var req readURLsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	svc, err := s.urls(c)
	if err != nil {
		fail(c, err)
		return
	}
	recs, err := svc.ReadURLs(c.Request.Context(), req.URLs)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"urls": recs})
}

type saveURLRequest struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

func (s *Server) handleSaveURL(c *gin.Context) {
	var req saveURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	svc, err := s.urls(c)
	if err != nil {
		fail(c, err)
		return
	}
	rec, err := svc.Save(c.Request.Context(), req.URL, req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type searchURLRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Server) handleSearchURL(c *gin.Context) {
	var req searchURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	svc, err := s.urls(c)
	if err != nil {
		fail(c, err)
		return
	}
	hits, err := svc.Search(c.Request.Context(), req.Query, req.Limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": hits})
}

func (s *Server) handleListURLs(c *gin.Context) {
	svc, err := s.urls(c)
	if err != nil {
		fail(c, err)
		return
	}
	recs, err := svc.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"urls": recs})
}

type deleteURLRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleDeleteURL(c *gin.Context) {
	var req deleteURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	svc, err := s.urls(c)
	if err != nil {
		fail(c, err)
		return
	}
	if err := svc.Delete(c.Request.Context(), req.URL); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type snapshotRequest struct {
	RepoPath string `json:"repo_path"`
}

func (s *Server) handleTakeSnapshot(c *gin.Context) {
	var req snapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	info, err := s.review.TakeSnapshot(req.RepoPath)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type changesRequest struct {
	RepoPath string `json:"repo_path"`
	Strategy string `json:"strategy,omitempty"`
}

func (s *Server) handleGetChanges(c *gin.Context) {
	var req changesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest(err.Error()))
		return
	}
	strategy, err := review.ParseStrategy(req.Strategy)
	if err != nil {
		fail(c, err)
		return
	}
	changes, err := s.review.GetChanges(req.RepoPath, strategy)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, changes)
}
