package server

import (
	"context"
	"log"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/codescope-dev/codescope/internal/apperror"
	"github.com/codescope-dev/codescope/internal/retrieval"
	"github.com/codescope-dev/codescope/internal/session"
)

// gracefulContext bounds shutdown work.
func gracefulContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 35*time.Second)
}

// wsError sends the error envelope over the socket before closing.
func wsError(ctx context.Context, conn *websocket.Conn, err error) {
	_, env := apperror.Classify(err)
	_ = wsjson.Write(ctx, conn, env)
	_ = conn.Close(websocket.StatusInternalError, env.ErrorCode)
}

// handleUpdateChunksWS streams indexing progress frames. The client sends
// one IndexRequest, then receives frames until both tasks finish. A
// disconnect cancels the job; in-flight batches are awaited.
func (s *Server) handleUpdateChunksWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	ctx := c.Request.Context()
	var req session.IndexRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "malformed request")
		return
	}

	job, err := s.coord.StartIndexJob(ctx, req)
	if err != nil {
		wsError(ctx, conn, err)
		return
	}

	// CloseRead watches for client disconnect while we only write.
	readCtx := conn.CloseRead(ctx)
	go func() {
		<-readCtx.Done()
		job.Cancel()
	}()

	for frame := range job.Frames() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := wsjson.Write(writeCtx, conn, frame)
		cancel()
		if err != nil {
			job.Cancel()
			// Drain remaining frames so the monitor loop can exit.
			for range job.Frames() {
			}
			break
		}
	}

	if err := job.Err(); err != nil {
		log.Printf("[%s] indexing finished with error: %v", req.RepoPath, err)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// handleRelevantChunksWS answers one retrieval query per connection: the
// client sends a request and receives a single chunk array.
func (s *Server) handleRelevantChunksWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	ctx := c.Request.Context()

	var req retrieval.Request
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "malformed request")
		return
	}

	eng, err := s.engineWS(ctx)
	if err != nil {
		wsError(ctx, conn, err)
		return
	}
	manifest, err := s.coord.EnsureManifest(ctx, req.RepoPath, req.PerformChunking)
	if err != nil {
		wsError(ctx, conn, err)
		return
	}
	chunks, err := eng.RelevantChunks(ctx, req, manifest)
	if err != nil {
		wsError(ctx, conn, err)
		return
	}

	if err := wsjson.Write(ctx, conn, chunks); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "write failed")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// engineWS mirrors Server.engine for websocket handlers.
func (s *Server) engineWS(ctx context.Context) (*retrieval.Engine, error) {
	st, err := s.coord.Store(ctx)
	if err != nil {
		return nil, err
	}
	cfg := s.config()
	var reranker *retrieval.Reranker
	if cfg.Retrieval.RerankEnabled {
		reranker = retrieval.NewReranker(cfg.Rerank.Endpoint, cfg.Rerank.Timeout)
	}
	return retrieval.NewEngine(st, s.embed, reranker, cfg.Retrieval.NumberOfChunks), nil
}
