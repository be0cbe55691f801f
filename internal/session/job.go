package session

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/codescope-dev/codescope/internal/apperror"
	"github.com/codescope-dev/codescope/internal/chunker"
	"github.com/codescope-dev/codescope/internal/embedder"
	"github.com/codescope-dev/codescope/internal/scanner"
	"github.com/codescope-dev/codescope/internal/store"
)

// Task identifies which background task a progress frame describes.
type Task string

const (
	TaskIndexing  Task = "INDEXING"
	TaskEmbedding Task = "EMBEDDING"
)

// Status is the lifecycle state carried on a progress frame.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// FileStatus is one per-file entry of the indexing status report.
type FileStatus struct {
	Path   string `json:"path"`
	Status string `json:"status"` // CHUNKED or SKIPPED
	Reason string `json:"reason,omitempty"`
}

// Frame is one progress message on an indexing stream.
type Frame struct {
	Task           Task         `json:"task"`
	Status         Status       `json:"status"`
	RepoPath       string       `json:"repo_path"`
	Progress       int          `json:"progress"`
	IndexingStatus []FileStatus `json:"indexing_status"`
	Message        string       `json:"message,omitempty"`
}

// IndexRequest starts one indexing job. ChunkableFiles, when given,
// replaces the scan; Sync additionally garbage-collects records whose
// file hash left the manifest.
type IndexRequest struct {
	RepoPath       string                  `json:"repo_path"`
	ChunkableFiles []scanner.ChunkableFile `json:"chunkable_files,omitempty"`
	Sync           bool                    `json:"sync,omitempty"`
}

// pollInterval paces the progress monitor loop.
const pollInterval = 500 * time.Millisecond

// chunkBatchSize groups files per pool call so indexing progress moves in
// file-sized steps.
const chunkBatchSize = 16

// Job is one running indexing job: an indexing task and an embedding task
// observed by a monitor loop that emits progress frames.
type Job struct {
	RepoPath string

	frames chan Frame
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	tasks    map[Task]*taskState
	statuses []FileStatus
}

type taskState struct {
	progress int
	finished bool
	err      error
}

// Frames is the ordered progress stream. It closes after both tasks have
// emitted their terminal frame.
func (j *Job) Frames() <-chan Frame { return j.frames }

// Cancel requests cooperative cancellation; in-flight batches are awaited.
func (j *Job) Cancel() { j.cancel() }

// Done closes when the job has fully finished.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finishes or ctx expires.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the first task failure, if any. Valid after Done.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, t := range j.tasks {
		if t.err != nil {
			return t.err
		}
	}
	return nil
}

// StartIndexJob launches indexing for a repo. At most one job runs per
// repo path; a concurrent attempt observes ErrAlreadyIndexing.
func (c *Coordinator) StartIndexJob(ctx context.Context, req IndexRequest) (*Job, error) {
	if req.RepoPath == "" {
		return nil, apperror.BadRequest("repo_path is required")
	}
	st, err := c.Store(ctx)
	if err != nil {
		return nil, err
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	job := &Job{
		RepoPath: req.RepoPath,
		frames:   make(chan Frame, 256),
		cancel:   cancel,
		done:     make(chan struct{}),
		tasks: map[Task]*taskState{
			TaskIndexing:  {},
			TaskEmbedding: {},
		},
	}

	c.jobsMu.Lock()
	if _, running := c.jobs[req.RepoPath]; running {
		c.jobsMu.Unlock()
		cancel()
		return nil, fmt.Errorf("%s: %w", req.RepoPath, apperror.ErrAlreadyIndexing)
	}
	c.jobs[req.RepoPath] = job
	c.jobsMu.Unlock()

	go c.runJob(jobCtx, job, st, req)
	return job, nil
}

// runJob drives the two background tasks and the monitor loop. Task
// errors never escape; they become FAILED frames.
func (c *Coordinator) runJob(ctx context.Context, job *Job, st *store.Store, req IndexRequest) {
	defer func() {
		c.jobsMu.Lock()
		delete(c.jobs, req.RepoPath)
		c.jobsMu.Unlock()
		close(job.done)
	}()

	chunksCh := make(chan []chunker.Chunk, 1)
	manifestCh := make(chan scanner.Manifest, 1)

	go func() {
		defer close(chunksCh)
		defer close(manifestCh)
		chunks, manifest, err := c.runIndexing(ctx, job, req)
		if err != nil {
			job.finish(TaskIndexing, err)
			return
		}
		manifestCh <- manifest
		chunksCh <- chunks
		job.finish(TaskIndexing, nil)
	}()

	go func() {
		chunks, ok := <-chunksCh
		if !ok {
			job.finish(TaskEmbedding, fmt.Errorf("indexing did not complete"))
			return
		}
		manifest := <-manifestCh
		job.finish(TaskEmbedding, c.runEmbedding(ctx, job, st, req, chunks, manifest))
	}()

	job.monitor(ctx)
}

// runIndexing scans (or accepts) the file list, chunks it in batches, and
// installs the new manifest into the shared repo state.
func (c *Coordinator) runIndexing(ctx context.Context, job *Job, req IndexRequest) ([]chunker.Chunk, scanner.Manifest, error) {
	files := req.ChunkableFiles
	if len(files) == 0 {
		sc, err := scanner.New(req.RepoPath, c.cfg.Indexing.IgnorePatterns)
		if err != nil {
			return nil, nil, err
		}
		var skipped []scanner.SkippedFile
		files, skipped, err = sc.Scan()
		if err != nil {
			return nil, nil, err
		}
		for _, s := range skipped {
			job.addStatus(FileStatus{Path: s.Path, Status: "SKIPPED", Reason: s.Reason})
		}
	}

	manifest := make(scanner.Manifest, len(files))
	for _, f := range files {
		manifest[f.Path] = f.Hash
	}

	pool := chunker.NewPool(chunker.New(c.cfg.Indexing.ChunkCharBudget), c.cfg.Indexing.Workers)

	var chunks []chunker.Chunk
	total := len(files)
	for start := 0; start < total; start += chunkBatchSize {
		end := start + chunkBatchSize
		if end > total {
			end = total
		}
		batch := files[start:end]

		batchChunks, skipped, err := pool.ChunkFiles(ctx, req.RepoPath, batch)
		if err != nil {
			return nil, nil, err
		}
		chunks = append(chunks, batchChunks...)
		for _, s := range skipped {
			job.addStatus(FileStatus{Path: s.Path, Status: "SKIPPED", Reason: s.Reason})
		}
		skippedPaths := make(map[string]bool, len(skipped))
		for _, s := range skipped {
			skippedPaths[s.Path] = true
			delete(manifest, s.Path)
		}
		for _, f := range batch {
			if !skippedPaths[f.Path] {
				job.addStatus(FileStatus{Path: f.Path, Status: "CHUNKED"})
			}
		}
		job.setProgress(TaskIndexing, end*100/total)
	}
	job.setProgress(TaskIndexing, 100)

	c.RepoState(req.RepoPath).SetManifest(manifest)
	return chunks, manifest, nil
}

// runEmbedding pushes chunks through the embedding pipeline and, on a
// sync request, garbage-collects records for departed file hashes.
func (c *Coordinator) runEmbedding(ctx context.Context, job *Job, st *store.Store, req IndexRequest, chunks []chunker.Chunk, manifest scanner.Manifest) error {
	pipeline := embedder.NewPipeline(
		c.embed, st,
		c.cfg.Indexing.MaxParallelTasks,
		c.cfg.Indexing.BatchTokenBudget,
		c.cfg.Indexing.RetryLimit,
	)
	if err := pipeline.Run(ctx, chunks, false, &jobProgress{job: job}); err != nil {
		return err
	}
	job.setProgress(TaskEmbedding, 100)

	if req.Sync {
		live := make(map[string]bool, len(manifest))
		for _, h := range manifest {
			live[h] = true
		}
		deleted, err := st.DeleteStale(ctx, live)
		if err != nil {
			return fmt.Errorf("garbage collection failed: %w", err)
		}
		if deleted > 0 {
			log.Printf("[%s] removed %d stale chunk records", filepath.Base(req.RepoPath), deleted)
		}
	}
	return nil
}

// jobProgress adapts the pipeline's reporter to embedding task progress.
type jobProgress struct {
	job   *Job
	total int
}

func (p *jobProgress) OnStart(totalChunks int) {
	p.total = totalChunks
	if totalChunks == 0 {
		p.job.setProgress(TaskEmbedding, 100)
	}
}

func (p *jobProgress) OnProgress(completedChunks int) {
	if p.total > 0 {
		p.job.setProgress(TaskEmbedding, completedChunks*100/p.total)
	}
}

// monitor polls both tasks every pollInterval and emits frames, one
// terminal frame per task. It exits once both tasks are reported.
func (j *Job) monitor(ctx context.Context) {
	defer close(j.frames)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	reported := map[Task]bool{}
	for {
		for _, task := range []Task{TaskIndexing, TaskEmbedding} {
			if reported[task] {
				continue
			}
			frame, terminal := j.frameFor(task)
			j.emit(frame, terminal)
			if terminal {
				reported[task] = true
			}
		}
		if reported[TaskIndexing] && reported[TaskEmbedding] {
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			// Cancelled: wait one more round so tasks observe the
			// cancellation and settle into terminal states.
			time.Sleep(pollInterval)
		}
	}
}

func (j *Job) frameFor(task Task) (Frame, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	t := j.tasks[task]
	frame := Frame{
		Task:           task,
		Status:         StatusInProgress,
		RepoPath:       j.RepoPath,
		Progress:       t.progress,
		IndexingStatus: append([]FileStatus(nil), j.statuses...),
	}
	if !t.finished {
		return frame, false
	}
	if t.err != nil {
		frame.Status = StatusFailed
		frame.Message = t.err.Error()
	} else {
		frame.Status = StatusCompleted
		frame.Progress = 100
	}
	return frame, true
}

// emit delivers a frame. Interim frames are dropped when the consumer
// lags; terminal frames always land because the buffer outlives the
// monitor's frame count.
func (j *Job) emit(frame Frame, terminal bool) {
	select {
	case j.frames <- frame:
	default:
		if terminal {
			// Make room by discarding the oldest interim frame.
			select {
			case <-j.frames:
			default:
			}
			select {
			case j.frames <- frame:
			default:
			}
		}
	}
}

func (j *Job) setProgress(task Task, progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if progress > 100 {
		progress = 100
	}
	if t := j.tasks[task]; progress > t.progress {
		t.progress = progress
	}
}

func (j *Job) finish(task Task, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	t := j.tasks[task]
	t.finished = true
	t.err = err
}

func (j *Job) addStatus(s FileStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.statuses = append(j.statuses, s)
}
