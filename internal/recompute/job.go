// Package recompute runs the periodic job that refreshes evidence
// components and composite scores for genes marked dirty by ingestion and
// imports.
package recompute

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/genetarget/internal/jobs"
	"github.com/onnwee/genetarget/internal/scoring"
)

// Scorer is the part of scoring.Scorer the job drives.
type Scorer interface {
	RefreshEvidenceGenes(ctx context.Context, genes []string) (scoring.RefreshSummary, error)
	RecomputeGenes(ctx context.Context, genes []string) (scoring.Summary, error)
}

// JobMetrics is the centralized background job metrics sink.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// Defaults.
const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 5 * time.Minute
)

// JobConfig configures the recompute job.
type JobConfig struct {
	// Interval between cycles.
	Interval time.Duration
	// Timeout bounds one cycle.
	Timeout time.Duration
	// SkipEvidence disables the evidence refresh, for deployments where only
	// imported components change.
	SkipEvidence bool
	Logger       *slog.Logger
	JobMetrics   JobMetrics
}

// CycleResult reports one cycle.
type CycleResult struct {
	Dirty    int
	Refresh  scoring.RefreshSummary
	Scores   scoring.Summary
	Cleared  int
	Duration time.Duration
}

// Job periodically drains the dirty set.
type Job struct {
	config JobConfig
	dirty  DirtyTracker
	scorer Scorer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewJob creates a recompute job.
func NewJob(config JobConfig, dirty DirtyTracker, scorer Scorer) *Job {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Job{config: config, dirty: dirty, scorer: scorer}
}

// Start launches the job loop and returns immediately. Starting a running
// job is a no-op.
func (j *Job) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})

	go j.run(ctx, j.stopCh, j.doneCh)
}

// Stop signals the loop and waits for the current cycle to finish.
func (j *Job) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh, doneCh := j.stopCh, j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning reports whether the loop is active.
func (j *Job) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *Job) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("recompute job stopping due to context cancellation")
			return
		case <-stopCh:
			j.config.Logger.Info("recompute job stopping due to stop signal")
			return
		case <-ticker.C:
			if _, err := j.cycle(ctx); err != nil {
				j.config.Logger.Error("recompute cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RecomputeNow runs one cycle immediately.
func (j *Job) RecomputeNow(ctx context.Context) (CycleResult, error) {
	return j.cycle(ctx)
}

func (j *Job) cycle(parent context.Context) (CycleResult, error) {
	var result CycleResult

	genes, cutoff, err := j.dirty.Pending(parent)
	if err != nil {
		j.recordError("dirty_read")
		return result, err
	}
	result.Dirty = len(genes)
	if len(genes) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(parent, j.config.Timeout)
	defer cancel()
	start := time.Now()

	j.config.Logger.Info("recomputing dirty genes", slog.Int("dirty_count", len(genes)))

	if !j.config.SkipEvidence {
		result.Refresh, err = j.scorer.RefreshEvidenceGenes(ctx, genes)
		if err != nil {
			return j.finish(result, start, err)
		}
	}

	result.Scores, err = j.scorer.RecomputeGenes(ctx, genes)
	if err != nil {
		return j.finish(result, start, err)
	}

	// Any failure leaves the whole batch dirty; recomputing a gene twice is harmless.
	if result.Refresh.Failed == 0 && result.Scores.Failed == 0 {
		if err := j.dirty.Clear(parent, cutoff, genes...); err != nil {
			return j.finish(result, start, err)
		}
		result.Cleared = len(genes)
	}
	return j.finish(result, start, nil)
}

func (j *Job) finish(result CycleResult, start time.Time, err error) (CycleResult, error) {
	result.Duration = time.Since(start)

	status := jobs.StatusSuccess
	if err != nil || result.Scores.Failed > 0 || result.Refresh.Failed > 0 {
		status = jobs.StatusFailure
	}
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(jobs.JobTypeCompositeRecompute, status)
		j.config.JobMetrics.ObserveJobDuration(jobs.JobTypeCompositeRecompute, result.Duration.Seconds())
	}
	if err != nil {
		kind := "recompute_error"
		if errors.Is(err, context.DeadlineExceeded) {
			kind = "timeout"
		}
		j.recordError(kind)
	}

	j.config.Logger.Info("recompute cycle completed",
		slog.Int("dirty", result.Dirty),
		slog.Int("evidence_written", result.Refresh.Written),
		slog.Int("scored", result.Scores.Scored),
		slog.Int("null", result.Scores.Nulls),
		slog.Int("failed", result.Refresh.Failed+result.Scores.Failed),
		slog.Int("cleared", result.Cleared),
		slog.Duration("duration", result.Duration))
	return result, err
}

func (j *Job) recordError(kind string) {
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobErrors(jobs.JobTypeCompositeRecompute, kind)
	}
}
