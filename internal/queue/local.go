package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Fetcher transfers one download to its target path.
type Fetcher interface {
	Fetch(ctx context.Context, d Download) error
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(ctx context.Context, d Download) error

// Fetch implements Fetcher.
func (f FetchFunc) Fetch(ctx context.Context, d Download) error {
	return f(ctx, d)
}

type entry struct {
	job    *Job
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Local runs jobs in-process on a bounded pool of workers.
type Local struct {
	fetcher    Fetcher
	extractors func(ArchiveOptions) Extractor

	group   errgroup.Group
	pending sync.WaitGroup

	mu   sync.Mutex
	jobs map[string]*entry
}

// NewLocal builds a queue running at most workers jobs at a time.
func NewLocal(fetcher Fetcher, workers int) *Local {
	if workers <= 0 {
		workers = 1
	}
	l := &Local{
		fetcher:    fetcher,
		extractors: NewExtractor,
		jobs:       make(map[string]*entry),
	}
	l.group.SetLimit(workers)
	return l
}

// Enqueue implements Queue.
func (l *Local) Enqueue(job *Job) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{job: job, ctx: ctx, cancel: cancel}

	l.mu.Lock()
	l.jobs[job.ID] = e
	l.mu.Unlock()

	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		l.group.Go(func() error {
			l.run(e)
			return nil
		})
	}()
}

// Cancel stops a queued or running job. It returns false for unknown jobs.
func (l *Local) Cancel(jobID string) bool {
	l.mu.Lock()
	e, ok := l.jobs[jobID]
	l.mu.Unlock()
	if !ok {
		return false
	}
	e.cancel()
	return true
}

// CancelAll cancels every job that has not reported yet.
func (l *Local) CancelAll() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.jobs {
		e.cancel()
	}
	return len(l.jobs)
}

// Wait blocks until every enqueued job reported its outcome.
func (l *Local) Wait() {
	l.pending.Wait()
	_ = l.group.Wait()
}

func (l *Local) run(e *entry) {
	defer func() {
		e.cancel()
		l.mu.Lock()
		delete(l.jobs, e.job.ID)
		l.mu.Unlock()
	}()

	logger := logutil.GetLogger(e.ctx).With(
		zap.String("job_id", e.job.ID),
		zap.String("game", e.job.GameName),
	)
	// callbacks must still be able to write after a cancel
	cbCtx := context.WithoutCancel(e.ctx)

	err := l.process(e.ctx, e.job)
	if err == nil {
		res := Result{}
		if e.job.BuildRoms != nil {
			res.Roms, err = e.job.BuildRoms(cbCtx)
		}
		if err == nil {
			logger.Info("install job finished", zap.Int("roms", len(res.Roms)))
			e.finish(func() { e.job.OnInstalled(cbCtx, res) })
			return
		}
		err = fmt.Errorf("resolve roms: %w", err)
	}
	if errors.Is(err, context.Canceled) || e.ctx.Err() != nil {
		logger.Info("install job canceled")
		e.finish(func() { e.job.OnCanceled(cbCtx) })
		return
	}
	logger.Error("install job failed", zap.Error(err))
	e.finish(func() { e.job.OnFailed(cbCtx, err) })
}

func (e *entry) finish(fn func()) {
	e.once.Do(fn)
}

func (l *Local) process(ctx context.Context, job *Job) error {
	logger := logutil.GetLogger(ctx)
	extractor := l.extractors(job.Archive)
	for _, d := range job.Downloads {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.MkdirAll(d.InstallDir, 0o755); err != nil {
			return fmt.Errorf("ensure install dir %s: %w", d.InstallDir, err)
		}
		logger.Debug("transfer started",
			zap.String("file", d.FileName),
			zap.String("target", d.Target),
		)
		if err := l.fetcher.Fetch(ctx, d); err != nil {
			return fmt.Errorf("transfer %s: %w", d.FileName, err)
		}
		if !job.AutoExtract {
			continue
		}
		archive := d.Archive
		if !archive {
			var err error
			archive, err = IsArchive(d.Target)
			if err != nil {
				return err
			}
		}
		if !archive {
			continue
		}
		if err := extractor.Extract(ctx, d.Target, d.InstallDir); err != nil {
			return fmt.Errorf("extract %s: %w", d.Target, err)
		}
		if err := os.Remove(d.Target); err != nil {
			return fmt.Errorf("remove extracted archive %s: %w", d.Target, err)
		}
		logger.Debug("archive extracted", zap.String("archive", d.Target))
	}
	return nil
}
