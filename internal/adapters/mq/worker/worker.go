// Package worker drives tournaments forward: each job runs one round and,
// while the tournament is still in progress, queues the next one.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/tourney/internal/adapters/mq/queue"
	"github.com/okian/tourney/internal/domain/model"
	"github.com/okian/tourney/internal/domain/tournament"
	"github.com/okian/tourney/pkg/logger"
	"github.com/okian/tourney/pkg/metrics"
)

const (
	defaultMaxAttempts       = 3
	defaultRequeueInitial    = 10 * time.Millisecond
	defaultRequeueMaxElapsed = 5 * time.Second
	poolShutdownTimeout      = 30 * time.Second
)

// Job results reported to metrics.
const (
	ResultAdvanced = "advanced"
	ResultFinished = "finished"
	ResultStopped  = "stopped"
	ResultRetried  = "retried"
	ResultFailed   = "failed"
	ResultDropped  = "dropped"
)

// DriveKey is the key a tournament's job chain is registered under while
// it is being driven.
func DriveKey(tournamentID string) string { return "drive:" + tournamentID }

// Runner runs rounds. Round 0 in a job means "the next round".
type Runner interface {
	RunRound(ctx context.Context, tournamentID string) (model.RoundSummary, error)
	RunRoundNumber(ctx context.Context, tournamentID string, n int) (model.RoundSummary, error)
}

// Queue defines how workers receive and re-submit jobs.
type Queue interface {
	Enqueue(ctx context.Context, j queue.Job) error
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Releaser forgets a key once a tournament stops being driven.
type Releaser interface {
	Unrecord(ctx context.Context, key string)
}

type nopReleaser struct{}

func (nopReleaser) Unrecord(context.Context, string) {}

// InMemoryWorker processes round jobs from a queue.
type InMemoryWorker struct {
	queue    Queue
	runner   Runner
	releaser Releaser
	name     string

	maxAttempts       int
	requeueInitial    time.Duration
	requeueMaxElapsed time.Duration

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker.
func NewInMemoryWorker(q Queue, runner Runner, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:             q,
		runner:            runner,
		releaser:          nopReleaser{},
		name:              "worker",
		maxAttempts:       defaultMaxAttempts,
		requeueInitial:    defaultRequeueInitial,
		requeueMaxElapsed: defaultRequeueMaxElapsed,
		shutdown:          make(chan struct{}),
		done:              make(chan struct{}),
		logger:            logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run processes jobs until ctx is cancelled, Shutdown is called or the
// queue closes.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			result := w.process(ctx, job)
			metrics.RecordWorkerJob(result)
		}
	}
}

// Shutdown stops the worker after its current job.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process runs one job and decides what follows it.
func (w *InMemoryWorker) process(ctx context.Context, job queue.Job) string {
	log := w.logger.With(logger.String("tournament_id", job.TournamentID), logger.Int("round", job.Round))

	var (
		summary model.RoundSummary
		err     error
	)
	if job.Round == 0 {
		summary, err = w.runner.RunRound(ctx, job.TournamentID)
	} else {
		summary, err = w.runner.RunRoundNumber(ctx, job.TournamentID, job.Round)
	}

	switch {
	case err == nil && summary.Final:
		w.release(ctx, job.TournamentID)
		log.Info(ctx, "tournament driven to the end", logger.String("status", string(summary.Status)))
		return ResultFinished
	case err == nil:
		next := queue.Job{TournamentID: job.TournamentID, Round: summary.Round + 1}
		if err := w.requeue(ctx, next); err != nil {
			w.release(ctx, job.TournamentID)
			log.Error(ctx, "could not queue next round", logger.Error(err))
			metrics.RecordErrorByComponent("worker", "requeue")
			return ResultDropped
		}
		return ResultAdvanced
	case stopping(err):
		w.release(ctx, job.TournamentID)
		log.Info(ctx, "tournament no longer runnable", logger.Error(err))
		return ResultStopped
	case job.Attempt+1 < w.maxAttempts:
		retry := job
		retry.Attempt++
		log.Warn(ctx, "round failed, retrying", logger.Int("attempt", retry.Attempt), logger.Error(err))
		if err := w.requeue(ctx, retry); err != nil {
			w.release(ctx, job.TournamentID)
			log.Error(ctx, "could not queue retry", logger.Error(err))
			return ResultDropped
		}
		return ResultRetried
	default:
		w.release(ctx, job.TournamentID)
		log.Error(ctx, "round failed, giving up", logger.Int("attempts", job.Attempt+1), logger.Error(err))
		metrics.RecordErrorByComponent("worker", "round_failed")
		return ResultFailed
	}
}

// requeue submits j, backing off while the queue is full.
func (w *InMemoryWorker) requeue(ctx context.Context, j queue.Job) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.requeueInitial
	b.MaxElapsedTime = w.requeueMaxElapsed
	return backoff.Retry(func() error {
		err := w.queue.Enqueue(ctx, j)
		if err != nil && !errors.Is(err, queue.ErrQueueFull) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}

func (w *InMemoryWorker) release(ctx context.Context, tournamentID string) {
	w.releaser.Unrecord(ctx, DriveKey(tournamentID))
}

// stopping reports errors after which a tournament's chain must end.
func stopping(err error) bool {
	return errors.Is(err, tournament.ErrTerminalState) ||
		errors.Is(err, tournament.ErrNotFound) ||
		errors.Is(err, tournament.ErrInvalidTransition) ||
		errors.Is(err, tournament.ErrCancelled)
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers; less than one means one
// per CPU.
func NewPool(workerCount int, q Queue, runner Runner, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Nop(),
	}
	scratch := &InMemoryWorker{logger: logger.Nop()}
	for _, opt := range opts {
		opt(scratch)
	}
	p.logger = scratch.logger.Named("worker-pool")

	for i := 0; i < workerCount; i++ {
		wopts := append(append([]Option{}, opts...), WithName("worker-"+strconv.Itoa(i)))
		p.workers[i] = NewInMemoryWorker(q, runner, wopts...)
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue and waits for the workers to stop.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var errs []error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			errs = append(errs, err)
		}
	}
	metrics.UpdateWorkerCount(0)
	return errors.Join(errs...)
}
