// Package runner bounds how many migration runs execute at once in serve mode.
package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrQueueFull is returned when the queue is at capacity.
var ErrQueueFull = errors.New("run queue is full")

// Config configures the run manager.
type Config struct {
	MaxConcurrent int
	QueueSize     int
}

// Job is one queued run.
type Job struct {
	ID  string
	Run func(ctx context.Context)
}

// Manager manages run concurrency and queueing.
type Manager struct {
	cfg       Config
	logger    *zap.Logger
	queue     chan Job
	semaphore chan struct{}
	active    atomic.Int32
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewManager creates a new run manager.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		queue:     make(chan Job, cfg.QueueSize),
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go m.worker()

	return m
}

// Enqueue adds a job to the queue without blocking.
func (m *Manager) Enqueue(job Job) error {
	if m.ctx.Err() != nil {
		return m.ctx.Err()
	}
	select {
	case m.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// worker takes a slot before taking a job, so queued jobs stay counted against QueueSize
// until they can actually start.
func (m *Manager) worker() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			return
		case m.semaphore <- struct{}{}:
		}

		select {
		case <-m.ctx.Done():
			<-m.semaphore
			return
		case job := <-m.queue:
			m.active.Add(1)
			m.wg.Add(1)
			go func(j Job) {
				defer m.wg.Done()
				defer func() { <-m.semaphore }()
				defer m.active.Add(-1)
				defer func() {
					if r := recover(); r != nil {
						m.logger.Error("run panicked", zap.String("job", j.ID), zap.Any("panic", r))
					}
				}()

				j.Run(m.ctx)
			}(job)
		}
	}
}

// QueueLength returns current queue length.
func (m *Manager) QueueLength() int {
	return len(m.queue)
}

// ActiveCount returns number of currently running jobs.
func (m *Manager) ActiveCount() int {
	return int(m.active.Load())
}

// Shutdown cancels running jobs, drops queued ones and waits for the running ones to return.
func (m *Manager) Shutdown() {
	m.cancel()
	<-m.done
	m.wg.Wait()
}
