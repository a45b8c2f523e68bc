// Package concurrency runs fire-and-forget work, such as alert deliveries, off
// the caller's goroutine so a slow webhook never stalls a trading tick.
package concurrency

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"spot_trader/internal/core"

	"github.com/alitto/pond"
)

const (
	// one Telegram and one Slack delivery in flight
	defaultWorkers = 2
	// a burst of fills and errors fits without dropping
	defaultQueueSize = 64
	defaultIdle      = 30 * time.Second
)

// ErrQueueFull is returned by Submit on a dropping pool whose queue is at capacity.
var ErrQueueFull = errors.New("task queue full")

// PoolConfig sizes a WorkerPool. Zero values fall back to the package defaults.
type PoolConfig struct {
	Name        string
	Workers     int
	QueueSize   int
	IdleTimeout time.Duration
	// DropWhenFull makes Submit fail fast with ErrQueueFull instead of waiting for a slot.
	DropWhenFull bool
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdle
	}
	return c
}

// PoolStats is a point-in-time view of a WorkerPool.
type PoolStats struct {
	Running   int
	Idle      int
	Submitted uint64
	Waiting   uint64
	Succeeded uint64
	Failed    uint64 // tasks that panicked
	Dropped   uint64 // submissions refused with ErrQueueFull
}

// WorkerPool is a bounded pond pool that recovers task panics and counts refusals.
type WorkerPool struct {
	name    string
	drop    bool
	queue   int
	pool    *pond.WorkerPool
	logger  core.ILogger
	dropped atomic.Uint64
}

// NewWorkerPool starts a pool that keeps one worker warm and grows up to cfg.Workers.
func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	cfg = cfg.withDefaults()
	log := logger.WithField("component", "worker_pool").WithField("pool", cfg.Name)

	wp := &WorkerPool{
		name:   cfg.Name,
		drop:   cfg.DropWhenFull,
		queue:  cfg.QueueSize,
		logger: log,
	}
	wp.pool = pond.New(cfg.Workers, cfg.QueueSize,
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			log.Error("Task panicked", "panic", fmt.Sprint(p))
		}),
	)
	return wp
}

// Submit queues task. A dropping pool refuses work once the queue is full;
// otherwise Submit blocks until there is room.
func (wp *WorkerPool) Submit(task func()) error {
	if !wp.drop {
		wp.pool.Submit(task)
		return nil
	}
	if wp.pool.TrySubmit(task) {
		return nil
	}
	wp.dropped.Add(1)
	return fmt.Errorf("pool %s (queue %d): %w", wp.name, wp.queue, ErrQueueFull)
}

// Stop drains the queue, then releases the workers.
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
}

func (wp *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Running:   wp.pool.RunningWorkers(),
		Idle:      wp.pool.IdleWorkers(),
		Submitted: wp.pool.SubmittedTasks(),
		Waiting:   wp.pool.WaitingTasks(),
		Succeeded: wp.pool.SuccessfulTasks(),
		Failed:    wp.pool.FailedTasks(),
		Dropped:   wp.dropped.Load(),
	}
}
