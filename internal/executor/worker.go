package executor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openvirt/inventory-agent/internal/models"
)

// Collector produces one inventory snapshot for a config. Implemented by
// the connectors in internal/sources.
type Collector interface {
	Collect(ctx context.Context, cfg *models.Config) (models.Report, error)
}

// Worker runs one source on its own goroutine, pushing a report onto the
// shared channel every interval. A failed collection pushes an ErrorReport
// instead of crashing the worker.
//
// Lifecycle: Start spawns the goroutine, Stop requests a graceful stop at
// the next idle moment, Terminate cancels outstanding work, Join blocks
// until the goroutine has exited. Stop and Terminate are non-blocking and
// idempotent.
type Worker struct {
	cfg       *models.Config
	collector Collector
	queue     *queue
	interval  time.Duration
	oneshot   bool

	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newWorker(cfg *models.Config, c Collector, q *queue, interval time.Duration, oneshot bool) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cfg:       cfg,
		collector: c,
		queue:     q,
		interval:  interval,
		oneshot:   oneshot,
		ctx:       ctx,
		cancel:    cancel,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (w *Worker) Start() {
	go w.run()
}

// Stop requests a graceful stop. The worker finishes its current cycle.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Terminate cancels the worker's context, aborting any in-progress
// collection or blocked channel push.
func (w *Worker) Terminate() {
	w.Stop()
	w.cancel()
}

// Join blocks until the worker goroutine has exited.
func (w *Worker) Join() {
	<-w.done
}

func (w *Worker) IsAlive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (w *Worker) run() {
	defer close(w.done)
	log := zap.S().With("source", w.cfg.Name, "type", w.cfg.Type)
	log.Debugw("worker started", "interval", w.interval, "oneshot", w.oneshot)

	for {
		start := time.Now()

		report, err := w.collector.Collect(w.ctx, w.cfg)
		if err != nil {
			if w.ctx.Err() != nil {
				log.Debug("worker terminated during collection")
				return
			}
			log.Warnw("collection failed", "error", err)
			report = models.NewErrorReport(w.cfg)
		}

		if err := w.queue.push(w.ctx, report); err != nil {
			log.Debug("worker terminated while delivering report")
			return
		}

		if w.oneshot {
			log.Debug("worker stopped after running once")
			return
		}
		if w.stopped() {
			log.Debug("worker stopped")
			return
		}

		wait := w.interval - time.Since(start)
		if wait < 0 {
			log.Debug("collection took longer than the configured interval, running again immediately")
			continue
		}
		select {
		case <-time.After(wait):
		case <-w.stop:
			log.Debug("worker stopped")
			return
		case <-w.ctx.Done():
			log.Debug("worker terminated")
			return
		}
	}
}

func (w *Worker) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}
