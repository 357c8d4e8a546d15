package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openvirt/inventory-agent/internal/models"
	"github.com/openvirt/inventory-agent/pkg/subman"
)

// ErrReload is returned by Run when a reload was requested. The caller is
// expected to rebuild the source set against fresh configuration and invoke
// Run again.
var ErrReload = errors.New("reload requested")

// Destination delivers reports to the subscription-management service.
// Both calls are synchronous; while one is outstanding the whole executor
// is blocked, so at most one transmission or status check is in flight at
// any instant.
type Destination interface {
	// Send delivers the report. On a nil error the report is either
	// FINISHED (processed synchronously) or PROCESSING with a job id to
	// poll. Failures are reported as *subman.ThrottleError,
	// *subman.FatalError or a recoverable error.
	Send(ctx context.Context, r models.Report) error
	// CheckStatus refreshes the remote processing state of a report that
	// was accepted asynchronously.
	CheckStatus(ctx context.Context, r models.Report) error
}

// StatusRecorder persists per-source outcomes as reports are finalized.
type StatusRecorder interface {
	RecordSuccess(ctx context.Context, source, jobID string) error
	RecordFailure(ctx context.Context, source, reason string) error
}

// SourceSpec pairs a source config with the connector that collects it.
type SourceSpec struct {
	Config    *models.Config
	Collector Collector
}

// Options tune the executor. Zero values fall back to production defaults.
type Options struct {
	// Interval is the steady-state pacing between sends per cycle.
	Interval time.Duration
	// ThrottleFloor is the minimum enforced delay after a throttled send.
	ThrottleFloor time.Duration
	// PollInterval is the cadence for polling in-flight reports.
	PollInterval time.Duration
	// IdleTimeout bounds the blocking channel pop when there is nothing
	// to do.
	IdleTimeout time.Duration
	// StopGrace is how long shutdown waits for workers to notice a stop
	// request before force-draining the channel.
	StopGrace time.Duration
	// QueueSize is the report channel capacity.
	QueueSize int
	// Oneshot makes Run return once every source completed one cycle.
	Oneshot bool
	// Print suppresses transmission; Run returns the collected reports.
	// Implies Oneshot.
	Print bool
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = time.Hour
	}
	if o.ThrottleFloor <= 0 {
		o.ThrottleFloor = time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = time.Hour
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 250 * time.Millisecond
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 32
	}
	if o.Print {
		o.Oneshot = true
	}
	return o
}

// Executor owns the producer/consumer report pipeline: it drains the report
// channel, keeps the latest pending report per source, decides send timing,
// applies throttle backoff, deduplicates unchanged inventory and drives
// startup, reload and shutdown of the source workers.
//
// All bookkeeping (pending, inFlight, fingerprints, throttle counters) is
// touched only from the single Run goroutine; no locking is needed around
// it. The only state shared with the signal layer is the worker list and
// the channel itself.
type Executor struct {
	opts   Options
	dest   Destination
	status StatusRecorder
	queue  *queue

	mu      sync.Mutex
	specs   []SourceSpec
	workers []*Worker

	// Loop-private state below; owned by Run.
	pending         *pendingQueue
	inFlight        []models.Report
	lastFingerprint map[string]string
	remaining       map[string]struct{}
	consecutive429  int
	minSendDelay    time.Duration
	nextSend        time.Time
}

func New(dest Destination, status StatusRecorder, opts Options) *Executor {
	o := opts.withDefaults()
	return &Executor{
		opts:            o,
		dest:            dest,
		status:          status,
		queue:           newQueue(o.QueueSize),
		pending:         newPendingQueue(),
		lastFingerprint: make(map[string]string),
		minSendDelay:    o.ThrottleFloor,
	}
}

// SetSources replaces the source set. Must not be called while Run is
// active; the reload protocol guarantees that.
func (e *Executor) SetSources(specs []SourceSpec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.specs = specs
}

// Run executes the scheduling loop until an exit or reload sentinel
// arrives, a fatal send error occurs, or (in oneshot mode) every source has
// completed one report cycle. In print mode the collected reports are
// returned instead of being transmitted.
func (e *Executor) Run(ctx context.Context) (map[string]models.Report, error) {
	e.mu.Lock()
	e.pending.Clear()
	e.inFlight = nil
	e.remaining = make(map[string]struct{}, len(e.specs))
	workers := make([]*Worker, 0, len(e.specs))
	for _, spec := range e.specs {
		e.remaining[spec.Config.Name] = struct{}{}
		workers = append(workers, newWorker(spec.Config, spec.Collector, e.queue, e.opts.Interval, e.opts.Oneshot))
	}
	e.workers = workers
	e.mu.Unlock()

	for _, w := range workers {
		w.Start()
	}
	zap.S().Debugw("executor loop started", "sources", len(workers), "oneshot", e.opts.Oneshot, "print", e.opts.Print)

	var results map[string]models.Report
	if e.opts.Print {
		results = make(map[string]models.Report)
	}

	for {
		it, ok := e.queue.pop(e.popTimeout())

		ctrl := controlNone
		for ok {
			var err error
			ctrl, err = e.absorb(ctx, it, results)
			if err != nil {
				e.shutdownWorkers()
				return nil, err
			}
			if ctrl != controlNone {
				break
			}
			it, ok = e.queue.tryPop()
		}

		switch ctrl {
		case controlExit:
			zap.S().Debug("exit sentinel received")
			if e.opts.Print {
				return results, nil
			}
			return nil, nil
		case controlReload:
			zap.S().Info("reload sentinel received, clearing scheduler state")
			e.pending.Clear()
			e.inFlight = nil
			e.lastFingerprint = make(map[string]string)
			e.resetThrottle()
			e.nextSend = time.Time{}
			return nil, ErrReload
		}

		if err := e.pollInFlight(ctx); err != nil {
			e.shutdownWorkers()
			return nil, err
		}

		if len(e.inFlight) == 0 && e.pending.Len() > 0 && !time.Now().Before(e.nextSend) {
			name, report, _ := e.pending.PopFront()
			if err := e.sendReport(ctx, name, report, true); err != nil {
				e.shutdownWorkers()
				return nil, err
			}
		}

		if e.opts.Oneshot && len(e.remaining) == 0 && len(e.inFlight) == 0 {
			zap.S().Debug("all sources reported, oneshot run complete")
			e.shutdownWorkers()
			if e.opts.Print {
				return results, nil
			}
			return nil, nil
		}
	}
}

// Terminate shuts the pipeline down: workers are asked to stop, the channel
// is force-drained so nothing can block on it, the exit sentinel wakes the
// loop, and only then are the workers forcefully terminated and joined.
// Safe to call from a signal handler goroutine.
func (e *Executor) Terminate() {
	zap.S().Debug("terminating executor")
	e.stopAndSignal(controlExit)
}

// Reload stops and joins the current worker set, discards channel contents
// and wakes the loop with the reload sentinel. Run returns ErrReload and
// the caller rebuilds the source set before invoking Run again.
func (e *Executor) Reload() {
	zap.S().Info("reload requested")
	e.stopAndSignal(controlReload)
}

func (e *Executor) stopAndSignal(c control) {
	e.mu.Lock()
	workers := e.workers
	e.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
	// Give workers a moment to notice before discarding their output.
	time.Sleep(e.opts.StopGrace)

	if dropped := e.queue.drain(); dropped > 0 {
		zap.S().Debugw("discarded queued reports", "count", dropped)
	}
	e.queue.forceControl(c)

	// The channel is empty now, so no worker can be blocked pushing.
	for _, w := range workers {
		w.Terminate()
	}
	for _, w := range workers {
		w.Join()
	}
}

// shutdownWorkers is the loop-side cleanup for oneshot completion and fatal
// errors, where no sentinel was pushed.
func (e *Executor) shutdownWorkers() {
	e.mu.Lock()
	workers := e.workers
	e.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
	e.queue.drain()
	for _, w := range workers {
		w.Terminate()
	}
	e.queue.drain()
	for _, w := range workers {
		w.Join()
	}
}

// popTimeout computes how long the next channel pop may block.
func (e *Executor) popTimeout() time.Duration {
	if len(e.inFlight) > 0 {
		return e.opts.PollInterval
	}
	now := time.Now()
	if !now.Before(e.nextSend) {
		if e.pending.Len() > 0 {
			return 0
		}
		return e.opts.IdleTimeout
	}
	return e.nextSend.Sub(now)
}

// absorb folds one channel item into the scheduler state. Control
// sentinels are returned to the caller and stop the burst drain; reports
// are deduplicated, sent immediately on first contact, or merged into
// pending (later reports for a config overwrite earlier ones without
// moving their fairness position).
func (e *Executor) absorb(ctx context.Context, it item, results map[string]models.Report) (control, error) {
	if it.control != controlNone {
		return it.control, nil
	}

	report := it.report
	name := report.Config().Name
	log := zap.S().With("source", name)

	if _, ok := report.(*models.ErrorReport); ok {
		if e.opts.Oneshot {
			// Do not wait for a source that already told us it failed.
			delete(e.remaining, name)
			log.Warn("source failed to collect inventory")
		} else {
			log.Debug("error report received, will retry next cycle")
		}
		return controlNone, nil
	}

	if e.opts.Print {
		results[name] = report
		delete(e.remaining, name)
		return controlNone, nil
	}

	if fp, ok := e.lastFingerprint[name]; ok && fp == report.Fingerprint() {
		log.Infow("report unchanged, not sending")
		delete(e.remaining, name)
		return controlNone, nil
	}

	if _, first := e.remaining[name]; first && !e.pending.Has(name) && !e.inFlightHas(name) {
		// First report after startup or reload: send right away instead
		// of waiting out the steady-state pacing window.
		return controlNone, e.sendReport(ctx, name, report, false)
	}

	e.pending.Set(name, report)
	return controlNone, nil
}

// sendReport performs one synchronous send attempt and applies the outcome:
// finalize, park in-flight, mark failed, back off, or propagate fatal.
// fromPending records whether the report was popped off the head of the
// pending queue, so a throttled report can be returned to its original
// fairness position.
func (e *Executor) sendReport(ctx context.Context, name string, report models.Report, fromPending bool) error {
	log := zap.S().With("source", name)

	err := e.dest.Send(ctx, report)
	if err == nil {
		if report.State() == models.ReportStateProcessing {
			log.Debugw("report accepted for asynchronous processing", "job", report.JobID())
			e.inFlight = append(e.inFlight, report)
			return nil
		}
		report.SetState(models.ReportStateFinished)
		e.finalize(ctx, report)
		return nil
	}

	var throttle *subman.ThrottleError
	if errors.As(err, &throttle) {
		if fromPending {
			e.pending.PushFront(name, report)
		} else {
			e.pending.Set(name, report)
		}
		e.consecutive429++
		suggested := throttle.RetryAfter
		if suggested <= 0 {
			suggested = e.opts.ThrottleFloor
		}
		delay := time.Duration(e.consecutive429) * suggested
		if delay < e.opts.ThrottleFloor {
			delay = e.opts.ThrottleFloor
		}
		e.minSendDelay = delay
		e.nextSend = time.Now().Add(delay)
		log.Debugw("rate limited, backing off", "retryAfter", suggested, "consecutive", e.consecutive429, "delay", delay)
		return nil
	}

	var fatal *subman.FatalError
	if errors.As(err, &fatal) {
		log.Errorw("fatal error while sending report", "error", err)
		return err
	}

	log.Warnw("failed to send report", "error", err)
	report.SetState(models.ReportStateFailed)
	e.finalize(ctx, report)
	return nil
}

// pollInFlight asks the destination for the current state of every report
// accepted asynchronously; terminal reports are finalized.
func (e *Executor) pollInFlight(ctx context.Context) error {
	if len(e.inFlight) == 0 {
		return nil
	}
	still := e.inFlight[:0]
	for _, report := range e.inFlight {
		err := e.dest.CheckStatus(ctx, report)
		if err != nil {
			var fatal *subman.FatalError
			if errors.As(err, &fatal) {
				return err
			}
			zap.S().Debugw("job status check failed, will retry",
				"source", report.Config().Name, "job", report.JobID(), "error", err)
			still = append(still, report)
			continue
		}
		if report.State().Terminal() {
			e.finalize(ctx, report)
			continue
		}
		still = append(still, report)
	}
	e.inFlight = still
	return nil
}

// finalize closes out a terminal report: the fingerprint is cached on
// success (the dedup cache), throttling resets, the outcome is recorded and
// the pacing window restarts.
func (e *Executor) finalize(ctx context.Context, report models.Report) {
	name := report.Config().Name
	delete(e.remaining, name)

	switch report.State() {
	case models.ReportStateFinished:
		e.lastFingerprint[name] = report.Fingerprint()
		e.resetThrottle()
		zap.S().Infow("report finished", "source", name, "job", report.JobID())
		if e.status != nil {
			if err := e.status.RecordSuccess(ctx, name, report.JobID()); err != nil {
				zap.S().Warnw("failed to record run status", "source", name, "error", err)
			}
		}
	case models.ReportStateFailed:
		zap.S().Warnw("report failed", "source", name, "job", report.JobID())
		if e.status != nil {
			if err := e.status.RecordFailure(ctx, name, "report rejected by destination"); err != nil {
				zap.S().Warnw("failed to record run status", "source", name, "error", err)
			}
		}
	}

	e.nextSend = time.Now().Add(e.opts.Interval)
}

func (e *Executor) resetThrottle() {
	e.consecutive429 = 0
	e.minSendDelay = e.opts.ThrottleFloor
}

func (e *Executor) inFlightHas(name string) bool {
	for _, r := range e.inFlight {
		if r.Config().Name == name {
			return true
		}
	}
	return false
}
