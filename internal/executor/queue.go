package executor

import (
	"context"
	"time"

	"github.com/openvirt/inventory-agent/internal/models"
)

// control is a sentinel consumed with priority over report data.
type control int

const (
	controlNone control = iota
	controlExit
	controlReload
)

func (c control) String() string {
	switch c {
	case controlExit:
		return "exit"
	case controlReload:
		return "reload"
	default:
		return "none"
	}
}

// item is the closed sum carried on the report channel: either a report or
// a control sentinel, never both.
type item struct {
	report  models.Report
	control control
}

// queue is the multi-producer single-consumer channel between source
// workers and the executor loop. Workers only push, the executor only pops.
type queue struct {
	ch chan item
}

func newQueue(size int) *queue {
	if size < 1 {
		size = 1
	}
	return &queue{ch: make(chan item, size)}
}

// push delivers a report, blocking until there is room or ctx is done.
// The ctx is the pushing worker's terminate context: a worker stuck on a
// full channel still observes terminate and can be joined.
func (q *queue) push(ctx context.Context, r models.Report) error {
	select {
	case q.ch <- item{report: r}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryPushControl places a sentinel without blocking.
func (q *queue) tryPushControl(c control) bool {
	select {
	case q.ch <- item{control: c}:
		return true
	default:
		return false
	}
}

// pop waits up to timeout for the next item. A zero timeout polls without
// blocking.
func (q *queue) pop(timeout time.Duration) (item, bool) {
	if timeout <= 0 {
		return q.tryPop()
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case it := <-q.ch:
		return it, true
	case <-t.C:
		return item{}, false
	}
}

func (q *queue) tryPop() (item, bool) {
	select {
	case it := <-q.ch:
		return it, true
	default:
		return item{}, false
	}
}

// drain discards everything currently in the channel and reports how many
// items were dropped. Used during shutdown and reload, where the contents
// are stale by definition.
func (q *queue) drain() int {
	n := 0
	for {
		if _, ok := q.tryPop(); !ok {
			return n
		}
		n++
	}
}

// forceControl drains until the sentinel fits. Draining unblocks any worker
// stuck mid-push, so this terminates as soon as producers stop refilling.
func (q *queue) forceControl(c control) {
	for !q.tryPushControl(c) {
		q.drain()
	}
}
