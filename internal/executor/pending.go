package executor

import "github.com/openvirt/inventory-agent/internal/models"

// pendingQueue maps a config name to the latest not-yet-sent report for
// that config. Iteration order is the order names first entered the queue;
// updating an existing name replaces the report without moving the name.
// That stable position is what gives competing configs round-robin fairness
// over the single send slot.
type pendingQueue struct {
	order []string
	items map[string]models.Report
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{items: make(map[string]models.Report)}
}

func (p *pendingQueue) Len() int {
	return len(p.order)
}

// Set enqueues or replaces the report for name. A new name is appended; an
// existing name keeps its position.
func (p *pendingQueue) Set(name string, r models.Report) {
	if _, ok := p.items[name]; !ok {
		p.order = append(p.order, name)
	}
	p.items[name] = r
}

// PopFront removes and returns the oldest entry.
func (p *pendingQueue) PopFront() (string, models.Report, bool) {
	if len(p.order) == 0 {
		return "", nil, false
	}
	name := p.order[0]
	p.order = p.order[1:]
	r := p.items[name]
	delete(p.items, name)
	return name, r, true
}

// PushFront returns a just-popped entry to the head of the queue, restoring
// the fairness position it held before the failed send attempt.
func (p *pendingQueue) PushFront(name string, r models.Report) {
	if _, ok := p.items[name]; ok {
		p.items[name] = r
		return
	}
	p.order = append([]string{name}, p.order...)
	p.items[name] = r
}

func (p *pendingQueue) Has(name string) bool {
	_, ok := p.items[name]
	return ok
}

func (p *pendingQueue) Clear() {
	p.order = nil
	p.items = make(map[string]models.Report)
}
