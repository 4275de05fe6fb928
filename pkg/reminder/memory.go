package reminder

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Operation is one call recorded by MemoryDispatcher.
type Operation struct {
	Op      string // "schedule", "cancel" or "requeue"
	Key     string
	Request Request
}

// MemoryDispatcher keeps pending reminders in process memory and records
// every call in order.
type MemoryDispatcher struct {
	mu         sync.Mutex
	pending    map[string]Request
	revisions  map[string]int64
	ops        []Operation
	now        func() time.Time
	ScheduleFn func(Request) error // optional failure hook
}

func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{
		pending:   make(map[string]Request),
		revisions: make(map[string]int64),
		now:       time.Now,
	}
}

func (d *MemoryDispatcher) Schedule(_ context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ScheduleFn != nil {
		if err := d.ScheduleFn(req); err != nil {
			return err
		}
	}
	req.FireAt = req.DueAt(d.now())
	req.FireNow = false
	d.pending[req.Key] = req
	d.revisions[req.Key]++
	d.ops = append(d.ops, Operation{Op: "schedule", Key: req.Key, Request: req})
	return nil
}

func (d *MemoryDispatcher) Cancel(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.pending, key)
	d.revisions[key]++
	d.ops = append(d.ops, Operation{Op: "cancel", Key: key})
	return nil
}

func (d *MemoryDispatcher) Requeue(_ context.Context, req Request) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, pending := d.pending[req.Key]; pending || d.revisions[req.Key] != req.Revision {
		return false, nil
	}
	req.FireAt = req.DueAt(d.now())
	req.FireNow = false
	d.pending[req.Key] = req
	d.revisions[req.Key]++
	d.ops = append(d.ops, Operation{Op: "requeue", Key: req.Key, Request: req})
	return true, nil
}

func (d *MemoryDispatcher) Due(_ context.Context, now time.Time, limit int) ([]Request, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var due []Request
	for _, req := range d.pending {
		if !req.FireAt.After(now) {
			due = append(due, req)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i, req := range due {
		delete(d.pending, req.Key)
		due[i].Revision = d.revisions[req.Key]
	}
	return due, nil
}

// Pending returns the request currently scheduled under key.
func (d *MemoryDispatcher) Pending(key string) (Request, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	req, ok := d.pending[key]
	return req, ok
}

// Operations returns a copy of the recorded calls.
func (d *MemoryDispatcher) Operations() []Operation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Operation(nil), d.ops...)
}

// Scheduled returns the recorded schedule calls for key.
func (d *MemoryDispatcher) Scheduled(key string) []Request {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Request
	for _, op := range d.ops {
		if op.Op == "schedule" && op.Key == key {
			out = append(out, op.Request)
		}
	}
	return out
}
