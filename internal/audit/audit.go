// Package audit records security-relevant mutations on a side channel that
// is durability-independent from the primary operation: an audit write
// failure is logged and counted but never surfaces to the caller whose
// action triggered it.
package audit

import (
	"context"
	"sync"
	"time"

	"crmgate.org/internal/ids"
	"crmgate.org/internal/obs"
)

// Record is one immutable action entry. Records are append-only: they are
// never updated or deleted.
type Record struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id"`
	ActorID      string            `json:"actor_id,omitempty"`
	Action       string            `json:"action"`
	ResourceType string            `json:"resource_type"`
	ResourceID   string            `json:"resource_id"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// Filter narrows the admin-facing audit listing.
type Filter struct {
	TenantID     string
	ResourceType string
	ResourceID   string
	Action       string
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}

// Store persists records durably.
type Store interface {
	Append(ctx context.Context, rec *Record) error
	List(ctx context.Context, f Filter) ([]Record, error)
}

const appendTimeout = 5 * time.Second

// Recorder buffers records and writes them from a background worker. Enqueue
// never blocks the caller; a full queue drops the record (counted) rather
// than stalling the primary operation.
type Recorder struct {
	store Store
	queue chan Record
	now   func() time.Time

	// mu orders Record against Close: Close marks closed under the write
	// lock before closing the queue, so no enqueue can race the close and
	// panic on a closed channel. Late records are dropped and counted.
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRecorder starts the write-behind worker.
func NewRecorder(store Store, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	r := &Recorder{
		store: store,
		queue: make(chan Record, buffer),
		now:   time.Now,
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record enqueues one entry. The triggering request's context is deliberately
// not carried: a client disconnect must not cancel an audit write that the
// completed mutation already earned.
func (r *Recorder) Record(rec Record) {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = r.now().UTC()
	}
	if rec.Metadata != nil {
		copied := make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			copied[k] = v
		}
		rec.Metadata = copied
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(rec)
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.drop(rec)
	}
}

func (r *Recorder) drop(rec Record) {
	obs.AuditDropped()
	obs.LogJSON(map[string]any{
		"ts":     r.now().UTC().Format(time.RFC3339Nano),
		"level":  "error",
		"msg":    "audit_record_dropped",
		"action": rec.Action,
		"tenant": rec.TenantID,
	})
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		err := r.store.Append(ctx, &rec)
		cancel()
		if err != nil {
			// Best effort only: log locally, never propagate.
			obs.AuditWriteError()
			obs.LogJSON(map[string]any{
				"ts":     r.now().UTC().Format(time.RFC3339Nano),
				"level":  "error",
				"msg":    "audit_append_failed",
				"error":  err.Error(),
				"action": rec.Action,
				"tenant": rec.TenantID,
			})
		}
	}
}

// Close drains the queue and stops the worker. Bounded by ctx.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.queue)
	})
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
