package locker

import (
	"sync"
	"sync/atomic"
	"time"

	"southwinds.dev/locker/audit"
)

// Operation classifies an audit ring entry.
type Operation string

const (
	OpRead   Operation = "READ"
	OpWrite  Operation = "WRITE"
	OpDelete Operation = "DELETE"
	OpRotate Operation = "ROTATE"
)

// AuditLogEntry is one record in the bounded in-memory audit ring. Entries
// never carry stored values or raw error text, only the data type touched and
// a machine-readable reason code.
type AuditLogEntry struct {
	Timestamp         time.Time `json:"timestamp"`
	Operation         Operation `json:"operation"`
	DataType          string    `json:"dataType"`
	Success           bool      `json:"success"`
	RequiresBiometric bool      `json:"requiresBiometric"`
	Error             string    `json:"error,omitempty"`
}

// auditRing keeps the most recent entries in a fixed-capacity ring; the
// oldest entry is dropped when full. All methods are safe for concurrent use.
type auditRing struct {
	mu      sync.Mutex
	entries []AuditLogEntry
	next    int
	full    bool
}

func newAuditRing(capacity int) *auditRing {
	return &auditRing{entries: make([]AuditLogEntry, capacity)}
}

func (r *auditRing) Append(entry AuditLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = entry
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// Snapshot returns the held entries oldest first.
func (r *auditRing) Snapshot() []AuditLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]AuditLogEntry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]AuditLogEntry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}

// failuresSince counts failed entries newer than the cutoff.
func (r *auditRing) failuresSince(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	limit := r.next
	if r.full {
		limit = len(r.entries)
	}
	for i := 0; i < limit; i++ {
		if !r.entries[i].Success && r.entries[i].Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

// auditDispatcher forwards events to the external audit sink on a dedicated
// goroutine so storage operations never block on audit I/O. When the buffer
// is full the event is dropped and counted rather than stalling the caller.
type auditDispatcher struct {
	sink    audit.Logger
	events  chan auditEvent
	done    chan struct{}
	dropped atomic.Uint64
	mu      sync.RWMutex
	closed  bool
	once    sync.Once
}

type auditEvent struct {
	action   string
	success  bool
	metadata map[string]interface{}
}

func newAuditDispatcher(sink audit.Logger, buffer int) *auditDispatcher {
	d := &auditDispatcher{
		sink:   sink,
		events: make(chan auditEvent, buffer),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer close(d.done)
	for event := range d.events {
		// Sink errors are deliberately swallowed: audit delivery must never
		// fail a storage operation.
		_ = d.sink.Log(event.action, event.success, event.metadata)
	}
}

// Emit queues an event for the sink. It is safe to call concurrently with
// Close: an operation that raced past shutdown drops its event instead of
// sending on a closed channel.
func (d *auditDispatcher) Emit(action string, success bool, metadata map[string]interface{}) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.events <- auditEvent{action: action, success: success, metadata: metadata}:
	default:
		d.dropped.Add(1)
	}
}

// Close drains buffered events, then closes the sink.
func (d *auditDispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.events)
		d.mu.Unlock()
		<-d.done
		_ = d.sink.Close()
	})
}

func (d *auditDispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// HealthReport is the result of a security health check.
type HealthReport struct {
	Score                int       `json:"score"` // 0..100
	BiometricAvailable   bool      `json:"biometricAvailable"`
	MasterKeyPresent     bool      `json:"masterKeyPresent"`
	ActiveKeyFingerprint string    `json:"activeKeyFingerprint,omitempty"`
	RecentFailures       int       `json:"recentFailures"` // failed ops in the last hour
	LastRotation         time.Time `json:"lastRotation"`
	RotationOverdue      bool      `json:"rotationOverdue"`
	StoreReachable       bool      `json:"storeReachable"`
	DroppedAuditEvents   uint64    `json:"droppedAuditEvents"`
	Mode                 string    `json:"mode"`
}

// HealthScore computes a 0-100 security posture score:
//
//	+30 biometric hardware available
//	+30 active master key present
//	+20 no failed operations in the last hour (+10 when fewer than five)
//	+20 last rotation within the key TTL
func (e *Engine) HealthScore() int {
	return e.PerformSecurityHealthCheck().Score
}

// PerformSecurityHealthCheck inspects the engine's current posture. It never
// touches stored values and is safe to call from monitoring loops.
func (e *Engine) PerformSecurityHealthCheck() HealthReport {
	now := time.Now().UTC()

	e.mu.RLock()
	keyPresent := e.currentKeyID != "" && !e.cipherDisabled
	fingerprint := e.keyInfo[e.currentKeyID].Fingerprint
	lastRotation := e.lastRotation
	e.mu.RUnlock()

	report := HealthReport{
		MasterKeyPresent:   keyPresent,
		LastRotation:       lastRotation,
		RecentFailures:     e.ring.failuresSince(now.Add(-time.Hour)),
		StoreReachable:     e.store.Ping() == nil,
		DroppedAuditEvents: e.dispatch.Dropped(),
		Mode:               e.cfg.Mode.String(),
	}
	if keyPresent {
		report.ActiveKeyFingerprint = fingerprint
	}
	if e.authenticator != nil {
		report.BiometricAvailable = e.authenticator.Available()
	}
	report.RotationOverdue = lastRotation.IsZero() || now.Sub(lastRotation) > e.cfg.KeyTTL

	score := 0
	if report.BiometricAvailable {
		score += 30
	}
	if report.MasterKeyPresent {
		score += 30
	}
	switch {
	case report.RecentFailures == 0:
		score += 20
	case report.RecentFailures < 5:
		score += 10
	}
	if !report.RotationOverdue {
		score += 20
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	report.Score = score
	return report
}

// AuditLog returns a copy of the in-memory audit ring, oldest entry first.
func (e *Engine) AuditLog() []AuditLogEntry {
	return e.ring.Snapshot()
}
