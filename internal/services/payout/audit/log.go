// Package audit keeps the bounded in-memory audit trail for payout
// operations.
//
// Entries never hold key material. Callers pass already-redacted data; data
// keys that name secrets are dropped on the way in. A durable Sink may be
// attached to mirror entries elsewhere.
package audit

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/payoutcore/internal/platform/id"
	"github.com/louisbranch/payoutcore/internal/platform/requestctx"
)

// Severity describes the audit severity level.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// DefaultCapacity bounds the log when no capacity is configured.
const DefaultCapacity = 1000

// Entry is one audit record.
type Entry struct {
	ID        string
	Timestamp time.Time
	Severity  Severity
	Action    string
	Data      map[string]string
}

// Sink receives a copy of every appended entry.
type Sink interface {
	WriteAuditEntry(ctx context.Context, entry Entry) error
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the entry timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(l *Log) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithSink mirrors entries to sink. Sink errors are logged, never returned.
func WithSink(sink Sink) Option {
	return func(l *Log) {
		l.sink = sink
	}
}

// Log is a fixed-capacity ring of audit entries.
type Log struct {
	clock func() time.Time
	sink  Sink

	mu      sync.Mutex
	entries []Entry
	next    int
	size    int
}

// NewLog creates a log holding at most capacity entries.
func NewLog(capacity int, opts ...Option) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{clock: time.Now, entries: make([]Entry, capacity)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var secretKeyMarkers = []string{"secret", "private", "key", "seed"}

func isSecretKey(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range secretKeyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Append records an entry and evicts the oldest one when full. The caller
// identity in ctx, if any, is recorded under "caller". It is a no-op on a
// nil log.
func (l *Log) Append(ctx context.Context, severity Severity, action string, data map[string]string) Entry {
	if l == nil {
		return Entry{}
	}
	// An entry without an id is still worth keeping.
	entryID, _ := id.NewID()
	clean := make(map[string]string, len(data))
	for k, v := range data {
		if isSecretKey(k) {
			continue
		}
		clean[k] = v
	}
	if caller := requestctx.CallerFromContext(ctx); caller != "" {
		clean["caller"] = caller
	}
	entry := Entry{
		ID:        entryID,
		Timestamp: l.clock().UTC(),
		Severity:  severity,
		Action:    action,
		Data:      clean,
	}

	l.mu.Lock()
	l.entries[l.next] = entry
	l.next = (l.next + 1) % len(l.entries)
	if l.size < len(l.entries) {
		l.size++
	}
	l.mu.Unlock()

	if l.sink != nil {
		if err := l.sink.WriteAuditEntry(ctx, copyEntry(entry)); err != nil {
			log.Printf("audit sink write failed for %s: %v", action, err)
		}
	}
	return copyEntry(entry)
}

// Read returns up to limit entries, newest first. A non-positive limit
// returns everything retained.
func (l *Log) Read(limit int) []Entry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > l.size {
		limit = l.size
	}
	out := make([]Entry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.entries)) % len(l.entries)
		out = append(out, copyEntry(l.entries[idx]))
	}
	return out
}

// Len reports how many entries are retained.
func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

func copyEntry(entry Entry) Entry {
	data := make(map[string]string, len(entry.Data))
	for k, v := range entry.Data {
		data[k] = v
	}
	entry.Data = data
	return entry
}
