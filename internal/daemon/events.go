package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/ridelink/ridechat/internal/bus"
)

const eventLogCapacity = 512

// Entry is a bus event with a monotonically increasing sequence number,
// as served to /v1/events consumers.
type Entry struct {
	Seq       uint64    `json:"seq"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// EventLog buffers recent bus events for long-polling frontends. A
// consumer passes the last sequence number it saw; anything newer still
// in the ring is returned immediately, otherwise the poll parks until an
// event arrives or the wait expires.
type EventLog struct {
	mu      sync.Mutex
	entries []Entry
	seq     uint64
	notify  chan struct{}

	cancel context.CancelFunc
}

// NewEventLog creates an empty log.
func NewEventLog() *EventLog {
	return &EventLog{notify: make(chan struct{})}
}

// Start begins recording the full event stream.
func (l *EventLog) Start(ctx context.Context, b *bus.Bus) {
	ctx, l.cancel = context.WithCancel(ctx)
	evts, unsub := b.Subscribe("", 256)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-evts:
				l.append(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops recording.
func (l *EventLog) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *EventLog) append(evt bus.Event) {
	l.mu.Lock()
	l.seq++
	l.entries = append(l.entries, Entry{
		Seq:       l.seq,
		Kind:      evt.Kind,
		Timestamp: evt.Timestamp,
		Payload:   evt.Payload,
	})
	if len(l.entries) > eventLogCapacity {
		l.entries = l.entries[len(l.entries)-eventLogCapacity:]
	}
	close(l.notify)
	l.notify = make(chan struct{})
	l.mu.Unlock()
}

// Since returns buffered entries with a sequence greater than cursor and
// the cursor to pass next time.
func (l *EventLog) Since(cursor uint64) ([]Entry, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sinceLocked(cursor)
}

func (l *EventLog) sinceLocked(cursor uint64) ([]Entry, uint64) {
	var out []Entry
	for _, e := range l.entries {
		if e.Seq > cursor {
			out = append(out, e)
		}
	}
	return out, l.seq
}

// Wait blocks until an entry newer than cursor exists, the wait elapses,
// or ctx is done. An elapsed wait returns an empty slice and the current
// cursor; callers poll again.
func (l *EventLog) Wait(ctx context.Context, cursor uint64, wait time.Duration) ([]Entry, uint64) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		l.mu.Lock()
		entries, next := l.sinceLocked(cursor)
		notify := l.notify
		l.mu.Unlock()
		if len(entries) > 0 {
			return entries, next
		}

		select {
		case <-notify:
		case <-deadline.C:
			return nil, next
		case <-ctx.Done():
			return nil, next
		}
	}
}
