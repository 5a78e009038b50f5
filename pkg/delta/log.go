// Package delta implements the delta-feed engine: a bounded monotonic event
// log, a per-watch session table, and the long-poll coordinator that joins
// them.
package delta

import (
	"sync"
	"time"
)

// DefaultRingSize is the number of events retained in the log.
const DefaultRingSize = 5000

// Event is one rendered state change. Payload is the JSON-safe form shared
// by every subscriber; it is rendered once at ingest and must not be mutated
// by readers.
type Event struct {
	Cursor   uint64
	EntityID string
	Payload  map[string]any
}

// Log is a bounded FIFO ring of events plus a parallel ring of ingest
// timestamps used for events-per-minute telemetry. Cursors are strictly
// increasing and contiguous within one process lifetime; a restart starts
// over at 0 and clients detect that as a stale cursor.
type Log struct {
	mu     sync.Mutex
	buf    []Event
	times  []time.Time
	start  int
	count  int
	cursor uint64

	generation uint64
	notify     chan struct{}

	now func() time.Time
}

// NewLog creates a log retaining the most recent size events.
func NewLog(size int) *Log {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Log{
		buf:    make([]Event, size),
		times:  make([]time.Time, size),
		notify: make(chan struct{}),
		now:    time.Now,
	}
}

// Append assigns the next cursor, stores the event, evicts the oldest entry
// on overflow, and wakes every waiter. Returns the assigned cursor.
func (l *Log) Append(entityID string, payload map[string]any) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cursor++
	ev := Event{Cursor: l.cursor, EntityID: entityID, Payload: payload}

	idx := (l.start + l.count) % len(l.buf)
	if l.count == len(l.buf) {
		// Ring full — overwrite the oldest slot.
		idx = l.start
		l.start = (l.start + 1) % len(l.buf)
	} else {
		l.count++
	}
	l.buf[idx] = ev
	l.times[idx] = l.now()

	l.generation++
	close(l.notify)
	l.notify = make(chan struct{})

	return l.cursor
}

// Cursor returns the most recently assigned cursor (0 before any event).
func (l *Log) Cursor() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

// OldestCursor returns the cursor of the oldest retained event and whether
// the log holds any events.
func (l *Log) OldestCursor() (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return 0, false
	}
	return l.buf[l.start].Cursor, true
}

// Generation returns the current generation counter together with a channel
// that is closed on the next ingest. Callers must obtain the channel before
// scanning so an ingest between scan and wait is never missed.
func (l *Log) Generation() (uint64, <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation, l.notify
}

// Collect walks events with cursor > since whose entity id is in the
// subscription, in cursor order, up to limit. It returns the matched
// payloads, the cursor of the last matched event (nextMatched) and the
// cursor of the last event examined (nextScanned). nextScanned lets a
// waiter advance past a silent burst without re-scanning it.
func (l *Log) Collect(since uint64, subscription map[string]struct{}, limit int) (events []map[string]any, nextMatched, nextScanned uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	nextMatched = since
	nextScanned = since
	for i := 0; i < l.count; i++ {
		ev := &l.buf[(l.start+i)%len(l.buf)]
		if ev.Cursor <= since {
			continue
		}
		nextScanned = ev.Cursor
		if _, ok := subscription[ev.EntityID]; !ok {
			continue
		}
		events = append(events, ev.Payload)
		nextMatched = ev.Cursor
		if len(events) >= limit {
			// Do not advance past the last delivered event.
			nextScanned = ev.Cursor
			break
		}
	}
	return events, nextMatched, nextScanned
}

// EventsPerMinute returns the number of ingests in the trailing 60 seconds.
func (l *Log) EventsPerMinute() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return 0
	}
	cutoff := l.now().Add(-time.Minute)
	count := 0
	for i := l.count - 1; i >= 0; i-- {
		t := l.times[(l.start+i)%len(l.buf)]
		if t.Before(cutoff) {
			break
		}
		count++
	}
	return float64(count)
}
