package delta

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/nylondiamond/wristhub/pkg/hub"
	"github.com/nylondiamond/wristhub/pkg/metrics"
)

const (
	// DefaultTimeout is the long-poll hold time when the client sends none.
	DefaultTimeout = 45 * time.Second
	// MinTimeout and MaxTimeout bound the client-supplied poll timeout.
	MinTimeout = 5 * time.Second
	MaxTimeout = 55 * time.Second
	// MaxEventsPerResponse caps one poll response.
	MaxEventsPerResponse = 250
)

// PollRequest carries the delta-relevant fields of one poll call. Timeout
// must already be clamped by the caller.
type PollRequest struct {
	WatchID    string
	ConfigHash string
	Since      string
	Entities   []string // nil means "not supplied"
	Timeout    time.Duration
	Slim       bool
	ForceDelta bool
}

// PollResult is the outcome of one poll. Status is 200, 204, or 410;
// on 204 the remaining fields are unset.
type PollResult struct {
	Status         int
	Events         []map[string]any
	NextCursor     uint64
	NeedEntities   bool
	ResyncRequired bool
}

// Coordinator joins the event log, the session table, and the state store
// to serve long-poll reads. It owns cursor assignment: the event-bus
// subscription is the single producer appending to the log.
type Coordinator struct {
	log      *Log
	sessions *SessionTable
	store    hub.StateStore
	metrics  *metrics.Metrics

	unsubscribe func()
}

// NewCoordinator creates a coordinator over the given collaborators and
// subscribes to the event bus. Call Shutdown to detach.
func NewCoordinator(bus hub.EventBus, store hub.StateStore, ringSize int, m *metrics.Metrics) *Coordinator {
	c := &Coordinator{
		log:      NewLog(ringSize),
		sessions: NewSessionTable(SessionTTL),
		store:    store,
		metrics:  m,
	}
	c.unsubscribe = bus.Subscribe(c.handleStateChange)
	return c
}

// Shutdown detaches the coordinator from the event bus.
func (c *Coordinator) Shutdown() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// ForceResync clears all sessions, forcing every watch into a full refresh
// on its next poll.
func (c *Coordinator) ForceResync() {
	c.sessions.Clear()
	slog.Info("Forced resync: all watch sessions cleared")
}

// SessionCount returns the number of live non-probe sessions.
func (c *Coordinator) SessionCount() int { return c.sessions.Count() }

// EventsPerMinute returns the trailing-minute ingest rate.
func (c *Coordinator) EventsPerMinute() float64 { return c.log.EventsPerMinute() }

// Cursor returns the latest assigned cursor.
func (c *Coordinator) Cursor() uint64 { return c.log.Cursor() }

// handleStateChange renders the payload once and appends it to the log.
// Removed entities (nil new state) are ignored.
func (c *Coordinator) handleStateChange(change hub.StateChange) {
	st := change.NewState
	if st == nil {
		return
	}
	c.log.Append(st.EntityID, renderPayload(st))
	c.metrics.IncEventsIngested()
}

// renderPayload builds the JSON-safe delta payload for a state.
func renderPayload(st *hub.State) map[string]any {
	var contextID any
	if st.ContextID != "" {
		contextID = st.ContextID
	}
	return map[string]any{
		"entity_id": st.EntityID,
		"state":     st.State,
		"new_state": map[string]any{
			"entity_id":    st.EntityID,
			"state":        st.State,
			"attributes":   jsonSafe(normalizeAttributes(st.Attributes)),
			"last_updated": st.LastUpdated.Format(time.RFC3339Nano),
		},
		"context_id":   contextID,
		"last_updated": st.LastUpdated.Format(time.RFC3339Nano),
	}
}

func normalizeAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return map[string]any{}
	}
	return attrs
}

// HandlePoll serves one long-poll request. It blocks up to req.Timeout
// waiting for matching events. Context cancellation drops the session and
// returns the context error.
func (c *Coordinator) HandlePoll(ctx context.Context, req PollRequest) (*PollResult, error) {
	start := time.Now()
	c.metrics.PollStarted()
	defer func() {
		c.metrics.PollFinished()
		c.metrics.ObservePoll(time.Since(start).Seconds())
	}()

	c.sessions.Prune()
	session := c.sessions.Touch(req.WatchID, req.ConfigHash, req.Entities)

	if !session.EntitiesSynced {
		return &PollResult{
			Status:       200,
			Events:       []map[string]any{},
			NextCursor:   c.log.Cursor(),
			NeedEntities: true,
		}, nil
	}

	if req.Since == "" {
		return c.snapshotResponse(req), nil
	}

	since, ok := parseSince(req.Since)
	if !ok {
		return &PollResult{
			Status:         410,
			Events:         []map[string]any{},
			NextCursor:     c.log.Cursor(),
			ResyncRequired: true,
		}, nil
	}

	if c.isStaleCursor(since) {
		return &PollResult{
			Status:         410,
			Events:         []map[string]any{},
			NextCursor:     c.log.Cursor(),
			ResyncRequired: true,
		}, nil
	}

	// Grab the generation channel before the first scan so an ingest
	// arriving between scan and wait still wakes us.
	_, wake := c.log.Generation()

	sub := c.sessions.Subscription(req.WatchID)
	events, nextMatched, nextScanned := c.log.Collect(since, sub, MaxEventsPerResponse)
	if len(events) > 0 {
		return c.eventResponse(events, nextMatched, req.Slim), nil
	}

	if req.ForceDelta {
		return &PollResult{
			Status:     200,
			Events:     []map[string]any{},
			NextCursor: nextScanned,
		}, nil
	}

	// Wait loop: advance since past silent bursts so a wakeup never forces
	// a re-scan from an old cursor.
	since = nextScanned
	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Client went away mid-wait; drop the session so its next
			// connect starts clean.
			c.sessions.Drop(req.WatchID)
			return nil, ctx.Err()
		case <-timer.C:
			return &PollResult{Status: 204}, nil
		case <-wake:
		}

		_, wake = c.log.Generation()
		sub = c.sessions.Subscription(req.WatchID)
		events, nextMatched, nextScanned = c.log.Collect(since, sub, MaxEventsPerResponse)
		if len(events) > 0 {
			return c.eventResponse(events, nextMatched, req.Slim), nil
		}
		since = nextScanned
	}
}

func (c *Coordinator) eventResponse(events []map[string]any, nextCursor uint64, slim bool) *PollResult {
	if slim {
		events = slimPayloads(events)
	}
	c.metrics.AddEventsDelivered(len(events))
	return &PollResult{
		Status:     200,
		Events:     events,
		NextCursor: nextCursor,
	}
}

// snapshotResponse produces one synthetic event per subscribed entity from
// the current state store. Entities absent from the store are skipped.
func (c *Coordinator) snapshotResponse(req PollRequest) *PollResult {
	sub := c.sessions.Subscription(req.WatchID)
	ids := make([]string, 0, len(sub))
	for id := range sub {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	events := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		st, ok := c.store.Get(id)
		if !ok {
			continue
		}
		events = append(events, renderPayload(st))
	}
	if req.Slim {
		events = slimPayloads(events)
	}
	c.metrics.AddEventsDelivered(len(events))
	return &PollResult{
		Status:     200,
		Events:     events,
		NextCursor: c.log.Cursor(),
	}
}

// isStaleCursor reports whether the requested cursor is ahead of the log
// (process restart) or behind retained history (ring eviction).
func (c *Coordinator) isStaleCursor(since uint64) bool {
	if since > c.log.Cursor() {
		return true
	}
	oldest, ok := c.log.OldestCursor()
	if !ok {
		return false
	}
	return oldest >= 1 && since < oldest-1
}

// parseSince parses the client cursor. Non-numeric values are invalid;
// negative values clamp to 0.
func parseSince(since string) (uint64, bool) {
	n, err := strconv.ParseInt(since, 10, 64)
	if err != nil {
		return 0, false
	}
	if n < 0 {
		n = 0
	}
	return uint64(n), true
}
