package delta

import (
	"strings"
	"sync"
	"time"
)

// SessionTTL is how long an idle watch session survives between polls.
const SessionTTL = 5 * time.Minute

// Session is the per-watch subscription record. Mutated only by that watch's
// poll handler; the table serializes access.
type Session struct {
	WatchID          string
	ConfigHash       string
	Entities         map[string]struct{}
	EntitiesSynced   bool
	FirstSeen        time.Time
	LastSeen         time.Time
	LastPollInterval time.Duration
}

// SessionTable tracks active watch sessions keyed by watch id.
type SessionTable struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionTable creates a table with the given idle TTL.
func NewSessionTable(ttl time.Duration) *SessionTable {
	if ttl <= 0 {
		ttl = SessionTTL
	}
	return &SessionTable{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Touch fetches or creates the session for a watch and applies the request's
// entity list / config-hash policy:
//
//   - entities supplied → replace the subscription atomically, store the
//     hash, mark synced
//   - entities absent but hash changed → clear the subscription and flip
//     synced off so the client re-sends its list
//
// The caller gets the live session; it must not be retained past the poll.
func (t *SessionTable) Touch(watchID, configHash string, entities []string) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	s, ok := t.sessions[watchID]
	if !ok {
		s = &Session{
			WatchID:   watchID,
			Entities:  make(map[string]struct{}),
			FirstSeen: now,
		}
		t.sessions[watchID] = s
	} else {
		s.LastPollInterval = now.Sub(s.LastSeen)
	}
	s.LastSeen = now

	if entities != nil {
		sub := make(map[string]struct{}, len(entities))
		for _, id := range entities {
			if id != "" {
				sub[id] = struct{}{}
			}
		}
		s.Entities = sub
		s.ConfigHash = configHash
		s.EntitiesSynced = true
	} else if s.ConfigHash != configHash {
		// Watch config changed; ask the client for its latest entity list.
		s.ConfigHash = configHash
		s.Entities = make(map[string]struct{})
		s.EntitiesSynced = false
	}

	return s
}

// Drop removes a session (poll cancelled mid-wait, or forced resync).
func (t *SessionTable) Drop(watchID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, watchID)
}

// Prune removes sessions idle past the TTL and returns how many were
// dropped.
func (t *SessionTable) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.ttl)
	dropped := 0
	for id, s := range t.sessions {
		if s.LastSeen.Before(cutoff) {
			delete(t.sessions, id)
			dropped++
		}
	}
	return dropped
}

// Clear removes every session, forcing all watches into a full resync.
func (t *SessionTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions = make(map[string]*Session)
}

// Count returns the number of live sessions, excluding diagnostic probes
// (watch ids wrapped in double underscores).
func (t *SessionTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for id := range t.sessions {
		if isDiagnosticProbe(id) {
			continue
		}
		n++
	}
	return n
}

// Subscription returns a snapshot of a session's entity set, or nil if the
// session does not exist.
func (t *SessionTable) Subscription(watchID string) map[string]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[watchID]
	if !ok {
		return nil
	}
	sub := make(map[string]struct{}, len(s.Entities))
	for id := range s.Entities {
		sub[id] = struct{}{}
	}
	return sub
}

func isDiagnosticProbe(watchID string) bool {
	return len(watchID) >= 4 &&
		strings.HasPrefix(watchID, "__") && strings.HasSuffix(watchID, "__")
}
