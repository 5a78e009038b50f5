// Package habridge connects the companion to a Home Assistant instance and
// adapts its websocket and REST APIs to the hub contracts: the event bus
// (subscribe_events state_changed), the state store (get_states plus live
// updates), and the camera source (camera_proxy).
package habridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nylondiamond/wristhub/pkg/hub"
)

const (
	subscribeID = 1
	statesID    = 2

	// reconnectMin and reconnectMax bound the backoff between websocket
	// reconnect attempts.
	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

// Bridge implements hub.EventBus, hub.StateStore, and hub.CameraSource
// against a running Home Assistant.
type Bridge struct {
	baseURL    string
	token      string
	httpClient *http.Client

	mu          sync.RWMutex
	states      map[string]*hub.State
	subscribers map[int]func(hub.StateChange)
	nextSubID   int

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// New creates a bridge for the given Home Assistant base URL and long-lived
// access token.
func New(baseURL, token string) *Bridge {
	return &Bridge{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		states:      make(map[string]*hub.State),
		subscribers: make(map[int]func(hub.StateChange)),
	}
}

// Start connects and begins the receive loop. The first connection must
// succeed; later disconnects reconnect with backoff.
func (b *Bridge) Start(ctx context.Context) error {
	conn, err := b.connect(ctx)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	b.loopDone = make(chan struct{})
	go func() {
		defer close(b.loopDone)
		b.run(loopCtx, conn)
	}()

	slog.Info("Hub bridge started", "base_url", b.baseURL)
	return nil
}

// Stop signals the receive loop to exit and waits for it.
func (b *Bridge) Stop() {
	if b.cancelLoop == nil {
		return
	}
	b.cancelLoop()
	<-b.loopDone
	slog.Info("Hub bridge stopped")
}

// Subscribe registers a state-change callback, returning its unsubscribe.
func (b *Bridge) Subscribe(fn func(hub.StateChange)) func() {
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// Get returns the cached state of an entity.
func (b *Bridge) Get(entityID string) (*hub.State, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.states[entityID]
	return st, ok
}

// All returns cached states for a domain.
func (b *Bridge) All(domain string) []*hub.State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	prefix := domain + "."
	var out []*hub.State
	for id, st := range b.states {
		if strings.HasPrefix(id, prefix) {
			out = append(out, st)
		}
	}
	return out
}

// Snapshot fetches a camera still via the REST camera proxy.
func (b *Bridge) Snapshot(ctx context.Context, entityID string, timeout time.Duration) (*hub.Snapshot, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := b.baseURL + "/api/camera_proxy/" + entityID
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.token)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("camera proxy %s: %w", entityID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("camera proxy %s: status %d", entityID, resp.StatusCode)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot body: %w", err)
	}
	return &hub.Snapshot{Content: content}, nil
}

// wsURL derives the websocket endpoint from the base URL.
func (b *Bridge) wsURL() string {
	url := b.baseURL
	url = strings.Replace(url, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return url + "/api/websocket"
}

// serverMessage covers every inbound websocket frame we care about.
type serverMessage struct {
	ID      int             `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Event   *struct {
		EventType string `json:"event_type"`
		Data      struct {
			EntityID string   `json:"entity_id"`
			NewState *haState `json:"new_state"`
		} `json:"data"`
	} `json:"event"`
}

// haState is Home Assistant's wire shape for an entity state.
type haState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastUpdated time.Time      `json:"last_updated"`
	Context     struct {
		ID string `json:"id"`
	} `json:"context"`
}

func (s *haState) toHub() *hub.State {
	return &hub.State{
		EntityID:    s.EntityID,
		State:       s.State,
		Attributes:  s.Attributes,
		LastUpdated: s.LastUpdated,
		ContextID:   s.Context.ID,
	}
}

// connect dials, performs the auth handshake, subscribes to state_changed,
// and requests the initial state dump.
func (b *Bridge) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, b.wsURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub websocket: %w", err)
	}
	conn.SetReadLimit(16 << 20)

	// auth_required → auth → auth_ok
	var msg serverMessage
	if err := readJSON(ctx, conn, &msg); err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return nil, fmt.Errorf("read auth_required: %w", err)
	}
	if err := writeJSON(ctx, conn, map[string]any{
		"type": "auth", "access_token": b.token,
	}); err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return nil, fmt.Errorf("send auth: %w", err)
	}
	if err := readJSON(ctx, conn, &msg); err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return nil, fmt.Errorf("read auth result: %w", err)
	}
	if msg.Type != "auth_ok" {
		conn.Close(websocket.StatusPolicyViolation, "auth failed")
		return nil, fmt.Errorf("hub auth failed: %s", msg.Type)
	}

	if err := writeJSON(ctx, conn, map[string]any{
		"id": subscribeID, "type": "subscribe_events", "event_type": "state_changed",
	}); err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return nil, fmt.Errorf("subscribe state_changed: %w", err)
	}
	if err := writeJSON(ctx, conn, map[string]any{
		"id": statesID, "type": "get_states",
	}); err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return nil, fmt.Errorf("request states: %w", err)
	}

	return conn, nil
}

// run reads frames until ctx is cancelled, reconnecting on failure.
func (b *Bridge) run(ctx context.Context, conn *websocket.Conn) {
	backoff := reconnectMin
	for {
		err := b.readLoop(ctx, conn)
		conn.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			return
		}
		slog.Warn("Hub websocket disconnected, reconnecting",
			"error", err, "backoff", backoff)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			conn, err = b.connect(ctx)
			if err == nil {
				backoff = reconnectMin
				break
			}
			slog.Warn("Hub reconnect failed", "error", err, "backoff", backoff)
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
		}
	}
}

func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var msg serverMessage
		if err := readJSON(ctx, conn, &msg); err != nil {
			return err
		}
		b.dispatch(&msg)
	}
}

func (b *Bridge) dispatch(msg *serverMessage) {
	switch {
	case msg.Type == "result" && msg.ID == statesID && msg.Success:
		var states []haState
		if err := json.Unmarshal(msg.Result, &states); err != nil {
			slog.Warn("Could not decode hub state dump", "error", err)
			return
		}
		b.mu.Lock()
		for i := range states {
			b.states[states[i].EntityID] = states[i].toHub()
		}
		b.mu.Unlock()
		slog.Info("Hub state cache primed", "entities", len(states))

	case msg.Type == "event" && msg.Event != nil && msg.Event.EventType == "state_changed":
		change := hub.StateChange{}
		if raw := msg.Event.Data.NewState; raw != nil {
			change.NewState = raw.toHub()
		}
		b.applyChange(msg.Event.Data.EntityID, change)
	}
}

func (b *Bridge) applyChange(entityID string, change hub.StateChange) {
	b.mu.Lock()
	if change.NewState != nil {
		b.states[change.NewState.EntityID] = change.NewState
	} else if entityID != "" {
		// Entity removed.
		delete(b.states, entityID)
	}
	fns := make([]func(hub.StateChange), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

func readJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
