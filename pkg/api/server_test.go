package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nylondiamond/wristhub/pkg/auth"
	"github.com/nylondiamond/wristhub/pkg/camera"
	"github.com/nylondiamond/wristhub/pkg/delta"
	"github.com/nylondiamond/wristhub/pkg/hub"
	"github.com/nylondiamond/wristhub/pkg/pairing"
	"github.com/nylondiamond/wristhub/pkg/push"
	"github.com/nylondiamond/wristhub/pkg/summary"
)

const testToken = "test-operator-token"

type fakeBus struct {
	fn func(hub.StateChange)
}

func (b *fakeBus) Subscribe(fn func(hub.StateChange)) func() {
	b.fn = fn
	return func() { b.fn = nil }
}

func (b *fakeBus) emit(entityID, state string) {
	b.fn(hub.StateChange{NewState: &hub.State{
		EntityID:   entityID,
		State:      state,
		Attributes: map[string]any{"friendly_name": entityID},
	}})
}

type fakeStore struct {
	states map[string]*hub.State
}

func (s *fakeStore) Get(entityID string) (*hub.State, bool) {
	st, ok := s.states[entityID]
	return st, ok
}

func (s *fakeStore) All(domain string) []*hub.State {
	var out []*hub.State
	for _, st := range s.states {
		if st.Domain() == domain {
			out = append(out, st)
		}
	}
	return out
}

type fakeSource struct{}

func (fakeSource) Snapshot(context.Context, string, time.Duration) (*hub.Snapshot, error) {
	return nil, fmt.Errorf("no frames in tests")
}

type testEnv struct {
	server  *Server
	handler http.Handler
	bus     *fakeBus
	store   *fakeStore
	auth    *auth.Service
	pairing *pairing.Service
	tokens  *push.FileTokenStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	bus := &fakeBus{}
	store := &fakeStore{states: map[string]*hub.State{
		"light.a":      {EntityID: "light.a", State: "on", Attributes: map[string]any{}},
		"camera.front": {EntityID: "camera.front", State: "idle", Attributes: map[string]any{}},
	}}

	coordinator := delta.NewCoordinator(bus, store, 100, nil)
	t.Cleanup(coordinator.Shutdown)

	authService := auth.NewService(filepath.Join(t.TempDir(), "auth.json"), testToken, "")
	pairingService := pairing.NewService(authService)
	tokens := push.NewFileTokenStore(filepath.Join(t.TempDir(), "tokens.json"))
	streamer := camera.NewStreamer(fakeSource{}, camera.NewRegistry(), camera.NewPool(1, nil))

	server := NewServer(
		coordinator,
		summary.NewProjector(store),
		pairingService,
		PairingURLs{Base: "http://hub:8127"},
		authService.Owner(),
		streamer,
		store,
		tokens,
		nil,
		authService,
		nil,
	)

	return &testEnv{
		server:  server,
		handler: server.Handler(),
		bus:     bus,
		store:   store,
		auth:    authService,
		pairing: pairingService,
		tokens:  tokens,
	}
}

func (e *testEnv) request(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAuth_MissingToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/watch/updates",
		map[string]any{"watch_id": "w1", "config_hash": "h"}, false)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_BadToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/watch/updates", bytes.NewReader(nil))
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthz_Open(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/healthz", nil, false)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "healthy", body["status"])
}

func TestUpdates_MissingRequiredFields(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/watch/updates",
		map[string]any{"watch_id": "w1"}, true)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdates_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/watch/updates",
		bytes.NewReader([]byte("{not json")))
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdates_NeedEntitiesFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/watch/updates",
		map[string]any{"watch_id": "w1", "config_hash": "h"}, true)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["need_entities"])
	assert.Equal(t, "0", body["next_cursor"])
	assert.NotEmpty(t, body["capabilities"])
}

func TestUpdates_SnapshotThenDelta(t *testing.T) {
	env := newTestEnv(t)

	// Sync the subscription; empty since yields a snapshot.
	w := env.request(t, http.MethodPost, "/api/watch/updates", map[string]any{
		"watch_id": "w1", "config_hash": "h", "entities": []string{"light.a"},
	}, true)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Len(t, body["events"], 1)
	assert.Equal(t, false, body["need_entities"])

	// Ingest and poll from the returned cursor.
	env.bus.emit("light.a", "off")
	w = env.request(t, http.MethodPost, "/api/watch/updates", map[string]any{
		"watch_id": "w1", "config_hash": "h", "since": body["next_cursor"],
	}, true)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Len(t, body["events"], 1)
	assert.Equal(t, "1", body["next_cursor"])
}

func TestUpdates_StaleCursorIs410WithCursor(t *testing.T) {
	env := newTestEnv(t)
	env.request(t, http.MethodPost, "/api/watch/updates", map[string]any{
		"watch_id": "w1", "config_hash": "h", "entities": []string{"light.a"},
	}, true)

	w := env.request(t, http.MethodPost, "/api/watch/updates", map[string]any{
		"watch_id": "w1", "config_hash": "h", "since": "999",
	}, true)

	assert.Equal(t, http.StatusGone, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["resync_required"])
	assert.Equal(t, "0", body["next_cursor"])
}

func TestUpdates_ForceDeltaAttachesSummary(t *testing.T) {
	env := newTestEnv(t)
	env.request(t, http.MethodPost, "/api/watch/updates", map[string]any{
		"watch_id": "w1", "config_hash": "h", "entities": []string{"light.a"},
	}, true)

	w := env.request(t, http.MethodPost, "/api/watch/updates", map[string]any{
		"watch_id": "w1", "config_hash": "h", "since": "0", "force_delta": true,
	}, true)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Contains(t, body, "info_summary")
	assert.Empty(t, body["events"])
}

func TestUpdates_PiggybackTokenRegistration(t *testing.T) {
	env := newTestEnv(t)

	env.request(t, http.MethodPost, "/api/watch/updates", map[string]any{
		"watch_id": "w1", "config_hash": "h", "entities": []string{"light.a"},
		"device_token": "apns-token", "apns_environment": "development",
	}, true)

	entry, ok := env.tokens.Get("w1")
	require.True(t, ok)
	assert.Equal(t, "apns-token", entry.DeviceToken)
	assert.Equal(t, "watchos", entry.Platform)
	assert.Equal(t, "development", entry.Environment)
}

func TestSummary_Endpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/wrist_assistant/summary",
		map[string]any{"include_details": true}, true)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Contains(t, body, "info_summary")
	assert.NotEmpty(t, body["capabilities"])
}

func TestPairing_RedeemUnknownCode(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/wrist_assistant/pairing/redeem",
		map[string]any{"pairing_code": "nope"}, false)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPairing_CreateAndRedeem(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/wrist_assistant/pairing/create",
		map[string]any{"lifespan_days": 30}, true)
	require.Equal(t, http.StatusOK, w.Code)
	created := decodeBody(t, w)
	code, _ := created["code"].(string)
	require.NotEmpty(t, code)
	assert.Contains(t, created["pairing_uri"], "wristassistant://pair?")

	w = env.request(t, http.MethodPost, "/api/wrist_assistant/pairing/redeem",
		map[string]any{"pairing_code": code, "device_name": "Watch"}, false)
	require.Equal(t, http.StatusOK, w.Code)
	redeemed := decodeBody(t, w)
	assert.Equal(t, "Bearer", redeemed["token_type"])
	assert.Equal(t, "manual_token", redeemed["auth_mode"])
	assert.Equal(t, "http://hub:8127", redeemed["home_assistant_url"])

	// The minted token passes the auth gate.
	accessToken, _ := redeemed["access_token"].(string)
	require.NotEmpty(t, accessToken)
	req := httptest.NewRequest(http.MethodPost, "/api/wrist_assistant/summary",
		bytes.NewReader([]byte("{}")))
	req.Header.Set("Authorization", "Bearer "+accessToken)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Single use.
	w = env.request(t, http.MethodPost, "/api/wrist_assistant/pairing/redeem",
		map[string]any{"pairing_code": code}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPairing_QR(t *testing.T) {
	env := newTestEnv(t)

	// No active code yet.
	w := env.request(t, http.MethodGet, "/api/wrist_assistant/pairing/qr.svg?code=x", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	created, err := env.pairing.RefreshActive(context.Background(),
		env.auth.Owner(), "http://hub:8127", "", "", 0)
	require.NoError(t, err)

	// Wrong code still 404s.
	w = env.request(t, http.MethodGet, "/api/wrist_assistant/pairing/qr.svg?code=wrong", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.request(t, http.MethodGet,
		"/api/wrist_assistant/pairing/qr.svg?code="+created.Code, nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/svg+xml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "<svg")
}

func TestCameraViewport_NoSession(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/wrist_assistant/camera/viewport",
		map[string]any{"watch_id": "w1", "entity_id": "camera.front", "x": 0.2}, true)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCameraViewport_UpdatesLiveSession(t *testing.T) {
	env := newTestEnv(t)
	session := env.server.streamer.Registry().GetOrCreate(
		"w1", "camera.front", camera.DefaultParams())

	w := env.request(t, http.MethodPost, "/api/wrist_assistant/camera/viewport",
		map[string]any{
			"watch_id": "w1", "entity_id": "camera.front",
			"x": 0.25, "y": 0.25, "w": 0.5, "h": 0.5, "width": 800,
		}, true)

	assert.Equal(t, http.StatusOK, w.Code)
	p := session.Snapshot()
	assert.Equal(t, 0.25, p.Viewport.X)
	assert.Equal(t, 800, p.Width)
}

func TestCameraViewport_NullClearsOverride(t *testing.T) {
	env := newTestEnv(t)
	params := camera.DefaultParams()
	params.SourceOverride = "camera.other"
	session := env.server.streamer.Registry().GetOrCreate("w1", "camera.front", params)

	w := env.request(t, http.MethodPost, "/api/wrist_assistant/camera/viewport",
		map[string]any{
			"watch_id": "w1", "entity_id": "camera.front",
			"source_entity_id": nil,
		}, true)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", session.Snapshot().SourceOverride)
}

func TestCameraBatch_EmptyList(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/wrist_assistant/camera/batch",
		map[string]any{"cameras": []any{}}, true)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCameraBatch_FailuresAreNullRows(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/wrist_assistant/camera/batch",
		map[string]any{"cameras": []map[string]any{{"entity_id": "camera.front"}}}, true)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	snapshots := body["snapshots"].([]any)
	require.Len(t, snapshots, 1)
	row := snapshots[0].(map[string]any)
	assert.Nil(t, row["data"])
	assert.Equal(t, 0.0, row["size"])
}

func TestCameraStream_Validation(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet,
		"/api/wrist_assistant/camera/stream/light.a?watch_id=w1", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(t, http.MethodGet,
		"/api/wrist_assistant/camera/stream/camera.unknown?watch_id=w1", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.request(t, http.MethodGet,
		"/api/wrist_assistant/camera/stream/camera.front", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCameraDevices(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/api/wrist_assistant/camera/devices", nil, true)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	devices := body["devices"].([]any)
	require.Len(t, devices, 1)
}

func TestNotifications_Register(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/wrist_assistant/notifications/register",
		map[string]any{"watch_id": "w1", "device_token": "tok"}, true)
	assert.Equal(t, http.StatusOK, w.Code)

	entry, ok := env.tokens.Get("w1")
	require.True(t, ok)
	assert.Equal(t, "production", entry.Environment)

	w = env.request(t, http.MethodPost, "/api/wrist_assistant/notifications/register",
		map[string]any{"watch_id": "w1"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotifications_SendWithoutGateway(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/wrist_assistant/notifications/send",
		map[string]any{"title": "Hi"}, true)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestForceResync_Endpoint(t *testing.T) {
	env := newTestEnv(t)
	env.request(t, http.MethodPost, "/api/watch/updates", map[string]any{
		"watch_id": "w1", "config_hash": "h", "entities": []string{"light.a"},
	}, true)

	w := env.request(t, http.MethodPost, "/api/wrist_assistant/resync", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)

	// The next poll must re-request entities.
	w = env.request(t, http.MethodPost, "/api/watch/updates",
		map[string]any{"watch_id": "w1", "config_hash": "h"}, true)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["need_entities"])
}
