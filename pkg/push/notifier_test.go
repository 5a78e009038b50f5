package push

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway records sends and returns a scripted outcome.
type fakeGateway struct {
	delivered bool
	reason    string
	err       error
	sent      []Notification
}

func (g *fakeGateway) Send(_ context.Context, n Notification) (bool, string, error) {
	g.sent = append(g.sent, n)
	return g.delivered, g.reason, g.err
}

func notifierWith(t *testing.T, gateway *fakeGateway) (*Notifier, *FileTokenStore) {
	t.Helper()
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "tokens.json"))
	store.Register("w1", "token-1", "watchos", "production")
	return NewNotifier(store, gateway, nil), store
}

func TestNotifier_SendToWatch(t *testing.T) {
	gateway := &fakeGateway{delivered: true}
	n, _ := notifierWith(t, gateway)

	err := n.SendToWatch(context.Background(), "w1", Message{Title: "Hi", Body: "There"})

	require.NoError(t, err)
	require.Len(t, gateway.sent, 1)
	assert.Equal(t, "token-1", gateway.sent[0].DeviceToken)
	assert.Equal(t, "Hi", gateway.sent[0].Title)
}

func TestNotifier_NoTokenRegistered(t *testing.T) {
	gateway := &fakeGateway{delivered: true}
	n, _ := notifierWith(t, gateway)

	err := n.SendToWatch(context.Background(), "unknown", Message{Title: "Hi"})

	assert.ErrorIs(t, err, ErrNoToken)
	assert.Empty(t, gateway.sent)
}

func TestNotifier_DropsDeadToken(t *testing.T) {
	gateway := &fakeGateway{delivered: false, reason: "Unregistered"}
	n, store := notifierWith(t, gateway)

	err := n.SendToWatch(context.Background(), "w1", Message{Title: "Hi"})

	require.NoError(t, err)
	_, ok := store.Get("w1")
	assert.False(t, ok)
}

func TestNotifier_KeepsTokenOnTransientRejection(t *testing.T) {
	gateway := &fakeGateway{delivered: false, reason: "TooManyRequests"}
	n, store := notifierWith(t, gateway)

	err := n.SendToWatch(context.Background(), "w1", Message{Title: "Hi"})

	require.NoError(t, err)
	_, ok := store.Get("w1")
	assert.True(t, ok)
}

func TestNotifier_GatewayErrorPropagates(t *testing.T) {
	gateway := &fakeGateway{err: errors.New("connection refused")}
	n, store := notifierWith(t, gateway)

	err := n.SendToWatch(context.Background(), "w1", Message{Title: "Hi"})

	assert.Error(t, err)
	_, ok := store.Get("w1")
	assert.True(t, ok)
}

func TestNotifier_SendToAllContainsFailures(t *testing.T) {
	gateway := &fakeGateway{err: errors.New("down")}
	n, store := notifierWith(t, gateway)
	store.Register("w2", "token-2", "watchos", "production")

	n.SendToAll(context.Background(), Message{Title: "Hi"})

	assert.Len(t, gateway.sent, 2)
}

func TestIsDeadToken(t *testing.T) {
	assert.True(t, IsDeadToken("BadDeviceToken"))
	assert.True(t, IsDeadToken("Unregistered"))
	assert.True(t, IsDeadToken("DeviceTokenNotForTopic"))
	assert.False(t, IsDeadToken("TooManyRequests"))
	assert.False(t, IsDeadToken(""))
}
