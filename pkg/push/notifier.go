package push

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nylondiamond/wristhub/pkg/hub"
	"github.com/nylondiamond/wristhub/pkg/metrics"
)

// ErrNoToken is returned when the target watch has no registered token.
var ErrNoToken = errors.New("no push token registered for watch")

// Notifier sends pushes to registered watches, dropping tokens the gateway
// reports as permanently dead.
type Notifier struct {
	store   hub.PushTokenStore
	gateway Gateway
	metrics *metrics.Metrics
}

// NewNotifier creates a notifier.
func NewNotifier(store hub.PushTokenStore, gateway Gateway, m *metrics.Metrics) *Notifier {
	return &Notifier{store: store, gateway: gateway, metrics: m}
}

// Message is the user-facing content of a push.
type Message struct {
	Title    string
	Body     string
	Category string
	Sound    string
	PushType string
	Data     map[string]any
}

// SendToWatch forwards a message to one watch's registered token.
func (n *Notifier) SendToWatch(ctx context.Context, watchID string, msg Message) error {
	entry, ok := n.store.Get(watchID)
	if !ok {
		return ErrNoToken
	}
	return n.send(ctx, watchID, entry, msg)
}

// SendToAll forwards a message to every registered watch. Per-target
// failures are contained; the batch keeps going.
func (n *Notifier) SendToAll(ctx context.Context, msg Message) {
	for watchID, entry := range n.store.All() {
		if err := n.send(ctx, watchID, entry, msg); err != nil {
			slog.Warn("Push delivery failed", "watch_id", watchID, "error", err)
		}
	}
}

func (n *Notifier) send(ctx context.Context, watchID string, entry hub.TokenEntry, msg Message) error {
	delivered, reason, err := n.gateway.Send(ctx, Notification{
		DeviceToken: entry.DeviceToken,
		Environment: entry.Environment,
		Title:       msg.Title,
		Body:        msg.Body,
		Category:    msg.Category,
		Sound:       msg.Sound,
		PushType:    msg.PushType,
		Data:        msg.Data,
	})
	if err != nil {
		n.metrics.IncPush("error")
		return err
	}
	if delivered {
		n.metrics.IncPush("delivered")
		slog.Debug("Push delivered", "watch_id", watchID)
		return nil
	}

	n.metrics.IncPush("rejected")
	if IsDeadToken(reason) {
		slog.Info("Dropping dead push token",
			"watch_id", watchID, "reason", reason)
		n.store.Remove(watchID)
		return nil
	}
	slog.Warn("Push rejected by gateway", "watch_id", watchID, "reason", reason)
	return nil
}
