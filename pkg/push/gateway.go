package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Notification is one push message forwarded to the gateway.
type Notification struct {
	DeviceToken string         `json:"device_token"`
	Environment string         `json:"environment"`
	Title       string         `json:"title,omitempty"`
	Body        string         `json:"body,omitempty"`
	Category    string         `json:"category,omitempty"`
	Sound       string         `json:"sound,omitempty"`
	PushType    string         `json:"push_type,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// Gateway delivers notifications. The real gateway is an external service;
// Send returns delivered=false with a reason string when the gateway
// rejected the token.
type Gateway interface {
	Send(ctx context.Context, n Notification) (delivered bool, reason string, err error)
}

// deadTokenReasons are gateway rejections that mean the token is permanently
// invalid and should be dropped from the store.
var deadTokenReasons = map[string]struct{}{
	"BadDeviceToken":         {},
	"Unregistered":           {},
	"DeviceTokenNotForTopic": {},
}

// IsDeadToken reports whether a gateway reason indicates a permanently
// invalid token.
func IsDeadToken(reason string) bool {
	_, ok := deadTokenReasons[reason]
	return ok
}

// HTTPGateway forwards notifications to an external push gateway over HTTP.
type HTTPGateway struct {
	url    string
	client *http.Client
}

// NewHTTPGateway creates a gateway client for the given endpoint.
func NewHTTPGateway(url string) *HTTPGateway {
	return &HTTPGateway{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// gatewayResponse is the gateway's reply shape.
type gatewayResponse struct {
	Delivered bool   `json:"delivered"`
	Reason    string `json:"reason,omitempty"`
}

// Send posts the notification. A non-2xx status with a decodable body maps
// to (false, reason, nil); transport failures return an error.
func (g *HTTPGateway) Send(ctx context.Context, n Notification) (bool, string, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return false, "", fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return false, "", fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return false, "connection_error", fmt.Errorf("push gateway: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed gatewayResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true, "", nil
		}
		return false, fmt.Sprintf("http_%d", resp.StatusCode), nil
	}
	return parsed.Delivered, parsed.Reason, nil
}
