// Package hub defines the contracts the companion service consumes from the
// home-automation hub: entity state access, the state-change event bus,
// the credential service, camera snapshots, and the push-token store.
package hub

import (
	"context"
	"time"
)

// State is an observed entity state. The companion never mutates it; it
// snapshots and forwards.
type State struct {
	EntityID    string
	State       string
	Attributes  map[string]any
	LastUpdated time.Time
	ContextID   string
}

// Domain returns the entity domain, the part of the entity id before the
// first dot ("light.kitchen" → "light").
func (s *State) Domain() string {
	for i := 0; i < len(s.EntityID); i++ {
		if s.EntityID[i] == '.' {
			return s.EntityID[:i]
		}
	}
	return s.EntityID
}

// FriendlyName returns the friendly_name attribute, falling back to the
// entity id.
func (s *State) FriendlyName() string {
	if v, ok := s.Attributes["friendly_name"].(string); ok && v != "" {
		return v
	}
	return s.EntityID
}

// StateChange is delivered by the EventBus for every entity transition.
// NewState is nil when the entity was removed.
type StateChange struct {
	NewState *State
}

// EventBus delivers state_changed events. Subscribe returns an unsubscribe
// function.
type EventBus interface {
	Subscribe(fn func(StateChange)) (unsubscribe func())
}

// StateStore provides read access to current entity states.
type StateStore interface {
	Get(entityID string) (*State, bool)
	All(domain string) []*State
}

// User is a hub account.
type User struct {
	ID       string
	Name     string
	IsOwner  bool
	IsActive bool
}

// RefreshToken is a long-lived credential from which short-lived access
// tokens are minted.
type RefreshToken struct {
	ID                    string
	UserID                string
	ClientID              string
	ClientName            string
	CreatedAt             time.Time
	AccessTokenExpiration time.Duration
	ExpiresAt             time.Time
	LastUsedAt            *time.Time
}

// AuthService manages hub credentials. The pairing service consumes it to
// turn hub-level access into client-scoped bearer tokens.
type AuthService interface {
	CreateRefreshToken(ctx context.Context, user *User, clientID, clientName string, lifespan time.Duration) (*RefreshToken, error)
	GetRefreshToken(ctx context.Context, id string) (*RefreshToken, bool)
	RemoveRefreshToken(ctx context.Context, tok *RefreshToken) error
	RenameRefreshToken(ctx context.Context, tok *RefreshToken, clientName string) error
	CreateAccessToken(ctx context.Context, tok *RefreshToken) (string, error)
	Users(ctx context.Context) ([]*User, error)
	RefreshTokens(ctx context.Context) ([]*RefreshToken, error)
}

// Snapshot is one still frame from a camera.
type Snapshot struct {
	Content []byte
}

// CameraSource fetches still frames from camera entities.
type CameraSource interface {
	Snapshot(ctx context.Context, entityID string, timeout time.Duration) (*Snapshot, error)
}

// TokenEntry is one registered push token.
type TokenEntry struct {
	DeviceToken string `json:"device_token"`
	Platform    string `json:"platform"`
	Environment string `json:"environment"`
}

// PushTokenStore persists watch_id → push token with delayed-save semantics.
type PushTokenStore interface {
	Load(ctx context.Context) error
	Register(watchID, deviceToken, platform, environment string)
	Get(watchID string) (TokenEntry, bool)
	Remove(watchID string)
	All() map[string]TokenEntry
}
