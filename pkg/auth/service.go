// Package auth is a local, file-backed implementation of hub.AuthService.
// It lets the companion run standalone: pairing mints refresh tokens here,
// and the HTTP facade validates the access tokens it issues.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nylondiamond/wristhub/pkg/hub"
)

// accessToken is one minted bearer credential.
type accessToken struct {
	RefreshTokenID string    `json:"refresh_token_id"`
	UserID         string    `json:"user_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// persistedState is the on-disk JSON shape.
type persistedState struct {
	RefreshTokens map[string]*hub.RefreshToken `json:"refresh_tokens"`
	AccessTokens  map[string]accessToken       `json:"access_tokens"`
}

// Service implements hub.AuthService with file persistence. An optional
// static API token from configuration is accepted alongside minted tokens
// so operators can bootstrap before any watch is paired.
type Service struct {
	mu            sync.Mutex
	path          string
	staticToken   string
	owner         *hub.User
	refreshTokens map[string]*hub.RefreshToken
	accessTokens  map[string]accessToken
	now           func() time.Time
}

// NewService creates the auth service. ownerName labels the single owner
// account the pairing service issues tokens for.
func NewService(path, staticToken, ownerName string) *Service {
	if ownerName == "" {
		ownerName = "owner"
	}
	return &Service{
		path:        path,
		staticToken: staticToken,
		owner: &hub.User{
			ID:       "owner",
			Name:     ownerName,
			IsOwner:  true,
			IsActive: true,
		},
		refreshTokens: make(map[string]*hub.RefreshToken),
		accessTokens:  make(map[string]accessToken),
		now:           time.Now,
	}
}

// Load reads persisted tokens. A missing file is not an error.
func (s *Service) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read auth store: %w", err)
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decode auth store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state.RefreshTokens != nil {
		s.refreshTokens = state.RefreshTokens
	}
	if state.AccessTokens != nil {
		s.accessTokens = state.AccessTokens
	}
	slog.Debug("Loaded auth store",
		"refresh_tokens", len(s.refreshTokens), "access_tokens", len(s.accessTokens))
	return nil
}

// Owner returns the owner account used for pairing.
func (s *Service) Owner() *hub.User { return s.owner }

// Users returns the known accounts.
func (s *Service) Users(_ context.Context) ([]*hub.User, error) {
	return []*hub.User{s.owner}, nil
}

// CreateRefreshToken mints a long-lived refresh token for a user.
func (s *Service) CreateRefreshToken(_ context.Context, user *hub.User, clientID, clientName string, lifespan time.Duration) (*hub.RefreshToken, error) {
	if user == nil || !user.IsActive {
		return nil, fmt.Errorf("no active user for refresh token")
	}
	now := s.now()
	tok := &hub.RefreshToken{
		ID:                    uuid.New().String(),
		UserID:                user.ID,
		ClientID:              clientID,
		ClientName:            clientName,
		CreatedAt:             now,
		AccessTokenExpiration: lifespan,
		ExpiresAt:             now.Add(lifespan),
	}

	s.mu.Lock()
	s.refreshTokens[tok.ID] = tok
	s.persistLocked()
	s.mu.Unlock()
	return tok, nil
}

// GetRefreshToken looks a token up by id.
func (s *Service) GetRefreshToken(_ context.Context, id string) (*hub.RefreshToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.refreshTokens[id]
	return tok, ok
}

// RefreshTokens returns all tokens.
func (s *Service) RefreshTokens(_ context.Context) ([]*hub.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*hub.RefreshToken, 0, len(s.refreshTokens))
	for _, tok := range s.refreshTokens {
		out = append(out, tok)
	}
	return out, nil
}

// RemoveRefreshToken revokes a refresh token and every access token minted
// from it.
func (s *Service) RemoveRefreshToken(_ context.Context, tok *hub.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refreshTokens[tok.ID]; !ok {
		return fmt.Errorf("refresh token %s not found", tok.ID)
	}
	delete(s.refreshTokens, tok.ID)
	for secret, at := range s.accessTokens {
		if at.RefreshTokenID == tok.ID {
			delete(s.accessTokens, secret)
		}
	}
	s.persistLocked()
	return nil
}

// RenameRefreshToken updates a token's client name.
func (s *Service) RenameRefreshToken(_ context.Context, tok *hub.RefreshToken, clientName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.refreshTokens[tok.ID]
	if !ok {
		return fmt.Errorf("refresh token %s not found", tok.ID)
	}
	stored.ClientName = clientName
	tok.ClientName = clientName
	s.persistLocked()
	return nil
}

// CreateAccessToken mints a bearer secret valid until the refresh token's
// expiry and marks the refresh token as used.
func (s *Service) CreateAccessToken(_ context.Context, tok *hub.RefreshToken) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate access token: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.refreshTokens[tok.ID]
	if !ok {
		return "", fmt.Errorf("refresh token %s not found", tok.ID)
	}
	now := s.now()
	stored.LastUsedAt = &now
	tok.LastUsedAt = &now
	s.accessTokens[secret] = accessToken{
		RefreshTokenID: stored.ID,
		UserID:         stored.UserID,
		ExpiresAt:      stored.ExpiresAt,
	}
	s.persistLocked()
	return secret, nil
}

// ValidateToken checks a bearer credential from the HTTP layer. The static
// operator token and any unexpired minted access token are accepted.
func (s *Service) ValidateToken(token string) bool {
	if token == "" {
		return false
	}
	if s.staticToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(s.staticToken)) == 1 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.accessTokens[token]
	if !ok {
		return false
	}
	if s.now().After(at.ExpiresAt) {
		delete(s.accessTokens, token)
		return false
	}
	return true
}

// persistLocked writes the store atomically. Auth mutations are rare, so
// writes are synchronous rather than debounced.
func (s *Service) persistLocked() {
	data, err := json.MarshalIndent(persistedState{
		RefreshTokens: s.refreshTokens,
		AccessTokens:  s.accessTokens,
	}, "", "  ")
	if err != nil {
		slog.Error("Could not serialize auth store", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		slog.Error("Could not create auth storage dir", "error", err)
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		slog.Error("Could not write auth store", "error", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		slog.Error("Could not replace auth store", "error", err)
	}
}
