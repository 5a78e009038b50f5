// Package pairing issues single-use pairing codes backed by long-lived hub
// refresh tokens and redeems them into client-scoped access tokens.
package pairing

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nylondiamond/wristhub/pkg/hub"
)

const (
	// ClientID tags every refresh token the pairing service creates, so
	// orphan cleanup can recognize its own tokens after a crash.
	ClientID = "wrist_assistant_pairing"
	// clientNamePrefix plus the first 8 characters of the code forms the
	// refresh token's client name.
	clientNamePrefix = "pairing-"

	// CodeTTL is how long an unredeemed code stays valid.
	CodeTTL = 10 * time.Minute

	// Lifespan clamp for the backing refresh token, in days.
	DefaultLifespanDays = 3650
	MinLifespanDays     = 1
	MaxLifespanDays     = 36500

	// URIScheme is the deep-link scheme encoded into the QR payload.
	URIScheme = "wristassistant"
)

// Session is one outstanding pairing code.
type Session struct {
	Code           string
	RefreshTokenID string
	BaseURL        string
	LocalURL       string
	RemoteURL      string
	ExpiresAt      time.Time
	LifespanDays   int
}

// CreateResult is returned to the operator creating a code.
type CreateResult struct {
	Code       string    `json:"code"`
	PairingURI string    `json:"pairing_uri"`
	ExpiresAt  time.Time `json:"expires_at"`
	BaseURL    string    `json:"base_url"`
	LocalURL   string    `json:"local_url,omitempty"`
	RemoteURL  string    `json:"remote_url,omitempty"`
}

// RedeemResult is returned to the watch redeeming a code.
type RedeemResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	AuthMode    string `json:"auth_mode"`
	ExpiresIn   int64  `json:"expires_in"`
	BaseURL     string `json:"home_assistant_url"`
	LocalURL    string `json:"local_url,omitempty"`
	RemoteURL   string `json:"remote_url,omitempty"`
}

// Service owns the pairing session table. At most one code is "active"
// (advertised via QR) at a time.
type Service struct {
	mu         sync.Mutex
	auth       hub.AuthService
	sessions   map[string]*Session
	activeCode string
	now        func() time.Time
}

// NewService creates a pairing service over the hub's auth service.
func NewService(auth hub.AuthService) *Service {
	return &Service{
		auth:     auth,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// ClampLifespanDays bounds a requested lifespan, applying the default for
// zero.
func ClampLifespanDays(days int) int {
	if days == 0 {
		return DefaultLifespanDays
	}
	if days < MinLifespanDays {
		return MinLifespanDays
	}
	if days > MaxLifespanDays {
		return MaxLifespanDays
	}
	return days
}

// newCode returns a URL-safe random token with 256 bits of entropy.
func newCode() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Create issues a new single-use code backed by a fresh refresh token for
// the given user.
func (s *Service) Create(ctx context.Context, user *hub.User, baseURL, localURL, remoteURL string, lifespanDays int) (*CreateResult, error) {
	lifespanDays = ClampLifespanDays(lifespanDays)

	code, err := newCode()
	if err != nil {
		return nil, err
	}

	clientName := clientNamePrefix + code[:8]
	tok, err := s.auth.CreateRefreshToken(ctx, user, ClientID, clientName,
		time.Duration(lifespanDays)*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("create refresh token: %w", err)
	}

	sess := &Session{
		Code:           code,
		RefreshTokenID: tok.ID,
		BaseURL:        baseURL,
		LocalURL:       localURL,
		RemoteURL:      remoteURL,
		ExpiresAt:      s.now().Add(CodeTTL),
		LifespanDays:   lifespanDays,
	}

	s.mu.Lock()
	s.sessions[code] = sess
	s.mu.Unlock()

	slog.Info("Pairing code created",
		"client_name", clientName, "expires_at", sess.ExpiresAt)

	return &CreateResult{
		Code:       code,
		PairingURI: PairingURI(code, baseURL, localURL, remoteURL),
		ExpiresAt:  sess.ExpiresAt,
		BaseURL:    baseURL,
		LocalURL:   localURL,
		RemoteURL:  remoteURL,
	}, nil
}

// RefreshActive creates a new code, promotes it to active, and revokes the
// previously active code.
func (s *Service) RefreshActive(ctx context.Context, user *hub.User, baseURL, localURL, remoteURL string, lifespanDays int) (*CreateResult, error) {
	result, err := s.Create(ctx, user, baseURL, localURL, remoteURL, lifespanDays)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	previous := s.activeCode
	s.activeCode = result.Code
	var prevSession *Session
	if previous != "" {
		prevSession = s.sessions[previous]
		delete(s.sessions, previous)
	}
	s.mu.Unlock()

	if prevSession != nil {
		s.revokeToken(ctx, prevSession.RefreshTokenID)
		slog.Info("Superseded previous active pairing code")
	}
	return result, nil
}

// Redeem exchanges a code for an access token. Returns nil (no error) when
// the code is unknown, expired, or its backing token vanished. Once the
// access token is issued the exchange is non-cancellable: the session is
// always consumed before returning.
func (s *Service) Redeem(ctx context.Context, code, remoteIP, deviceName string) (*RedeemResult, error) {
	s.mu.Lock()
	sess, ok := s.sessions[code]
	if ok && s.now().After(sess.ExpiresAt) {
		delete(s.sessions, code)
		if s.activeCode == code {
			s.activeCode = ""
		}
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	// Detach from request cancellation: leaking a minted token without
	// acknowledging it would strand a usable credential.
	ctx = context.WithoutCancel(ctx)

	tok, found := s.auth.GetRefreshToken(ctx, sess.RefreshTokenID)
	if !found {
		s.consume(code)
		return nil, nil
	}

	accessToken, err := s.auth.CreateAccessToken(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("create access token: %w", err)
	}

	expiresIn := int64(time.Until(tok.ExpiresAt).Seconds())
	if expiresIn <= 0 {
		expiresIn = int64(sess.LifespanDays) * 86400
	}

	if deviceName != "" {
		name := clientNamePrefix + code[:8] + " (" + deviceName + ")"
		if err := s.auth.RenameRefreshToken(ctx, tok, name); err != nil {
			slog.Warn("Could not rename refresh token after redemption", "error", err)
		}
	}

	s.consume(code)

	slog.Info("Pairing code redeemed",
		"remote_ip", remoteIP, "device_name", deviceName)

	return &RedeemResult{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		AuthMode:    "manual_token",
		ExpiresIn:   expiresIn,
		BaseURL:     sess.BaseURL,
		LocalURL:    sess.LocalURL,
		RemoteURL:   sess.RemoteURL,
	}, nil
}

// consume removes a session and clears the active code if it pointed at it.
func (s *Service) consume(code string) {
	s.mu.Lock()
	delete(s.sessions, code)
	if s.activeCode == code {
		s.activeCode = ""
	}
	s.mu.Unlock()
}

// ActiveSession returns the currently advertised pairing session, if any.
func (s *Service) ActiveSession() (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeCode == "" {
		return nil, false
	}
	sess, ok := s.sessions[s.activeCode]
	return sess, ok
}

// PruneExpired revokes and drops sessions past their expiry.
func (s *Service) PruneExpired(ctx context.Context) {
	s.mu.Lock()
	now := s.now()
	var expired []*Session
	for code, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			expired = append(expired, sess)
			delete(s.sessions, code)
			if s.activeCode == code {
				s.activeCode = ""
			}
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		s.revokeToken(ctx, sess.RefreshTokenID)
	}
	if len(expired) > 0 {
		slog.Info("Pruned expired pairing codes", "count", len(expired))
	}
}

// Shutdown revokes every outstanding session's refresh token. Redeemed
// tokens are untouched: redemption already removed their sessions.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*Session)
	s.activeCode = ""
	s.mu.Unlock()

	for _, sess := range sessions {
		s.revokeToken(ctx, sess.RefreshTokenID)
	}
	if len(sessions) > 0 {
		slog.Info("Revoked outstanding pairing codes on shutdown", "count", len(sessions))
	}
}

// OrphanCleanup revokes refresh tokens left behind by a crashed process:
// tokens carrying our client id and name prefix that were never used and
// are not currently tracked. Tokens with a last-used timestamp belong to
// paired watches and are preserved.
func (s *Service) OrphanCleanup(ctx context.Context) error {
	tokens, err := s.auth.RefreshTokens(ctx)
	if err != nil {
		return fmt.Errorf("list refresh tokens: %w", err)
	}

	s.mu.Lock()
	tracked := make(map[string]struct{}, len(s.sessions))
	for _, sess := range s.sessions {
		tracked[sess.RefreshTokenID] = struct{}{}
	}
	s.mu.Unlock()

	removed := 0
	for _, tok := range tokens {
		if tok.ClientID != ClientID {
			continue
		}
		if !strings.HasPrefix(tok.ClientName, clientNamePrefix) {
			continue
		}
		if tok.LastUsedAt != nil {
			continue
		}
		if _, ok := tracked[tok.ID]; ok {
			continue
		}
		if err := s.auth.RemoveRefreshToken(ctx, tok); err != nil {
			slog.Warn("Could not remove orphaned pairing token",
				"token_id", tok.ID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Removed orphaned pairing tokens", "count", removed)
	}
	return nil
}

func (s *Service) revokeToken(ctx context.Context, tokenID string) {
	tok, ok := s.auth.GetRefreshToken(ctx, tokenID)
	if !ok {
		return
	}
	if err := s.auth.RemoveRefreshToken(ctx, tok); err != nil {
		slog.Warn("Could not revoke pairing refresh token",
			"token_id", tokenID, "error", err)
	}
}

// PairingURI builds the deep link the watch app opens from the QR code.
func PairingURI(code, baseURL, localURL, remoteURL string) string {
	q := url.Values{}
	q.Set("code", code)
	q.Set("base_url", baseURL)
	if localURL != "" {
		q.Set("local_url", localURL)
	}
	if remoteURL != "" {
		q.Set("remote_url", remoteURL)
	}
	return URIScheme + "://pair?" + q.Encode()
}
