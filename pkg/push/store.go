// Package push holds the watch push-token store and the forwarder to the
// external push gateway. The gateway itself is out of scope; only its
// contract lives here.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nylondiamond/wristhub/pkg/hub"
)

// saveDelay is the debounce window between a mutation and the disk write.
const saveDelay = 5 * time.Second

// storeFile is the on-disk JSON shape.
type storeFile struct {
	Tokens map[string]hub.TokenEntry `json:"tokens"`
}

// FileTokenStore is a file-backed implementation of hub.PushTokenStore with
// delayed-save semantics: mutations arm a debounce timer instead of writing
// synchronously.
type FileTokenStore struct {
	mu     sync.Mutex
	path   string
	tokens map[string]hub.TokenEntry
	timer  *time.Timer
	delay  time.Duration
}

// NewFileTokenStore creates a store persisting to the given path.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{
		path:   path,
		tokens: make(map[string]hub.TokenEntry),
		delay:  saveDelay,
	}
}

// Load reads persisted tokens from disk. A missing file is not an error.
func (s *FileTokenStore) Load(_ context.Context) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read token store: %w", err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode token store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for watchID, entry := range file.Tokens {
		if entry.DeviceToken == "" {
			continue
		}
		if entry.Platform == "" {
			entry.Platform = "watchos"
		}
		if entry.Environment == "" {
			entry.Environment = "production"
		}
		s.tokens[watchID] = entry
	}
	slog.Debug("Loaded notification tokens", "count", len(s.tokens))
	return nil
}

// Register stores or updates a device token. Re-registering an identical
// (token, environment) pair is a no-op and does not schedule a save.
func (s *FileTokenStore) Register(watchID, deviceToken, platform, environment string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tokens[watchID]
	if ok && existing.DeviceToken == deviceToken && existing.Environment == environment {
		return
	}
	s.tokens[watchID] = hub.TokenEntry{
		DeviceToken: deviceToken,
		Platform:    platform,
		Environment: environment,
	}
	slog.Info("Registered push token",
		"watch_id", watchID, "platform", platform, "environment", environment)
	s.scheduleSaveLocked()
}

// Get returns the entry for a watch.
func (s *FileTokenStore) Get(watchID string) (hub.TokenEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tokens[watchID]
	return entry, ok
}

// Remove drops a watch's token.
func (s *FileTokenStore) Remove(watchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[watchID]; !ok {
		return
	}
	delete(s.tokens, watchID)
	s.scheduleSaveLocked()
}

// All returns a copy of the registered tokens.
func (s *FileTokenStore) All() map[string]hub.TokenEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]hub.TokenEntry, len(s.tokens))
	for id, entry := range s.tokens {
		out[id] = entry
	}
	return out
}

// Flush cancels any pending debounce and writes immediately. Called on
// shutdown.
func (s *FileTokenStore) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	data := s.serializeLocked()
	s.mu.Unlock()
	return s.write(data)
}

func (s *FileTokenStore) scheduleSaveLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		s.timer = nil
		data := s.serializeLocked()
		s.mu.Unlock()
		if err := s.write(data); err != nil {
			slog.Error("Could not persist notification tokens", "error", err)
		}
	})
}

func (s *FileTokenStore) serializeLocked() []byte {
	data, err := json.MarshalIndent(storeFile{Tokens: s.tokens}, "", "  ")
	if err != nil {
		// Token entries are plain strings; this cannot fail in practice.
		slog.Error("Could not serialize notification tokens", "error", err)
		return nil
	}
	return data
}

func (s *FileTokenStore) write(data []byte) error {
	if data == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace token store: %w", err)
	}
	return nil
}
