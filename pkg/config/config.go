// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nylondiamond/wristhub/pkg/delta"
)

// Config holds all service tunables.
type Config struct {
	// HTTPPort is the port the JSON API listens on.
	HTTPPort string

	// HubURL and HubToken point the bridge at the home-automation hub.
	HubURL   string
	HubToken string

	// StorageDir holds the push-token and auth stores.
	StorageDir string

	// APIToken is the static bootstrap bearer token accepted by the auth
	// gate alongside minted access tokens. Optional.
	APIToken string

	// OwnerName labels the account pairing issues tokens for.
	OwnerName string

	// RingSize is the delta log capacity.
	RingSize int

	// PushGatewayURL is the external push gateway endpoint. Empty disables
	// push forwarding.
	PushGatewayURL string

	// BaseURL, LocalURL, and RemoteURL are the service URLs embedded in
	// pairing payloads.
	BaseURL   string
	LocalURL  string
	RemoteURL string

	// FrameWorkers bounds concurrent camera frame processing; 0 means
	// GOMAXPROCS.
	FrameWorkers int
}

// LoadFromEnv reads configuration from the environment.
func LoadFromEnv() (Config, error) {
	ringSize, err := intEnv("RING_SIZE", delta.DefaultRingSize)
	if err != nil {
		return Config{}, err
	}
	frameWorkers, err := intEnv("FRAME_WORKERS", 0)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		HTTPPort:       getEnvOrDefault("HTTP_PORT", "8127"),
		HubURL:         os.Getenv("HUB_URL"),
		HubToken:       os.Getenv("HUB_TOKEN"),
		StorageDir:     getEnvOrDefault("STORAGE_DIR", "./data"),
		APIToken:       os.Getenv("API_TOKEN"),
		OwnerName:      getEnvOrDefault("OWNER_NAME", "owner"),
		RingSize:       ringSize,
		PushGatewayURL: os.Getenv("PUSH_GATEWAY_URL"),
		BaseURL:        os.Getenv("BASE_URL"),
		LocalURL:       os.Getenv("LOCAL_URL"),
		RemoteURL:      os.Getenv("REMOTE_URL"),
		FrameWorkers:   frameWorkers,
	}

	if cfg.HubURL == "" {
		return Config{}, fmt.Errorf("HUB_URL is required")
	}
	if cfg.HubToken == "" {
		return Config{}, fmt.Errorf("HUB_TOKEN is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = cfg.HubURL
	}
	return cfg, nil
}

// PushTokenPath returns the push-token store file path.
func (c Config) PushTokenPath() string {
	return filepath.Join(c.StorageDir, "notification_tokens.json")
}

// AuthStorePath returns the auth store file path.
func (c Config) AuthStorePath() string {
	return filepath.Join(c.StorageDir, "auth.json")
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func intEnv(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
