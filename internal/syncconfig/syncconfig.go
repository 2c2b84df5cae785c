// Package syncconfig reads and writes the global client configuration and
// credentials under ~/.config/ftrace/.
package syncconfig

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SyncConfig holds sync-related settings.
type SyncConfig struct {
	URL      string `json:"url"`
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval,omitempty"` // duration string, default "5m"
}

// Config is the global ftrace config stored at ~/.config/ftrace/config.json.
type Config struct {
	Sync SyncConfig `json:"sync"`
}

// AuthCredentials stores authentication state at ~/.config/ftrace/auth.json.
type AuthCredentials struct {
	APIKey    string `json:"api_key"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	ServerURL string `json:"server_url"`
	DeviceID  string `json:"device_id"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

const defaultServerURL = "http://localhost:8080"

// ConfigDir returns ~/.config/ftrace, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "ftrace")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the global config, returning defaults when absent.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes the global config.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads credentials, or nil when not logged in.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveAuth writes credentials (0600 perms).
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes stored credentials.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsAuthenticated reports whether non-expired credentials exist.
func IsAuthenticated() bool {
	creds, err := LoadAuth()
	if err != nil || creds == nil || creds.APIKey == "" {
		return false
	}
	if creds.ExpiresAt != "" {
		if exp, perr := time.Parse(time.RFC3339, creds.ExpiresAt); perr == nil && time.Now().After(exp) {
			return false
		}
	}
	return true
}

// GetServerURL returns the server URL.
// Priority: FTRACE_SYNC_URL env > auth.json > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("FTRACE_SYNC_URL"); v != "" {
		return v
	}
	if creds, err := LoadAuth(); err == nil && creds != nil && creds.ServerURL != "" {
		return creds.ServerURL
	}
	if cfg, err := LoadConfig(); err == nil && cfg.Sync.URL != "" {
		return cfg.Sync.URL
	}
	return defaultServerURL
}

// GetAPIKey returns the API key.
// Priority: FTRACE_AUTH_KEY env > auth.json.
func GetAPIKey() string {
	if v := os.Getenv("FTRACE_AUTH_KEY"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err != nil || creds == nil {
		return ""
	}
	return creds.APIKey
}

// GetUserID returns the authenticated user id, or empty.
func GetUserID() string {
	creds, err := LoadAuth()
	if err != nil || creds == nil {
		return ""
	}
	return creds.UserID
}

// GetDeviceID returns the stable device id, generating and persisting one
// on first use.
func GetDeviceID() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "device_id")
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return string(data), nil
	}

	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	id := "dev_" + hex.EncodeToString(bytes)
	if err := os.WriteFile(path, []byte(id), 0644); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}

// SyncInterval returns the background drain interval.
// Priority: FTRACE_SYNC_INTERVAL env > config.json > default (5m).
func SyncInterval() time.Duration {
	if v := os.Getenv("FTRACE_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Interval != "" {
		if d, perr := time.ParseDuration(cfg.Sync.Interval); perr == nil && d > 0 {
			return d
		}
	}
	return 5 * time.Minute
}
