// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/tolmanw/strava-auth-link/internal/domain/model"
)

// maxSyncAttempts mirrors the synchronizer's retry bound.
const maxSyncAttempts = 5

const (
	// StravaTimeout bounds each request to the Strava token and profile endpoints.
	StravaTimeout = 15 * time.Second

	// retrySlack covers the backoff wait and local file write of one sync attempt.
	retrySlack = 5 * time.Second
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string

	StravaClientID     string
	StravaClientSecret string
	StravaRedirectURL  string

	DataFile string

	GitHubToken  string
	GitHubRepo   string
	GitHubPath   string
	GitHubBranch string

	PersistPolicy    model.PersistPolicy
	SyncAttempts     int
	RemoteTimeout    time.Duration
	RecordTimestamps bool

	AdminUser              string
	AdminPass              string
	AdminFailuresPerMinute int
	FrontendURL            string
	DBPath                 string
}

// MirrorEnabled returns true when both GitHubToken and GitHubRepo are set.
// Without them the service runs against the local file only.
func (c *Config) MirrorEnabled() bool {
	return c.GitHubToken != "" && c.GitHubRepo != ""
}

// AdminEnabled returns true when admin credentials are configured.
func (c *Config) AdminEnabled() bool {
	return c.AdminUser != ""
}

// WriteTimeout returns the HTTP server write deadline. It covers the slowest
// exchange request under the sync policy: the Strava token and profile calls
// followed by SyncAttempts rounds of remote fetch and upload.
func (c *Config) WriteTimeout() time.Duration {
	perAttempt := 2*c.RemoteTimeout + retrySlack
	return 2*StravaTimeout + time.Duration(c.SyncAttempts)*perAttempt
}

// Load reads an optional .env file from the working directory and then the
// STRAVALINK_ environment variables, returning a validated Config. Variables
// already present in the environment take precedence over .env entries.
//
// Required: STRAVALINK_STRAVA_CLIENT_ID, STRAVALINK_STRAVA_CLIENT_SECRET.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is not an error.
func LoadFile(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		ListenAddr:         stringEnv("STRAVALINK_LISTEN_ADDR", ":3000"),
		StravaClientID:     os.Getenv("STRAVALINK_STRAVA_CLIENT_ID"),
		StravaClientSecret: os.Getenv("STRAVALINK_STRAVA_CLIENT_SECRET"),
		StravaRedirectURL:  os.Getenv("STRAVALINK_STRAVA_REDIRECT_URL"),
		DataFile:           stringEnv("STRAVALINK_DATA_FILE", "tokens.json"),
		GitHubToken:        os.Getenv("STRAVALINK_GITHUB_TOKEN"),
		GitHubRepo:         os.Getenv("STRAVALINK_GITHUB_REPO"),
		GitHubBranch:       stringEnv("STRAVALINK_GITHUB_BRANCH", "main"),
		AdminUser:          os.Getenv("STRAVALINK_ADMIN_USER"),
		AdminPass:          os.Getenv("STRAVALINK_ADMIN_PASS"),
		FrontendURL:        stringEnv("STRAVALINK_FRONTEND_URL", "*"),
		DBPath:             stringEnv("STRAVALINK_DB_PATH", "stravalink.db"),
	}
	cfg.GitHubPath = stringEnv("STRAVALINK_GITHUB_PATH", filepath.Base(cfg.DataFile))

	if cfg.StravaClientID == "" {
		return nil, errors.New("STRAVALINK_STRAVA_CLIENT_ID is required")
	}
	if cfg.StravaClientSecret == "" {
		return nil, errors.New("STRAVALINK_STRAVA_CLIENT_SECRET is required")
	}

	if (cfg.AdminUser == "") != (cfg.AdminPass == "") {
		return nil, errors.New("STRAVALINK_ADMIN_USER and STRAVALINK_ADMIN_PASS must be set together")
	}

	policy, err := model.ParsePersistPolicy(stringEnv("STRAVALINK_PERSIST_POLICY", string(model.PersistSync)))
	if err != nil {
		return nil, fmt.Errorf("STRAVALINK_PERSIST_POLICY: %w", err)
	}
	cfg.PersistPolicy = policy

	if cfg.SyncAttempts, err = intEnv("STRAVALINK_SYNC_ATTEMPTS", 1); err != nil {
		return nil, err
	}
	if cfg.SyncAttempts < 1 || cfg.SyncAttempts > maxSyncAttempts {
		return nil, fmt.Errorf("STRAVALINK_SYNC_ATTEMPTS must be between 1 and %d, got %d", maxSyncAttempts, cfg.SyncAttempts)
	}

	if cfg.RemoteTimeout, err = durationEnv("STRAVALINK_REMOTE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RemoteTimeout <= 0 {
		return nil, fmt.Errorf("STRAVALINK_REMOTE_TIMEOUT must be positive, got %s", cfg.RemoteTimeout)
	}

	if cfg.RecordTimestamps, err = boolEnv("STRAVALINK_RECORD_TIMESTAMPS", false); err != nil {
		return nil, err
	}

	if cfg.AdminFailuresPerMinute, err = intEnv("STRAVALINK_ADMIN_FAILURES_PER_MINUTE", 10); err != nil {
		return nil, err
	}
	if cfg.AdminFailuresPerMinute < 1 {
		return nil, fmt.Errorf("STRAVALINK_ADMIN_FAILURES_PER_MINUTE must be positive, got %d", cfg.AdminFailuresPerMinute)
	}

	return cfg, nil
}

func stringEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	return d, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s has invalid boolean %q: %w", key, v, err)
	}
	return b, nil
}
