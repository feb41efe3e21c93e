// Package config loads the Drive Docket configuration from defaults, an
// optional .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendFirestore = "firestore"
	BackendSQLite    = "sqlite"
	BackendMemory    = "memory"
)

// DefaultClientID is the OAuth client of the Drive Docket application.
// It must be a "Web application" or "Desktop app" client with the redirect
// URLs used by the terminal and web surfaces registered.
const DefaultClientID = "1051406156880-7ioino92aq49tol8kc5d4aco60p7s7h4.apps.googleusercontent.com"

const (
	DefaultAddr            = ":8080"
	DefaultLoopbackURL     = "http://localhost:8085"
	DefaultLoadTimeout     = 15 * time.Second
	DefaultFetchTimeout    = 60 * time.Second
	DefaultMaxContentBytes = 1 << 20 // Firestore document size limit
)

// Config is the runtime configuration.
type Config struct {
	// Addr is the listen address of the web surface.
	Addr string
	// Dir holds the local state of the terminal surface (identity, token, sqlite db).
	Dir string

	Store StoreConfig
	OAuth OAuthConfig

	// IdentitySecret signs anonymous identity tokens. When empty a secret is
	// generated once and kept in Dir.
	IdentitySecret string

	LoadTimeout     time.Duration
	FetchTimeout    time.Duration
	MaxContentBytes int64

	LogLevel string
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	Backend         string
	SQLitePath      string
	ProjectID       string
	CredentialsFile string
}

// OAuthConfig configures the Google token client.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	// CredentialsFile is an OAuth client JSON downloaded from the Cloud
	// Console. When set it takes precedence over ClientID and ClientSecret.
	CredentialsFile string
	RedirectURL     string
}

// Load builds a Config. A missing .env file is not an error.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	dir, err := defaultDir()
	if err != nil {
		return nil, err
	}

	c := &Config{
		Addr: env("DOCKET_ADDR", DefaultAddr),
		Dir:  env("DOCKET_DIR", dir),
		Store: StoreConfig{
			Backend:         strings.ToLower(env("DOCKET_STORE", BackendSQLite)),
			SQLitePath:      os.Getenv("DOCKET_SQLITE_PATH"),
			ProjectID:       os.Getenv("FIRESTORE_PROJECT_ID"),
			CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		},
		OAuth: OAuthConfig{
			ClientID:        env("GOOGLE_CLIENT_ID", DefaultClientID),
			ClientSecret:    os.Getenv("GOOGLE_CLIENT_SECRET"),
			CredentialsFile: os.Getenv("GOOGLE_CLIENT_CREDENTIALS"),
			RedirectURL:     os.Getenv("DOCKET_REDIRECT_URL"),
		},
		IdentitySecret: os.Getenv("DOCKET_IDENTITY_SECRET"),
		LogLevel:       env("DOCKET_LOG_LEVEL", "info"),
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = filepath.Join(c.Dir, "docket.db")
	}

	if c.LoadTimeout, err = durationEnv("DOCKET_LOAD_TIMEOUT", DefaultLoadTimeout); err != nil {
		return nil, err
	}
	if c.FetchTimeout, err = durationEnv("DOCKET_FETCH_TIMEOUT", DefaultFetchTimeout); err != nil {
		return nil, err
	}
	if c.MaxContentBytes, err = intEnv("DOCKET_MAX_CONTENT_BYTES", DefaultMaxContentBytes); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports configuration errors that make initialization impossible.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendFirestore:
		if c.Store.ProjectID == "" {
			return errors.New("firestore backend requires FIRESTORE_PROJECT_ID")
		}
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("sqlite backend requires DOCKET_SQLITE_PATH")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.OAuth.ClientID == "" && c.OAuth.CredentialsFile == "" {
		return errors.New("missing Google OAuth client ID")
	}
	return nil
}

// defaultDir returns <UserConfigDir>/docket.
func defaultDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "docket"), nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
