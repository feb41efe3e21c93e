// Package docketapp is the core of Drive Docket: it bootstraps the
// document store and anonymous identities, loads the Google services, and
// runs per-user sessions with the fetch-and-store workflow and the live
// document list.
package docketapp

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/etnz/docket/config"
	"github.com/etnz/docket/identity"
	"github.com/etnz/docket/store"
	"google.golang.org/api/option"
)

// App holds the application's shared dependencies: the configuration, the
// document store and the identity issuer.
type App struct {
	cfg       *config.Config
	Store     store.Store
	Issuer    *identity.Issuer
	driveOpts []option.ClientOption
	ownsStore bool
}

// Option customizes an App.
type Option func(*App)

// WithStore uses st instead of opening the configured backend. The App
// does not close it.
func WithStore(st store.Store) Option {
	return func(a *App) { a.Store = st }
}

// WithIssuer uses iss instead of the configured identity secret.
func WithIssuer(iss *identity.Issuer) Option {
	return func(a *App) { a.Issuer = iss }
}

// WithDriveOptions adds client options to every Drive client.
func WithDriveOptions(opts ...option.ClientOption) Option {
	return func(a *App) { a.driveOpts = append(a.driveOpts, opts...) }
}

// New creates and returns a new, fully initialized App instance. Every
// failure wraps ErrInitialization.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: missing configuration", ErrInitialization)
	}
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.Store == nil {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
		}
		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
		}
		a.Store, a.ownsStore = st, true
	}

	if a.Issuer == nil {
		iss, err := newIssuer(cfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
		}
		a.Issuer = iss
	}
	return a, nil
}

func openStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	switch c.Backend {
	case config.BackendFirestore:
		return store.OpenFirestore(ctx, c.ProjectID, c.CredentialsFile)
	case config.BackendSQLite:
		return store.OpenSQLite(ctx, c.SQLitePath)
	case config.BackendMemory:
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Backend)
	}
}

func newIssuer(cfg *config.Config) (*identity.Issuer, error) {
	if cfg.IdentitySecret != "" {
		return identity.NewIssuer([]byte(cfg.IdentitySecret))
	}
	secret, err := identity.LoadOrCreateSecret(filepath.Join(cfg.Dir, "identity.key"))
	if err != nil {
		return nil, err
	}
	return identity.NewIssuer(secret)
}

// Config returns the configuration the App was created with.
func (a *App) Config() *config.Config { return a.cfg }

// NewSession returns a session that is not started yet.
func (a *App) NewSession(opts SessionOptions) *Session {
	return newSession(a, opts)
}

// NewLocalSession returns a session for the terminal: the identity and the
// Google token are kept in the configuration directory between runs.
func (a *App) NewLocalSession() *Session {
	identityPath := filepath.Join(a.cfg.Dir, "identity.json")
	return a.NewSession(SessionOptions{
		Identity: func(context.Context) (identity.Identity, error) {
			return a.Issuer.LoadOrSignIn(identityPath)
		},
		Tokens: FileTokenStore{Path: DefaultTokenPath(a.cfg.Dir)},
	})
}

func (a *App) driveOptions(extra []option.ClientOption) []option.ClientOption {
	opts := append([]option.ClientOption{}, a.driveOpts...)
	return append(opts, extra...)
}

// Close releases the store when the App opened it.
func (a *App) Close() error {
	if a.ownsStore && a.Store != nil {
		return a.Store.Close()
	}
	return nil
}
