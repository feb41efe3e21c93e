package docketapp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/etnz/docket/config"
	"github.com/etnz/docket/identity"
	"github.com/etnz/docket/store"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeFiles is a FileSource recording the calls it receives.
type fakeFiles struct {
	mu    sync.Mutex
	calls []string

	meta     map[string]FileMeta
	content  string
	metaErr  error
	fetchErr error
	// block, when set, holds Metadata until it is closed.
	block chan struct{}
}

func (f *fakeFiles) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeFiles) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeFiles) Metadata(ctx context.Context, fileID string) (FileMeta, error) {
	f.record("metadata " + fileID)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return FileMeta{}, ctx.Err()
		}
	}
	if f.metaErr != nil {
		return FileMeta{}, f.metaErr
	}
	m, ok := f.meta[fileID]
	if !ok {
		m = FileMeta{Name: "Untitled", MimeType: "text/plain"}
	}
	m.ID = fileID
	return m, nil
}

func (f *fakeFiles) Export(ctx context.Context, fileID, mimeType string) (string, error) {
	f.record("export " + fileID + " " + mimeType)
	return f.content, f.fetchErr
}

func (f *fakeFiles) Download(ctx context.Context, fileID string) (string, error) {
	f.record("download " + fileID)
	return f.content, f.fetchErr
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Dir:             t.TempDir(),
		Store:           config.StoreConfig{Backend: config.BackendMemory},
		OAuth:           config.OAuthConfig{ClientID: "client-id", RedirectURL: "http://localhost:8085"},
		IdentitySecret:  "0123456789abcdef0123456789abcdef",
		LoadTimeout:     time.Second,
		FetchTimeout:    5 * time.Second,
		MaxContentBytes: 1 << 20,
	}
}

func newTestApp(t *testing.T, st store.Store) *App {
	t.Helper()
	app, err := New(context.Background(), testConfig(t), WithStore(st))
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

func signIn(app *App) func(context.Context) (identity.Identity, error) {
	return func(context.Context) (identity.Identity, error) { return app.Issuer.SignIn() }
}

// startSession starts a session over files and waits until it is ready.
func startSession(t *testing.T, app *App, opts SessionOptions) *Session {
	t.Helper()
	if opts.Identity == nil {
		opts.Identity = signIn(app)
	}
	if opts.TokenClient == nil {
		opts.TokenClient = func(context.Context) (*oauth2.Config, error) {
			return &oauth2.Config{ClientID: "client-id", RedirectURL: "http://localhost:8085"}, nil
		}
	}
	s := app.NewSession(opts)
	s.Start(context.Background())
	t.Cleanup(s.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.WaitReady(ctx))
	return s
}

// connect attaches a non expiring token.
func connect(s *Session) {
	s.tokens.Attach(&oauth2.Token{AccessToken: "access-token", TokenType: "Bearer"})
	s.refresh()
}

// eventuallyDocs waits until the session lists n documents.
func eventuallyDocs(t *testing.T, s *Session, n int) []store.Document {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.State().Documents) == n }, 2*time.Second, 10*time.Millisecond)
	return s.State().Documents
}
