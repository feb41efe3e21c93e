package docketapp

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/etnz/docket/config"
	"github.com/etnz/docket/logger"
	"github.com/pkg/browser"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// OAuthConfig builds the token client configuration: the fixed client
// identifier and the single read-only Drive scope.
func OAuthConfig(c config.OAuthConfig) (*oauth2.Config, error) {
	redirect := c.RedirectURL
	if redirect == "" {
		redirect = config.DefaultLoopbackURL
	}
	if c.CredentialsFile != "" {
		data, err := os.ReadFile(c.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read OAuth client credentials: %w", err)
		}
		cfg, err := google.ConfigFromJSON(data, drive.DriveReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse OAuth client credentials: %w", err)
		}
		cfg.RedirectURL = redirect
		return cfg, nil
	}
	if c.ClientID == "" {
		return nil, errors.New("missing OAuth client ID")
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  redirect,
		Scopes:       []string{drive.DriveReadonlyScope},
		Endpoint:     google.Endpoint,
	}, nil
}

// TokenStore keeps a Google token between runs.
type TokenStore interface {
	// Load returns the stored token, or nil when there is none.
	Load() (*oauth2.Token, error)
	Save(*oauth2.Token) error
	Clear() error
}

// FileTokenStore stores the token as JSON in a file readable by the user only.
type FileTokenStore struct {
	Path string
}

// DefaultTokenPath returns <dir>/token.json.
func DefaultTokenPath(dir string) string { return filepath.Join(dir, "token.json") }

func (s FileTokenStore) Save(token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(s.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache oauth token: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("failed to encode token to file: %w", err)
	}
	return nil
}

func (s FileTokenStore) Load() (*oauth2.Token, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open token file: %w", err)
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode token from file: %w", err)
	}
	return tok, nil
}

func (s FileTokenStore) Clear() error {
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

// TokenManager holds the Google access token attached to the Drive client.
// It is the oauth2.TokenSource of the Drive HTTP client, so attaching or
// detaching a token takes effect on the next Drive call.
type TokenManager struct {
	mu     sync.Mutex
	config *oauth2.Config
	src    oauth2.TokenSource
	store  TokenStore
}

// NewTokenManager returns a detached manager. store may be nil.
func NewTokenManager(store TokenStore) *TokenManager {
	return &TokenManager{store: store}
}

// SetConfig installs the token client once it is loaded, and attaches the
// stored token if any. It reports whether a stored token was attached.
func (m *TokenManager) SetConfig(cfg *oauth2.Config) bool {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()

	if m.store == nil {
		return false
	}
	tok, err := m.store.Load()
	if err != nil {
		logger.Sugar.Warnw("ignoring stored token", "error", err)
		return false
	}
	if tok == nil {
		return false
	}
	m.attach(tok)
	return true
}

// Token implements oauth2.TokenSource.
func (m *TokenManager) Token() (*oauth2.Token, error) {
	m.mu.Lock()
	src := m.src
	m.mu.Unlock()
	if src == nil {
		return nil, ErrNotConnected
	}
	return src.Token()
}

// Connected reports whether a token is attached.
func (m *TokenManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.src != nil
}

// AuthCodeURL returns the consent page URL. Consent is always prompted.
func (m *TokenManager) AuthCodeURL(state string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config == nil {
		return "", ErrNotReady
	}
	return m.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")), nil
}

// RedirectURL is the OAuth callback URL of the token client.
func (m *TokenManager) RedirectURL() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config == nil {
		return "", ErrNotReady
	}
	return m.config.RedirectURL, nil
}

// Exchange trades an authorization code for a token and attaches it.
func (m *TokenManager) Exchange(ctx context.Context, code string) error {
	m.mu.Lock()
	cfg := m.config
	m.mu.Unlock()
	if cfg == nil {
		return ErrNotReady
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code for token: %w", err)
	}
	m.Attach(tok)
	return nil
}

// Attach attaches tok and stores it.
func (m *TokenManager) Attach(tok *oauth2.Token) {
	m.attach(tok)
	if m.store != nil {
		if err := m.store.Save(tok); err != nil {
			logger.Sugar.Warnw("could not persist token", "error", err)
		}
	}
}

func (m *TokenManager) attach(tok *oauth2.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config != nil {
		// Refreshes with the refresh token when the access token expires.
		m.src = m.config.TokenSource(context.Background(), tok)
	} else {
		m.src = oauth2.StaticTokenSource(tok)
	}
}

// Detach forgets the token. It is not revoked on Google's side.
func (m *TokenManager) Detach() {
	m.mu.Lock()
	m.src = nil
	m.mu.Unlock()
	if m.store != nil {
		if err := m.store.Clear(); err != nil {
			logger.Sugar.Warnw("could not clear stored token", "error", err)
		}
	}
}

// newState returns a random string for CSRF protection.
func newState() (string, error) {
	stateBytes := make([]byte, 16)
	if _, err := rand.Read(stateBytes); err != nil {
		return "", fmt.Errorf("failed to generate random state: %w", err)
	}
	return fmt.Sprintf("%x", stateBytes), nil
}

var errAlreadyHandled = errors.New("callback already handled")

// openURL opens the consent page; replaced in tests.
var openURL = browser.OpenURL

// loopbackLogin runs the OAuth flow through a temporary local server
// listening on the token client redirect URL. It returns once the callback
// was received and handled by complete.
func loopbackLogin(ctx context.Context, tm *TokenManager, w io.Writer, complete func(ctx context.Context, state, code, errMsg string) error, authURL func() (string, error)) error {
	redirect, err := tm.RedirectURL()
	if err != nil {
		return err
	}
	u, err := url.Parse(redirect)
	if err != nil {
		return fmt.Errorf("invalid redirect URL %q: %w", redirect, err)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	listener, err := net.Listen("tcp", u.Host)
	if err != nil {
		return fmt.Errorf("callback server error: %w", err)
	}

	done := make(chan error, 1)
	var handled sync.Once
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(rw http.ResponseWriter, r *http.Request) {
		code, errMsg := r.FormValue("code"), r.FormValue("error")
		if code == "" && errMsg == "" {
			// Not a callback, e.g. /favicon.ico under a "/" redirect path.
			http.NotFound(rw, r)
			return
		}
		err := errAlreadyHandled
		handled.Do(func() {
			err = complete(r.Context(), r.FormValue("state"), code, errMsg)
		})
		if errors.Is(err, errAlreadyHandled) {
			fmt.Fprintf(rw, "Authentication was already handled. You can close this window.")
			return
		}
		if err != nil {
			http.Error(rw, "Authentication failed. You can close this window.", http.StatusBadRequest)
		} else {
			fmt.Fprintf(rw, "✅ Authentication successful! You can now close this browser window and return to the terminal.")
		}
		select {
		case done <- err:
		default:
		}
	})
	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(listener); err != http.ErrServerClosed {
			select {
			case done <- fmt.Errorf("callback server error: %w", err):
			default:
			}
		}
	}()
	defer func() {
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Sugar.Warnw("failed to shutdown callback server", "error", err)
		}
	}()

	consentURL, err := authURL()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Your browser should open for you to grant Drive Docket access to your Google Drive...")
	if err := openURL(consentURL); err != nil {
		fmt.Fprintf(w, "\nIf your browser didn't open, please open this URL manually:\n\n%s\n\n", consentURL)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
