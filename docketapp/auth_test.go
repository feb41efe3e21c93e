package docketapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/etnz/docket/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
)

func TestOAuthConfig(t *testing.T) {
	cfg, err := OAuthConfig(config.OAuthConfig{ClientID: "id"})
	require.NoError(t, err)
	assert.Equal(t, "id", cfg.ClientID)
	assert.Equal(t, []string{drive.DriveReadonlyScope}, cfg.Scopes)
	assert.Equal(t, config.DefaultLoopbackURL, cfg.RedirectURL)

	_, err = OAuthConfig(config.OAuthConfig{})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "client.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"installed":{"client_id":"file-id","client_secret":"s","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`), 0600))
	cfg, err = OAuthConfig(config.OAuthConfig{CredentialsFile: path, RedirectURL: "http://localhost:9999/cb"})
	require.NoError(t, err)
	assert.Equal(t, "file-id", cfg.ClientID)
	assert.Equal(t, "http://localhost:9999/cb", cfg.RedirectURL)
}

func TestFileTokenStore(t *testing.T) {
	s := FileTokenStore{Path: filepath.Join(t.TempDir(), "nested", "token.json")}

	tok, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, tok)

	require.NoError(t, s.Save(&oauth2.Token{AccessToken: "a", RefreshToken: "r"}))
	info, err := os.Stat(s.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	tok, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, "r", tok.RefreshToken)

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear(), "clearing twice is fine")
	tok, err = s.Load()
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestTokenManager(t *testing.T) {
	store := FileTokenStore{Path: filepath.Join(t.TempDir(), "token.json")}
	tm := NewTokenManager(store)

	_, err := tm.Token()
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = tm.AuthCodeURL("state")
	assert.ErrorIs(t, err, ErrNotReady)
	assert.False(t, tm.SetConfig(&oauth2.Config{ClientID: "id"}), "nothing stored yet")

	raw, err := tm.AuthCodeURL("xyz")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "consent", u.Query().Get("prompt"))
	assert.Equal(t, "offline", u.Query().Get("access_type"))
	assert.Equal(t, "xyz", u.Query().Get("state"))

	tm.Attach(&oauth2.Token{AccessToken: "a"})
	assert.True(t, tm.Connected())
	tok, err := tm.Token()
	require.NoError(t, err)
	assert.Equal(t, "a", tok.AccessToken)

	// A new manager over the same store restores the token.
	restored := NewTokenManager(store)
	assert.True(t, restored.SetConfig(&oauth2.Config{ClientID: "id"}))
	assert.True(t, restored.Connected())

	tm.Detach()
	assert.False(t, tm.Connected())
	_, err = tm.Token()
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = os.Stat(store.Path)
	assert.True(t, os.IsNotExist(err))
}

// fakeTokenEndpoint returns an OAuth config whose token endpoint accepts
// the code "good".
func fakeTokenEndpoint(t *testing.T) *oauth2.Config {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") != "good" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		fmt.Fprint(w, `{"access_token":"access-token","token_type":"Bearer","refresh_token":"refresh","expires_in":3600}`)
	}))
	t.Cleanup(srv.Close)
	return &oauth2.Config{
		ClientID:    "client-id",
		RedirectURL: "http://localhost:8085",
		Scopes:      []string{drive.DriveReadonlyScope},
		Endpoint:    oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
	}
}

func TestSession_ConnectFlow(t *testing.T) {
	app := newTestApp(t, nil)
	oauthCfg := fakeTokenEndpoint(t)
	s := startSession(t, app, SessionOptions{
		Files:       &fakeFiles{},
		TokenClient: func(context.Context) (*oauth2.Config, error) { return oauthCfg, nil },
	})
	require.Equal(t, msgConnect, s.State().Status)

	raw, err := s.Toggle()
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)

	// Replayed or forged state values are rejected.
	err = s.CompleteAuth(context.Background(), "forged", "good", "")
	assert.ErrorIs(t, err, ErrAuthState)
	assert.Equal(t, msgSignInFailed, s.State().Status)
	assert.False(t, s.State().Connected)

	raw, err = s.AuthURL()
	require.NoError(t, err)
	u, _ = url.Parse(raw)
	require.NoError(t, s.CompleteAuth(context.Background(), u.Query().Get("state"), "good", ""))
	st := s.State()
	assert.True(t, st.Connected)
	assert.Equal(t, msgReady, st.Status)

	// Disconnecting returns to the detached state.
	raw, err = s.Toggle()
	require.NoError(t, err)
	assert.Empty(t, raw)
	st = s.State()
	assert.False(t, st.Connected)
	assert.Equal(t, msgConnect, st.Status)
	_, err = s.tokens.Token()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSession_AuthFailures(t *testing.T) {
	app := newTestApp(t, nil)
	oauthCfg := fakeTokenEndpoint(t)
	s := startSession(t, app, SessionOptions{
		Files:       &fakeFiles{},
		TokenClient: func(context.Context) (*oauth2.Config, error) { return oauthCfg, nil },
	})

	for name, complete := range map[string]func(state string) error{
		"denied":   func(state string) error { return s.CompleteAuth(context.Background(), state, "", "access_denied") },
		"bad code": func(state string) error { return s.CompleteAuth(context.Background(), state, "bad", "") },
		"no code":  func(state string) error { return s.CompleteAuth(context.Background(), state, "", "") },
	} {
		t.Run(name, func(t *testing.T) {
			raw, err := s.AuthURL()
			require.NoError(t, err)
			u, _ := url.Parse(raw)

			assert.Error(t, complete(u.Query().Get("state")))
			assert.Equal(t, msgSignInFailed, s.State().Status)
			assert.False(t, s.State().Connected)
		})
	}
}

func TestSession_LoginLoopback(t *testing.T) {
	app := newTestApp(t, nil)
	oauthCfg := fakeTokenEndpoint(t)
	oauthCfg.RedirectURL = "http://127.0.0.1:18085/callback"
	s := startSession(t, app, SessionOptions{
		Files:       &fakeFiles{},
		TokenClient: func(context.Context) (*oauth2.Config, error) { return oauthCfg, nil },
	})

	orig := openURL
	t.Cleanup(func() { openURL = orig })
	// The "browser" follows the consent page straight to the callback.
	openURL = func(raw string) error {
		u, err := url.Parse(raw)
		if err != nil {
			return err
		}
		go func() {
			resp, err := http.Get(oauthCfg.RedirectURL + "?code=good&state=" + url.QueryEscape(u.Query().Get("state")))
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}

	require.NoError(t, s.LoginLoopback(context.Background(), io.Discard))
	assert.True(t, s.State().Connected)
}

func TestSession_LoginLoopbackIgnoresStrayRequests(t *testing.T) {
	app := newTestApp(t, nil)
	oauthCfg := fakeTokenEndpoint(t)
	oauthCfg.RedirectURL = "http://127.0.0.1:18086"
	s := startSession(t, app, SessionOptions{
		Files:       &fakeFiles{},
		TokenClient: func(context.Context) (*oauth2.Config, error) { return oauthCfg, nil },
	})

	orig := openURL
	t.Cleanup(func() { openURL = orig })
	browsed := make(chan int, 1)
	openURL = func(raw string) error {
		u, err := url.Parse(raw)
		if err != nil {
			return err
		}
		callback := oauthCfg.RedirectURL + "/?code=good&state=" + url.QueryEscape(u.Query().Get("state"))
		go func() {
			faviconStatus := 0
			if resp, err := http.Get(oauthCfg.RedirectURL + "/favicon.ico"); err == nil {
				faviconStatus = resp.StatusCode
				resp.Body.Close()
			}
			// Callback, then the page's favicon and a reload of the callback.
			for _, target := range []string{callback, oauthCfg.RedirectURL + "/favicon.ico", callback} {
				if resp, err := http.Get(target); err == nil {
					resp.Body.Close()
				}
			}
			browsed <- faviconStatus
		}()
		return nil
	}

	require.NoError(t, s.LoginLoopback(context.Background(), io.Discard))
	select {
	case status := <-browsed:
		assert.Equal(t, http.StatusNotFound, status)
	case <-time.After(2 * time.Second):
		t.Fatal("browser requests did not finish")
	}
	st := s.State()
	assert.True(t, st.Connected)
	assert.Equal(t, msgReady, st.Status)
}
