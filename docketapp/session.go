package docketapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/etnz/docket/identity"
	"github.com/etnz/docket/logger"
	"github.com/etnz/docket/store"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// State is a snapshot of a session, the only input of the presentation
// surfaces.
type State struct {
	Initialized       bool             `json:"initialized"`
	AuthReady         bool             `json:"authReady"`
	UserID            string           `json:"userId,omitempty"`
	DriveLoaded       bool             `json:"driveLoaded"`
	TokenClientLoaded bool             `json:"tokenClientLoaded"`
	Connected         bool             `json:"connected"`
	Status            string           `json:"status"`
	Loading           bool             `json:"loading"`
	Input             string           `json:"input"`
	Preview           string           `json:"preview"`
	Documents         []store.Document `json:"documents"`
	Selected          *store.Document  `json:"selected,omitempty"`
}

// ServicesReady reports whether a fetch may start.
func (s State) ServicesReady() bool {
	return s.Initialized && s.AuthReady && s.DriveLoaded && s.TokenClientLoaded && s.Connected
}

// SessionOptions configures a session.
type SessionOptions struct {
	// Identity obtains the anonymous identity of the session user.
	Identity func(ctx context.Context) (identity.Identity, error)
	// Tokens persists the Google token between runs. Optional.
	Tokens TokenStore
	// RedirectURL overrides the configured OAuth redirect URL.
	RedirectURL string
	// TokenClient overrides how the OAuth token client is loaded.
	TokenClient func(ctx context.Context) (*oauth2.Config, error)
	// Files overrides the Drive API file source.
	Files FileSource
	// DriveOptions are appended to the Drive client options.
	DriveOptions []option.ClientOption
}

// Session is one user's view of the application: identity, Google
// connection, loaded services, status line, fetch input and preview, and
// the live document list.
type Session struct {
	app    *App
	opts   SessionOptions
	tokens *TokenManager
	view   *View

	loader      *Loader
	files       *Resource[FileSource]
	tokenClient *Resource[*oauth2.Config]
	identDone   chan struct{}

	mu         sync.Mutex
	started    bool
	ident      identity.Identity
	identErr   error
	authReady  bool
	status     string
	loading    bool
	input      string
	preview    string
	oauthState string

	// refreshMu serializes status derivations so the last one written is
	// computed from the latest flags.
	refreshMu sync.Mutex

	subsMu  sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

func newSession(app *App, opts SessionOptions) *Session {
	s := &Session{
		app:       app,
		opts:      opts,
		tokens:    NewTokenManager(opts.Tokens),
		identDone: make(chan struct{}),
		status:    msgInitializing,
		subs:      make(map[int]chan struct{}),
	}
	s.view = NewView(app.Store, s.setStatus)
	return s
}

// Start obtains the identity and loads the Drive client and the OAuth token
// client in the background. It returns immediately; use WaitReady to block
// until everything settled.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.status = msgLoading
	// Callbacks lock s.mu, so they run once both resources are assigned.
	s.loader = NewLoader(ctx, s.app.cfg.LoadTimeout)
	s.tokenClient = Load(s.loader, "token client", s.loadTokenClient, func(cfg *oauth2.Config, err error) {
		if err == nil && s.tokens.SetConfig(cfg) {
			logger.Sugar.Debugw("restored google token")
		}
		s.refresh()
	})
	s.files = Load(s.loader, "drive client", s.loadFiles, func(FileSource, error) { s.refresh() })
	s.mu.Unlock()

	go func() {
		defer close(s.identDone)
		s.obtainIdentity(ctx)
	}()
}

func (s *Session) obtainIdentity(ctx context.Context) {
	if s.opts.Identity == nil {
		s.identityFailed(errors.New("no identity provider"))
		return
	}
	ident, err := s.opts.Identity(ctx)
	if err != nil {
		s.identityFailed(err)
		return
	}

	s.mu.Lock()
	s.ident = ident
	s.identErr = nil
	s.authReady = true
	s.mu.Unlock()
	logger.Sugar.Infow("user signed in", "user", ident.UserID)

	if err := s.view.Start(ctx, ident.UserID); err != nil {
		s.notify()
		return
	}
	s.refresh()
}

func (s *Session) identityFailed(err error) {
	logger.Sugar.Errorw("anonymous sign-in failed", "error", err)
	s.mu.Lock()
	s.identErr = err
	s.authReady = false
	s.status = msgIdentityFailed
	s.mu.Unlock()
	s.notify()
}

func (s *Session) loadTokenClient(ctx context.Context) (*oauth2.Config, error) {
	if s.opts.TokenClient != nil {
		return s.opts.TokenClient(ctx)
	}
	c := s.app.cfg.OAuth
	if s.opts.RedirectURL != "" {
		c.RedirectURL = s.opts.RedirectURL
	}
	return OAuthConfig(c)
}

func (s *Session) loadFiles(ctx context.Context) (FileSource, error) {
	if s.opts.Files != nil {
		return s.opts.Files, nil
	}
	svc, err := NewDriveService(ctx, s.tokens, s.app.driveOptions(s.opts.DriveOptions)...)
	if err != nil {
		return nil, err
	}
	return NewDriveSource(svc, s.app.cfg.MaxContentBytes), nil
}

func (s *Session) resources() (*Resource[FileSource], *Resource[*oauth2.Config]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files, s.tokenClient
}

// WaitReady blocks until the identity and both services settled, whatever
// the outcome, or ctx is done.
func (s *Session) WaitReady(ctx context.Context) error {
	files, tokenClient := s.resources()
	if files == nil {
		return ErrNotReady
	}
	for _, ch := range []<-chan struct{}{s.identDone, tokenClient.Ready(), files.Ready()} {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Identity returns the session user, once signed in.
func (s *Session) Identity() (identity.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ident, s.authReady
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	st := State{
		Initialized: true,
		Connected:   s.tokens.Connected(),
		Documents:   s.view.Documents(),
	}
	if st.Documents == nil {
		st.Documents = []store.Document{}
	}
	if files, tokenClient := s.resources(); files != nil {
		st.DriveLoaded = files.Loaded()
		st.TokenClientLoaded = tokenClient.Loaded()
	}
	if d, ok := s.view.Selected(); ok {
		st.Selected = &d
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st.AuthReady = s.authReady
	st.UserID = s.ident.UserID
	st.Status = s.status
	st.Loading = s.loading
	st.Input = s.input
	st.Preview = s.preview
	return st
}

// refresh recomputes the status line from the readiness and connection
// flags, replacing any action status.
func (s *Session) refresh() {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	connected := s.tokens.Connected()
	var loadFailed, loaded bool
	if files, tokenClient := s.resources(); files != nil {
		loadFailed = files.Failed() || tokenClient.Failed()
		loaded = files.Loaded() && tokenClient.Loaded()
	}
	watchErr := s.view.Err()

	s.mu.Lock()
	switch {
	case s.identErr != nil:
		s.status = msgIdentityFailed
	case watchErr != nil:
		s.status = msgWatchFailed
	case loadFailed:
		s.status = msgLoadFailed
	case !s.authReady || !loaded:
		s.status = msgLoading
	case !connected:
		s.status = msgConnect
	default:
		s.status = msgReady
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) setStatus(msg string) {
	s.mu.Lock()
	s.status = msg
	s.mu.Unlock()
	s.notify()
}

// SetInput sets the URL input field.
func (s *Session) SetInput(url string) {
	s.mu.Lock()
	s.input = url
	s.mu.Unlock()
	s.notify()
}

// ClearPreview clears the preview pane.
func (s *Session) ClearPreview() {
	s.mu.Lock()
	s.preview = ""
	s.mu.Unlock()
	s.notify()
}

// Select opens the detail view on a document.
func (s *Session) Select(id string) (store.Document, error) {
	d, err := s.view.Select(id)
	if err == nil {
		s.notify()
	}
	return d, err
}

// CloseSelected closes the detail view.
func (s *Session) CloseSelected() {
	s.view.CloseSelected()
	s.notify()
}

// Delete removes a document. The outcome is reported in the status line.
func (s *Session) Delete(ctx context.Context, id string) error {
	return s.view.Delete(ctx, id)
}

// Documents waits for the first snapshot of the document list and returns
// the current list, or the error that ended the subscription.
func (s *Session) Documents(ctx context.Context) ([]store.Document, error) {
	select {
	case <-s.identDone:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if _, ok := s.Identity(); !ok {
		return nil, ErrNotReady
	}
	updates, unsubscribe := s.view.Subscribe()
	defer unsubscribe()
	select {
	case docs, ok := <-updates:
		if !ok {
			return nil, s.view.Err()
		}
		if docs == nil {
			docs = []store.Document{}
		}
		return docs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// View returns the live document list of the session.
func (s *Session) View() *View { return s.view }

// AuthURL starts a connection: it returns the consent page URL bound to a
// fresh state value.
func (s *Session) AuthURL() (string, error) {
	_, tokenClient := s.resources()
	if tokenClient == nil || !tokenClient.Loaded() {
		return "", ErrNotReady
	}
	state, err := newState()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.oauthState = state
	s.mu.Unlock()
	return s.tokens.AuthCodeURL(state)
}

// CompleteAuth handles the OAuth callback. errMsg is the error parameter of
// the callback, if any.
func (s *Session) CompleteAuth(ctx context.Context, state, code, errMsg string) error {
	s.mu.Lock()
	expected := s.oauthState
	s.oauthState = ""
	s.mu.Unlock()

	switch {
	case errMsg != "":
		return s.FailAuth(fmt.Errorf("authorization denied: %s", errMsg))
	case expected == "" || state != expected:
		return s.FailAuth(ErrAuthState)
	case code == "":
		return s.FailAuth(errors.New("authorization code not found in callback"))
	}
	if err := s.tokens.Exchange(ctx, code); err != nil {
		return s.FailAuth(err)
	}
	logger.Sugar.Infow("google account connected")
	s.refresh()
	return nil
}

// FailAuth reports a failed sign-in. The connection state is unchanged.
func (s *Session) FailAuth(err error) error {
	logger.Sugar.Errorw("google sign-in failed", "error", err)
	s.setStatus(msgSignInFailed)
	return fmt.Errorf("google sign-in failed: %w", err)
}

// LoginLoopback connects the Google account through a local callback
// server and the system browser. Instructions are written to w.
func (s *Session) LoginLoopback(ctx context.Context, w io.Writer) error {
	_, tokenClient := s.resources()
	if tokenClient == nil {
		return ErrNotReady
	}
	if _, err := tokenClient.Wait(ctx); err != nil {
		return err
	}
	return loopbackLogin(ctx, s.tokens, w, s.CompleteAuth, s.AuthURL)
}

// Disconnect detaches the Google token.
func (s *Session) Disconnect() {
	s.tokens.Detach()
	logger.Sugar.Infow("google account disconnected")
	s.refresh()
}

// Toggle disconnects a connected session, or returns the consent page URL
// to connect a disconnected one.
func (s *Session) Toggle() (string, error) {
	if s.tokens.Connected() {
		s.Disconnect()
		return "", nil
	}
	return s.AuthURL()
}

// Changes returns a channel signaled after every state change. Call the
// returned function to unsubscribe.
func (s *Session) Changes() (<-chan struct{}, func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	ch := make(chan struct{}, 1)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Session) notify() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close stops the document subscription and releases the loaded services.
func (s *Session) Close() {
	s.view.Stop()
	s.mu.Lock()
	loader := s.loader
	s.mu.Unlock()
	if loader != nil {
		loader.Close()
	}
}
