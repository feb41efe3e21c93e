package docketapp

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/etnz/docket/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

const docURL = "https://docs.google.com/document/d/DOC_1/edit"

func TestFetchAndStore_Success(t *testing.T) {
	mem := store.NewMemory()
	app := newTestApp(t, mem)
	files := &fakeFiles{
		meta:    map[string]FileMeta{"DOC_1": {Name: "Report", MimeType: "application/vnd.google-apps.document"}},
		content: "hello world",
	}
	s := startSession(t, app, SessionOptions{Files: files})
	connect(s)
	require.Equal(t, msgReady, s.State().Status)

	id, err := s.Fetch(context.Background(), docURL)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, []string{"metadata DOC_1", "export DOC_1 text/plain"}, files.Calls())

	st := s.State()
	assert.Equal(t, `Success! Content from "Report" has been saved.`, st.Status)
	assert.Empty(t, st.Input)
	assert.Equal(t, "hello world", st.Preview)
	assert.False(t, st.Loading)

	docs := eventuallyDocs(t, s, 1)
	assert.Equal(t, id, docs[0].ID)
	assert.Equal(t, "Report", docs[0].FileName)
	assert.Equal(t, "hello world", docs[0].Content)
	assert.Equal(t, docURL, docs[0].OriginalURL)
	assert.False(t, docs[0].CreatedAt.IsZero())
}

func TestFetchAndStore_ContentBranch(t *testing.T) {
	tests := []struct {
		mimeType string
		want     string
	}{
		{"application/vnd.google-apps.document", "export DOC_1 text/plain"},
		{"application/vnd.google-apps.spreadsheet", "export DOC_1 text/csv"},
		{"application/vnd.google-apps.presentation", "download DOC_1"},
		{"application/pdf", "download DOC_1"},
	}
	for _, tc := range tests {
		t.Run(tc.mimeType, func(t *testing.T) {
			app := newTestApp(t, store.NewMemory())
			files := &fakeFiles{meta: map[string]FileMeta{"DOC_1": {Name: "f", MimeType: tc.mimeType}}, content: "x"}
			s := startSession(t, app, SessionOptions{Files: files})
			connect(s)

			_, err := s.Fetch(context.Background(), docURL)
			require.NoError(t, err)
			assert.Equal(t, []string{"metadata DOC_1", tc.want}, files.Calls())
		})
	}
}

func TestFetchAndStore_InvalidURL(t *testing.T) {
	app := newTestApp(t, store.NewMemory())
	files := &fakeFiles{}
	s := startSession(t, app, SessionOptions{Files: files})
	connect(s)

	_, err := s.Fetch(context.Background(), "https://docs.google.com/forms/d/abc")
	assert.ErrorIs(t, err, ErrInvalidURL)
	assert.Empty(t, files.Calls())

	st := s.State()
	assert.Equal(t, msgInvalidURL, st.Status)
	assert.Equal(t, "https://docs.google.com/forms/d/abc", st.Input)
}

func TestFetchAndStore_NotReady(t *testing.T) {
	app := newTestApp(t, store.NewMemory())
	files := &fakeFiles{}
	s := startSession(t, app, SessionOptions{Files: files})
	require.Equal(t, msgConnect, s.State().Status)

	_, err := s.Fetch(context.Background(), docURL)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, files.Calls())
	assert.Equal(t, msgNotReady, s.State().Status)
}

func TestFetchAndStore_DriveError(t *testing.T) {
	app := newTestApp(t, store.NewMemory())
	files := &fakeFiles{metaErr: &googleapi.Error{Code: http.StatusNotFound, Message: "File not found: DOC_1."}}
	s := startSession(t, app, SessionOptions{Files: files})
	connect(s)
	s.mu.Lock()
	s.preview = "stale"
	s.mu.Unlock()

	_, err := s.Fetch(context.Background(), docURL)
	require.Error(t, err)

	st := s.State()
	assert.Equal(t, "Error: File not found: DOC_1.", st.Status)
	assert.Empty(t, st.Preview)
	assert.Equal(t, docURL, st.Input)
	assert.True(t, st.Connected)
}

func TestFetchAndStore_UnknownError(t *testing.T) {
	app := newTestApp(t, store.NewMemory())
	files := &fakeFiles{fetchErr: errors.New("connection reset")}
	s := startSession(t, app, SessionOptions{Files: files})
	connect(s)

	_, err := s.Fetch(context.Background(), docURL)
	require.Error(t, err)
	assert.Equal(t, "Error: "+msgUnknownFailure, s.State().Status)
}

func TestFetchAndStore_TooLarge(t *testing.T) {
	app := newTestApp(t, store.NewMemory())
	files := &fakeFiles{fetchErr: ErrContentTooLarge}
	s := startSession(t, app, SessionOptions{Files: files})
	connect(s)

	_, err := s.Fetch(context.Background(), docURL)
	assert.ErrorIs(t, err, ErrContentTooLarge)
	assert.Equal(t, "Error: "+msgContentTooLarge, s.State().Status)
}

type failingStore struct {
	store.Store
	err error
}

func (f failingStore) Create(context.Context, string, store.Document) (string, error) {
	return "", f.err
}

func TestFetchAndStore_StoreError(t *testing.T) {
	app := newTestApp(t, failingStore{Store: store.NewMemory(), err: errors.New("quota exceeded")})
	files := &fakeFiles{content: "abc"}
	s := startSession(t, app, SessionOptions{Files: files})
	connect(s)

	_, err := s.Fetch(context.Background(), docURL)
	require.Error(t, err)

	st := s.State()
	assert.Equal(t, "Error: "+msgUnknownFailure, st.Status)
	assert.Empty(t, st.Preview)
	assert.Equal(t, docURL, st.Input)
}

func TestFetchAndStore_Unauthorized(t *testing.T) {
	app := newTestApp(t, store.NewMemory())
	files := &fakeFiles{metaErr: &googleapi.Error{Code: http.StatusUnauthorized, Message: "Invalid Credentials"}}
	s := startSession(t, app, SessionOptions{Files: files})
	connect(s)

	_, err := s.Fetch(context.Background(), docURL)
	require.Error(t, err)

	st := s.State()
	assert.False(t, st.Connected)
	assert.Equal(t, msgConnectionLost, st.Status)
}

func TestFetchAndStore_Busy(t *testing.T) {
	app := newTestApp(t, store.NewMemory())
	files := &fakeFiles{block: make(chan struct{}), content: "x"}
	s := startSession(t, app, SessionOptions{Files: files})
	connect(s)
	s.SetInput(docURL)

	first := make(chan error, 1)
	go func() {
		_, err := s.FetchAndStore(context.Background())
		first <- err
	}()
	require.Eventually(t, func() bool { return s.State().Loading }, time.Second, 5*time.Millisecond)

	_, err := s.FetchAndStore(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, msgBusy, s.State().Status)

	close(files.block)
	require.NoError(t, <-first)
	assert.Len(t, files.Calls(), 2, "the rejected fetch must not reach Drive")
	eventuallyDocs(t, s, 1)
}
