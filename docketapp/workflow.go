package docketapp

import (
	"context"
	"fmt"

	"github.com/etnz/docket/logger"
	"github.com/etnz/docket/store"
)

// Fetch sets the input to url and runs FetchAndStore.
func (s *Session) Fetch(ctx context.Context, url string) (string, error) {
	s.SetInput(url)
	return s.FetchAndStore(ctx)
}

// FetchAndStore fetches the Drive file named by the input URL and saves its
// content in the user's collection. Steps run strictly in order: resolve,
// metadata, content, save. It returns the ID of the saved document.
func (s *Session) FetchAndStore(ctx context.Context) (string, error) {
	files, _ := s.resources()
	st := s.State()

	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		s.setStatus(msgBusy)
		return "", ErrBusy
	}
	if !st.ServicesReady() || s.app.Store == nil {
		s.status = msgNotReady
		s.mu.Unlock()
		s.notify()
		return "", ErrNotReady
	}
	input := s.input
	fileID, ok := ResolveFileID(input)
	if !ok {
		s.status = msgInvalidURL
		s.mu.Unlock()
		s.notify()
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, input)
	}
	s.loading = true
	s.preview = ""
	s.status = msgFetchingMeta
	s.mu.Unlock()
	s.notify()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
		s.notify()
	}()

	if timeout := s.app.cfg.FetchTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	src, err := files.Get()
	if err != nil {
		return "", s.fetchFailed(fileID, err)
	}

	meta, err := src.Metadata(ctx, fileID)
	if err != nil {
		return "", s.fetchFailed(fileID, err)
	}
	s.setStatus(fmt.Sprintf("Fetching content for \"%s\"...", meta.Name))

	content, err := FetchContent(ctx, src, meta)
	if err != nil {
		return "", s.fetchFailed(fileID, err)
	}

	s.mu.Lock()
	s.preview = content
	s.status = msgSaving
	s.mu.Unlock()
	s.notify()

	id, err := s.app.Store.Create(ctx, st.UserID, store.Document{
		FileName:    meta.Name,
		Content:     content,
		OriginalURL: input,
	})
	if err != nil {
		return "", s.fetchFailed(fileID, err)
	}

	logger.Sugar.Infow("document saved", "user", st.UserID, "file", fileID, "id", id, "bytes", len(content))
	s.mu.Lock()
	s.status = fmt.Sprintf("Success! Content from \"%s\" has been saved.", meta.Name)
	s.input = ""
	s.mu.Unlock()
	s.notify()
	return id, nil
}

// fetchFailed reports err in the status line and clears the preview. The
// input is kept so the user can retry.
func (s *Session) fetchFailed(fileID string, err error) error {
	logger.Sugar.Errorw("error during fetch and save process", "file", fileID, "error", err)
	if isAuthFailure(err) {
		s.tokens.Detach()
		s.mu.Lock()
		s.preview = ""
		s.status = msgConnectionLost
		s.mu.Unlock()
		s.notify()
		return err
	}

	s.mu.Lock()
	s.preview = ""
	s.status = "Error: " + statusMessage(err)
	s.mu.Unlock()
	s.notify()
	return err
}
