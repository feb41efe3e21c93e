package web

import (
	"net/http"
	"strings"

	"github.com/etnz/docket/docketapp"
	"github.com/etnz/docket/logger"
	"github.com/go-chi/chi/v5"
)

// --- Page Handlers ---

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, s.session(r).State())
}

func (s *Server) handleViewDocument(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	if _, err := sess.Select(chi.URLParam(r, "id")); err != nil {
		if wantsJSON(r) {
			respondError(w, toHTTPError(err, "document not found"))
			return
		}
		s.render(w, http.StatusNotFound, sess.State())
		return
	}
	if wantsJSON(r) {
		respondJSON(w, http.StatusOK, sess.State().Selected)
		return
	}
	s.render(w, http.StatusOK, sess.State())
}

func (s *Server) render(w http.ResponseWriter, status int, st docketapp.State) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, "index.html", st); err != nil {
		logger.Sugar.Errorw("template error", "error", err)
	}
}

// --- Actions ---

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	authURL, err := s.session(r).Toggle()
	switch {
	case err != nil:
		s.done(w, r, toHTTPError(err, "Google services are not ready"))
	case authURL != "":
		http.Redirect(w, r, authURL, http.StatusSeeOther)
	default:
		s.done(w, r, nil)
	}
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := s.session(r).CompleteAuth(r.Context(), q.Get("state"), q.Get("code"), q.Get("error"))
	if err != nil {
		logger.Sugar.Warnw("oauth callback rejected", "error", err)
	}
	// The outcome is in the status line.
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	if _, err := sess.Fetch(r.Context(), strings.TrimSpace(r.FormValue("url"))); err != nil {
		s.done(w, r, toHTTPError(err, sess.State().Status))
		return
	}
	s.done(w, r, nil)
}

func (s *Server) handleClearPreview(w http.ResponseWriter, r *http.Request) {
	s.session(r).ClearPreview()
	s.done(w, r, nil)
}

func (s *Server) handleCloseDocument(w http.ResponseWriter, r *http.Request) {
	s.session(r).CloseSelected()
	s.done(w, r, nil)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	if err := sess.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.done(w, r, toHTTPError(err, sess.State().Status))
		return
	}
	s.done(w, r, nil)
}

// done ends a form action: browsers are redirected to the page, which
// shows the outcome in the status line; API clients get the state or the
// error as JSON.
func (s *Server) done(w http.ResponseWriter, r *http.Request, herr *httpError) {
	if !wantsJSON(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if herr != nil {
		respondError(w, herr)
		return
	}
	respondJSON(w, http.StatusOK, s.session(r).State())
}

// --- API ---

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.session(r).State())
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.session(r).Documents(r.Context())
	if err != nil {
		respondError(w, toHTTPError(err, "Could not load saved documents."))
		return
	}
	respondJSON(w, http.StatusOK, docs)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
