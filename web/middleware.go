package web

import (
	"context"
	"net/http"
	"time"

	"github.com/etnz/docket/identity"
	"github.com/etnz/docket/logger"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// IdentityCookie holds the anonymous identity token of a browser.
const IdentityCookie = "docket_identity"

type contextKey string

const (
	identityKey contextKey = "identity"
	sessionKey  contextKey = "session"
)

// identityResult is the identity of the request, or why there is none.
// fresh marks an identity signed in by this request.
type identityResult struct {
	ident identity.Identity
	err   error
	fresh bool
}

// withIdentity verifies the identity cookie and signs the browser in
// anonymously when it is missing or invalid.
func (s *Server) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var res identityResult
		if c, err := r.Cookie(IdentityCookie); err == nil {
			res.ident, res.err = s.app.Issuer.Verify(c.Value)
		}
		if res.ident.UserID == "" {
			res.ident, res.err = s.app.Issuer.SignIn()
			res.fresh = true
			if res.err == nil {
				http.SetCookie(w, &http.Cookie{
					Name:     IdentityCookie,
					Value:    res.ident.Token,
					Path:     "/",
					MaxAge:   int((365 * 24 * time.Hour).Seconds()),
					HttpOnly: true,
					Secure:   r.TLS != nil,
					SameSite: http.SameSiteLaxMode,
				})
			}
		}
		ctx := context.WithValue(r.Context(), identityKey, res)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(ctx context.Context) identityResult {
	res, _ := ctx.Value(identityKey).(identityResult)
	return res
}

// withSession attaches the session of the request identity for the
// duration of the request.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, release := s.acquire(r)
		defer release()
		ctx := context.WithValue(r.Context(), sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs every request with zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logger.Log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
