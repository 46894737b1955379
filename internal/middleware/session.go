package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/clinic-portal/internal/session"
	"github.com/jwalitptl/clinic-portal/internal/web"
)

const ContextSession = "session"

type CookieConfig struct {
	Name   string
	Secure bool
}

// LoadSession resolves the session cookie before any handler runs and makes
// the session reachable from the request context, where the API client looks
// for the bearer token. The cookie is rewritten, or removed, right before the
// response headers go out.
func LoadSession(m *session.Manager, cookie CookieConfig, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := c.Cookie(cookie.Name)

		sess, err := m.Load(c.Request.Context(), id)
		if err != nil {
			logger.Error().Err(err).Str("request_id", GetRequestID(c)).Msg("Session store unavailable")
			c.Header("Retry-After", "5")
			c.HTML(http.StatusServiceUnavailable, "waiting", web.Page{
				Title:     "Please wait",
				RequestID: GetRequestID(c),
			})
			c.Abort()
			return
		}

		w := &sessionWriter{
			ResponseWriter: c.Writer,
			sess:           sess,
			cookie:         cookie,
			stale:          id != "" && sess.ID() == "",
		}
		c.Writer = w
		c.Set(ContextSession, sess)
		c.Request = c.Request.WithContext(session.NewContext(c.Request.Context(), sess))

		c.Next()

		w.commit()
	}
}

// SessionFrom returns the session loaded for this request, or nil.
func SessionFrom(c *gin.Context) *session.Session {
	v, ok := c.Get(ContextSession)
	if !ok {
		return nil
	}
	s, _ := v.(*session.Session)
	return s
}

type sessionWriter struct {
	gin.ResponseWriter
	sess      *session.Session
	cookie    CookieConfig
	stale     bool
	committed bool
}

func (w *sessionWriter) commit() {
	if w.committed {
		return
	}
	w.committed = true

	id := w.sess.ID()
	if !w.sess.Changed() && !(w.stale && id == "") {
		return
	}

	ck := &http.Cookie{
		Name:     w.cookie.Name,
		Path:     "/",
		HttpOnly: true,
		Secure:   w.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if id == "" {
		ck.MaxAge = -1
	} else {
		ck.Value = id
		exp := w.sess.ExpiresAt()
		ck.Expires = exp
		ck.MaxAge = int(time.Until(exp).Seconds())
		if ck.MaxAge <= 0 {
			ck.MaxAge = 1
		}
	}
	http.SetCookie(w.ResponseWriter, ck)
}

func (w *sessionWriter) WriteHeader(code int) {
	w.commit()
	w.ResponseWriter.WriteHeader(code)
}

func (w *sessionWriter) WriteHeaderNow() {
	w.commit()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(b)
}

func (w *sessionWriter) WriteString(s string) (int, error) {
	w.commit()
	return w.ResponseWriter.WriteString(s)
}
