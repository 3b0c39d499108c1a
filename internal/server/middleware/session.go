package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/a3tai/taxdoc-client/internal/server/session"
)

const sessionKey = "taxdoc.session"

// WithSession attaches the caller's session, creating one (and its cookie)
// when the request carries none or an expired one
func WithSession(store *session.Store, secureCookie bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var s *session.Session
		if id, err := c.Cookie(session.CookieName); err == nil {
			s, _ = store.Get(id)
		}
		if s == nil {
			s = store.Create()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(session.CookieName, s.ID, 0, "/", "", secureCookie, true)
		}

		c.Set(sessionKey, s)
		c.Next()
	}
}

// CurrentSession returns the session attached by WithSession
func CurrentSession(c *gin.Context) *session.Session {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	s, _ := v.(*session.Session)
	return s
}
