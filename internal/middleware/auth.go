package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-portal/internal/model"
)

// RequireRole admits only sessions signed in as role. Guests go to the login
// page and other roles to their own dashboard.
func RequireRole(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := SessionFrom(c)
		if sess == nil || !sess.IsAuthenticated() {
			Redirect(c, "/login")
			c.Abort()
			return
		}
		if sess.Role() != role {
			Redirect(c, sess.Role().Home())
			c.Abort()
			return
		}
		c.Next()
	}
}

// PublicOnly keeps signed-in users away from the login and register pages.
func PublicOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess := SessionFrom(c); sess != nil && sess.IsAuthenticated() {
			Redirect(c, sess.Role().Home())
			c.Abort()
			return
		}
		c.Next()
	}
}

// Redirect uses 303 after a form post so the browser follows with a GET.
func Redirect(c *gin.Context, location string) {
	status := http.StatusFound
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		status = http.StatusSeeOther
	}
	c.Redirect(status, location)
}
