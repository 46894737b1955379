package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/clinic-portal/internal/web"
)

// Recovery handles panics, logs the stack and renders the 500 page.
func Recovery(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error().
					Interface("error", err).
					Str("stack", string(debug.Stack())).
					Str("method", c.Request.Method).
					Str("path", c.Request.URL.Path).
					Str("client_ip", c.ClientIP()).
					Str("request_id", GetRequestID(c)).
					Msg("Request panic recovered")

				if c.Writer.Written() {
					c.Abort()
					return
				}
				RenderError(c, http.StatusInternalServerError, "Something went wrong on our side. Please try again.")
			}
		}()
		c.Next()
	}
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// RenderError aborts with the error page, or a JSON body for JSON clients.
func RenderError(c *gin.Context, status int, message string) {
	if wantsJSON(c) {
		c.AbortWithStatusJSON(status, ErrorResponse{Code: status, Message: message, TraceID: GetRequestID(c)})
		return
	}
	c.HTML(status, "error", web.Page{
		Title:     http.StatusText(status),
		Data:      web.ErrorData{Status: status, Message: message},
		RequestID: GetRequestID(c),
	})
	c.Abort()
}

func wantsJSON(c *gin.Context) bool {
	return c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) == gin.MIMEJSON
}
