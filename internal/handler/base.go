// Package handler holds what the role handlers share: page data, error pages,
// form error mapping and the redirect taken when the clinic API signs a user out.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/clinic-portal/internal/middleware"
	"github.com/jwalitptl/clinic-portal/internal/model"
	"github.com/jwalitptl/clinic-portal/internal/web"
	apperrors "github.com/jwalitptl/clinic-portal/pkg/errors"
	pkgvalidator "github.com/jwalitptl/clinic-portal/pkg/validator"
)

const sessionExpiredMessage = "Your session has expired. Please log in again."

// Page starts the template data for the current request.
func Page(c *gin.Context, title string) web.Page {
	p := web.Page{
		Title:     title,
		Flash:     web.TakeFlash(c),
		RequestID: middleware.GetRequestID(c),
	}
	if sess := middleware.SessionFrom(c); sess != nil {
		if id, ok := sess.Identity(); ok {
			p.Identity = &id
		}
	}
	return p
}

// Identity is the signed-in actor. Routes behind RequireRole always have one.
func Identity(c *gin.Context) model.Identity {
	if sess := middleware.SessionFrom(c); sess != nil {
		if id, ok := sess.Identity(); ok {
			return id
		}
	}
	return model.Identity{}
}

// Render writes a full page.
func Render(c *gin.Context, status int, name string, p web.Page) {
	c.HTML(status, name, p)
}

// Done flashes message and sends the browser to location with a GET.
func Done(c *gin.Context, location, message string) {
	if message != "" {
		web.SetFlash(c, web.FlashSuccess, message)
	}
	middleware.Redirect(c, location)
}

// SignedOut takes over when err means the clinic API no longer accepts the
// session. The transport has already cleared it; here the browser is sent to
// the login page, except when it is already on an unauthenticated page.
func SignedOut(c *gin.Context, err error) bool {
	if !apperrors.Is(err, apperrors.ErrUnauthorized) {
		return false
	}
	switch c.Request.URL.Path {
	case "/login", "/register":
		return false
	}
	web.SetFlash(c, web.FlashError, sessionExpiredMessage)
	middleware.Redirect(c, "/login")
	return true
}

// Fail renders the error page for a failed page load.
func Fail(c *gin.Context, err error, fallback string) {
	if SignedOut(c, err) {
		return
	}
	_ = c.Error(err)

	status := StatusFor(err)
	p := Page(c, http.StatusText(status))
	p.Data = web.ErrorData{Status: status, Message: apperrors.Message(err, fallback)}
	Render(c, status, "error", p)
}

// StatusFor maps an error to the status of the page shown for it.
func StatusFor(err error) int {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	status := appErr.StatusCode()
	if appErr.Code == apperrors.ErrRejected && status >= 500 {
		return http.StatusBadGateway
	}
	return status
}

// Flash redirects with an error notice, for mutations posted from list pages.
func Flash(c *gin.Context, location string, err error, fallback string) {
	if SignedOut(c, err) {
		return
	}
	if StatusFor(err) >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	web.SetFlash(c, web.FlashError, apperrors.Message(err, fallback))
	middleware.Redirect(c, location)
}

// FormErrors turns a bind or API error into per-field messages. The "" key
// holds the banner.
func FormErrors(err error, form any, fallback string) map[string]string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return pkgvalidator.Messages(err, form)
	}

	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		// Malformed form values, e.g. text in a number field
		return map[string]string{"": fallback}
	}
	out := appErr.FieldMessages()
	if appErr.Code != apperrors.ErrValidation || len(out) == 0 {
		out[""] = apperrors.Message(err, fallback)
	}
	return out
}

// ParamID reads a positive numeric path parameter.
func ParamID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// NotFound renders the 404 page.
func NotFound(c *gin.Context, message string) {
	if message == "" {
		message = "The page you are looking for does not exist."
	}
	p := Page(c, "Not found")
	p.Data = web.ErrorData{Status: http.StatusNotFound, Message: message}
	Render(c, http.StatusNotFound, "error", p)
}
