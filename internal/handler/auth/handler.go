package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/clinic-portal/internal/apiclient"
	"github.com/jwalitptl/clinic-portal/internal/handler"
	"github.com/jwalitptl/clinic-portal/internal/middleware"
	"github.com/jwalitptl/clinic-portal/internal/model"
	"github.com/jwalitptl/clinic-portal/internal/session"
	apperrors "github.com/jwalitptl/clinic-portal/pkg/errors"
)

type API interface {
	Login(ctx context.Context, req model.LoginRequest) (*apiclient.LoginResult, error)
	Register(ctx context.Context, req model.RegisterRequest) (model.Identity, string, error)
}

type Sessions interface {
	Save(ctx context.Context, s *session.Session, token string, identity model.Identity) error
	Clear(ctx context.Context, s *session.Session) error
}

type Auditor interface {
	Login(identity model.Identity, ip string)
	LoginFailed(role model.Role, email, ip, reason string)
	Registered(identity model.Identity, ip string)
	Logout(identity model.Identity)
}

type Handler struct {
	api      API
	sessions Sessions
	audit    Auditor
	logger   zerolog.Logger
}

func NewHandler(api API, sessions Sessions, audit Auditor, logger zerolog.Logger) *Handler {
	return &Handler{api: api, sessions: sessions, audit: audit, logger: logger}
}

// RegisterRoutes mounts the public pages. limit throttles the form posts.
func (h *Handler) RegisterRoutes(r gin.IRouter, limit gin.HandlerFunc) {
	r.GET("/", h.Root)

	public := r.Group("", middleware.PublicOnly())
	{
		public.GET("/login", h.LoginForm)
		public.POST("/login", limit, h.Login)
		public.GET("/register", h.RegisterForm)
		public.POST("/register", limit, h.Register)
	}
	r.POST("/logout", h.Logout)
}

func (h *Handler) Root(c *gin.Context) {
	if sess := middleware.SessionFrom(c); sess != nil && sess.IsAuthenticated() {
		middleware.Redirect(c, sess.Role().Home())
		return
	}
	middleware.Redirect(c, "/login")
}

func (h *Handler) LoginForm(c *gin.Context) {
	role, ok := model.ParseRole(c.Query("role"))
	if !ok {
		role = model.RolePatient
	}
	p := handler.Page(c, "Log in")
	p.Form = model.LoginRequest{Role: role}
	handler.Render(c, http.StatusOK, "auth/login", p)
}

func (h *Handler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		h.loginError(c, http.StatusUnprocessableEntity, req, handler.FormErrors(err, &req, "Please check the form and try again."))
		return
	}

	res, err := h.api.Login(c.Request.Context(), req)
	if err != nil {
		h.audit.LoginFailed(req.Role, req.Email, c.ClientIP(), apperrors.Message(err, "error"))
		status := handler.StatusFor(err)
		if status == http.StatusInternalServerError {
			_ = c.Error(err)
		}
		h.loginError(c, status, req, handler.FormErrors(err, &req, "Login failed. Please try again."))
		return
	}

	sess := middleware.SessionFrom(c)
	if err := h.sessions.Save(c.Request.Context(), sess, res.Token, res.Identity); err != nil {
		status := http.StatusServiceUnavailable
		msg := "We could not sign you in right now. Please try again."
		if errors.Is(err, session.ErrTokenExpired) || errors.Is(err, session.ErrNoToken) {
			status = http.StatusBadGateway
			msg = "Login failed: the clinic service returned an unusable token."
		}
		_ = c.Error(err)
		h.loginError(c, status, req, map[string]string{"": msg})
		return
	}

	h.audit.Login(res.Identity, c.ClientIP())
	msg := res.Message
	if msg == "" {
		msg = "Login successful"
	}
	handler.Done(c, res.Identity.Role.Home(), msg)
}

func (h *Handler) loginError(c *gin.Context, status int, req model.LoginRequest, errs map[string]string) {
	req.Password = ""
	p := handler.Page(c, "Log in")
	p.Form = req
	p.Errors = errs
	handler.Render(c, status, "auth/login", p)
}

func (h *Handler) RegisterForm(c *gin.Context) {
	role, ok := model.ParseRole(c.Query("role"))
	if !ok || !role.CanRegister() {
		role = model.RolePatient
	}
	p := handler.Page(c, "Register")
	p.Form = model.RegisterRequest{Role: role}
	handler.Render(c, http.StatusOK, "auth/register", p)
}

func (h *Handler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBind(&req); err != nil {
		h.registerError(c, http.StatusUnprocessableEntity, req, handler.FormErrors(err, &req, "Please check the form and try again."))
		return
	}

	identity, msg, err := h.api.Register(c.Request.Context(), req)
	if err != nil {
		status := handler.StatusFor(err)
		if status == http.StatusInternalServerError {
			_ = c.Error(err)
		}
		h.registerError(c, status, req, handler.FormErrors(err, &req, "Registration failed. Please try again."))
		return
	}

	h.audit.Registered(identity, c.ClientIP())
	if msg == "" {
		msg = "Registration successful. Please log in."
	}
	handler.Done(c, "/login?role="+string(req.Role), msg)
}

func (h *Handler) registerError(c *gin.Context, status int, req model.RegisterRequest, errs map[string]string) {
	req.Password = ""
	p := handler.Page(c, "Register")
	p.Form = req
	p.Errors = errs
	handler.Render(c, status, "auth/register", p)
}

func (h *Handler) Logout(c *gin.Context) {
	sess := middleware.SessionFrom(c)
	if sess == nil {
		middleware.Redirect(c, "/login")
		return
	}
	identity, authenticated := sess.Identity()
	if err := h.sessions.Clear(c.Request.Context(), sess); err != nil {
		h.logger.Error().Err(err).Str("request_id", middleware.GetRequestID(c)).Msg("Failed to clear session on logout")
	}
	if authenticated {
		h.audit.Logout(identity)
	}
	handler.Done(c, "/login", "You have been logged out")
}
