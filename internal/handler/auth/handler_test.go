package auth

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-portal/internal/apiclient"
	"github.com/jwalitptl/clinic-portal/internal/handler/handlertest"
	"github.com/jwalitptl/clinic-portal/internal/model"
	apperrors "github.com/jwalitptl/clinic-portal/pkg/errors"
)

type mockAPI struct{ mock.Mock }

func (m *mockAPI) Login(ctx context.Context, req model.LoginRequest) (*apiclient.LoginResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*apiclient.LoginResult)
	return res, args.Error(1)
}

func (m *mockAPI) Register(ctx context.Context, req model.RegisterRequest) (model.Identity, string, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.Identity), args.String(1), args.Error(2)
}

type mockAuditor struct{ mock.Mock }

func (m *mockAuditor) Login(identity model.Identity, ip string) { m.Called(identity, ip) }
func (m *mockAuditor) LoginFailed(role model.Role, email, ip, reason string) {
	m.Called(role, email, ip, reason)
}
func (m *mockAuditor) Registered(identity model.Identity, ip string) { m.Called(identity, ip) }
func (m *mockAuditor) Logout(identity model.Identity)                { m.Called(identity) }

func setup(t *testing.T) (*handlertest.Env, *mockAPI, *mockAuditor) {
	t.Helper()
	env := handlertest.New(t)
	api := &mockAPI{}
	audit := &mockAuditor{}
	noLimit := func(c *gin.Context) { c.Next() }
	NewHandler(api, env.Sessions, audit, zerolog.Nop()).RegisterRoutes(env.Engine, noLimit)
	return env, api, audit
}

func TestRootRedirects(t *testing.T) {
	env, _, _ := setup(t)

	w := env.Get("/")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))

	env.SignIn(t, model.DoctorIdentity(handlertest.Doctor()))
	w = env.Get("/")
	assert.Equal(t, "/doctor/dashboard", w.Header().Get("Location"))
}

func TestLoginFormPreselectsRole(t *testing.T) {
	env, _, _ := setup(t)

	w := env.Get("/login?role=doctor")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `<option value="doctor" selected>`)
}

func TestLoginStoresSession(t *testing.T) {
	env, api, audit := setup(t)
	user := handlertest.Patient()
	identity := model.PatientIdentity(user)
	password := gofakeit.Password(true, true, true, false, false, 10)

	api.On("Login", mock.Anything, model.LoginRequest{Role: model.RolePatient, Email: user.Email, Password: password}).
		Return(&apiclient.LoginResult{Token: "tok-1", Identity: identity, Message: "Welcome back"}, nil)
	audit.On("Login", mock.Anything, mock.Anything).Return()

	w := env.PostForm("/login", url.Values{
		"role":     {"user"},
		"email":    {user.Email},
		"password": {password},
	})

	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/patient/dashboard", w.Header().Get("Location"))
	assert.Equal(t, "Welcome back", handlertest.Flash(w).Message)

	var sid string
	for _, c := range w.Result().Cookies() {
		if c.Name == handlertest.CookieName {
			sid = c.Value
			assert.True(t, c.HttpOnly)
		}
	}
	require.NotEmpty(t, sid)

	sess, err := env.Sessions.Load(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", sess.Token())
	assert.Equal(t, model.RolePatient, sess.Role())
	api.AssertExpectations(t)
	audit.AssertExpectations(t)
}

func TestLoginRejectedKeepsEmailDropsPassword(t *testing.T) {
	env, api, audit := setup(t)
	email := gofakeit.Email()

	api.On("Login", mock.Anything, mock.Anything).
		Return(nil, apperrors.Rejected(http.StatusUnauthorized, "Invalid credentials", nil))
	audit.On("LoginFailed", model.RoleDoctor, email, mock.Anything, "Invalid credentials").Return()

	w := env.PostForm("/login", url.Values{
		"role":     {"doctor"},
		"email":    {email},
		"password": {"wrong-secret"},
	})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Invalid credentials")
	assert.Contains(t, body, email)
	assert.NotContains(t, body, "wrong-secret")
	audit.AssertExpectations(t)
}

func TestLoginValidationNeverCallsAPI(t *testing.T) {
	env, api, _ := setup(t)

	w := env.PostForm("/login", url.Values{"role": {"user"}, "email": {"not-an-email"}})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	api.AssertNotCalled(t, "Login", mock.Anything, mock.Anything)
}

func TestLoginPageRedirectsSignedInUsers(t *testing.T) {
	env, _, _ := setup(t)
	env.SignIn(t, model.AdminIdentity(handlertest.Admin()))

	w := env.Get("/login")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/admin/dashboard", w.Header().Get("Location"))
}

func TestRegisterRedirectsToLogin(t *testing.T) {
	env, api, audit := setup(t)
	doc := handlertest.Doctor()

	api.On("Register", mock.Anything, mock.MatchedBy(func(req model.RegisterRequest) bool {
		return req.Role == model.RoleDoctor && req.Specialization == doc.Specialization
	})).Return(model.DoctorIdentity(doc), "", nil)
	audit.On("Registered", mock.Anything, mock.Anything).Return()

	w := env.PostForm("/register", url.Values{
		"role":           {"doctor"},
		"name":           {doc.Name},
		"email":          {doc.Email},
		"password":       {"secret123"},
		"height":         {"180"},
		"weight":         {"75"},
		"blood_type":     {"O+"},
		"gender":         {doc.Gender},
		"specialization": {doc.Specialization},
	})

	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/login?role=doctor", w.Header().Get("Location"))
	assert.Equal(t, "Registration successful. Please log in.", handlertest.Flash(w).Message)
	api.AssertExpectations(t)
}

func TestRegisterDoctorNeedsSpecialization(t *testing.T) {
	env, api, _ := setup(t)

	w := env.PostForm("/register", url.Values{
		"role":       {"doctor"},
		"name":       {gofakeit.Name()},
		"email":      {gofakeit.Email()},
		"password":   {"secret123"},
		"height":     {"180"},
		"weight":     {"75"},
		"blood_type": {"O+"},
		"gender":     {"female"},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "Specialization is required for doctors")
	api.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestLogoutClearsSession(t *testing.T) {
	env, _, audit := setup(t)
	identity := model.PatientIdentity(handlertest.Patient())
	env.SignIn(t, identity)
	sid := env.SessionID()
	audit.On("Logout", mock.Anything).Return()

	w := env.PostForm("/logout", nil)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
	sess, err := env.Sessions.Load(context.Background(), sid)
	require.NoError(t, err)
	assert.False(t, sess.IsAuthenticated())
	audit.AssertExpectations(t)
}
