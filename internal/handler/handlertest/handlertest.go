// Package handlertest builds gin engines for page handler tests: templates
// loaded, a memory session store and, optionally, a signed-in actor.
package handlertest

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-portal/internal/middleware"
	"github.com/jwalitptl/clinic-portal/internal/model"
	"github.com/jwalitptl/clinic-portal/internal/repository/memory"
	"github.com/jwalitptl/clinic-portal/internal/session"
	"github.com/jwalitptl/clinic-portal/internal/web"
	"github.com/jwalitptl/clinic-portal/pkg/security"
)

const (
	CookieName = "portal_session"
	Token      = "test-token"
)

type Env struct {
	Engine   *gin.Engine
	Sessions *session.Manager
	Store    *memory.SessionStore
	cookie   *http.Cookie
}

// New returns an engine with the session middleware installed. Routes are
// registered by the caller.
func New(t *testing.T) *Env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, middleware.RegisterValidators())

	key, err := security.GenerateKey()
	require.NoError(t, err)
	sealer, err := security.NewXChaChaEncryptor(key)
	require.NoError(t, err)

	store := memory.NewSessionStore(time.Hour, time.Minute)
	manager := session.NewManager(store, sealer, session.WithLogger(zerolog.Nop()))

	renderer, err := web.NewRenderer()
	require.NoError(t, err)

	r := gin.New()
	r.HTMLRender = renderer
	r.Use(
		middleware.RequestID(),
		middleware.LoadSession(manager, middleware.CookieConfig{Name: CookieName}, zerolog.Nop()),
	)
	return &Env{Engine: r, Sessions: manager, Store: store}
}

// SignIn stores a session for identity; later requests carry its cookie.
func (e *Env) SignIn(t *testing.T, identity model.Identity) {
	t.Helper()
	sess := e.Sessions.Anonymous()
	require.NoError(t, e.Sessions.Save(context.Background(), sess, Token, identity))
	e.cookie = &http.Cookie{Name: CookieName, Value: sess.ID()}
}

// SessionID is the id of the signed-in session, empty for guests.
func (e *Env) SessionID() string {
	if e.cookie == nil {
		return ""
	}
	return e.cookie.Value
}

func (e *Env) Do(req *http.Request) *httptest.ResponseRecorder {
	if e.cookie != nil {
		req.AddCookie(e.cookie)
	}
	w := httptest.NewRecorder()
	e.Engine.ServeHTTP(w, req)
	return w
}

func (e *Env) Get(path string) *httptest.ResponseRecorder {
	return e.Do(httptest.NewRequest(http.MethodGet, path, nil))
}

// PostForm submits form url-encoded.
func (e *Env) PostForm(path string, form url.Values) *httptest.ResponseRecorder {
	var body io.Reader = strings.NewReader(form.Encode())
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.Do(req)
}

// Flash decodes the notice set on w, if any.
func Flash(w *httptest.ResponseRecorder) *web.Flash {
	for _, c := range w.Result().Cookies() {
		if c.Name != "portal_flash" || c.MaxAge < 0 || c.Value == "" {
			continue
		}
		b, err := base64.RawURLEncoding.DecodeString(c.Value)
		if err != nil {
			return nil
		}
		kind, msg, _ := strings.Cut(string(b), "\n")
		return &web.Flash{Kind: kind, Message: msg}
	}
	return nil
}

func Patient() *model.User {
	conditions := gofakeit.Sentence(4)
	return &model.User{
		ID:                gofakeit.Int64()&0xffff + 1,
		Name:              gofakeit.Name(),
		Email:             gofakeit.Email(),
		Height:            model.Measure(gofakeit.Float64Range(150, 200)),
		Weight:            model.Measure(gofakeit.Float64Range(50, 110)),
		BloodType:         gofakeit.RandomString([]string{"A+", "B+", "O-", "AB+"}),
		Gender:            gofakeit.RandomString([]string{"male", "female"}),
		MedicalConditions: &conditions,
	}
}

func Doctor() *model.Doctor {
	return &model.Doctor{
		ID:             gofakeit.Int64()&0xffff + 1,
		Name:           gofakeit.Name(),
		Email:          gofakeit.Email(),
		Height:         model.Measure(gofakeit.Float64Range(150, 200)),
		Weight:         model.Measure(gofakeit.Float64Range(50, 110)),
		Gender:         gofakeit.RandomString([]string{"male", "female"}),
		Specialization: gofakeit.RandomString([]string{"Cardiology", "Dermatology", "Neurology"}),
	}
}

func Admin() *model.Admin {
	return &model.Admin{
		ID:    gofakeit.Int64()&0xffff + 1,
		Name:  gofakeit.Name(),
		Email: gofakeit.Email(),
	}
}
