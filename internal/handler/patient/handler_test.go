package patient

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-portal/internal/apiclient"
	"github.com/jwalitptl/clinic-portal/internal/email"
	"github.com/jwalitptl/clinic-portal/internal/handler/handlertest"
	"github.com/jwalitptl/clinic-portal/internal/model"
	"github.com/jwalitptl/clinic-portal/internal/search"
	apperrors "github.com/jwalitptl/clinic-portal/pkg/errors"
)

type mockAPI struct{ mock.Mock }

func (m *mockAPI) Profile(ctx context.Context) (*model.User, error) {
	args := m.Called(ctx)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *mockAPI) UpdateProfile(ctx context.Context, upd model.PatientProfileUpdate) (*model.User, error) {
	args := m.Called(ctx, upd)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *mockAPI) UpdatePassword(ctx context.Context, upd model.PasswordUpdate) (string, error) {
	args := m.Called(ctx, upd)
	return args.String(0), args.Error(1)
}

func (m *mockAPI) Doctor(ctx context.Context, id int64) (*model.Doctor, error) {
	args := m.Called(ctx, id)
	d, _ := args.Get(0).(*model.Doctor)
	return d, args.Error(1)
}

func (m *mockAPI) DoctorAvailability(ctx context.Context, doctorID int64, date string) (*model.DoctorAvailability, error) {
	args := m.Called(ctx, doctorID, date)
	a, _ := args.Get(0).(*model.DoctorAvailability)
	return a, args.Error(1)
}

func (m *mockAPI) Appointments(ctx context.Context, page int) (*model.Paginated[model.Appointment], error) {
	args := m.Called(ctx, page)
	p, _ := args.Get(0).(*model.Paginated[model.Appointment])
	return p, args.Error(1)
}

func (m *mockAPI) SearchAppointments(ctx context.Context, f model.AppointmentFilters) (*model.Paginated[model.Appointment], error) {
	args := m.Called(ctx, f)
	p, _ := args.Get(0).(*model.Paginated[model.Appointment])
	return p, args.Error(1)
}

func (m *mockAPI) Appointment(ctx context.Context, id int64) (*model.Appointment, error) {
	args := m.Called(ctx, id)
	a, _ := args.Get(0).(*model.Appointment)
	return a, args.Error(1)
}

func (m *mockAPI) BookAppointment(ctx context.Context, req model.BookingRequest, file *apiclient.Upload) (*model.Appointment, error) {
	args := m.Called(ctx, req, file)
	a, _ := args.Get(0).(*model.Appointment)
	return a, args.Error(1)
}

type mockSearcher struct{ mock.Mock }

func (m *mockSearcher) Find(ctx context.Context, query string) ([]model.Doctor, error) {
	args := m.Called(ctx, query)
	d, _ := args.Get(0).([]model.Doctor)
	return d, args.Error(1)
}

func (m *mockSearcher) Search(ctx context.Context, key, query string) ([]model.Doctor, error) {
	args := m.Called(ctx, key, query)
	d, _ := args.Get(0).([]model.Doctor)
	return d, args.Error(1)
}

type mockMailer struct{ mock.Mock }

func (m *mockMailer) SendBookingRequested(ctx context.Context, patient model.User, doctor model.Doctor, appt model.Appointment) error {
	return m.Called(ctx, patient, doctor, appt).Error(0)
}

func (m *mockMailer) SendAppointmentCancelled(ctx context.Context, appt model.Appointment, reason string) error {
	return m.Called(ctx, appt, reason).Error(0)
}

var _ email.Service = (*mockMailer)(nil)

// Monday morning.
var now = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

type fixture struct {
	env     *handlertest.Env
	api     *mockAPI
	search  *mockSearcher
	mailer  *mockMailer
	patient *model.User
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		env:     handlertest.New(t),
		api:     &mockAPI{},
		search:  &mockSearcher{},
		mailer:  &mockMailer{},
		patient: handlertest.Patient(),
	}
	h := NewHandler(f.api, f.search, f.env.Sessions, f.mailer, Config{
		WindowDays:        14,
		AppointmentLength: 30 * time.Minute,
		MaxUploadBytes:    1 << 20,
	}, zerolog.Nop()).WithClock(func() time.Time { return now })
	h.RegisterRoutes(f.env.Engine.Group("/patient"))
	f.env.SignIn(t, model.PatientIdentity(f.patient))
	return f
}

func TestDashboardShowsCountsAndUpcoming(t *testing.T) {
	f := setup(t)
	doc := handlertest.Doctor()
	f.api.On("Appointments", mock.Anything, 1).Return(&model.Paginated[model.Appointment]{
		CurrentPage: 1,
		Total:       3,
		Data: []model.Appointment{
			{ID: 1, AppointmentDate: "2025-03-05", AppointmentTime: "10:00:00", Status: model.StatusBooked, Doctor: doc},
			{ID: 2, AppointmentDate: "2025-03-04", AppointmentTime: "11:00:00", Status: model.StatusPending, Doctor: doc},
			{ID: 3, AppointmentDate: "2025-02-20", AppointmentTime: "09:00:00", Status: model.StatusCompleted, Doctor: doc},
		},
	}, nil)
	f.search.On("Find", mock.Anything, "").Return([]model.Doctor{*doc}, nil)

	w := f.env.Get("/patient/dashboard")

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Mar 4, 2025")
	assert.Contains(t, body, "Mar 5, 2025")
	assert.NotContains(t, body, "Feb 20, 2025")
}

func TestDashboardUpstreamFailureRendersErrorPage(t *testing.T) {
	f := setup(t)
	f.api.On("Appointments", mock.Anything, 1).Return(nil, apperrors.Network(context.DeadlineExceeded))
	f.search.On("Find", mock.Anything, "").Return([]model.Doctor{}, nil)

	w := f.env.Get("/patient/dashboard")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "Failed to load your dashboard")
}

func TestUnauthorizedSendsToLogin(t *testing.T) {
	f := setup(t)
	f.api.On("Appointment", mock.Anything, int64(7)).Return(nil, apperrors.Unauthorized(nil))

	w := f.env.Get("/patient/appointments/7")

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
	assert.Equal(t, "Your session has expired. Please log in again.", handlertest.Flash(w).Message)
}

func TestSearchDoctorsJSON(t *testing.T) {
	f := setup(t)
	doc := handlertest.Doctor()
	f.search.On("Search", mock.Anything, f.env.SessionID(), "card").Return([]model.Doctor{*doc}, nil)

	w := f.env.Get("/patient/doctors/search?query=card")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool           `json:"success"`
		Data    []model.Doctor `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, doc.Name, resp.Data[0].Name)
}

func TestSearchDoctorsSuperseded(t *testing.T) {
	f := setup(t)
	f.search.On("Search", mock.Anything, mock.Anything, "ca").Return(nil, search.ErrSuperseded)

	w := f.env.Get("/patient/doctors/search?query=ca")

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBookFormOffersOneTimePerBlock(t *testing.T) {
	f := setup(t)
	doc := handlertest.Doctor()
	f.api.On("Doctor", mock.Anything, doc.ID).Return(doc, nil)
	f.api.On("DoctorAvailability", mock.Anything, doc.ID, "2025-03-04").Return(&model.DoctorAvailability{
		Date: "2025-03-04",
		AvailableBlocks: []model.FreeBlock{
			{StartTime: "09:00:00", EndTime: "09:20:00"},
			{StartTime: "10:00", EndTime: "11:00"},
		},
	}, nil)

	w := f.env.Get("/patient/doctors/" + itoa(doc.ID) + "/book?date=2025-03-04")

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `<option value="09:00" >09:00 – 09:20</option>`)
	assert.Contains(t, body, `<option value="10:00" >10:00 – 11:00</option>`)
	assert.NotContains(t, body, `<option value="10:30"`)
	assert.Equal(t, 3, strings.Count(body, "<option"), "placeholder plus one per block")
}

func TestBookOutsideWindowIsRejectedLocally(t *testing.T) {
	f := setup(t)
	doc := handlertest.Doctor()
	f.api.On("Doctor", mock.Anything, doc.ID).Return(doc, nil)

	w := f.env.PostForm("/patient/doctors/"+itoa(doc.ID)+"/book", url.Values{
		"appointment_date": {"2025-04-01"},
		"appointment_time": {"10:00"},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "Please pick a weekday within the booking window")
	f.api.AssertNotCalled(t, "BookAppointment", mock.Anything, mock.Anything, mock.Anything)
}

func TestBookWeekendFailsValidation(t *testing.T) {
	f := setup(t)
	doc := handlertest.Doctor()
	f.api.On("Doctor", mock.Anything, doc.ID).Return(doc, nil)

	w := f.env.PostForm("/patient/doctors/"+itoa(doc.ID)+"/book", url.Values{
		"appointment_date": {"2025-03-08"},
		"appointment_time": {"10:00"},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	f.api.AssertNotCalled(t, "BookAppointment", mock.Anything, mock.Anything, mock.Anything)
}

func TestBookWithAttachmentSendsEmail(t *testing.T) {
	f := setup(t)
	doc := handlertest.Doctor()
	appt := &model.Appointment{
		ID: 42, DoctorID: doc.ID, UserID: f.patient.ID,
		AppointmentDate: "2025-03-04", AppointmentTime: "10:30:00",
		Status: model.StatusPending, Doctor: doc,
	}
	f.api.On("BookAppointment", mock.Anything,
		model.BookingRequest{DoctorID: doc.ID, AppointmentDate: "2025-03-04", AppointmentTime: "10:30"},
		mock.MatchedBy(func(u *apiclient.Upload) bool {
			return u != nil && u.Filename == "referral.pdf" && u.ContentType == "application/pdf"
		}),
	).Return(appt, nil)
	f.mailer.On("SendBookingRequested", mock.Anything, mock.Anything, *doc, *appt).Return(nil)

	w := f.env.Do(multipartBooking(t, "/patient/doctors/"+itoa(doc.ID)+"/book", "referral.pdf", "application/pdf", []byte("%PDF-1.4")))

	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/patient/appointments", w.Header().Get("Location"))
	f.api.AssertExpectations(t)
	f.mailer.AssertExpectations(t)
}

func TestBookRejectsUnsupportedAttachment(t *testing.T) {
	f := setup(t)
	doc := handlertest.Doctor()
	f.api.On("Doctor", mock.Anything, doc.ID).Return(doc, nil)
	f.api.On("DoctorAvailability", mock.Anything, doc.ID, "2025-03-04").Return(&model.DoctorAvailability{
		AvailableBlocks: []model.FreeBlock{{StartTime: "10:00", EndTime: "12:00"}},
	}, nil)

	w := f.env.Do(multipartBooking(t, "/patient/doctors/"+itoa(doc.ID)+"/book", "virus.exe", "application/octet-stream", []byte("MZ")))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "Attachment must be a PDF, JPG or PNG file")
	f.api.AssertNotCalled(t, "BookAppointment", mock.Anything, mock.Anything, mock.Anything)
}

func TestAppointmentsStatusFilterIsLocal(t *testing.T) {
	f := setup(t)
	f.api.On("Appointments", mock.Anything, 1).Return(&model.Paginated[model.Appointment]{
		CurrentPage: 1, LastPage: 1,
		Data: []model.Appointment{
			{ID: 1, AppointmentDate: "2025-03-05", AppointmentTime: "10:00", Status: model.StatusBooked},
			{ID: 2, AppointmentDate: "2025-03-06", AppointmentTime: "10:00", Status: model.StatusCancelled},
		},
	}, nil)

	w := f.env.Get("/patient/appointments?status=cancelled")

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "/patient/appointments/2")
	assert.NotContains(t, body, "/patient/appointments/1\"")
	f.api.AssertNotCalled(t, "SearchAppointments", mock.Anything, mock.Anything)
}

func TestAppointmentsSearchUsesFilters(t *testing.T) {
	f := setup(t)
	filters := model.AppointmentFilters{DoctorName: "House", Page: 1}
	f.api.On("SearchAppointments", mock.Anything, filters).Return(&model.Paginated[model.Appointment]{CurrentPage: 1, LastPage: 1}, nil)

	w := f.env.Get("/patient/appointments?doctor_name=House")

	assert.Equal(t, http.StatusOK, w.Code)
	f.api.AssertExpectations(t)
}

func TestUpdateProfileRefreshesSession(t *testing.T) {
	f := setup(t)
	sid := f.env.SessionID()
	updated := *f.patient
	updated.Name = "Renamed Patient"
	f.api.On("UpdateProfile", mock.Anything, mock.MatchedBy(func(u model.PatientProfileUpdate) bool {
		return u.Name == "Renamed Patient"
	})).Return(&updated, nil)

	w := f.env.PostForm("/patient/profile", url.Values{
		"name":  {"Renamed Patient"},
		"email": {f.patient.Email},
	})

	require.Equal(t, http.StatusSeeOther, w.Code)
	sess, err := f.env.Sessions.Load(context.Background(), sid)
	require.NoError(t, err)
	identity, ok := sess.Identity()
	require.True(t, ok)
	assert.Equal(t, "Renamed Patient", identity.Name())
	assert.Equal(t, handlertest.Token, sess.Token())
}

func TestUpdatePasswordMismatch(t *testing.T) {
	f := setup(t)

	w := f.env.PostForm("/patient/profile/password", url.Values{
		"current_password":          {"old-secret"},
		"new_password":              {"new-secret"},
		"new_password_confirmation": {"other-secret"},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "New passwords do not match")
	f.api.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func multipartBooking(t *testing.T, path, filename, contentType string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("appointment_date", "2025-03-04"))
	require.NoError(t, mw.WriteField("appointment_time", "10:30"))

	header := make(map[string][]string)
	header["Content-Disposition"] = []string{`form-data; name="file"; filename="` + filename + `"`}
	header["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
