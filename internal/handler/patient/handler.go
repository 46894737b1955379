package patient

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/clinic-portal/internal/apiclient"
	"github.com/jwalitptl/clinic-portal/internal/availability"
	"github.com/jwalitptl/clinic-portal/internal/email"
	"github.com/jwalitptl/clinic-portal/internal/handler"
	"github.com/jwalitptl/clinic-portal/internal/middleware"
	"github.com/jwalitptl/clinic-portal/internal/model"
	"github.com/jwalitptl/clinic-portal/internal/search"
	"github.com/jwalitptl/clinic-portal/internal/session"
	apperrors "github.com/jwalitptl/clinic-portal/pkg/errors"
	"github.com/jwalitptl/clinic-portal/pkg/httputil"
)

type API interface {
	Profile(ctx context.Context) (*model.User, error)
	UpdateProfile(ctx context.Context, upd model.PatientProfileUpdate) (*model.User, error)
	UpdatePassword(ctx context.Context, upd model.PasswordUpdate) (string, error)
	Doctor(ctx context.Context, id int64) (*model.Doctor, error)
	DoctorAvailability(ctx context.Context, doctorID int64, date string) (*model.DoctorAvailability, error)
	Appointments(ctx context.Context, page int) (*model.Paginated[model.Appointment], error)
	SearchAppointments(ctx context.Context, f model.AppointmentFilters) (*model.Paginated[model.Appointment], error)
	Appointment(ctx context.Context, id int64) (*model.Appointment, error)
	BookAppointment(ctx context.Context, req model.BookingRequest, file *apiclient.Upload) (*model.Appointment, error)
}

type Searcher interface {
	Find(ctx context.Context, query string) ([]model.Doctor, error)
	Search(ctx context.Context, key, query string) ([]model.Doctor, error)
}

type Sessions interface {
	Save(ctx context.Context, s *session.Session, token string, identity model.Identity) error
}

type Config struct {
	WindowDays        int
	AppointmentLength time.Duration
	MaxUploadBytes    int64
}

// Attachments the clinic accepts with a booking.
var allowedUploads = map[string][]string{
	".pdf":  {"application/pdf"},
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".png":  {"image/png"},
}

type Handler struct {
	api      API
	search   Searcher
	sessions Sessions
	mailer   email.Service
	cfg      Config
	now      func() time.Time
	logger   zerolog.Logger
}

func NewHandler(api API, searcher Searcher, sessions Sessions, mailer email.Service, cfg Config, logger zerolog.Logger) *Handler {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 14
	}
	if cfg.AppointmentLength <= 0 {
		cfg.AppointmentLength = 30 * time.Minute
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 5 << 20
	}
	return &Handler{
		api:      api,
		search:   searcher,
		sessions: sessions,
		mailer:   mailer,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock replaces the time source, for tests.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/dashboard", h.Dashboard)

	r.GET("/doctors", h.Doctors)
	r.GET("/doctors/search", h.SearchDoctors)
	r.GET("/doctors/:id", h.Doctor)
	r.GET("/doctors/:id/book", h.BookForm)
	r.POST("/doctors/:id/book", h.Book)

	r.GET("/appointments", h.Appointments)
	r.GET("/appointments/:id", h.Appointment)

	r.GET("/profile", h.Profile)
	r.POST("/profile", h.UpdateProfile)
	r.POST("/profile/password", h.UpdatePassword)
}

type dashboardData struct {
	Counts   map[model.AppointmentStatus]int
	Upcoming []model.Appointment
	Total    int
	Doctors  int
}

func (h *Handler) Dashboard(c *gin.Context) {
	var (
		page    *model.Paginated[model.Appointment]
		doctors []model.Doctor
	)
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		var err error
		page, err = h.api.Appointments(ctx, 1)
		return err
	})
	g.Go(func() error {
		var err error
		doctors, err = h.search.Find(ctx, "")
		return err
	})
	if err := g.Wait(); err != nil {
		handler.Fail(c, err, "Failed to load your dashboard")
		return
	}

	today := model.FormatDate(h.now())
	upcoming := model.Upcoming(page.Data, today)
	if len(upcoming) > 5 {
		upcoming = upcoming[:5]
	}

	p := handler.Page(c, "Dashboard")
	p.Data = dashboardData{
		Counts:   model.CountByStatus(page.Data),
		Upcoming: upcoming,
		Total:    max(page.Total, len(page.Data)),
		Doctors:  len(doctors),
	}
	handler.Render(c, http.StatusOK, "patient/dashboard", p)
}

type doctorsData struct {
	Query   string
	Doctors []model.Doctor
}

func (h *Handler) Doctors(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	doctors, err := h.search.Find(c.Request.Context(), query)
	if err != nil {
		handler.Fail(c, err, "Failed to load doctors")
		return
	}

	p := handler.Page(c, "Find a doctor")
	p.Data = doctorsData{Query: query, Doctors: doctors}
	handler.Render(c, http.StatusOK, "patient/doctors", p)
}

// SearchDoctors is the type-ahead endpoint. Requests are debounced per
// session; a request overtaken by a newer one answers 409.
func (h *Handler) SearchDoctors(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	if len(query) > 100 {
		httputil.RespondWithError(c, apperrors.FieldError("query", "Query is too long"))
		return
	}

	key := c.ClientIP()
	if sess := middleware.SessionFrom(c); sess != nil && sess.ID() != "" {
		key = sess.ID()
	}

	doctors, err := h.search.Search(c.Request.Context(), key, query)
	switch {
	case err == nil:
		httputil.RespondWithSuccess(c, doctors)
	case errors.Is(err, search.ErrSuperseded):
		httputil.RespondWithStatus(c, http.StatusConflict, "superseded", nil)
	case errors.Is(err, context.Canceled):
		c.Abort()
	case apperrors.Is(err, apperrors.ErrUnauthorized):
		httputil.RespondWithStatus(c, http.StatusUnauthorized, "Your session has expired. Please log in again.", nil)
	default:
		_ = c.Error(err)
		httputil.RespondWithStatus(c, http.StatusBadGateway, apperrors.Message(err, "Search failed"), nil)
	}
}

func (h *Handler) Doctor(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		handler.NotFound(c, "Doctor not found")
		return
	}
	doctor, err := h.api.Doctor(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err, "Failed to load doctor")
		return
	}

	p := handler.Page(c, doctor.Name)
	p.Data = doctor
	handler.Render(c, http.StatusOK, "patient/doctor", p)
}

type bookData struct {
	Doctor   *model.Doctor
	Dates    []time.Time
	Selected string
	// Blocks are offered as-is, one start time each.
	Blocks []model.FreeBlock
	MaxMB  int64
}

func (h *Handler) BookForm(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		handler.NotFound(c, "Doctor not found")
		return
	}
	h.renderBook(c, http.StatusOK, id, model.BookingRequest{AppointmentDate: c.Query("date")}, nil)
}

// renderBook shows the picker. With a date selected inside the booking
// window the doctor's free blocks for that day are listed.
func (h *Handler) renderBook(c *gin.Context, status int, doctorID int64, form model.BookingRequest, errs map[string]string) {
	ctx := c.Request.Context()
	doctor, err := h.api.Doctor(ctx, doctorID)
	if err != nil {
		handler.Fail(c, err, "Failed to load doctor")
		return
	}

	data := bookData{
		Doctor: doctor,
		Dates:  availability.BookingDates(h.now(), h.cfg.WindowDays),
		MaxMB:  h.cfg.MaxUploadBytes >> 20,
	}
	if date := model.DateOnly(form.AppointmentDate); h.inWindow(date) {
		data.Selected = date
		slots, err := h.api.DoctorAvailability(ctx, doctorID, date)
		if err != nil {
			if handler.SignedOut(c, err) {
				return
			}
			if errs == nil {
				errs = map[string]string{}
			}
			if _, ok := errs[""]; !ok {
				errs[""] = apperrors.Message(err, "Failed to load available times")
			}
		} else {
			data.Blocks = slots.AvailableBlocks
		}
	}

	p := handler.Page(c, "Book an appointment")
	p.Form = form
	p.Errors = errs
	p.Data = data
	handler.Render(c, status, "patient/book", p)
}

func (h *Handler) inWindow(date string) bool {
	for _, d := range availability.BookingDates(h.now(), h.cfg.WindowDays) {
		if model.FormatDate(d) == date {
			return true
		}
	}
	return false
}

func (h *Handler) Book(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		handler.NotFound(c, "Doctor not found")
		return
	}

	var req model.BookingRequest
	if err := c.ShouldBind(&req); err != nil {
		h.renderBook(c, http.StatusUnprocessableEntity, id, req, handler.FormErrors(err, &req, "Please select a date and time"))
		return
	}
	req.DoctorID = id
	if !h.inWindow(model.DateOnly(req.AppointmentDate)) {
		h.renderBook(c, http.StatusUnprocessableEntity, id, req, map[string]string{
			"appointment_date": "Please pick a weekday within the booking window",
		})
		return
	}

	upload, closeFile, err := h.upload(c)
	if err != nil {
		h.renderBook(c, http.StatusUnprocessableEntity, id, req, handler.FormErrors(err, &req, "Invalid attachment"))
		return
	}
	defer closeFile()

	ctx := c.Request.Context()
	appt, err := h.api.BookAppointment(ctx, req, upload)
	if err != nil {
		if handler.SignedOut(c, err) {
			return
		}
		status := handler.StatusFor(err)
		if status == http.StatusInternalServerError {
			_ = c.Error(err)
		}
		h.renderBook(c, status, id, req, handler.FormErrors(err, &req, "Failed to book appointment"))
		return
	}

	h.notifyBooked(ctx, c, *appt)
	handler.Done(c, "/patient/appointments", "Appointment requested. The doctor will confirm it shortly.")
}

// upload reads the optional attachment. The returned func closes it.
func (h *Handler) upload(c *gin.Context) (*apiclient.Upload, func(), error) {
	noop := func() {}
	fh, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) || (err == nil && fh.Size == 0) {
		return nil, noop, nil
	}
	if err != nil {
		return nil, noop, apperrors.FieldError("file", "Could not read the attachment")
	}
	if fh.Size > h.cfg.MaxUploadBytes {
		return nil, noop, apperrors.FieldError("file", fmt.Sprintf("Attachment must be %dMB or smaller", h.cfg.MaxUploadBytes>>20))
	}

	contentType, err := uploadType(fh)
	if err != nil {
		return nil, noop, err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, noop, apperrors.FieldError("file", "Could not read the attachment")
	}
	return &apiclient.Upload{
		Filename:    filepath.Base(fh.Filename),
		ContentType: contentType,
		Body:        f,
	}, func() { _ = f.Close() }, nil
}

func uploadType(fh *multipart.FileHeader) (string, error) {
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	types, ok := allowedUploads[ext]
	if !ok {
		return "", apperrors.FieldError("file", "Attachment must be a PDF, JPG or PNG file")
	}
	declared := strings.ToLower(strings.TrimSpace(strings.Split(fh.Header.Get("Content-Type"), ";")[0]))
	if declared != "" && declared != "application/octet-stream" && !slices.Contains(types, declared) {
		return "", apperrors.FieldError("file", "Attachment must be a PDF, JPG or PNG file")
	}
	return types[0], nil
}

func (h *Handler) notifyBooked(ctx context.Context, c *gin.Context, appt model.Appointment) {
	identity := handler.Identity(c)
	if identity.Patient == nil {
		return
	}
	doctor := appt.Doctor
	if doctor == nil {
		d, err := h.api.Doctor(ctx, appt.DoctorID)
		if err != nil {
			h.logger.Warn().Err(err).Int64("appointment_id", appt.ID).Msg("Skipping booking email, doctor lookup failed")
			return
		}
		doctor = d
	}
	if err := h.mailer.SendBookingRequested(ctx, *identity.Patient, *doctor, appt); err != nil {
		h.logger.Warn().Err(err).Int64("appointment_id", appt.ID).Msg("Failed to queue booking email")
	}
}

type appointmentsData struct {
	Filters      model.AppointmentFilters
	Status       model.AppointmentStatus
	Page         *model.Paginated[model.Appointment]
	Appointments []model.Appointment
	Counts       map[model.AppointmentStatus]int
}

func (h *Handler) Appointments(c *gin.Context) {
	var f model.AppointmentFilters
	if err := c.ShouldBindQuery(&f); err != nil {
		f = model.AppointmentFilters{}
	}
	f.Page = max(f.Page, 1)

	var status model.AppointmentStatus
	if f.Status != "" {
		if s, err := model.ParseStatus(f.Status); err == nil {
			status = s
		}
	}

	ctx := c.Request.Context()
	var (
		page *model.Paginated[model.Appointment]
		err  error
	)
	if f.Searching() {
		page, err = h.api.SearchAppointments(ctx, f)
	} else {
		page, err = h.api.Appointments(ctx, f.Page)
	}
	if err != nil {
		handler.Fail(c, err, "Failed to load appointments")
		return
	}

	p := handler.Page(c, "My appointments")
	p.Data = appointmentsData{
		Filters:      f,
		Status:       status,
		Page:         page,
		Appointments: model.FilterByStatus(page.Data, status),
		Counts:       model.CountByStatus(page.Data),
	}
	handler.Render(c, http.StatusOK, "patient/appointments", p)
}

func (h *Handler) Appointment(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		handler.NotFound(c, "Appointment not found")
		return
	}
	appt, err := h.api.Appointment(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err, "Failed to load appointment")
		return
	}
	p := handler.Page(c, "Appointment")
	p.Data = appt
	handler.Render(c, http.StatusOK, "patient/appointment", p)
}

func (h *Handler) Profile(c *gin.Context) {
	user, err := h.api.Profile(c.Request.Context())
	if err != nil {
		handler.Fail(c, err, "Failed to load profile")
		return
	}
	h.renderProfile(c, http.StatusOK, user, profileForm(user), nil)
}

func profileForm(u *model.User) model.PatientProfileUpdate {
	f := model.PatientProfileUpdate{
		Name:      u.Name,
		Email:     u.Email,
		Height:    float64(u.Height),
		Weight:    float64(u.Weight),
		BloodType: u.BloodType,
		Gender:    u.Gender,
	}
	if u.MedicalConditions != nil {
		f.MedicalConditions = *u.MedicalConditions
	}
	return f
}

func (h *Handler) renderProfile(c *gin.Context, status int, user *model.User, form model.PatientProfileUpdate, errs map[string]string) {
	p := handler.Page(c, "Profile")
	p.Form = form
	p.Errors = errs
	p.Data = user
	handler.Render(c, status, "patient/profile", p)
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	current := handler.Identity(c).Patient

	var req model.PatientProfileUpdate
	if err := c.ShouldBind(&req); err != nil {
		h.renderProfile(c, http.StatusUnprocessableEntity, current, req, handler.FormErrors(err, &req, "Please check the form and try again."))
		return
	}

	ctx := c.Request.Context()
	user, err := h.api.UpdateProfile(ctx, req)
	if err != nil {
		if handler.SignedOut(c, err) {
			return
		}
		h.renderProfile(c, handler.StatusFor(err), current, req, handler.FormErrors(err, &req, "Failed to update profile"))
		return
	}

	sess := middleware.SessionFrom(c)
	if err := h.sessions.Save(ctx, sess, sess.Token(), model.PatientIdentity(user)); err != nil {
		h.logger.Error().Err(err).Msg("Failed to refresh session after profile update")
	}
	handler.Done(c, "/patient/profile", "Profile updated successfully")
}

func (h *Handler) UpdatePassword(c *gin.Context) {
	current := handler.Identity(c).Patient
	form := model.PatientProfileUpdate{}
	if current != nil {
		form = profileForm(current)
	}

	var req model.PasswordUpdate
	if err := c.ShouldBind(&req); err != nil {
		h.renderProfile(c, http.StatusUnprocessableEntity, current, form, handler.FormErrors(err, &req, "Please check the form and try again."))
		return
	}

	msg, err := h.api.UpdatePassword(c.Request.Context(), req)
	if err != nil {
		if handler.SignedOut(c, err) {
			return
		}
		h.renderProfile(c, handler.StatusFor(err), current, form, handler.FormErrors(err, &req, "Failed to update password"))
		return
	}
	if msg == "" {
		msg = "Password updated successfully"
	}
	handler.Done(c, "/patient/profile", msg)
}
