package doctor

import (
	"context"
	"errors"
	"mime"
	"net/http"
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
	"github.com/jwalitptl/clinic-portal/internal/session"
	apperrors "github.com/jwalitptl/clinic-portal/pkg/errors"
)

type API interface {
	DoctorProfile(ctx context.Context) (*model.Doctor, error)
	UpdateDoctorProfile(ctx context.Context, upd model.DoctorProfileUpdate) (string, *model.Doctor, error)
	DoctorStats(ctx context.Context) (*model.DoctorStats, error)
	DoctorAppointments(ctx context.Context) ([]model.Appointment, error)
	AcceptAppointment(ctx context.Context, id int64) (string, error)
	CompleteAppointment(ctx context.Context, id int64) (string, error)
	CancelAppointment(ctx context.Context, id int64, req model.CancelRequest) (string, error)
	AppointmentFile(ctx context.Context, id int64) (*apiclient.File, error)
	Availability(ctx context.Context) ([]model.AvailabilitySlot, error)
	AddAvailability(ctx context.Context, req model.AvailabilityRequest) (*model.AvailabilitySlot, error)
	DeleteAvailability(ctx context.Context, id int64) (string, error)
}

type Sessions interface {
	Save(ctx context.Context, s *session.Session, token string, identity model.Identity) error
}

type Auditor interface {
	AppointmentChanged(identity model.Identity, appointmentID int64, to model.AppointmentStatus)
}

type Handler struct {
	api      API
	sessions Sessions
	audit    Auditor
	mailer   email.Service
	length   time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

func NewHandler(api API, sessions Sessions, audit Auditor, mailer email.Service, appointmentLength time.Duration, logger zerolog.Logger) *Handler {
	if appointmentLength <= 0 {
		appointmentLength = 30 * time.Minute
	}
	return &Handler{
		api:      api,
		sessions: sessions,
		audit:    audit,
		mailer:   mailer,
		length:   appointmentLength,
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

	r.GET("/appointments", h.Appointments)
	r.POST("/appointments/:id/accept", h.Accept)
	r.POST("/appointments/:id/cancel", h.Cancel)
	r.POST("/appointments/:id/complete", h.Complete)
	r.GET("/appointments/:id/file", h.File)

	r.GET("/availability", h.Availability)
	r.POST("/availability", h.AddAvailability)
	r.POST("/availability/:id/delete", h.DeleteAvailability)

	r.GET("/profile", h.Profile)
	r.POST("/profile", h.UpdateProfile)
}

type dashboardData struct {
	Stats   *model.DoctorStats
	Pending []model.Appointment
	Today   []model.Appointment
	Date    string
}

func (h *Handler) Dashboard(c *gin.Context) {
	var (
		stats *model.DoctorStats
		appts []model.Appointment
	)
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		var err error
		stats, err = h.api.DoctorStats(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		appts, err = h.api.DoctorAppointments(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		handler.Fail(c, err, "Failed to load your dashboard")
		return
	}

	today := model.FormatDate(h.now())
	p := handler.Page(c, "Dashboard")
	p.Data = dashboardData{
		Stats:   stats,
		Pending: model.FilterByStatus(appts, model.StatusPending),
		Today:   model.OnDate(appts, today),
		Date:    today,
	}
	handler.Render(c, http.StatusOK, "doctor/dashboard", p)
}

type appointmentsData struct {
	Status       model.AppointmentStatus
	Appointments []model.Appointment
	Counts       map[model.AppointmentStatus]int
	Total        int
}

func (h *Handler) Appointments(c *gin.Context) {
	var status model.AppointmentStatus
	if raw := c.Query("status"); raw != "" {
		if s, err := model.ParseStatus(raw); err == nil {
			status = s
		}
	}

	appts, err := h.api.DoctorAppointments(c.Request.Context())
	if err != nil {
		handler.Fail(c, err, "Failed to load appointments")
		return
	}

	p := handler.Page(c, "Appointments")
	p.Data = appointmentsData{
		Status:       status,
		Appointments: model.FilterByStatus(appts, status),
		Counts:       model.CountByStatus(appts),
		Total:        len(appts),
	}
	handler.Render(c, http.StatusOK, "doctor/appointments", p)
}

var errAppointmentNotFound = apperrors.NotFound("Appointment", nil)

// find looks up one of the doctor's appointments; the API has no single
// appointment route for doctors.
func (h *Handler) find(ctx context.Context, id int64) (model.Appointment, error) {
	appts, err := h.api.DoctorAppointments(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	for _, a := range appts {
		if a.ID == id {
			return a, nil
		}
	}
	return model.Appointment{}, errAppointmentNotFound
}

// transition checks the lifecycle locally, then asks the API to apply it.
func (h *Handler) transition(c *gin.Context, to model.AppointmentStatus, apply func(ctx context.Context, appt model.Appointment) (string, error)) {
	const back = "/doctor/appointments"

	id, ok := handler.ParamID(c, "id")
	if !ok {
		handler.NotFound(c, "Appointment not found")
		return
	}
	ctx := c.Request.Context()
	appt, err := h.find(ctx, id)
	if err != nil {
		handler.Flash(c, back, err, "Failed to load appointment")
		return
	}
	if !appt.Status.CanTransition(to) {
		handler.Flash(c, back, apperrors.BadRequest(
			"A "+string(appt.Status)+" appointment cannot be marked "+string(to), nil), "")
		return
	}

	msg, err := apply(ctx, appt)
	if err != nil {
		handler.Flash(c, back, err, "Failed to update appointment")
		return
	}

	h.audit.AppointmentChanged(handler.Identity(c), appt.ID, to)
	if msg == "" {
		msg = "Appointment " + string(to)
	}
	handler.Done(c, back, msg)
}

func (h *Handler) Accept(c *gin.Context) {
	h.transition(c, model.StatusBooked, func(ctx context.Context, appt model.Appointment) (string, error) {
		return h.api.AcceptAppointment(ctx, appt.ID)
	})
}

func (h *Handler) Complete(c *gin.Context) {
	h.transition(c, model.StatusCompleted, func(ctx context.Context, appt model.Appointment) (string, error) {
		return h.api.CompleteAppointment(ctx, appt.ID)
	})
}

func (h *Handler) Cancel(c *gin.Context) {
	var req model.CancelRequest
	if err := c.ShouldBind(&req); err != nil {
		errs := handler.FormErrors(err, &req, "Please provide a reason for cancellation")
		msg := errs["reason"]
		if msg == "" {
			msg = errs[""]
		}
		handler.Flash(c, "/doctor/appointments", apperrors.FieldError("reason", msg), "")
		return
	}

	h.transition(c, model.StatusCancelled, func(ctx context.Context, appt model.Appointment) (string, error) {
		msg, err := h.api.CancelAppointment(ctx, appt.ID, req)
		if err != nil {
			return "", err
		}
		if err := h.mailer.SendAppointmentCancelled(ctx, appt, req.Reason); err != nil {
			h.logger.Warn().Err(err).Int64("appointment_id", appt.ID).Msg("Failed to queue cancellation email")
		}
		return msg, nil
	})
}

// File streams the patient's attachment through to the browser.
func (h *Handler) File(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		handler.NotFound(c, "File not found")
		return
	}
	f, err := h.api.AppointmentFile(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err, "Failed to download file")
		return
	}
	defer f.Body.Close()

	c.DataFromReader(http.StatusOK, f.ContentLength, f.ContentType, f.Body, map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": f.Filename}),
	})
}

type dayView struct {
	Date  string
	Slots []model.AvailabilitySlot
	Free  []model.FreeBlock
}

func (h *Handler) Availability(c *gin.Context) {
	h.renderAvailability(c, http.StatusOK, model.AvailabilityRequest{}, nil)
}

func (h *Handler) loadDays(ctx context.Context) ([]model.AvailabilitySlot, []dayView, error) {
	var (
		slots []model.AvailabilitySlot
		appts []model.Appointment
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		slots, err = h.api.Availability(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		appts, err = h.api.DoctorAppointments(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	grouped := availability.GroupByDate(slots)
	dates := availability.FilterUpcoming(grouped, h.now())
	days := make([]dayView, 0, len(dates))
	for _, d := range dates {
		free, err := availability.ComputeFreeBlocks(slots, appts, d, h.length)
		if err != nil {
			h.logger.Warn().Err(err).Str("date", d).Msg("Could not compute free blocks")
			free = nil
		}
		days = append(days, dayView{Date: d, Slots: grouped[d], Free: free})
	}
	return slots, days, nil
}

func (h *Handler) renderAvailability(c *gin.Context, status int, form model.AvailabilityRequest, errs map[string]string) {
	_, days, err := h.loadDays(c.Request.Context())
	if err != nil {
		handler.Fail(c, err, "Failed to load availability")
		return
	}
	p := handler.Page(c, "Availability")
	p.Form = form
	p.Errors = errs
	p.Data = struct {
		Days  []dayView
		Today string
	}{Days: days, Today: model.FormatDate(h.now())}
	handler.Render(c, status, "doctor/availability", p)
}

func (h *Handler) AddAvailability(c *gin.Context) {
	var req model.AvailabilityRequest
	if err := c.ShouldBind(&req); err != nil {
		h.renderAvailability(c, http.StatusUnprocessableEntity, req, handler.FormErrors(err, &req, "Please check the form and try again."))
		return
	}

	if err := h.checkSlot(c.Request.Context(), req); err != nil {
		if handler.SignedOut(c, err) {
			return
		}
		h.renderAvailability(c, handler.StatusFor(err), req, handler.FormErrors(err, &req, "Failed to add availability"))
		return
	}

	if _, err := h.api.AddAvailability(c.Request.Context(), req); err != nil {
		if handler.SignedOut(c, err) {
			return
		}
		h.renderAvailability(c, handler.StatusFor(err), req, handler.FormErrors(err, &req, "Failed to add availability"))
		return
	}
	handler.Done(c, "/doctor/availability", "Availability added successfully")
}

// checkSlot rejects past dates, inverted intervals and overlaps before
// anything is sent.
func (h *Handler) checkSlot(ctx context.Context, req model.AvailabilityRequest) error {
	if model.DateOnly(req.Date) < model.FormatDate(h.now()) {
		return apperrors.FieldError("date", "Date cannot be in the past")
	}
	start, err := availability.ParseClock(req.StartTime)
	if err != nil {
		return apperrors.FieldError("start_time", "Start time must be a time (HH:MM)")
	}
	end, err := availability.ParseClock(req.EndTime)
	if err != nil {
		return apperrors.FieldError("end_time", "End time must be a time (HH:MM)")
	}

	existing, err := h.api.Availability(ctx)
	if err != nil {
		return err
	}
	overlap, err := availability.HasOverlap(existing, req.Date, start, end)
	switch {
	case errors.Is(err, availability.ErrInvalidInterval):
		return apperrors.FieldError("end_time", "End time must be after start time")
	case err != nil:
		return apperrors.Internal(err)
	case overlap:
		return apperrors.FieldError("start_time", "This time slot overlaps with existing availability")
	}
	return nil
}

func (h *Handler) DeleteAvailability(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		handler.NotFound(c, "Availability not found")
		return
	}
	msg, err := h.api.DeleteAvailability(c.Request.Context(), id)
	if err != nil {
		handler.Flash(c, "/doctor/availability", err, "Failed to delete availability")
		return
	}
	if msg == "" {
		msg = "Availability deleted"
	}
	handler.Done(c, "/doctor/availability", msg)
}

func profileForm(d *model.Doctor) model.DoctorProfileUpdate {
	return model.DoctorProfileUpdate{
		Name:           d.Name,
		Email:          d.Email,
		Specialization: d.Specialization,
		Height:         float64(d.Height),
		Weight:         float64(d.Weight),
		Gender:         d.Gender,
	}
}

func (h *Handler) Profile(c *gin.Context) {
	doctor, err := h.api.DoctorProfile(c.Request.Context())
	if err != nil {
		handler.Fail(c, err, "Failed to load profile")
		return
	}
	h.renderProfile(c, http.StatusOK, profileForm(doctor), nil)
}

func (h *Handler) renderProfile(c *gin.Context, status int, form model.DoctorProfileUpdate, errs map[string]string) {
	form.Password = ""
	p := handler.Page(c, "Profile")
	p.Form = form
	p.Errors = errs
	handler.Render(c, status, "doctor/profile", p)
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	var req model.DoctorProfileUpdate
	if err := c.ShouldBind(&req); err != nil {
		h.renderProfile(c, http.StatusUnprocessableEntity, req, handler.FormErrors(err, &req, "Please check the form and try again."))
		return
	}

	ctx := c.Request.Context()
	msg, doctor, err := h.api.UpdateDoctorProfile(ctx, req)
	if err != nil {
		if handler.SignedOut(c, err) {
			return
		}
		h.renderProfile(c, handler.StatusFor(err), req, handler.FormErrors(err, &req, "Failed to update profile"))
		return
	}

	if doctor != nil && doctor.ID != 0 {
		sess := middleware.SessionFrom(c)
		if err := h.sessions.Save(ctx, sess, sess.Token(), model.DoctorIdentity(doctor)); err != nil {
			h.logger.Error().Err(err).Msg("Failed to refresh session after profile update")
		}
	}
	if msg == "" {
		msg = "Profile updated successfully"
	}
	handler.Done(c, "/doctor/profile", msg)
}
