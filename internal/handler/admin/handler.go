package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/clinic-portal/internal/apiclient"
	"github.com/jwalitptl/clinic-portal/internal/handler"
	"github.com/jwalitptl/clinic-portal/internal/model"
	apperrors "github.com/jwalitptl/clinic-portal/pkg/errors"
)

type API interface {
	AdminStats(ctx context.Context) (*model.AdminStats, error)
	Users(ctx context.Context) ([]model.User, error)
	User(ctx context.Context, id int64) (*model.User, error)
	AdminDoctors(ctx context.Context) ([]model.Doctor, error)
	AdminDoctor(ctx context.Context, id int64) (*model.Doctor, error)
	Admins(ctx context.Context) ([]model.Admin, error)
	Admin(ctx context.Context, id int64) (*model.Admin, error)
	DeleteAccount(ctx context.Context, collection string, id int64) (string, error)
	ChangePassword(ctx context.Context, collection string, id int64, req model.PasswordChange) (string, error)
	CreateDoctor(ctx context.Context, req model.RegisterRequest) (*model.Doctor, error)
	CreateAdmin(ctx context.Context, req model.AdminCreateRequest) (*model.Admin, error)
	AllAppointments(ctx context.Context) ([]model.Appointment, error)
	AdminAppointment(ctx context.Context, id int64) (*model.Appointment, error)
	CreateAppointment(ctx context.Context, req model.AppointmentCreate) (*model.Appointment, error)
}

type Auditor interface {
	AdminAction(identity model.Identity, action, resource string, id int64)
}

type Handler struct {
	api    API
	audit  Auditor
	logger zerolog.Logger
}

func NewHandler(api API, audit Auditor, logger zerolog.Logger) *Handler {
	return &Handler{api: api, audit: audit, logger: logger}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/dashboard", h.Dashboard)

	for _, kind := range kinds {
		k := kind
		r.GET("/"+k.collection, h.list(k))
		if k.creatable {
			r.GET("/"+k.collection+"/new", h.newForm(k))
			r.POST("/"+k.collection, h.create(k))
		}
		r.GET("/"+k.collection+"/:id", h.show(k))
		r.POST("/"+k.collection+"/:id/delete", h.delete(k))
		r.POST("/"+k.collection+"/:id/password", h.changePassword(k))
	}

	r.GET("/appointments", h.Appointments)
	r.GET("/appointments/new", h.NewAppointment)
	r.POST("/appointments", h.CreateAppointment)
	r.GET("/appointments/:id", h.Appointment)
}

type dashboardData struct {
	Stats  *model.AdminStats
	Recent []model.Appointment
}

func (h *Handler) Dashboard(c *gin.Context) {
	var (
		stats *model.AdminStats
		appts []model.Appointment
	)
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		var err error
		stats, err = h.api.AdminStats(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		appts, err = h.api.AllAppointments(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		handler.Fail(c, err, "Failed to load the dashboard")
		return
	}

	p := handler.Page(c, "Admin dashboard")
	p.Data = dashboardData{Stats: stats, Recent: model.MostRecent(appts, 5)}
	handler.Render(c, http.StatusOK, "admin/dashboard", p)
}

// account is the common shape of patients, doctors and admins in the panel.
type account struct {
	ID        int64
	Name      string
	Email     string
	CreatedAt string
	Details   []detail
}

type detail struct {
	Label string
	Value string
}

// kind describes one account collection.
type kind struct {
	collection string
	title      string
	singular   string
	creatable  bool
	list       func(ctx context.Context, api API) ([]account, error)
	one        func(ctx context.Context, api API, id int64) (account, error)
}

var kinds = []kind{
	{
		collection: apiclient.CollectionUsers,
		title:      "Patients",
		singular:   "Patient",
		list: func(ctx context.Context, api API) ([]account, error) {
			users, err := api.Users(ctx)
			return mapAll(users, userAccount), err
		},
		one: func(ctx context.Context, api API, id int64) (account, error) {
			u, err := api.User(ctx, id)
			if err != nil {
				return account{}, err
			}
			return userAccount(*u), nil
		},
	},
	{
		collection: apiclient.CollectionDoctors,
		title:      "Doctors",
		singular:   "Doctor",
		creatable:  true,
		list: func(ctx context.Context, api API) ([]account, error) {
			doctors, err := api.AdminDoctors(ctx)
			return mapAll(doctors, doctorAccount), err
		},
		one: func(ctx context.Context, api API, id int64) (account, error) {
			d, err := api.AdminDoctor(ctx, id)
			if err != nil {
				return account{}, err
			}
			return doctorAccount(*d), nil
		},
	},
	{
		collection: apiclient.CollectionAdmins,
		title:      "Admins",
		singular:   "Admin",
		creatable:  true,
		list: func(ctx context.Context, api API) ([]account, error) {
			admins, err := api.Admins(ctx)
			return mapAll(admins, adminAccount), err
		},
		one: func(ctx context.Context, api API, id int64) (account, error) {
			a, err := api.Admin(ctx, id)
			if err != nil {
				return account{}, err
			}
			return adminAccount(*a), nil
		},
	},
}

func mapAll[T any](in []T, fn func(T) account) []account {
	out := make([]account, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}

func userAccount(u model.User) account {
	conditions := ""
	if u.MedicalConditions != nil {
		conditions = *u.MedicalConditions
	}
	return account{
		ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt,
		Details: []detail{
			{"Gender", u.Gender},
			{"Blood type", u.BloodType},
			{"Height", u.Height.String()},
			{"Weight", u.Weight.String()},
			{"Medical conditions", conditions},
		},
	}
}

func doctorAccount(d model.Doctor) account {
	return account{
		ID: d.ID, Name: d.Name, Email: d.Email, CreatedAt: d.CreatedAt,
		Details: []detail{
			{"Specialization", d.Specialization},
			{"Gender", d.Gender},
			{"Height", d.Height.String()},
			{"Weight", d.Weight.String()},
		},
	}
}

func adminAccount(a model.Admin) account {
	return account{ID: a.ID, Name: a.Name, Email: a.Email, CreatedAt: a.CreatedAt}
}

type listData struct {
	Collection string
	Title      string
	Singular   string
	Creatable  bool
	Accounts   []account
}

func (h *Handler) list(k kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		accounts, err := k.list(c.Request.Context(), h.api)
		if err != nil {
			handler.Fail(c, err, "Failed to load "+k.title)
			return
		}
		p := handler.Page(c, k.title)
		p.Data = listData{
			Collection: k.collection,
			Title:      k.title,
			Singular:   k.singular,
			Creatable:  k.creatable,
			Accounts:   accounts,
		}
		handler.Render(c, http.StatusOK, "admin/accounts", p)
	}
}

type showData struct {
	Collection string
	Singular   string
	Account    account
	Self       bool
}

func (h *Handler) show(k kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := handler.ParamID(c, "id")
		if !ok {
			handler.NotFound(c, k.singular+" not found")
			return
		}
		h.renderAccount(c, http.StatusOK, k, id, nil)
	}
}

func (h *Handler) renderAccount(c *gin.Context, status int, k kind, id int64, errs map[string]string) {
	acc, err := k.one(c.Request.Context(), h.api, id)
	if err != nil {
		handler.Fail(c, err, "Failed to load "+k.singular)
		return
	}
	p := handler.Page(c, acc.Name)
	p.Errors = errs
	p.Data = showData{
		Collection: k.collection,
		Singular:   k.singular,
		Account:    acc,
		Self:       h.isSelf(c, k, id),
	}
	handler.Render(c, status, "admin/account", p)
}

func (h *Handler) isSelf(c *gin.Context, k kind, id int64) bool {
	identity := handler.Identity(c)
	return k.collection == apiclient.CollectionAdmins && identity.Role == model.RoleAdmin && identity.ID() == id
}

func (h *Handler) delete(k kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		back := "/admin/" + k.collection
		id, ok := handler.ParamID(c, "id")
		if !ok {
			handler.NotFound(c, k.singular+" not found")
			return
		}
		if h.isSelf(c, k, id) {
			handler.Flash(c, back, apperrors.BadRequest("You cannot delete your own account", nil), "")
			return
		}

		msg, err := h.api.DeleteAccount(c.Request.Context(), k.collection, id)
		if err != nil {
			handler.Flash(c, back, err, "Failed to delete "+k.singular)
			return
		}
		h.audit.AdminAction(handler.Identity(c), "delete", k.collection, id)
		if msg == "" {
			msg = k.singular + " deleted successfully"
		}
		handler.Done(c, back, msg)
	}
}

func (h *Handler) changePassword(k kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := handler.ParamID(c, "id")
		if !ok {
			handler.NotFound(c, k.singular+" not found")
			return
		}

		var req model.PasswordChange
		if err := c.ShouldBind(&req); err != nil {
			h.renderAccount(c, http.StatusUnprocessableEntity, k, id, handler.FormErrors(err, &req, "Please check the form and try again."))
			return
		}

		msg, err := h.api.ChangePassword(c.Request.Context(), k.collection, id, req)
		if err != nil {
			if handler.SignedOut(c, err) {
				return
			}
			h.renderAccount(c, handler.StatusFor(err), k, id, handler.FormErrors(err, &req, "Failed to change password"))
			return
		}
		h.audit.AdminAction(handler.Identity(c), "change_password", k.collection, id)
		if msg == "" {
			msg = "Password changed successfully"
		}
		handler.Done(c, "/admin/"+k.collection+"/"+c.Param("id"), msg)
	}
}

type createData struct {
	Collection string
	Singular   string
}

func (h *Handler) newForm(k kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var form any = model.AdminCreateRequest{}
		if k.collection == apiclient.CollectionDoctors {
			form = model.RegisterRequest{Role: model.RoleDoctor}
		}
		h.renderCreate(c, http.StatusOK, k, form, nil)
	}
}

func (h *Handler) renderCreate(c *gin.Context, status int, k kind, form any, errs map[string]string) {
	p := handler.Page(c, "New "+k.singular)
	p.Form = form
	p.Errors = errs
	p.Data = createData{Collection: k.collection, Singular: k.singular}
	handler.Render(c, status, "admin/"+k.collection+"_new", p)
}

func (h *Handler) create(k kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			form any
			id   int64
			err  error
		)
		ctx := c.Request.Context()

		switch k.collection {
		case apiclient.CollectionDoctors:
			var req model.RegisterRequest
			req.Role = model.RoleDoctor
			if bindErr := c.ShouldBind(&req); bindErr != nil {
				req.Password = ""
				h.renderCreate(c, http.StatusUnprocessableEntity, k, req, handler.FormErrors(bindErr, &req, "Please check the form and try again."))
				return
			}
			req.Role = model.RoleDoctor
			var d *model.Doctor
			if d, err = h.api.CreateDoctor(ctx, req); err == nil && d != nil {
				id = d.ID
			}
			req.Password = ""
			form = req
		default:
			var req model.AdminCreateRequest
			if bindErr := c.ShouldBind(&req); bindErr != nil {
				req.Password = ""
				h.renderCreate(c, http.StatusUnprocessableEntity, k, req, handler.FormErrors(bindErr, &req, "Please check the form and try again."))
				return
			}
			var a *model.Admin
			if a, err = h.api.CreateAdmin(ctx, req); err == nil && a != nil {
				id = a.ID
			}
			req.Password = ""
			form = req
		}

		if err != nil {
			if handler.SignedOut(c, err) {
				return
			}
			h.renderCreate(c, handler.StatusFor(err), k, form, handler.FormErrors(err, form, "Failed to create "+k.singular))
			return
		}
		h.audit.AdminAction(handler.Identity(c), "create", k.collection, id)
		handler.Done(c, "/admin/"+k.collection, k.singular+" created successfully")
	}
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
	appts, err := h.api.AllAppointments(c.Request.Context())
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
	handler.Render(c, http.StatusOK, "admin/appointments", p)
}

func (h *Handler) Appointment(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		handler.NotFound(c, "Appointment not found")
		return
	}
	appt, err := h.api.AdminAppointment(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err, "Failed to load appointment")
		return
	}
	p := handler.Page(c, "Appointment")
	p.Data = appt
	handler.Render(c, http.StatusOK, "admin/appointment", p)
}

type newAppointmentData struct {
	Users   []model.User
	Doctors []model.Doctor
}

func (h *Handler) NewAppointment(c *gin.Context) {
	h.renderNewAppointment(c, http.StatusOK, model.AppointmentCreate{}, nil)
}

func (h *Handler) renderNewAppointment(c *gin.Context, status int, form model.AppointmentCreate, errs map[string]string) {
	var data newAppointmentData
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		var err error
		data.Users, err = h.api.Users(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		data.Doctors, err = h.api.AdminDoctors(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		handler.Fail(c, err, "Failed to load patients and doctors")
		return
	}

	p := handler.Page(c, "New appointment")
	p.Form = form
	p.Errors = errs
	p.Data = data
	handler.Render(c, status, "admin/appointment_new", p)
}

func (h *Handler) CreateAppointment(c *gin.Context) {
	var req model.AppointmentCreate
	if err := c.ShouldBind(&req); err != nil {
		h.renderNewAppointment(c, http.StatusUnprocessableEntity, req, handler.FormErrors(err, &req, "Please check the form and try again."))
		return
	}

	appt, err := h.api.CreateAppointment(c.Request.Context(), req)
	if err != nil {
		if handler.SignedOut(c, err) {
			return
		}
		h.renderNewAppointment(c, handler.StatusFor(err), req, handler.FormErrors(err, &req, "Failed to create appointment"))
		return
	}
	var id int64
	if appt != nil {
		id = appt.ID
	}
	h.audit.AdminAction(handler.Identity(c), "create", "appointments", id)
	handler.Done(c, "/admin/appointments", "Appointment created successfully")
}
