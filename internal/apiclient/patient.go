package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"

	"github.com/jwalitptl/clinic-portal/internal/model"
	apperrors "github.com/jwalitptl/clinic-portal/pkg/errors"
)

func (c *Client) Profile(ctx context.Context) (*model.User, error) {
	return get[*model.User](ctx, c, c.newRequest(http.MethodGet, "/user/profile", "/user/profile"))
}

func (c *Client) UpdateProfile(ctx context.Context, upd model.PatientProfileUpdate) (*model.User, error) {
	r, err := c.newRequest(http.MethodPut, "/user/profile", "/user/profile").withJSON(upd)
	if err != nil {
		return nil, err
	}
	return get[*model.User](ctx, c, r)
}

func (c *Client) UpdatePassword(ctx context.Context, upd model.PasswordUpdate) (string, error) {
	r, err := c.newRequest(http.MethodPost, "/user/updatePassword", "/user/updatePassword").withJSON(upd)
	if err != nil {
		return "", err
	}
	return c.message(ctx, r)
}

// Doctors lists every doctor. A bare {msg} answer means there are none.
func (c *Client) Doctors(ctx context.Context) ([]model.Doctor, error) {
	body, err := c.send(ctx, c.newRequest(http.MethodGet, "/user/doctors", "/user/doctors").cached())
	if err != nil {
		return nil, err
	}
	if _, ok := bareMsg(body); ok {
		return []model.Doctor{}, nil
	}
	var doctors []model.Doctor
	if err := decode(body, &doctors); err != nil {
		return nil, err
	}
	return doctors, nil
}

func (c *Client) SearchDoctors(ctx context.Context, query string) ([]model.Doctor, error) {
	r := c.newRequest(http.MethodGet, "/user/doctors/search", "/user/doctors/search").
		withQuery(url.Values{"query": {query}})

	var resp struct {
		Doctors []model.Doctor `json:"doctors"`
	}
	if err := c.do(ctx, r, &resp); err != nil {
		return nil, err
	}
	if resp.Doctors == nil {
		resp.Doctors = []model.Doctor{}
	}
	return resp.Doctors, nil
}

// Doctor fetches one doctor. A bare {msg} answer is reported as not found.
func (c *Client) Doctor(ctx context.Context, id int64) (*model.Doctor, error) {
	body, err := c.send(ctx, c.newRequest(http.MethodGet, "/user/doctors/:id", idPath("/user/doctors/%d", id)).cached())
	if err != nil {
		return nil, err
	}
	if msg, ok := bareMsg(body); ok {
		return nil, notFound("Doctor", msg)
	}
	var d model.Doctor
	if err := decode(body, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) DoctorAvailability(ctx context.Context, doctorID int64, date string) (*model.DoctorAvailability, error) {
	r := c.newRequest(http.MethodGet, "/user/doctors/:id/availability", idPath("/user/doctors/%d/availability", doctorID)).
		withQuery(url.Values{"date": {date}})
	return get[*model.DoctorAvailability](ctx, c, r)
}

// Appointments is the patient's own appointment list, one page at a time.
func (c *Client) Appointments(ctx context.Context, page int) (*model.Paginated[model.Appointment], error) {
	r := c.newRequest(http.MethodGet, "/user/appointments", "/user/appointments").
		withQuery(url.Values{"page": {strconv.Itoa(max(page, 1))}})
	return c.appointmentPage(ctx, r)
}

func (c *Client) SearchAppointments(ctx context.Context, f model.AppointmentFilters) (*model.Paginated[model.Appointment], error) {
	q := url.Values{"page": {strconv.Itoa(max(f.Page, 1))}}
	if f.DoctorName != "" {
		q.Set("doctor_name", f.DoctorName)
	}
	if f.Date != "" {
		q.Set("date", f.Date)
	}
	if f.Time != "" {
		q.Set("time", f.Time)
	}
	r := c.newRequest(http.MethodGet, "/user/appointments/search", "/user/appointments/search").withQuery(q)
	return c.appointmentPage(ctx, r)
}

func (c *Client) appointmentPage(ctx context.Context, r *request) (*model.Paginated[model.Appointment], error) {
	body, err := c.send(ctx, r)
	if err != nil {
		return nil, err
	}
	if _, ok := bareMsg(body); ok {
		return &model.Paginated[model.Appointment]{CurrentPage: 1, LastPage: 1, Data: []model.Appointment{}}, nil
	}
	var page model.Paginated[model.Appointment]
	if err := decode(body, &page); err != nil {
		return nil, err
	}
	if page.Data == nil {
		page.Data = []model.Appointment{}
	}
	return &page, nil
}

func (c *Client) Appointment(ctx context.Context, id int64) (*model.Appointment, error) {
	body, err := c.send(ctx, c.newRequest(http.MethodGet, "/user/appointment/:id", idPath("/user/appointment/%d", id)))
	if err != nil {
		return nil, err
	}
	if msg, ok := bareMsg(body); ok {
		return nil, notFound("Appointment", msg)
	}
	var a model.Appointment
	if err := decode(body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Upload is a file attached to a booking.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// BookAppointment requests an appointment. With an attachment the request is
// sent as multipart form data, otherwise as JSON.
func (c *Client) BookAppointment(ctx context.Context, req model.BookingRequest, file *Upload) (*model.Appointment, error) {
	var (
		r   = c.newRequest(http.MethodPost, "/user/appointments", "/user/appointments")
		err error
	)
	if file == nil {
		r, err = r.withJSON(req)
	} else {
		r, err = r.withMultipart(req, file)
	}
	if err != nil {
		return nil, err
	}

	var resp struct {
		Message     string             `json:"message"`
		Appointment *model.Appointment `json:"appointment"`
	}
	if err := c.do(ctx, r, &resp); err != nil {
		return nil, err
	}
	if resp.Appointment == nil {
		return nil, apperrors.Rejected(http.StatusBadGateway, resp.Message, nil)
	}
	return resp.Appointment, nil
}

func (r *request) withMultipart(req model.BookingRequest, file *Upload) (*request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"doctor_id", strconv.FormatInt(req.DoctorID, 10)},
		{"appointment_date", req.AppointmentDate},
		{"appointment_time", req.AppointmentTime},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("write form field: %w", err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Filename))
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, file.Body); err != nil {
		return nil, fmt.Errorf("copy file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	r.body = &buf
	r.contentType = w.FormDataContentType()
	return r, nil
}
