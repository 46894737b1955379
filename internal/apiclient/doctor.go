package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/jwalitptl/clinic-portal/internal/model"
)

func (c *Client) DoctorProfile(ctx context.Context) (*model.Doctor, error) {
	return get[*model.Doctor](ctx, c, c.newRequest(http.MethodGet, "/doctor/profile", "/doctor/profile"))
}

// UpdateDoctorProfile saves the profile. The API answers with the updated
// doctor under the key "0"; a nil doctor means it sent none.
func (c *Client) UpdateDoctorProfile(ctx context.Context, upd model.DoctorProfileUpdate) (string, *model.Doctor, error) {
	r, err := c.newRequest(http.MethodPut, "/doctor/profile", "/doctor/profile").withJSON(upd)
	if err != nil {
		return "", nil, err
	}

	var resp map[string]json.RawMessage
	if err := c.do(ctx, r, &resp); err != nil {
		return "", nil, err
	}

	var msg string
	_ = json.Unmarshal(resp["msg"], &msg)

	raw, ok := resp["0"]
	if !ok {
		return msg, nil, nil
	}
	var d model.Doctor
	if err := decode(raw, &d); err != nil {
		return msg, nil, err
	}
	return msg, &d, nil
}

func (c *Client) Availability(ctx context.Context) ([]model.AvailabilitySlot, error) {
	body, err := c.send(ctx, c.newRequest(http.MethodGet, "/doctor/availability", "/doctor/availability"))
	if err != nil {
		return nil, err
	}
	if _, ok := bareMsg(body); ok {
		return []model.AvailabilitySlot{}, nil
	}
	var slots []model.AvailabilitySlot
	if err := decode(body, &slots); err != nil {
		return nil, err
	}
	return slots, nil
}

func (c *Client) AddAvailability(ctx context.Context, req model.AvailabilityRequest) (*model.AvailabilitySlot, error) {
	r, err := c.newRequest(http.MethodPost, "/doctor/availability", "/doctor/availability").withJSON(req)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Message      string                  `json:"message"`
		Availability *model.AvailabilitySlot `json:"availability"`
	}
	if err := c.do(ctx, r, &resp); err != nil {
		return nil, err
	}
	return resp.Availability, nil
}

func (c *Client) DeleteAvailability(ctx context.Context, id int64) (string, error) {
	return c.message(ctx, c.newRequest(http.MethodDelete, "/doctor/availability/:id", idPath("/doctor/availability/%d", id)))
}

func (c *Client) DoctorAppointments(ctx context.Context) ([]model.Appointment, error) {
	body, err := c.send(ctx, c.newRequest(http.MethodGet, "/doctor/appointments", "/doctor/appointments"))
	if err != nil {
		return nil, err
	}
	if _, ok := bareMsg(body); ok {
		return []model.Appointment{}, nil
	}
	var appts []model.Appointment
	if err := decode(body, &appts); err != nil {
		return nil, err
	}
	return appts, nil
}

func (c *Client) AcceptAppointment(ctx context.Context, id int64) (string, error) {
	return c.message(ctx, c.newRequest(http.MethodPost, "/doctor/appointments/:id/accept", idPath("/doctor/appointments/%d/accept", id)))
}

func (c *Client) CompleteAppointment(ctx context.Context, id int64) (string, error) {
	return c.message(ctx, c.newRequest(http.MethodPost, "/doctor/appointments/:id/complete", idPath("/doctor/appointments/%d/complete", id)))
}

func (c *Client) CancelAppointment(ctx context.Context, id int64, req model.CancelRequest) (string, error) {
	r, err := c.newRequest(http.MethodPost, "/doctor/appointments/:id/cancel", idPath("/doctor/appointments/%d/cancel", id)).withJSON(req)
	if err != nil {
		return "", err
	}
	return c.message(ctx, r)
}

// File is a streamed attachment. The caller must close Body.
type File struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	Filename      string
}

// AppointmentFile streams the attachment of an appointment.
func (c *Client) AppointmentFile(ctx context.Context, id int64) (*File, error) {
	resp, err := c.open(ctx, c.newRequest(http.MethodGet, "/doctor/appointments/:id/file", idPath("/doctor/appointments/%d/file", id)))
	if err != nil {
		return nil, err
	}

	f := &File{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Filename:      "appointment-" + strconv.FormatInt(id, 10),
	}
	if f.ContentType == "" {
		f.ContentType = "application/octet-stream"
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		f.Filename = params["filename"]
	} else if exts, _ := mime.ExtensionsByType(f.ContentType); len(exts) > 0 {
		f.Filename += exts[0]
	}
	return f, nil
}

func (c *Client) DoctorStats(ctx context.Context) (*model.DoctorStats, error) {
	return get[*model.DoctorStats](ctx, c, c.newRequest(http.MethodGet, "/doctor/stats", "/doctor/stats"))
}
