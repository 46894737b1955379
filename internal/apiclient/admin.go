package apiclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jwalitptl/clinic-portal/internal/model"
)

func (c *Client) AdminStats(ctx context.Context) (*model.AdminStats, error) {
	return get[*model.AdminStats](ctx, c, c.newRequest(http.MethodGet, "/admin/stats", "/admin/stats"))
}

// Account collections managed from the admin panel.
const (
	CollectionUsers   = "users"
	CollectionDoctors = "doctors"
	CollectionAdmins  = "admins"
)

func list[T any](ctx context.Context, c *Client, collection string) ([]T, error) {
	route := "/admin/" + collection
	body, err := c.send(ctx, c.newRequest(http.MethodGet, route, route))
	if err != nil {
		return nil, err
	}
	if _, ok := bareMsg(body); ok {
		return []T{}, nil
	}
	var out []T
	if err := decode(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func one[T any](ctx context.Context, c *Client, collection string, id int64) (*T, error) {
	route := "/admin/" + collection + "/:id"
	body, err := c.send(ctx, c.newRequest(http.MethodGet, route, fmt.Sprintf("/admin/%s/%d", collection, id)))
	if err != nil {
		return nil, err
	}
	if msg, ok := bareMsg(body); ok {
		return nil, notFound("Record", msg)
	}
	var out T
	if err := decode(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Users(ctx context.Context) ([]model.User, error) {
	return list[model.User](ctx, c, CollectionUsers)
}

func (c *Client) User(ctx context.Context, id int64) (*model.User, error) {
	return one[model.User](ctx, c, CollectionUsers, id)
}

func (c *Client) AdminDoctors(ctx context.Context) ([]model.Doctor, error) {
	return list[model.Doctor](ctx, c, CollectionDoctors)
}

func (c *Client) AdminDoctor(ctx context.Context, id int64) (*model.Doctor, error) {
	return one[model.Doctor](ctx, c, CollectionDoctors, id)
}

func (c *Client) Admins(ctx context.Context) ([]model.Admin, error) {
	return list[model.Admin](ctx, c, CollectionAdmins)
}

func (c *Client) Admin(ctx context.Context, id int64) (*model.Admin, error) {
	return one[model.Admin](ctx, c, CollectionAdmins, id)
}

// DeleteAccount removes a user, doctor or admin.
func (c *Client) DeleteAccount(ctx context.Context, collection string, id int64) (string, error) {
	r := c.newRequest(http.MethodDelete, "/admin/"+collection+"/:id", fmt.Sprintf("/admin/%s/%d", collection, id))
	return c.message(ctx, r)
}

// ChangePassword sets a new password on a user, doctor or admin.
func (c *Client) ChangePassword(ctx context.Context, collection string, id int64, req model.PasswordChange) (string, error) {
	r, err := c.newRequest(http.MethodPost, "/admin/"+collection+"/:id/changePassword",
		fmt.Sprintf("/admin/%s/%d/changePassword", collection, id)).withJSON(req)
	if err != nil {
		return "", err
	}
	return c.message(ctx, r)
}

func (c *Client) CreateDoctor(ctx context.Context, req model.RegisterRequest) (*model.Doctor, error) {
	req.Role = model.RoleDoctor
	r, err := c.newRequest(http.MethodPost, "/admin/doctors", "/admin/doctors").withJSON(registerBody(req))
	if err != nil {
		return nil, err
	}
	var resp struct {
		Message string        `json:"message"`
		Doctor  *model.Doctor `json:"doctor"`
	}
	if err := c.do(ctx, r, &resp); err != nil {
		return nil, err
	}
	return resp.Doctor, nil
}

func (c *Client) CreateAdmin(ctx context.Context, req model.AdminCreateRequest) (*model.Admin, error) {
	r, err := c.newRequest(http.MethodPost, "/admin/admins", "/admin/admins").withJSON(req)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Msg   string       `json:"msg"`
		Admin *model.Admin `json:"admin"`
	}
	if err := c.do(ctx, r, &resp); err != nil {
		return nil, err
	}
	return resp.Admin, nil
}

func (c *Client) AllAppointments(ctx context.Context) ([]model.Appointment, error) {
	return list[model.Appointment](ctx, c, "appointments")
}

func (c *Client) AdminAppointment(ctx context.Context, id int64) (*model.Appointment, error) {
	return one[model.Appointment](ctx, c, "appointments", id)
}

func (c *Client) CreateAppointment(ctx context.Context, req model.AppointmentCreate) (*model.Appointment, error) {
	r, err := c.newRequest(http.MethodPost, "/admin/appointments", "/admin/appointments").withJSON(req)
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
	return resp.Appointment, nil
}
