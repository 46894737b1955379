package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jwalitptl/clinic-portal/internal/model"
	apperrors "github.com/jwalitptl/clinic-portal/pkg/errors"
)

type LoginResult struct {
	Token    string
	Identity model.Identity
	Message  string
}

// Login exchanges credentials for a token at the role's auth route.
func (c *Client) Login(ctx context.Context, req model.LoginRequest) (*LoginResult, error) {
	if !req.Role.Valid() {
		return nil, apperrors.FieldError("role", "Please select a role")
	}

	path := fmt.Sprintf("/auth/%s/login", req.Role)
	r, err := c.newRequest(http.MethodPost, "/auth/:role/login", path).withJSON(req)
	if err != nil {
		return nil, err
	}

	var resp map[string]json.RawMessage
	if err := c.do(ctx, r, &resp); err != nil {
		return nil, err
	}

	var token, message string
	_ = json.Unmarshal(resp["token"], &token)
	_ = json.Unmarshal(resp["message"], &message)
	if token == "" {
		return nil, apperrors.Rejected(http.StatusBadGateway, "Login failed: no token received", nil)
	}

	identity, err := model.DecodeIdentity(req.Role, resp[string(req.Role)])
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("login profile: %w", err))
	}
	return &LoginResult{Token: token, Identity: identity, Message: message}, nil
}

// profileKey is where the register answer puts the new account. The doctor
// route capitalizes it.
func profileKey(role model.Role) string {
	if role == model.RoleDoctor {
		return "Doctor"
	}
	return string(role)
}

// Register creates a patient or doctor account. It does not sign in.
func (c *Client) Register(ctx context.Context, req model.RegisterRequest) (model.Identity, string, error) {
	if !req.Role.CanRegister() {
		return model.Identity{}, "", apperrors.FieldError("role", "Registration is only open to patients and doctors")
	}

	path := fmt.Sprintf("/auth/%s/register", req.Role)
	r, err := c.newRequest(http.MethodPost, "/auth/:role/register", path).withJSON(registerBody(req))
	if err != nil {
		return model.Identity{}, "", err
	}

	var resp map[string]json.RawMessage
	if err := c.do(ctx, r, &resp); err != nil {
		return model.Identity{}, "", err
	}

	var msg string
	_ = json.Unmarshal(resp["msg"], &msg)

	raw, ok := resp[profileKey(req.Role)]
	if !ok {
		raw = resp[string(req.Role)]
	}
	identity, err := model.DecodeIdentity(req.Role, raw)
	if err != nil {
		return model.Identity{}, msg, apperrors.Internal(fmt.Errorf("register profile: %w", err))
	}
	return identity, msg, nil
}

// registerBody drops the fields the target route does not take.
func registerBody(req model.RegisterRequest) model.RegisterRequest {
	if req.Role == model.RoleDoctor {
		req.MedicalConditions = ""
	} else {
		req.Specialization = ""
	}
	return req
}
