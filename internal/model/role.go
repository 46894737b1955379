package model

// Role tags which actor a session belongs to. The values match the role
// strings the clinic API uses in its auth routes.
type Role string

const (
	RolePatient Role = "user"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

var Roles = []Role{RolePatient, RoleDoctor, RoleAdmin}

func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Home is the dashboard path for the role. Anonymous sessions go to the login page.
func (r Role) Home() string {
	switch r {
	case RolePatient:
		return "/patient/dashboard"
	case RoleDoctor:
		return "/doctor/dashboard"
	case RoleAdmin:
		return "/admin/dashboard"
	}
	return "/login"
}

func (r Role) Label() string {
	switch r {
	case RolePatient:
		return "Patient"
	case RoleDoctor:
		return "Doctor"
	case RoleAdmin:
		return "Admin"
	}
	return "Guest"
}

// CanRegister reports whether self sign-up exists for the role.
// Admins are created from the admin panel only.
func (r Role) CanRegister() bool {
	return r == RolePatient || r == RoleDoctor
}
