package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidIdentity = errors.New("invalid identity")

// Identity is the signed-in actor. Exactly one of the profile pointers is set,
// selected by Role.
type Identity struct {
	Role    Role
	Patient *User
	Doctor  *Doctor
	Admin   *Admin
}

func PatientIdentity(u *User) Identity  { return Identity{Role: RolePatient, Patient: u} }
func DoctorIdentity(d *Doctor) Identity { return Identity{Role: RoleDoctor, Doctor: d} }
func AdminIdentity(a *Admin) Identity   { return Identity{Role: RoleAdmin, Admin: a} }

// DecodeIdentity rebuilds an identity from a persisted profile document.
func DecodeIdentity(role Role, raw []byte) (Identity, error) {
	if len(raw) == 0 {
		return Identity{}, ErrInvalidIdentity
	}

	var (
		id  Identity
		err error
	)
	switch role {
	case RolePatient:
		var u User
		err = json.Unmarshal(raw, &u)
		id = PatientIdentity(&u)
	case RoleDoctor:
		var d Doctor
		err = json.Unmarshal(raw, &d)
		id = DoctorIdentity(&d)
	case RoleAdmin:
		var a Admin
		err = json.Unmarshal(raw, &a)
		id = AdminIdentity(&a)
	default:
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidIdentity, role)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if !id.Valid() {
		return Identity{}, ErrInvalidIdentity
	}
	return id, nil
}

// Encode serializes the profile for the role, without the tag.
func (i Identity) Encode() ([]byte, error) {
	switch i.Role {
	case RolePatient:
		return json.Marshal(i.Patient)
	case RoleDoctor:
		return json.Marshal(i.Doctor)
	case RoleAdmin:
		return json.Marshal(i.Admin)
	}
	return nil, ErrInvalidIdentity
}

func (i Identity) Valid() bool {
	switch i.Role {
	case RolePatient:
		return i.Patient != nil && i.Patient.ID != 0
	case RoleDoctor:
		return i.Doctor != nil && i.Doctor.ID != 0
	case RoleAdmin:
		return i.Admin != nil && i.Admin.ID != 0
	}
	return false
}

func (i Identity) ID() int64 {
	switch i.Role {
	case RolePatient:
		return i.Patient.ID
	case RoleDoctor:
		return i.Doctor.ID
	case RoleAdmin:
		return i.Admin.ID
	}
	return 0
}

func (i Identity) Name() string {
	switch i.Role {
	case RolePatient:
		return i.Patient.Name
	case RoleDoctor:
		return i.Doctor.Name
	case RoleAdmin:
		return i.Admin.Name
	}
	return ""
}

func (i Identity) Email() string {
	switch i.Role {
	case RolePatient:
		return i.Patient.Email
	case RoleDoctor:
		return i.Doctor.Email
	case RoleAdmin:
		return i.Admin.Email
	}
	return ""
}
