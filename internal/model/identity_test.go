package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeIdentityByRole(t *testing.T) {
	id, err := DecodeIdentity(RoleDoctor, []byte(`{"id":7,"name":"Dr. Rao","email":"rao@clinic.test","height":"180","weight":80,"specialization":"Cardiology"}`))
	require.NoError(t, err)
	assert.Equal(t, RoleDoctor, id.Role)
	require.NotNil(t, id.Doctor)
	assert.Nil(t, id.Patient)
	assert.Equal(t, "Cardiology", id.Doctor.Specialization)
	assert.Equal(t, Measure(180), id.Doctor.Height)
	assert.Equal(t, int64(7), id.ID())
	assert.Equal(t, "Dr. Rao", id.Name())
}

func TestDecodeIdentityRejectsPartialState(t *testing.T) {
	_, err := DecodeIdentity(RolePatient, nil)
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = DecodeIdentity(RolePatient, []byte(`{"name":"no id"}`))
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = DecodeIdentity(Role("nurse"), []byte(`{"id":1}`))
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = DecodeIdentity(RoleAdmin, []byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestIdentityEncodeRoundTrip(t *testing.T) {
	in := AdminIdentity(&Admin{ID: 3, Name: "Root", Email: "root@clinic.test"})
	raw, err := in.Encode()
	require.NoError(t, err)

	out, err := DecodeIdentity(RoleAdmin, raw)
	require.NoError(t, err)
	assert.Equal(t, in.Admin, out.Admin)
}

func TestRoleHome(t *testing.T) {
	assert.Equal(t, "/patient/dashboard", RolePatient.Home())
	assert.Equal(t, "/doctor/dashboard", RoleDoctor.Home())
	assert.Equal(t, "/admin/dashboard", RoleAdmin.Home())
	assert.Equal(t, "/login", Role("").Home())
	assert.True(t, RoleDoctor.CanRegister())
	assert.False(t, RoleAdmin.CanRegister())
}
