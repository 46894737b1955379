package model

// Form payloads. The form tags bind browser posts, the json tags shape the
// request sent on to the clinic API, and binding tags are checked before any
// network call is made.

type LoginRequest struct {
	Role     Role   `form:"role" json:"-" binding:"required,oneof=user doctor admin"`
	Email    string `form:"email" json:"email" binding:"required,email"`
	Password string `form:"password" json:"password" binding:"required"`
}

type RegisterRequest struct {
	Role              Role    `form:"role" json:"-" binding:"required,oneof=user doctor"`
	Name              string  `form:"name" json:"name" binding:"required,max=255"`
	Email             string  `form:"email" json:"email" binding:"required,email"`
	Password          string  `form:"password" json:"password" binding:"required,min=6"`
	Height            float64 `form:"height" json:"height" binding:"required,gt=0"`
	Weight            float64 `form:"weight" json:"weight" binding:"required,gt=0"`
	BloodType         string  `form:"blood_type" json:"blood_type" binding:"required"`
	Gender            string  `form:"gender" json:"gender" binding:"required,oneof=male female"`
	MedicalConditions string  `form:"medical_conditions" json:"medical_conditions,omitempty"`
	Specialization    string  `form:"specialization" json:"specialization,omitempty" binding:"required_if=Role doctor"`
}

func (RegisterRequest) ValidationMessages() map[string]string {
	return map[string]string{
		"specialization.required_if": "Specialization is required for doctors",
		"gender.oneof":               "Gender must be male or female",
	}
}

type AdminCreateRequest struct {
	Name     string `form:"name" json:"name" binding:"required,max=255"`
	Email    string `form:"email" json:"email" binding:"required,email"`
	Password string `form:"password" json:"password" binding:"required,min=6"`
}

// PasswordUpdate is a patient changing their own password.
type PasswordUpdate struct {
	CurrentPassword         string `form:"current_password" json:"current_password" binding:"required"`
	NewPassword             string `form:"new_password" json:"new_password" binding:"required"`
	NewPasswordConfirmation string `form:"new_password_confirmation" json:"new_password_confirmation" binding:"required,eqfield=NewPassword"`
}

func (PasswordUpdate) ValidationMessages() map[string]string {
	return map[string]string{
		"new_password_confirmation.eqfield": "New passwords do not match",
	}
}

// PasswordChange is an admin resetting another account's password.
type PasswordChange struct {
	NewPassword     string `form:"new_password" json:"new_password" binding:"required,min=6"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password" binding:"required,eqfield=NewPassword"`
}

func (PasswordChange) ValidationMessages() map[string]string {
	return map[string]string{
		"new_password.min":         "Password must be at least 6 characters",
		"confirm_password.eqfield": "Passwords do not match",
	}
}

type PatientProfileUpdate struct {
	Name              string  `form:"name" json:"name" binding:"required,max=255"`
	Email             string  `form:"email" json:"email" binding:"required,email"`
	Height            float64 `form:"height" json:"height" binding:"omitempty,gt=0"`
	Weight            float64 `form:"weight" json:"weight" binding:"omitempty,gt=0"`
	BloodType         string  `form:"blood_type" json:"blood_type,omitempty"`
	Gender            string  `form:"gender" json:"gender,omitempty" binding:"omitempty,oneof=male female"`
	MedicalConditions string  `form:"medical_conditions" json:"medical_conditions"`
}

type DoctorProfileUpdate struct {
	Name           string  `form:"name" json:"name" binding:"required,max=255"`
	Email          string  `form:"email" json:"email" binding:"required,email"`
	Specialization string  `form:"specialization" json:"specialization" binding:"required"`
	Height         float64 `form:"height" json:"height,omitempty" binding:"omitempty,gt=0"`
	Weight         float64 `form:"weight" json:"weight,omitempty" binding:"omitempty,gt=0"`
	Gender         string  `form:"gender" json:"gender,omitempty" binding:"omitempty,oneof=male female"`
	Password       string  `form:"password" json:"password,omitempty" binding:"omitempty,min=6"`
}

type CancelRequest struct {
	Reason string `form:"reason" json:"reason" binding:"required,min=3"`
}

func (CancelRequest) ValidationMessages() map[string]string {
	return map[string]string{
		"reason.required": "Please provide a reason for cancellation",
		"reason.min":      "Reason must be at least 3 characters",
	}
}

type BookingRequest struct {
	DoctorID        int64  `form:"-" json:"doctor_id"`
	AppointmentDate string `form:"appointment_date" json:"appointment_date" binding:"required,weekday"`
	AppointmentTime string `form:"appointment_time" json:"appointment_time" binding:"required,clock"`
}

func (BookingRequest) ValidationMessages() map[string]string {
	return map[string]string{
		"appointment_date.required": "Please select a date and time",
		"appointment_time.required": "Please select a date and time",
		"appointment_date.weekday":  "Appointments can only be booked on weekdays",
	}
}

type AvailabilityRequest struct {
	Date      string `form:"date" json:"date" binding:"required,weekday"`
	StartTime string `form:"start_time" json:"start_time" binding:"required,clock"`
	EndTime   string `form:"end_time" json:"end_time" binding:"required,clock"`
}

func (AvailabilityRequest) ValidationMessages() map[string]string {
	return map[string]string{
		"date.weekday": "Availability can only be set on weekdays",
	}
}

type AppointmentCreate struct {
	UserID          int64  `form:"user_id" json:"user_id" binding:"required,gt=0"`
	DoctorID        int64  `form:"doctor_id" json:"doctor_id" binding:"required,gt=0"`
	AppointmentDate string `form:"appointment_date" json:"appointment_date" binding:"required,datetime=2006-01-02"`
	AppointmentTime string `form:"appointment_time" json:"appointment_time" binding:"required,clock"`
}
