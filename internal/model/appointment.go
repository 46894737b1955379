package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusBooked    AppointmentStatus = "booked"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	// StatusUnknown stands in for a missing or null status.
	StatusUnknown AppointmentStatus = "unknown"
)

// The clinic API stores cancelled appointments under a misspelled value.
// Decoding accepts every spelling seen in the wild, encoding always writes
// the one the API expects.
const wireCancelled = "canceleld"

var Statuses = []AppointmentStatus{StatusPending, StatusBooked, StatusCompleted, StatusCancelled}

// MinCancelReason is the shortest accepted cancellation reason.
const MinCancelReason = 3

func ParseStatus(s string) (AppointmentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, nil
	case "booked":
		return StatusBooked, nil
	case "completed":
		return StatusCompleted, nil
	case wireCancelled, "cancelleld", "cancelled", "canceled":
		return StatusCancelled, nil
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

func (s AppointmentStatus) Wire() string {
	if s == StatusCancelled {
		return wireCancelled
	}
	return string(s)
}

func (s AppointmentStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Wire())
}

// UnmarshalJSON never fails, so one odd row cannot sink a whole list.
// Values outside the lifecycle are kept as sent and match no filter.
func (s *AppointmentStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil || strings.TrimSpace(raw) == "" {
		*s = StatusUnknown
		return nil
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		parsed = AppointmentStatus(strings.ToLower(strings.TrimSpace(raw)))
	}
	*s = parsed
	return nil
}

// Known reports whether s is one of the lifecycle statuses.
func (s AppointmentStatus) Known() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition encodes the appointment lifecycle:
// pending -> booked, pending|booked -> cancelled, booked -> completed.
func (s AppointmentStatus) CanTransition(to AppointmentStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusBooked || to == StatusCancelled
	case StatusBooked:
		return to == StatusCompleted || to == StatusCancelled
	}
	return false
}

// Occupies reports whether an appointment in this status holds its time slot.
func (s AppointmentStatus) Occupies() bool {
	return s == StatusPending || s == StatusBooked
}

type Appointment struct {
	ID              int64             `json:"id"`
	UserID          int64             `json:"user_id"`
	DoctorID        int64             `json:"doctor_id"`
	AppointmentDate string            `json:"appointment_date"`
	AppointmentTime string            `json:"appointment_time"`
	Status          AppointmentStatus `json:"status"`
	CancelReason    *string           `json:"cancel_reason"`
	FileUpload      *string           `json:"file_upload"`
	CreatedAt       string            `json:"created_at,omitempty"`
	UpdatedAt       string            `json:"updated_at,omitempty"`
	Doctor          *Doctor           `json:"doctor,omitempty"`
	User            *User             `json:"user,omitempty"`
}

// Date is the calendar date of the appointment, without any time part.
func (a Appointment) Date() string {
	return DateOnly(a.AppointmentDate)
}

func (a Appointment) HasFile() bool {
	return a.FileUpload != nil && *a.FileUpload != ""
}

// FilterByStatus keeps appointments whose status equals status exactly.
// An empty status keeps everything.
func FilterByStatus(appts []Appointment, status AppointmentStatus) []Appointment {
	if status == "" {
		return appts
	}
	out := make([]Appointment, 0, len(appts))
	for _, a := range appts {
		if a.Status == status {
			out = append(out, a)
		}
	}
	return out
}

func CountByStatus(appts []Appointment) map[AppointmentStatus]int {
	counts := make(map[AppointmentStatus]int, len(Statuses))
	for _, s := range Statuses {
		counts[s] = 0
	}
	for _, a := range appts {
		counts[a.Status]++
	}
	return counts
}

// OnDate returns the appointments scheduled on date (YYYY-MM-DD), ordered by time.
func OnDate(appts []Appointment, date string) []Appointment {
	out := make([]Appointment, 0)
	for _, a := range appts {
		if a.Date() == date {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AppointmentTime < out[j].AppointmentTime
	})
	return out
}

// MostRecent returns up to n appointments, newest first by creation time.
func MostRecent(appts []Appointment, n int) []Appointment {
	out := make([]Appointment, len(appts))
	copy(out, appts)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt == out[j].CreatedAt {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt > out[j].CreatedAt
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Upcoming returns pending and booked appointments dated today or later,
// soonest first.
func Upcoming(appts []Appointment, today string) []Appointment {
	out := make([]Appointment, 0)
	for _, a := range appts {
		if a.Status.Occupies() && a.Date() >= today {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date() == out[j].Date() {
			return out[i].AppointmentTime < out[j].AppointmentTime
		}
		return out[i].Date() < out[j].Date()
	})
	return out
}
