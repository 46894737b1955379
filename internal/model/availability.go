package model

// AvailabilitySlot is a window a doctor published for bookings on one date.
type AvailabilitySlot struct {
	ID        int64  `json:"id"`
	DoctorID  int64  `json:"doctor_id"`
	Date      string `json:"date"`
	DayOfWeek string `json:"day_of_week,omitempty"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Day is the slot date without any time part.
func (s AvailabilitySlot) Day() string {
	return DateOnly(s.Date)
}

// FreeBlock is an open interval inside published availability.
type FreeBlock struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// DoctorAvailability is the API's answer for bookable blocks on a date.
type DoctorAvailability struct {
	Doctor struct {
		ID             int64  `json:"id"`
		Name           string `json:"name"`
		Specialization string `json:"specialization"`
	} `json:"doctor"`
	Date            string      `json:"date"`
	AvailableBlocks []FreeBlock `json:"available_blocks"`
}
