package model

import "time"

// DateLayout is the calendar date format used on the wire.
const DateLayout = "2006-01-02"

// DateOnly trims an API date or timestamp to its YYYY-MM-DD part.
func DateOnly(s string) string {
	if len(s) >= len(DateLayout) {
		return s[:len(DateLayout)]
	}
	return s
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Paginated is the page envelope the API returns for appointment lists.
type Paginated[T any] struct {
	CurrentPage int     `json:"current_page"`
	Data        []T     `json:"data"`
	From        int     `json:"from"`
	To          int     `json:"to"`
	LastPage    int     `json:"last_page"`
	PerPage     int     `json:"per_page"`
	Total       int     `json:"total"`
	NextPageURL *string `json:"next_page_url"`
	PrevPageURL *string `json:"prev_page_url"`
}

func (p *Paginated[T]) HasNext() bool {
	return p != nil && p.CurrentPage < p.LastPage
}

func (p *Paginated[T]) HasPrev() bool {
	return p != nil && p.CurrentPage > 1
}

// AppointmentFilters are the search fields of the patient appointment list.
type AppointmentFilters struct {
	DoctorName string `form:"doctor_name"`
	Date       string `form:"date"`
	Time       string `form:"time"`
	Status     string `form:"status"`
	Page       int    `form:"page"`
}

// Searching reports whether any server-side search field is set.
func (f AppointmentFilters) Searching() bool {
	return f.DoctorName != "" || f.Date != "" || f.Time != ""
}
