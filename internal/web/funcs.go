package web

import (
	"html/template"
	"strings"
	"time"

	"github.com/jwalitptl/clinic-portal/internal/model"
)

var bloodTypes = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}

func Funcs() template.FuncMap {
	return template.FuncMap{
		"date":        formatDate,
		"clock":       formatClock,
		"statusLabel": statusLabel,
		"statusClass": statusClass,
		"add":         func(a, b int) int { return a + b },
		"sub":         func(a, b int) int { return a - b },
		"lower":       strings.ToLower,
		"deref":       deref,
		"roleLabel":   func(r model.Role) string { return r.Label() },
		"statuses":    func() []model.AppointmentStatus { return model.Statuses },
		"weekday":     func(t time.Time) string { return t.Format("Mon, Jan 2") },
		"isoDate":     model.FormatDate,
		"bloodTypes":  func() []string { return bloodTypes },
		"measure":     func(m model.Measure) string { return m.String() },
	}
}

// formatDate renders an API date or timestamp as "Jun 2, 2025".
func formatDate(s string) string {
	d := model.DateOnly(s)
	t, err := time.Parse(model.DateLayout, d)
	if err != nil {
		return s
	}
	return t.Format("Jan 2, 2006")
}

// formatClock renders HH:MM[:SS] as HH:MM.
func formatClock(s string) string {
	if len(s) >= 5 {
		return s[:5]
	}
	return s
}

func statusLabel(s model.AppointmentStatus) string {
	if s == "" {
		return "All"
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

func statusClass(s model.AppointmentStatus) string {
	switch s {
	case model.StatusPending:
		return "badge-warning"
	case model.StatusBooked:
		return "badge-info"
	case model.StatusCompleted:
		return "badge-success"
	case model.StatusCancelled:
		return "badge-danger"
	}
	return "badge"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
