// Package availability resolves doctor availability windows into groups,
// overlaps and free blocks. It performs no I/O.
package availability

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jwalitptl/clinic-portal/internal/model"
)

var (
	ErrInvalidInterval = errors.New("start time must be before end time")
	ErrInvalidClock    = errors.New("invalid time of day")
)

// Clock is a time of day in minutes since midnight.
type Clock int

// ParseClock accepts "HH:MM" and "HH:MM:SS". Seconds are dropped.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); err != nil || sec < 0 || sec > 59 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
		}
	}
	c := Clock(h*60 + m)
	if c > 24*60 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return c, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Window is a half-open interval [Start, End).
type Window struct {
	Start Clock
	End   Clock
}

func (w Window) Valid() bool {
	return w.Start < w.End
}

func (w Window) Overlaps(o Window) bool {
	return w.Start < o.End && w.End > o.Start
}

func slotWindow(s model.AvailabilitySlot) (Window, error) {
	start, err := ParseClock(s.StartTime)
	if err != nil {
		return Window{}, err
	}
	end, err := ParseClock(s.EndTime)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: start, End: end}, nil
}

// HasOverlap reports whether [start, end) on date intersects any existing slot
// published for the same date. Touching boundaries do not overlap.
func HasOverlap(existing []model.AvailabilitySlot, date string, start, end Clock) (bool, error) {
	candidate := Window{Start: start, End: end}
	if !candidate.Valid() {
		return false, ErrInvalidInterval
	}

	day := model.DateOnly(date)
	for _, s := range existing {
		if s.Day() != day {
			continue
		}
		w, err := slotWindow(s)
		if err != nil {
			return false, fmt.Errorf("slot %d: %w", s.ID, err)
		}
		if candidate.Overlaps(w) {
			return true, nil
		}
	}
	return false, nil
}

// GroupByDate buckets slots by calendar date. Each bucket is ordered by start
// time; slots with an unparsable start keep their relative order at the end.
func GroupByDate(slots []model.AvailabilitySlot) map[string][]model.AvailabilitySlot {
	grouped := make(map[string][]model.AvailabilitySlot)
	for _, s := range slots {
		day := s.Day()
		grouped[day] = append(grouped[day], s)
	}
	for _, bucket := range grouped {
		sort.SliceStable(bucket, func(i, j int) bool {
			return startKey(bucket[i]) < startKey(bucket[j])
		})
	}
	return grouped
}

func startKey(s model.AvailabilitySlot) int {
	c, err := ParseClock(s.StartTime)
	if err != nil {
		return 1 << 30
	}
	return int(c)
}

// FilterUpcoming returns the dates on or after today, ascending.
func FilterUpcoming(grouped map[string][]model.AvailabilitySlot, today time.Time) []string {
	cutoff := model.FormatDate(today)
	dates := make([]string, 0, len(grouped))
	for d := range grouped {
		if d >= cutoff {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)
	return dates
}

// ComputeFreeBlocks subtracts the time held by pending and booked appointments
// from the windows published for date. Every appointment holds
// [appointment_time, appointment_time+length).
func ComputeFreeBlocks(published []model.AvailabilitySlot, appts []model.Appointment, date string, length time.Duration) ([]model.FreeBlock, error) {
	day := model.DateOnly(date)
	span := Clock(length / time.Minute)
	if span <= 0 {
		return nil, fmt.Errorf("appointment length must be at least a minute, got %s", length)
	}

	var open []Window
	for _, s := range published {
		if s.Day() != day {
			continue
		}
		w, err := slotWindow(s)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", s.ID, err)
		}
		if w.Valid() {
			open = append(open, w)
		}
	}

	var busy []Window
	for _, a := range appts {
		if a.Date() != day || !a.Status.Occupies() {
			continue
		}
		start, err := ParseClock(a.AppointmentTime)
		if err != nil {
			return nil, fmt.Errorf("appointment %d: %w", a.ID, err)
		}
		busy = append(busy, Window{Start: start, End: start + span})
	}

	free := subtract(merge(open), merge(busy))
	blocks := make([]model.FreeBlock, 0, len(free))
	for _, w := range free {
		blocks = append(blocks, model.FreeBlock{StartTime: w.Start.String(), EndTime: w.End.String()})
	}
	return blocks, nil
}

// merge sorts windows and joins the ones that overlap or touch.
func merge(ws []Window) []Window {
	if len(ws) == 0 {
		return nil
	}
	sorted := make([]Window, len(ws))
	copy(sorted, ws)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := []Window{sorted[0]}
	for _, w := range sorted[1:] {
		last := &out[len(out)-1]
		if w.Start <= last.End {
			if w.End > last.End {
				last.End = w.End
			}
			continue
		}
		out = append(out, w)
	}
	return out
}

// subtract removes busy from open. Both inputs must be merged.
func subtract(open, busy []Window) []Window {
	var out []Window
	for _, o := range open {
		cursor := o.Start
		for _, b := range busy {
			if b.End <= cursor || b.Start >= o.End {
				continue
			}
			if b.Start > cursor {
				out = append(out, Window{Start: cursor, End: b.Start})
			}
			if b.End > cursor {
				cursor = b.End
			}
		}
		if cursor < o.End {
			out = append(out, Window{Start: cursor, End: o.End})
		}
	}
	return out
}

// IsBookableWeekday is false on Saturdays and Sundays.
func IsBookableWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsBookableDate is IsBookableWeekday for a YYYY-MM-DD string.
func IsBookableDate(date string) bool {
	t, err := time.Parse(model.DateLayout, model.DateOnly(date))
	if err != nil {
		return false
	}
	return IsBookableWeekday(t)
}

// BookingDates lists the bookable days among the `days` calendar days that
// start at from.
func BookingDates(from time.Time, days int) []time.Time {
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	out := make([]time.Time, 0, days)
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i)
		if IsBookableWeekday(d) {
			out = append(out, d)
		}
	}
	return out
}
