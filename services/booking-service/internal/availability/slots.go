package availability

import (
	"fmt"
	"sort"
	"time"
)

// Slot sources. ProviderSet slots come from an explicit rule; DefaultGenerated
// slots come from the weekday business-hours fallback.
const (
	SourceProviderSet      = "provider_set"
	SourceDefaultGenerated = "default_generated"
)

// Booking statuses shared across the booking service.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// ConflictTolerance is the symmetric window around a slot start within which a
// confirmed booking blocks the slot.
const ConflictTolerance = 5 * time.Minute

// Rule is a provider's explicit decision for one slot on one day. At most one
// rule exists per (provider, service, date, time of day); the store enforces it.
type Rule struct {
	ID         string
	ProviderID string
	ServiceID  string
	Date       string // YYYY-MM-DD
	TimeOfDay  string // HH:MM:SS
	Available  bool
}

// Booking is the subset of a booking row the resolver needs.
type Booking struct {
	ID          string
	ServiceID   string
	ScheduledAt time.Time
	Status      string
}

// Slot is a bookable time produced by Resolve. It is derived, never persisted.
type Slot struct {
	ID        string `json:"id"`
	TimeOfDay string `json:"time_of_day"`
	Label     string `json:"label"`
	Available bool   `json:"available"`
	Source    string `json:"source"`
}

// Resolve returns the ordered bookable slots for one calendar day.
//
// If any rule exists for the day, the candidates are exactly the rules with
// Available=true; a day whose rules are all unavailable yields no slots and
// never falls back to defaults. With no rules at all, weekdays get an hourly
// 09:00-17:00 default and weekends get nothing. Candidates are then dropped
// when a confirmed booking falls within ConflictTolerance of the slot start,
// or when the slot start is not strictly after now.
//
// Slot instants are built in loc; day supplies the calendar date and now the
// cutoff. Resolve is pure: same inputs, same output.
func Resolve(day time.Time, loc *time.Location, rules []Rule, bookings []Booking, now time.Time) ([]Slot, error) {
	if loc == nil {
		return nil, fmt.Errorf("availability: nil location")
	}

	candidates := candidateSlots(day, rules)

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].TimeOfDay < candidates[j].TimeOfDay
	})

	year, month, dom := day.Date()
	out := make([]Slot, 0, len(candidates))
	for _, c := range candidates {
		hh, mm, ss, err := parseTimeOfDay(c.TimeOfDay)
		if err != nil {
			return nil, err
		}
		instant := time.Date(year, month, dom, hh, mm, ss, 0, loc)

		if conflictsWithBooking(instant, bookings) {
			continue
		}
		if !instant.After(now) {
			continue
		}

		c.Label = Label12Hour(hh, c.TimeOfDay[3:5])
		c.Available = true
		out = append(out, c)
	}
	return out, nil
}

func candidateSlots(day time.Time, rules []Rule) []Slot {
	if len(rules) > 0 {
		var candidates []Slot
		for _, r := range rules {
			if !r.Available {
				continue
			}
			candidates = append(candidates, Slot{
				ID:        r.ID,
				TimeOfDay: r.TimeOfDay,
				Source:    SourceProviderSet,
			})
		}
		return candidates
	}

	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return nil
	}

	candidates := make([]Slot, 0, 9)
	for hour := 9; hour <= 17; hour++ {
		tod := fmt.Sprintf("%02d:00:00", hour)
		candidates = append(candidates, Slot{
			ID:        "default-" + tod,
			TimeOfDay: tod,
			Source:    SourceDefaultGenerated,
		})
	}
	return candidates
}

func conflictsWithBooking(instant time.Time, bookings []Booking) bool {
	for _, b := range bookings {
		if b.Status != StatusConfirmed {
			continue
		}
		diff := b.ScheduledAt.Sub(instant)
		if diff < 0 {
			diff = -diff
		}
		if diff < ConflictTolerance {
			return true
		}
	}
	return false
}

// Label12Hour renders "H:MM AM/PM" from a 24h hour and a two-digit minute
// string. Hours 0 and 12 render as 12; seconds are not shown.
func Label12Hour(hour int, minutes string) string {
	suffix := "AM"
	if hour >= 12 {
		suffix = "PM"
	}
	display := hour
	switch {
	case hour == 0:
		display = 12
	case hour > 12:
		display = hour - 12
	}
	return fmt.Sprintf("%d:%s %s", display, minutes, suffix)
}

func parseTimeOfDay(s string) (hh, mm, ss int, err error) {
	if len(s) != 8 || s[2] != ':' || s[5] != ':' {
		return 0, 0, 0, fmt.Errorf("availability: malformed time of day %q", s)
	}
	hh, err = atoi2(s[0:2])
	if err == nil {
		mm, err = atoi2(s[3:5])
	}
	if err == nil {
		ss, err = atoi2(s[6:8])
	}
	if err != nil || hh > 23 || mm > 59 || ss > 59 {
		return 0, 0, 0, fmt.Errorf("availability: malformed time of day %q", s)
	}
	return hh, mm, ss, nil
}

func atoi2(s string) (int, error) {
	if s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, fmt.Errorf("not a two digit number: %q", s)
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), nil
}
