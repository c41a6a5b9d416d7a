package availability

import (
	"reflect"
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

func slotTimes(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.TimeOfDay)
	}
	return out
}

func TestResolve_WeekdayDefaultSchedule(t *testing.T) {
	loc := time.UTC
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, loc) // Monday
	now := time.Date(2024, 6, 3, 8, 0, 0, 0, loc)

	slots, err := Resolve(day, loc, nil, nil, now)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(slots) != 9 {
		t.Fatalf("expected 9 default slots, got %d", len(slots))
	}
	if slots[0].TimeOfDay != "09:00:00" || slots[0].Label != "9:00 AM" {
		t.Fatalf("unexpected first slot: %+v", slots[0])
	}
	if slots[8].TimeOfDay != "17:00:00" || slots[8].Label != "5:00 PM" {
		t.Fatalf("unexpected last slot: %+v", slots[8])
	}
	for _, s := range slots {
		if s.Source != SourceDefaultGenerated {
			t.Fatalf("expected default source, got %q", s.Source)
		}
		if !s.Available {
			t.Fatalf("expected slot %s to be available", s.TimeOfDay)
		}
	}
}

func TestResolve_AllRulesUnavailableMeansClosed(t *testing.T) {
	loc := time.UTC
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, loc)
	now := time.Date(2024, 6, 3, 8, 0, 0, 0, loc)

	rules := []Rule{
		{ID: "r1", TimeOfDay: "10:00:00", Available: false},
	}
	slots, err := Resolve(day, loc, rules, nil, now)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	// A day with rules but none available is closed; no default fallback.
	if len(slots) != 0 {
		t.Fatalf("expected 0 slots, got %v", slotTimes(slots))
	}
}

func TestResolve_ExplicitRulesWithBookingConflict(t *testing.T) {
	loc := time.UTC
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, loc)
	now := time.Date(2024, 6, 3, 8, 0, 0, 0, loc)

	rules := []Rule{
		{ID: "r1", TimeOfDay: "09:00:00", Available: true},
		{ID: "r2", TimeOfDay: "13:00:00", Available: true},
	}
	bookings := []Booking{
		{ID: "b1", ScheduledAt: time.Date(2024, 6, 3, 13, 2, 0, 0, loc), Status: StatusConfirmed},
	}

	slots, err := Resolve(day, loc, rules, bookings, now)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %v", slotTimes(slots))
	}
	if slots[0].TimeOfDay != "09:00:00" || slots[0].Label != "9:00 AM" || slots[0].Source != SourceProviderSet {
		t.Fatalf("unexpected slot: %+v", slots[0])
	}
}

func TestResolve_WeekendNoDefault(t *testing.T) {
	loc := time.UTC
	day := time.Date(2024, 6, 8, 0, 0, 0, 0, loc) // Saturday
	now := time.Date(2024, 6, 8, 8, 0, 0, 0, loc)

	slots, err := Resolve(day, loc, nil, nil, now)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected 0 slots on a ruleless Saturday, got %v", slotTimes(slots))
	}
}

func TestResolve_PastSlotsDropped(t *testing.T) {
	loc := time.UTC
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, loc)
	rules := []Rule{
		{ID: "r1", TimeOfDay: "17:00:00", Available: true},
	}
	now := time.Date(2024, 6, 3, 17, 5, 0, 0, loc)

	slots, err := Resolve(day, loc, rules, nil, now)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected 0 slots, got %v", slotTimes(slots))
	}
}

func TestResolve_SlotAtNowIsExcluded(t *testing.T) {
	loc := time.UTC
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, loc)
	rules := []Rule{
		{ID: "r1", TimeOfDay: "09:00:00", Available: true},
	}
	now := time.Date(2024, 6, 3, 9, 0, 0, 0, loc)

	slots, err := Resolve(day, loc, rules, nil, now)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	// Slot start must be strictly after now.
	if len(slots) != 0 {
		t.Fatalf("expected 0 slots, got %v", slotTimes(slots))
	}
}

func TestResolve_ConflictToleranceIsSymmetric(t *testing.T) {
	loc := time.UTC
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, loc)
	now := time.Date(2024, 6, 3, 8, 0, 0, 0, loc)
	rules := []Rule{
		{ID: "r1", TimeOfDay: "10:00:00", Available: true},
	}

	cases := []struct {
		name        string
		scheduledAt time.Time
		blocked     bool
	}{
		{"4m59s before", time.Date(2024, 6, 3, 9, 55, 1, 0, loc), true},
		{"4m59s after", time.Date(2024, 6, 3, 10, 4, 59, 0, loc), true},
		{"exactly 5m before", time.Date(2024, 6, 3, 9, 55, 0, 0, loc), false},
		{"exactly 5m after", time.Date(2024, 6, 3, 10, 5, 0, 0, loc), false},
		{"same minute", time.Date(2024, 6, 3, 10, 0, 0, 0, loc), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bookings := []Booking{
				{ID: "b1", ScheduledAt: tc.scheduledAt, Status: StatusConfirmed},
			}
			slots, err := Resolve(day, loc, rules, bookings, now)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			gotBlocked := len(slots) == 0
			if gotBlocked != tc.blocked {
				t.Fatalf("blocked=%v, want %v (slots=%v)", gotBlocked, tc.blocked, slotTimes(slots))
			}
		})
	}
}

func TestResolve_OnlyConfirmedBookingsBlock(t *testing.T) {
	loc := time.UTC
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, loc)
	now := time.Date(2024, 6, 3, 8, 0, 0, 0, loc)
	rules := []Rule{
		{ID: "r1", TimeOfDay: "11:00:00", Available: true},
	}
	at := time.Date(2024, 6, 3, 11, 0, 0, 0, loc)

	for _, status := range []string{StatusPending, StatusCancelled, StatusCompleted} {
		bookings := []Booking{{ID: "b1", ScheduledAt: at, Status: status}}
		slots, err := Resolve(day, loc, rules, bookings, now)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if len(slots) != 1 {
			t.Fatalf("status %s should not block, got %v", status, slotTimes(slots))
		}
	}
}

func TestResolve_OrderedAscending(t *testing.T) {
	loc := time.UTC
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, loc)
	now := time.Date(2024, 6, 3, 8, 0, 0, 0, loc)
	rules := []Rule{
		{ID: "r3", TimeOfDay: "15:30:00", Available: true},
		{ID: "r1", TimeOfDay: "09:00:00", Available: true},
		{ID: "r2", TimeOfDay: "11:15:00", Available: true},
	}

	slots, err := Resolve(day, loc, rules, nil, now)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := []string{"09:00:00", "11:15:00", "15:30:00"}
	if !reflect.DeepEqual(slotTimes(slots), want) {
		t.Fatalf("expected %v, got %v", want, slotTimes(slots))
	}
}

func TestResolve_Idempotent(t *testing.T) {
	loc := time.UTC
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, loc)
	now := time.Date(2024, 6, 3, 8, 0, 0, 0, loc)
	rules := []Rule{
		{ID: "r1", TimeOfDay: "09:00:00", Available: true},
		{ID: "r2", TimeOfDay: "14:00:00", Available: true},
	}
	bookings := []Booking{
		{ID: "b1", ScheduledAt: time.Date(2024, 6, 3, 14, 1, 0, 0, loc), Status: StatusConfirmed},
	}

	first, err := Resolve(day, loc, rules, bookings, now)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	second, err := Resolve(day, loc, rules, bookings, now)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical output, got %v then %v", first, second)
	}
}

func TestResolve_LocationMatters(t *testing.T) {
	sydney := mustLoc(t, "Australia/Sydney")
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, sydney)
	rules := []Rule{
		{ID: "r1", TimeOfDay: "09:00:00", Available: true},
	}
	// 09:00 in Sydney is 23:00 UTC the previous day. A booking at that UTC
	// instant must block the slot.
	bookings := []Booking{
		{ID: "b1", ScheduledAt: time.Date(2024, 6, 2, 23, 0, 0, 0, time.UTC), Status: StatusConfirmed},
	}
	now := time.Date(2024, 6, 3, 8, 0, 0, 0, sydney)

	slots, err := Resolve(day, sydney, rules, bookings, now)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected UTC booking to block local slot, got %v", slotTimes(slots))
	}
}

func TestResolve_MalformedTimeOfDay(t *testing.T) {
	loc := time.UTC
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, loc)
	now := time.Date(2024, 6, 3, 8, 0, 0, 0, loc)

	for _, bad := range []string{"9:00:00", "25:00:00", "09:61:00", "09:00", "09-00-00", "ab:cd:ef"} {
		rules := []Rule{{ID: "r1", TimeOfDay: bad, Available: true}}
		if _, err := Resolve(day, loc, rules, nil, now); err == nil {
			t.Fatalf("expected error for time of day %q", bad)
		}
	}
}

func TestLabel12Hour(t *testing.T) {
	cases := []struct {
		hour    int
		minutes string
		want    string
	}{
		{0, "00", "12:00 AM"},
		{1, "30", "1:30 AM"},
		{9, "00", "9:00 AM"},
		{11, "45", "11:45 AM"},
		{12, "00", "12:00 PM"},
		{13, "15", "1:15 PM"},
		{17, "00", "5:00 PM"},
		{23, "59", "11:59 PM"},
	}
	for _, tc := range cases {
		if got := Label12Hour(tc.hour, tc.minutes); got != tc.want {
			t.Fatalf("Label12Hour(%d, %s) = %q, want %q", tc.hour, tc.minutes, got, tc.want)
		}
	}
}
