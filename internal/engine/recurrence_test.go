package engine_test

import (
	"testing"
	"time"

	"cleansweep/internal/domain"
	"cleansweep/internal/engine"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func expand(t *testing.T, rule domain.ManualScheduleRule, from, to time.Time) []domain.Occurrence {
	t.Helper()
	var out []domain.Occurrence
	for occ := range engine.Expand(rule, from, to) {
		out = append(out, occ)
	}
	return out
}

func TestExpandWeekly(t *testing.T) {
	rule := domain.ManualScheduleRule{
		ScheduleType: domain.ScheduleRecurring,
		Frequency:    domain.FrequencyWeekly,
		DaysOfWeek:   []int{1, 5}, // Monday, Friday
		CleaningTime: "10:00",
		StartDate:    date(2024, time.June, 1),
		IsActive:     true,
	}
	// 2024-06-03 is a Monday; four full weeks from there.
	occs := expand(t, rule, date(2024, time.June, 3), date(2024, time.June, 30))
	if len(occs) != 8 {
		t.Fatalf("expected 8 occurrences over 4 weeks, got %d", len(occs))
	}
	if !occs[0].Date.Equal(date(2024, time.June, 3)) {
		t.Fatalf("first occurrence %s, want 2024-06-03", occs[0].Date)
	}
	if occs[0].Time != "10:00" {
		t.Fatalf("occurrence time %q", occs[0].Time)
	}
	for _, occ := range occs {
		wd := occ.Date.Weekday()
		if wd != time.Monday && wd != time.Friday {
			t.Fatalf("occurrence on %s", wd)
		}
	}
}

func TestExpandWeeklySundayIsZero(t *testing.T) {
	rule := domain.ManualScheduleRule{
		ScheduleType: domain.ScheduleRecurring,
		Frequency:    domain.FrequencyWeekly,
		DaysOfWeek:   []int{0},
		CleaningTime: "09:00",
		StartDate:    date(2024, time.June, 1),
	}
	occs := expand(t, rule, date(2024, time.June, 1), date(2024, time.June, 14))
	if len(occs) != 2 {
		t.Fatalf("expected 2 Sundays, got %d", len(occs))
	}
	for _, occ := range occs {
		if occ.Date.Weekday() != time.Sunday {
			t.Fatalf("expected Sunday, got %s", occ.Date.Weekday())
		}
	}
}

func TestExpandMonthlyClampsShortMonths(t *testing.T) {
	rule := domain.ManualScheduleRule{
		ScheduleType: domain.ScheduleRecurring,
		Frequency:    domain.FrequencyMonthly,
		DayOfMonth:   31,
		CleaningTime: "11:00",
		StartDate:    date(2024, time.January, 1),
	}
	occs := expand(t, rule, date(2024, time.January, 1), date(2024, time.April, 30))
	want := []time.Time{
		date(2024, time.January, 31),
		date(2024, time.February, 29), // leap year
		date(2024, time.March, 31),
		date(2024, time.April, 30),
	}
	if len(occs) != len(want) {
		t.Fatalf("expected %d occurrences, got %d", len(want), len(occs))
	}
	for i, w := range want {
		if !occs[i].Date.Equal(w) {
			t.Fatalf("occurrence %d: got %s, want %s", i, occs[i].Date.Format("2006-01-02"), w.Format("2006-01-02"))
		}
	}
}

func TestExpandMonthlyNonLeapFebruary(t *testing.T) {
	rule := domain.ManualScheduleRule{
		ScheduleType: domain.ScheduleRecurring,
		Frequency:    domain.FrequencyMonthly,
		DayOfMonth:   30,
		CleaningTime: "11:00",
		StartDate:    date(2023, time.February, 1),
	}
	occs := expand(t, rule, date(2023, time.February, 1), date(2023, time.February, 28))
	if len(occs) != 1 || !occs[0].Date.Equal(date(2023, time.February, 28)) {
		t.Fatalf("expected single firing on 2023-02-28, got %v", occs)
	}
}

func TestExpandCustomAnchoredAtStartDate(t *testing.T) {
	rule := domain.ManualScheduleRule{
		ScheduleType:       domain.ScheduleRecurring,
		Frequency:          domain.FrequencyCustom,
		CustomIntervalDays: 10,
		CleaningTime:       "11:00",
		StartDate:          date(2024, time.June, 1),
	}
	// Window starts mid-cycle; firings stay anchored at June 1.
	occs := expand(t, rule, date(2024, time.June, 5), date(2024, time.June, 30))
	want := []time.Time{date(2024, time.June, 11), date(2024, time.June, 21)}
	if len(occs) != len(want) {
		t.Fatalf("expected %d occurrences, got %d", len(want), len(occs))
	}
	for i, w := range want {
		if !occs[i].Date.Equal(w) {
			t.Fatalf("occurrence %d: got %s, want %s", i, occs[i].Date.Format("2006-01-02"), w.Format("2006-01-02"))
		}
	}
}

func TestExpandOneTime(t *testing.T) {
	rule := domain.ManualScheduleRule{
		ScheduleType: domain.ScheduleOneTime,
		CleaningTime: "11:00",
		StartDate:    date(2024, time.June, 15),
	}
	occs := expand(t, rule, date(2024, time.June, 1), date(2024, time.June, 30))
	if len(occs) != 1 || !occs[0].Date.Equal(date(2024, time.June, 15)) {
		t.Fatalf("expected single occurrence on 2024-06-15, got %v", occs)
	}
	if occs := expand(t, rule, date(2024, time.July, 1), date(2024, time.July, 31)); len(occs) != 0 {
		t.Fatalf("one_time outside window should not fire, got %v", occs)
	}
}

func TestExpandRespectsEndDate(t *testing.T) {
	end := date(2024, time.June, 10)
	rule := domain.ManualScheduleRule{
		ScheduleType: domain.ScheduleRecurring,
		Frequency:    domain.FrequencyWeekly,
		DaysOfWeek:   []int{1, 2, 3, 4, 5, 6, 0},
		CleaningTime: "11:00",
		StartDate:    date(2024, time.June, 5),
		EndDate:      &end,
	}
	occs := expand(t, rule, date(2024, time.June, 1), date(2024, time.June, 30))
	if len(occs) != 6 {
		t.Fatalf("expected 6 daily occurrences June 5-10, got %d", len(occs))
	}
	if last := occs[len(occs)-1].Date; !last.Equal(end) {
		t.Fatalf("last occurrence %s, want end date", last.Format("2006-01-02"))
	}
}
