package engine

import (
	"iter"
	"time"

	"cleansweep/internal/domain"
)

// Expand yields the occurrences of a manual rule inside [from, to], inclusive
// on both ends, in ascending date order. Dates are normalized to midnight UTC.
// Expansion is pure and deterministic: the same rule and window always yield
// the same sequence, so re-running it is safe.
//
// Weekly rules fire on each configured weekday (0 = Sunday). Monthly rules
// clamp the day to the month's length, so a day-31 rule fires on Feb 28 (or
// 29) and Apr 30. Custom rules step a fixed day interval anchored at the
// rule's start date, never at the window edge.
func Expand(rule domain.ManualScheduleRule, from, to time.Time) iter.Seq[domain.Occurrence] {
	return func(yield func(domain.Occurrence) bool) {
		from = dateOnly(from)
		to = dateOnly(to)
		start := dateOnly(rule.StartDate)
		if start.After(from) {
			from = start
		}
		if rule.EndDate != nil {
			if end := dateOnly(*rule.EndDate); end.Before(to) {
				to = end
			}
		}
		if from.After(to) {
			return
		}

		emit := func(d time.Time) bool {
			return yield(domain.Occurrence{Date: d, Time: rule.CleaningTime})
		}

		if rule.ScheduleType == domain.ScheduleOneTime {
			if !start.Before(from) && !start.After(to) {
				emit(start)
			}
			return
		}

		switch rule.Frequency {
		case domain.FrequencyWeekly:
			days := make(map[time.Weekday]bool, len(rule.DaysOfWeek))
			for _, d := range rule.DaysOfWeek {
				days[time.Weekday(d%7)] = true
			}
			for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
				if days[d.Weekday()] && !emit(d) {
					return
				}
			}

		case domain.FrequencyMonthly:
			year, month, _ := from.Date()
			for {
				d := monthlyFiring(year, month, rule.DayOfMonth)
				if d.After(to) {
					return
				}
				if !d.Before(from) && !emit(d) {
					return
				}
				month++
				if month > time.December {
					month = time.January
					year++
				}
			}

		case domain.FrequencyCustom:
			step := rule.CustomIntervalDays
			if step < 1 {
				return
			}
			for d := start; !d.After(to); d = d.AddDate(0, 0, step) {
				if d.Before(from) {
					continue
				}
				if !emit(d) {
					return
				}
			}
		}
	}
}

// monthlyFiring returns the firing date for a monthly rule in the given
// month, clamping day to the month's last day.
func monthlyFiring(year int, month time.Month, day int) time.Time {
	if day < 1 {
		day = 1
	}
	last := daysInMonth(year, month)
	if day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
