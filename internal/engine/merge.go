package engine

import (
	"time"

	"cleansweep/internal/domain"
)

// MergeInput is the material for one materialization pass over a listing's
// manual rules. BookingItems must reflect the post-reconcile state of the
// listing (creates and extensions applied in memory), so suppression sees
// the same schedule the transaction will commit.
type MergeInput struct {
	ListingID    string
	Rules        []domain.ManualScheduleRule
	Manual       []domain.ScheduleItem
	BookingItems []domain.ScheduleItem
	HasFeedback  map[string]bool
	From, To     time.Time
	Location     *time.Location
	Now          time.Time
	NewID        func() string
}

// MergeDelta lists the manual items to materialize and the ids of stale ones
// to remove.
type MergeDelta struct {
	Materialize []domain.ScheduleItem
	Prune       []string
	Suppressed  int
}

// Merge expands every active manual rule over the window and diffs the result
// against the manual items already materialized. The identity key is
// (rule id, occurrence date): re-running merge over an unchanged window is a
// no-op.
//
// An occurrence whose date matches a booking checkout date for the listing is
// suppressed, since the turnover cleaning already covers it. Materialized
// items that fell out of the window, lost their rule, or now collide with a
// booking checkout are pruned, unless they were completed or carry feedback.
func Merge(in MergeInput) MergeDelta {
	var delta MergeDelta

	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}

	checkoutDates := make(map[string]bool)
	for _, it := range in.BookingItems {
		if it.Status != domain.StatusPending {
			continue
		}
		checkoutDates[it.CheckOut.In(loc).Format("2006-01-02")] = true
	}

	type key struct{ rule, date string }
	existing := make(map[key]domain.ScheduleItem, len(in.Manual))
	for _, it := range in.Manual {
		if it.ManualRuleID == nil {
			continue
		}
		existing[key{*it.ManualRuleID, it.CheckOut.In(loc).Format("2006-01-02")}] = it
	}

	wanted := make(map[key]bool)
	ruleByID := make(map[string]domain.ManualScheduleRule, len(in.Rules))
	for _, rule := range in.Rules {
		ruleByID[rule.ID] = rule
		if !rule.IsActive {
			continue
		}
		for occ := range Expand(rule, in.From, in.To) {
			k := key{rule.ID, occ.Date.Format("2006-01-02")}
			if checkoutDates[k.date] {
				delta.Suppressed++
				continue
			}
			wanted[k] = true
			if _, ok := existing[k]; ok {
				continue
			}
			delta.Materialize = append(delta.Materialize, manualItem(in, rule, occ, loc))
		}
	}

	for k, it := range existing {
		if wanted[k] {
			continue
		}
		if it.Status == domain.StatusCompleted || in.HasFeedback[it.ID] {
			continue
		}
		rule, ok := ruleByID[k.rule]
		stale := !ok || !rule.IsActive || outsideWindow(it.CheckOut.In(loc), in.From, in.To) || checkoutDates[k.date]
		if stale {
			delta.Prune = append(delta.Prune, it.ID)
		}
	}

	return delta
}

func manualItem(in MergeInput, rule domain.ManualScheduleRule, occ domain.Occurrence, loc *time.Location) domain.ScheduleItem {
	ruleID := rule.ID
	cleanerID := rule.CleanerID
	source := domain.SourceManualRecurring
	if rule.ScheduleType == domain.ScheduleOneTime {
		source = domain.SourceManualOneTime
	}
	at := atTime(occ.Date, occ.Time, loc)
	return domain.ScheduleItem{
		ID:               in.NewID(),
		ListingID:        in.ListingID,
		CleanerID:        &cleanerID,
		CheckIn:          at,
		CheckOut:         at,
		CheckoutTime:     occ.Time,
		OriginalCheckIn:  at,
		OriginalCheckOut: at,
		Status:           domain.StatusPending,
		Source:           source,
		ManualRuleID:     &ruleID,
		Notes:            rule.Notes,
		CreatedAt:        in.Now,
		UpdatedAt:        in.Now,
	}
}

// atTime pins a midnight-UTC date to a wall-clock time in the listing's
// timezone.
func atTime(date time.Time, clock string, loc *time.Location) time.Time {
	hh, mm := 0, 0
	if t, err := time.Parse("15:04", clock); err == nil {
		hh, mm = t.Hour(), t.Minute()
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, hh, mm, 0, 0, loc)
}

func outsideWindow(d, from, to time.Time) bool {
	day := dateOnly(d)
	return day.Before(dateOnly(from)) || day.After(dateOnly(to))
}
