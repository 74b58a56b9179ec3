package engine

import (
	"fmt"
	"time"

	"cleansweep/internal/domain"
)

// ReconcileInput carries everything one diff pass needs. The feed snapshot
// is assumed complete: every booking the listing currently has appears in
// Bookings, so absence is meaningful.
type ReconcileInput struct {
	ListingID    string
	Bookings     []domain.Booking
	Existing     []domain.ScheduleItem
	CleanerID    *string
	CheckoutTime string
	Now          time.Time
	NewID        func() string

	// AllowEmptyFeed disables the empty-feed guard: with the guard on, an
	// empty snapshot never cancels anything, since a feed outage is
	// indistinguishable from a mass cancellation.
	AllowEmptyFeed bool
}

// ReconcileDelta is the in-memory outcome of a diff pass. Nothing is written
// until the whole delta is applied in one transaction.
type ReconcileDelta struct {
	Creates       []domain.ScheduleItem
	Extensions    []domain.ScheduleItem
	Cancellations []domain.ScheduleItem

	// DuplicateUIDs lists uids that appeared more than once in the feed;
	// the last occurrence in feed order won.
	DuplicateUIDs []string
	// CancellationSkipped is true when the empty-feed guard suppressed the
	// disappearance check.
	CancellationSkipped bool
}

func (d ReconcileDelta) Updates() []domain.ScheduleItem {
	out := make([]domain.ScheduleItem, 0, len(d.Extensions)+len(d.Cancellations))
	out = append(out, d.Extensions...)
	out = append(out, d.Cancellations...)
	return out
}

// Reconcile diffs a fresh booking snapshot against the stored booking-derived
// schedule items of one listing. It is pure: no I/O, no clock reads, fully
// deterministic for a given input.
//
// Classification per booking uid:
//   - unknown uid            -> create a new pending item
//   - known, dates changed   -> extension (originals untouched)
//   - known, dates unchanged -> no-op
//   - stored but absent      -> cancellation (disappearance is the only trigger)
//
// Cancelled and completed items are sticky: they are never mutated here, and
// a uid reappearing after cancellation yields a brand-new item.
func Reconcile(in ReconcileInput) ReconcileDelta {
	var delta ReconcileDelta

	// Last occurrence wins for malformed feeds that repeat a uid.
	seen := make(map[string]int, len(in.Bookings))
	ordered := make([]domain.Booking, 0, len(in.Bookings))
	for _, b := range in.Bookings {
		if idx, ok := seen[b.UID]; ok {
			ordered[idx] = b
			delta.DuplicateUIDs = append(delta.DuplicateUIDs, b.UID)
			continue
		}
		seen[b.UID] = len(ordered)
		ordered = append(ordered, b)
	}

	live := make(map[string]domain.ScheduleItem)
	liveCount := 0
	for _, it := range in.Existing {
		if it.Source != domain.SourceBooking || it.BookingUID == nil {
			continue
		}
		if !it.Live() {
			continue
		}
		live[*it.BookingUID] = it
		liveCount++
	}

	for _, b := range ordered {
		existing, ok := live[b.UID]
		if !ok {
			delta.Creates = append(delta.Creates, newBookingItem(in, b))
			continue
		}
		if existing.Status == domain.StatusCompleted {
			// Completion is sticky with respect to the feed.
			continue
		}
		if existing.CheckIn.Equal(b.CheckIn) && existing.CheckOut.Equal(b.CheckOut) {
			continue
		}
		delta.Extensions = append(delta.Extensions, extendItem(existing, b, in.Now))
	}

	if len(ordered) == 0 && liveCount > 0 && !in.AllowEmptyFeed {
		delta.CancellationSkipped = true
		return delta
	}

	for _, it := range in.Existing {
		if it.Source != domain.SourceBooking || it.BookingUID == nil {
			continue
		}
		if !it.Live() || it.Status == domain.StatusCompleted {
			continue
		}
		if _, ok := seen[*it.BookingUID]; ok {
			continue
		}
		delta.Cancellations = append(delta.Cancellations, cancelItem(it, in.Now))
	}

	return delta
}

func newBookingItem(in ReconcileInput, b domain.Booking) domain.ScheduleItem {
	uid := b.UID
	return domain.ScheduleItem{
		ID:               in.NewID(),
		ListingID:        in.ListingID,
		CleanerID:        in.CleanerID,
		BookingUID:       &uid,
		GuestName:        b.GuestName,
		CheckIn:          b.CheckIn,
		CheckOut:         b.CheckOut,
		CheckoutTime:     in.CheckoutTime,
		OriginalCheckIn:  b.CheckIn,
		OriginalCheckOut: b.CheckOut,
		Status:           domain.StatusPending,
		Source:           domain.SourceBooking,
		Notes:            b.Description,
		CreatedAt:        in.Now,
		UpdatedAt:        in.Now,
	}
}

func extendItem(it domain.ScheduleItem, b domain.Booking, now time.Time) domain.ScheduleItem {
	note := fmt.Sprintf("Extended from %s to %s on %s",
		it.CheckOut.UTC().Format("2006-01-02"),
		b.CheckOut.UTC().Format("2006-01-02"),
		now.UTC().Format("2006-01-02"))
	if it.ExtensionNotes != nil && *it.ExtensionNotes != "" {
		note = *it.ExtensionNotes + " | " + note
	}
	it.CheckIn = b.CheckIn
	it.CheckOut = b.CheckOut
	if b.GuestName != "" {
		it.GuestName = b.GuestName
	}
	it.IsExtended = true
	it.ExtensionCount++
	it.ExtensionNotes = &note
	it.UpdatedAt = now
	return it
}

func cancelItem(it domain.ScheduleItem, now time.Time) domain.ScheduleItem {
	it.Status = domain.StatusCancelled
	if it.CancelledAt == nil {
		at := now
		it.CancelledAt = &at
	}
	note := "Cancelled on " + now.UTC().Format("2006-01-02")
	if it.Notes != "" {
		note = it.Notes + " | " + note
	}
	it.Notes = note
	it.UpdatedAt = now
	return it
}
