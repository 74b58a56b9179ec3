package engine_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"cleansweep/internal/domain"
	"cleansweep/internal/engine"
)

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func booking(uid string, in, out time.Time) domain.Booking {
	return domain.Booking{UID: uid, CheckIn: in, CheckOut: out, GuestName: "Jane Doe"}
}

func reconcileInput(bookings []domain.Booking, existing []domain.ScheduleItem) engine.ReconcileInput {
	return engine.ReconcileInput{
		ListingID:    "listing-1",
		Bookings:     bookings,
		Existing:     existing,
		CheckoutTime: "11:00",
		Now:          time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC),
		NewID:        sequentialIDs("item"),
	}
}

func TestReconcileCreatesNewItems(t *testing.T) {
	in := reconcileInput([]domain.Booking{
		booking("uid-a", date(2024, time.June, 10), date(2024, time.June, 14)),
	}, nil)
	delta := engine.Reconcile(in)
	if len(delta.Creates) != 1 || len(delta.Extensions) != 0 || len(delta.Cancellations) != 0 {
		t.Fatalf("unexpected delta: %+v", delta)
	}
	it := delta.Creates[0]
	if it.Status != domain.StatusPending || it.Source != domain.SourceBooking {
		t.Fatalf("new item status=%s source=%s", it.Status, it.Source)
	}
	if it.BookingUID == nil || *it.BookingUID != "uid-a" {
		t.Fatalf("booking uid not carried")
	}
	if !it.OriginalCheckIn.Equal(it.CheckIn) || !it.OriginalCheckOut.Equal(it.CheckOut) {
		t.Fatalf("originals must match initial dates")
	}
	if it.GuestName != "Jane Doe" {
		t.Fatalf("guest name %q", it.GuestName)
	}
}

func TestReconcileUnchangedIsNoop(t *testing.T) {
	in := reconcileInput([]domain.Booking{
		booking("uid-a", date(2024, time.June, 10), date(2024, time.June, 14)),
	}, nil)
	first := engine.Reconcile(in)
	in.Existing = first.Creates
	second := engine.Reconcile(in)
	if len(second.Creates)+len(second.Extensions)+len(second.Cancellations) != 0 {
		t.Fatalf("second pass over unchanged feed must be empty, got %+v", second)
	}
}

func TestReconcileExtension(t *testing.T) {
	in := reconcileInput([]domain.Booking{
		booking("uid-a", date(2024, time.June, 10), date(2024, time.June, 14)),
	}, nil)
	existing := engine.Reconcile(in).Creates

	in = reconcileInput([]domain.Booking{
		booking("uid-a", date(2024, time.June, 10), date(2024, time.June, 16)),
	}, existing)
	delta := engine.Reconcile(in)
	if len(delta.Extensions) != 1 {
		t.Fatalf("expected 1 extension, got %+v", delta)
	}
	ext := delta.Extensions[0]
	if !ext.IsExtended || ext.ExtensionCount != 1 {
		t.Fatalf("extension flags: extended=%v count=%d", ext.IsExtended, ext.ExtensionCount)
	}
	if !ext.CheckOut.Equal(date(2024, time.June, 16)) {
		t.Fatalf("checkout not moved: %s", ext.CheckOut)
	}
	if !ext.OriginalCheckOut.Equal(date(2024, time.June, 14)) {
		t.Fatalf("original checkout must be write-once, got %s", ext.OriginalCheckOut)
	}
	if ext.ExtensionNotes == nil || !strings.Contains(*ext.ExtensionNotes, "Extended from 2024-06-14 to 2024-06-16") {
		t.Fatalf("extension note missing: %v", ext.ExtensionNotes)
	}

	// A second move appends to the note and bumps the count.
	in = reconcileInput([]domain.Booking{
		booking("uid-a", date(2024, time.June, 10), date(2024, time.June, 18)),
	}, []domain.ScheduleItem{ext})
	second := engine.Reconcile(in).Extensions[0]
	if second.ExtensionCount != 2 {
		t.Fatalf("extension count %d, want 2", second.ExtensionCount)
	}
	if !strings.Contains(*second.ExtensionNotes, " | ") {
		t.Fatalf("notes must accumulate: %q", *second.ExtensionNotes)
	}
	if !second.OriginalCheckOut.Equal(date(2024, time.June, 14)) {
		t.Fatalf("original checkout changed on second extension")
	}
}

func TestReconcileCancellationOnDisappearance(t *testing.T) {
	in := reconcileInput([]domain.Booking{
		booking("uid-a", date(2024, time.June, 10), date(2024, time.June, 14)),
		booking("uid-b", date(2024, time.June, 20), date(2024, time.June, 24)),
	}, nil)
	existing := engine.Reconcile(in).Creates

	in = reconcileInput([]domain.Booking{
		booking("uid-b", date(2024, time.June, 20), date(2024, time.June, 24)),
	}, existing)
	delta := engine.Reconcile(in)
	if len(delta.Cancellations) != 1 {
		t.Fatalf("expected 1 cancellation, got %+v", delta)
	}
	c := delta.Cancellations[0]
	if c.Status != domain.StatusCancelled || c.CancelledAt == nil {
		t.Fatalf("cancellation state: status=%s cancelled_at=%v", c.Status, c.CancelledAt)
	}
	if !strings.Contains(c.Notes, "Cancelled on 2024-06-01") {
		t.Fatalf("cancellation note missing: %q", c.Notes)
	}
}

func TestReconcileEmptyFeedGuard(t *testing.T) {
	in := reconcileInput([]domain.Booking{
		booking("uid-a", date(2024, time.June, 10), date(2024, time.June, 14)),
	}, nil)
	existing := engine.Reconcile(in).Creates

	in = reconcileInput(nil, existing)
	delta := engine.Reconcile(in)
	if !delta.CancellationSkipped {
		t.Fatalf("empty feed with live items must skip cancellation")
	}
	if len(delta.Cancellations) != 0 {
		t.Fatalf("guard must suppress cancellations, got %d", len(delta.Cancellations))
	}

	in.AllowEmptyFeed = true
	delta = engine.Reconcile(in)
	if delta.CancellationSkipped || len(delta.Cancellations) != 1 {
		t.Fatalf("with guard disabled expected 1 cancellation, got %+v", delta)
	}
}

func TestReconcileCompletedIsSticky(t *testing.T) {
	in := reconcileInput([]domain.Booking{
		booking("uid-a", date(2024, time.June, 10), date(2024, time.June, 14)),
	}, nil)
	it := engine.Reconcile(in).Creates[0]
	it.Status = domain.StatusCompleted

	// Date change on a completed item must not produce an extension.
	in = reconcileInput([]domain.Booking{
		booking("uid-a", date(2024, time.June, 10), date(2024, time.June, 16)),
	}, []domain.ScheduleItem{it})
	delta := engine.Reconcile(in)
	if len(delta.Extensions) != 0 || len(delta.Creates) != 0 {
		t.Fatalf("completed item mutated: %+v", delta)
	}

	// Disappearance must not cancel it either.
	in = reconcileInput([]domain.Booking{
		booking("uid-other", date(2024, time.July, 1), date(2024, time.July, 3)),
	}, []domain.ScheduleItem{it})
	delta = engine.Reconcile(in)
	if len(delta.Cancellations) != 0 {
		t.Fatalf("completed item cancelled: %+v", delta)
	}
}

func TestReconcileReappearanceAfterCancellation(t *testing.T) {
	in := reconcileInput([]domain.Booking{
		booking("uid-a", date(2024, time.June, 10), date(2024, time.June, 14)),
	}, nil)
	it := engine.Reconcile(in).Creates[0]
	it.ID = "cancelled-item"
	it.Status = domain.StatusCancelled

	in = reconcileInput([]domain.Booking{
		booking("uid-a", date(2024, time.June, 10), date(2024, time.June, 14)),
	}, []domain.ScheduleItem{it})
	delta := engine.Reconcile(in)
	if len(delta.Creates) != 1 {
		t.Fatalf("reappearing uid after cancellation must create a new item, got %+v", delta)
	}
	if delta.Creates[0].ID == it.ID {
		t.Fatalf("new item must have its own identity")
	}
}

func TestReconcileDuplicateUIDLastWins(t *testing.T) {
	in := reconcileInput([]domain.Booking{
		booking("uid-a", date(2024, time.June, 10), date(2024, time.June, 14)),
		booking("uid-a", date(2024, time.June, 10), date(2024, time.June, 16)),
	}, nil)
	delta := engine.Reconcile(in)
	if len(delta.Creates) != 1 {
		t.Fatalf("duplicate uid must collapse to one item, got %d", len(delta.Creates))
	}
	if !delta.Creates[0].CheckOut.Equal(date(2024, time.June, 16)) {
		t.Fatalf("last occurrence must win, got checkout %s", delta.Creates[0].CheckOut)
	}
	if len(delta.DuplicateUIDs) != 1 || delta.DuplicateUIDs[0] != "uid-a" {
		t.Fatalf("duplicate uid not reported: %v", delta.DuplicateUIDs)
	}
}
