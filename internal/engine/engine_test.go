package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"cleansweep/internal/config"
	"cleansweep/internal/db"
	"cleansweep/internal/domain"
	"cleansweep/internal/engine"
	"cleansweep/internal/migrate"
	"cleansweep/internal/repo"
)

type stubFeed struct {
	bookings []domain.Booking
	err      error
}

func (s *stubFeed) Normalize(ctx context.Context, url string) ([]domain.Booking, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.bookings, nil
}

type testEnv struct {
	Engine *engine.Engine
	Feed   *stubFeed
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("host-1")
	eng := engine.New(conn, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	eng.Now = func() time.Time { return time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC) }
	feed := &stubFeed{}
	eng.Feed = feed

	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	r := repo.Repo{DB: conn}
	if err := r.EnsureHost(ctx, tx, "host-1", "Test Host", "2024-06-01T00:00:00Z"); err != nil {
		t.Fatalf("seed host: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit host: %v", err)
	}
	return testEnv{Engine: eng, Feed: feed, Ctx: ctx}
}

func (env testEnv) createListing(t *testing.T) domain.Listing {
	t.Helper()
	l, err := env.Engine.CreateListing(env.Ctx, engine.ListingCreateOptions{
		Name:    "Beach House",
		FeedURL: "https://calendar.example.com/listing.ics",
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return l
}

func (env testEnv) createCleaner(t *testing.T) domain.Cleaner {
	t.Helper()
	c, err := env.Engine.CreateCleaner(env.Ctx, "Maria", "+351000000", "tester")
	if err != nil {
		t.Fatalf("create cleaner: %v", err)
	}
	return c
}

func stay(uid string, in, out time.Time) domain.Booking {
	return domain.Booking{UID: uid, CheckIn: in, CheckOut: out, GuestName: "Jane Doe"}
}

func checkout(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 11, 0, 0, 0, time.UTC)
}

func TestSyncCreatesAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	listing := env.createListing(t)
	cleaner := env.createCleaner(t)
	if err := env.Engine.Repo.AssignCleaner(env.Ctx, listing.ID, cleaner.ID, env.Engine.Now()); err != nil {
		t.Fatalf("assign cleaner: %v", err)
	}
	env.Feed.bookings = []domain.Booking{
		stay("uid-a", checkout(2024, time.June, 10).Add(-96*time.Hour), checkout(2024, time.June, 10)),
		stay("uid-b", checkout(2024, time.June, 20).Add(-48*time.Hour), checkout(2024, time.June, 20)),
	}

	report, err := env.Engine.Sync(env.Ctx, listing.ID, "tester")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Created != 2 || report.Bookings != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}

	items, err := env.Engine.Repo.ListItems(env.Ctx, listing.ID, domain.SourceBooking)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	for _, it := range items {
		if it.CleanerID == nil || *it.CleanerID != cleaner.ID {
			t.Fatalf("default cleaner not applied to %s", it.ID)
		}
		if it.CheckoutTime != "11:00" {
			t.Fatalf("checkout time %q", it.CheckoutTime)
		}
	}

	report, err = env.Engine.Sync(env.Ctx, listing.ID, "tester")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if report.Created != 0 || report.Extended != 0 || report.Cancelled != 0 {
		t.Fatalf("second sync must be a no-op, got %+v", report)
	}

	listing, err = env.Engine.Repo.GetListing(env.Ctx, listing.ID)
	if err != nil {
		t.Fatal(err)
	}
	if listing.LastSyncAt == nil {
		t.Fatalf("last_sync_at not recorded")
	}
}

func TestSyncExtensionThenCancellation(t *testing.T) {
	env := newTestEnv(t)
	listing := env.createListing(t)
	env.Feed.bookings = []domain.Booking{
		stay("uid-a", checkout(2024, time.June, 10).Add(-96*time.Hour), checkout(2024, time.June, 10)),
		stay("uid-b", checkout(2024, time.June, 20).Add(-48*time.Hour), checkout(2024, time.June, 20)),
	}
	if _, err := env.Engine.Sync(env.Ctx, listing.ID, "tester"); err != nil {
		t.Fatalf("initial sync: %v", err)
	}

	env.Feed.bookings[0].CheckOut = checkout(2024, time.June, 12)
	report, err := env.Engine.Sync(env.Ctx, listing.ID, "tester")
	if err != nil {
		t.Fatalf("extension sync: %v", err)
	}
	if report.Extended != 1 {
		t.Fatalf("expected 1 extension, got %+v", report)
	}

	env.Feed.bookings = env.Feed.bookings[1:]
	report, err = env.Engine.Sync(env.Ctx, listing.ID, "tester")
	if err != nil {
		t.Fatalf("cancellation sync: %v", err)
	}
	if report.Cancelled != 1 {
		t.Fatalf("expected 1 cancellation, got %+v", report)
	}

	items, err := env.Engine.Repo.ListItems(env.Ctx, listing.ID, domain.SourceBooking)
	if err != nil {
		t.Fatal(err)
	}
	var cancelled *domain.ScheduleItem
	for i := range items {
		if items[i].BookingUID != nil && *items[i].BookingUID == "uid-a" {
			cancelled = &items[i]
		}
	}
	if cancelled == nil {
		t.Fatalf("cancelled item missing")
	}
	if cancelled.Status != domain.StatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("cancellation not persisted: %+v", cancelled)
	}
	if !cancelled.IsExtended || cancelled.ExtensionCount != 1 {
		t.Fatalf("extension history lost: %+v", cancelled)
	}
	if !cancelled.OriginalCheckOut.Equal(checkout(2024, time.June, 10)) {
		t.Fatalf("original checkout mutated: %s", cancelled.OriginalCheckOut)
	}
}

func TestSyncEmptyFeedGuard(t *testing.T) {
	env := newTestEnv(t)
	listing := env.createListing(t)
	env.Feed.bookings = []domain.Booking{
		stay("uid-a", checkout(2024, time.June, 10).Add(-96*time.Hour), checkout(2024, time.June, 10)),
	}
	if _, err := env.Engine.Sync(env.Ctx, listing.ID, "tester"); err != nil {
		t.Fatalf("initial sync: %v", err)
	}

	env.Feed.bookings = nil
	report, err := env.Engine.Sync(env.Ctx, listing.ID, "tester")
	if err != nil {
		t.Fatalf("empty sync: %v", err)
	}
	if report.Cancelled != 0 {
		t.Fatalf("empty feed must not cancel, got %+v", report)
	}

	env.Engine.Config.Sync.AllowEmptyFeed = true
	report, err = env.Engine.Sync(env.Ctx, listing.ID, "tester")
	if err != nil {
		t.Fatalf("empty sync with guard off: %v", err)
	}
	if report.Cancelled != 1 {
		t.Fatalf("expected cancellation with guard disabled, got %+v", report)
	}
}

func TestSyncCompletesPastCheckouts(t *testing.T) {
	env := newTestEnv(t)
	listing := env.createListing(t)
	env.Feed.bookings = []domain.Booking{
		stay("uid-past", checkout(2024, time.May, 20).Add(-48*time.Hour), checkout(2024, time.May, 20)),
	}
	if _, err := env.Engine.Sync(env.Ctx, listing.ID, "tester"); err != nil {
		t.Fatalf("initial sync: %v", err)
	}

	report, err := env.Engine.Sync(env.Ctx, listing.ID, "tester")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if report.CompletedPast != 1 {
		t.Fatalf("expected 1 past completion, got %+v", report)
	}
	items, _ := env.Engine.Repo.ListItems(env.Ctx, listing.ID, domain.SourceBooking)
	if len(items) != 1 || items[0].Status != domain.StatusCompleted || items[0].CompletedAt == nil {
		t.Fatalf("past item not completed: %+v", items)
	}
}

func TestSyncMaterializesRulesAndSuppressesCollisions(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Sync.WindowDays = 14
	listing := env.createListing(t)
	cleaner := env.createCleaner(t)
	rule, err := env.Engine.CreateRule(env.Ctx, engine.RuleCreateOptions{
		ListingID:    listing.ID,
		CleanerID:    cleaner.ID,
		ScheduleType: domain.ScheduleRecurring,
		Frequency:    domain.FrequencyWeekly,
		DaysOfWeek:   []int{1}, // Mondays
		CleaningTime: "10:00",
		StartDate:    time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	// Window is June 1-15: Mondays June 3 and June 10. The booking checks out
	// on June 10, so that firing is suppressed.
	env.Feed.bookings = []domain.Booking{
		stay("uid-a", checkout(2024, time.June, 10).Add(-96*time.Hour), checkout(2024, time.June, 10)),
	}
	report, err := env.Engine.Sync(env.Ctx, listing.ID, "tester")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Materialized != 1 {
		t.Fatalf("expected 1 materialized item, got %+v", report)
	}

	manual, err := env.Engine.Repo.ListItems(env.Ctx, listing.ID, domain.SourceManualRecurring)
	if err != nil {
		t.Fatal(err)
	}
	if len(manual) != 1 {
		t.Fatalf("expected 1 manual item, got %d", len(manual))
	}
	it := manual[0]
	if it.ManualRuleID == nil || *it.ManualRuleID != rule.ID {
		t.Fatalf("manual item not linked to rule")
	}
	if got := it.CheckOut.UTC().Format("2006-01-02"); got != "2024-06-03" {
		t.Fatalf("wrong firing survived: %s", got)
	}
	if it.CleanerID == nil || *it.CleanerID != cleaner.ID {
		t.Fatalf("rule cleaner not applied")
	}

	// Re-running changes nothing.
	report, err = env.Engine.Sync(env.Ctx, listing.ID, "tester")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if report.Materialized != 0 || report.Pruned != 0 {
		t.Fatalf("second sync must be stable, got %+v", report)
	}
}

func TestSyncFeedErrorLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	listing := env.createListing(t)
	env.Feed.bookings = []domain.Booking{
		stay("uid-a", checkout(2024, time.June, 10).Add(-96*time.Hour), checkout(2024, time.June, 10)),
	}
	if _, err := env.Engine.Sync(env.Ctx, listing.ID, "tester"); err != nil {
		t.Fatalf("initial sync: %v", err)
	}

	env.Feed.err = errors.New("boom")
	if _, err := env.Engine.Sync(env.Ctx, listing.ID, "tester"); err == nil {
		t.Fatalf("expected feed error to abort sync")
	}
	items, _ := env.Engine.Repo.ListItems(env.Ctx, listing.ID, domain.SourceBooking)
	if len(items) != 1 || items[0].Status != domain.StatusPending {
		t.Fatalf("feed error mutated state: %+v", items)
	}
}

func TestCompleteUndoKeepsFeedback(t *testing.T) {
	env := newTestEnv(t)
	listing := env.createListing(t)
	env.Feed.bookings = []domain.Booking{
		stay("uid-a", checkout(2024, time.June, 10).Add(-96*time.Hour), checkout(2024, time.June, 10)),
	}
	if _, err := env.Engine.Sync(env.Ctx, listing.ID, "tester"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	items, _ := env.Engine.Repo.ListItems(env.Ctx, listing.ID, domain.SourceBooking)
	itemID := items[0].ID

	it, err := env.Engine.CompleteItem(env.Ctx, itemID, &engine.FeedbackInput{CleanlinessRating: 5, Notes: "spotless"}, "cleaner-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if it.Status != domain.StatusCompleted || it.CompletedAt == nil {
		t.Fatalf("completion state: %+v", it)
	}

	it, err = env.Engine.UndoComplete(env.Ctx, itemID, "tester")
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if it.Status != domain.StatusPending || it.CompletedAt != nil {
		t.Fatalf("undo state: %+v", it)
	}
	recs, err := env.Engine.Repo.ListFeedback(env.Ctx, itemID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("feedback must survive undo, got %d records", len(recs))
	}

	if _, err := env.Engine.CompleteItem(env.Ctx, itemID, &engine.FeedbackInput{CleanlinessRating: 3}, "cleaner-1"); err != nil {
		t.Fatalf("re-complete: %v", err)
	}
	recs, _ = env.Engine.Repo.ListFeedback(env.Ctx, itemID)
	if len(recs) != 2 {
		t.Fatalf("feedback is append-only, got %d records", len(recs))
	}
}

func TestCompleteRejectsBadRating(t *testing.T) {
	env := newTestEnv(t)
	listing := env.createListing(t)
	env.Feed.bookings = []domain.Booking{
		stay("uid-a", checkout(2024, time.June, 10).Add(-96*time.Hour), checkout(2024, time.June, 10)),
	}
	if _, err := env.Engine.Sync(env.Ctx, listing.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	items, _ := env.Engine.Repo.ListItems(env.Ctx, listing.ID, domain.SourceBooking)
	if _, err := env.Engine.CompleteItem(env.Ctx, items[0].ID, &engine.FeedbackInput{CleanlinessRating: 6}, "tester"); err == nil {
		t.Fatalf("expected rating validation error")
	}
}

func TestCancelAndReopenLifecycle(t *testing.T) {
	env := newTestEnv(t)
	listing := env.createListing(t)
	env.Feed.bookings = []domain.Booking{
		stay("uid-a", checkout(2024, time.June, 10).Add(-96*time.Hour), checkout(2024, time.June, 10)),
	}
	if _, err := env.Engine.Sync(env.Ctx, listing.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	items, _ := env.Engine.Repo.ListItems(env.Ctx, listing.ID, domain.SourceBooking)
	itemID := items[0].ID

	it, err := env.Engine.CancelItem(env.Ctx, itemID, "tester")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if it.Status != domain.StatusCancelled || it.CancelledAt == nil {
		t.Fatalf("cancel state: %+v", it)
	}
	firstCancelledAt := *it.CancelledAt

	// Cancelling again is a no-op.
	if _, err := env.Engine.CancelItem(env.Ctx, itemID, "tester"); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}

	it, err = env.Engine.ReopenItem(env.Ctx, itemID, "tester")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if it.Status != domain.StatusPending {
		t.Fatalf("reopen state: %+v", it)
	}
	if it.CancelledAt == nil || !it.CancelledAt.Equal(firstCancelledAt) {
		t.Fatalf("cancellation timestamp must be retained as history")
	}

	// Reopening a pending item is invalid.
	if _, err := env.Engine.ReopenItem(env.Ctx, itemID, "tester"); err == nil {
		t.Fatalf("expected reopen error on pending item")
	}

	// Completed -> cancelled is not a legal move.
	if _, err := env.Engine.CompleteItem(env.Ctx, itemID, nil, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CancelItem(env.Ctx, itemID, "tester"); err == nil {
		t.Fatalf("expected transition error for completed -> cancelled")
	}
}

func TestDeactivateRulePrunesUnstartedItems(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Sync.WindowDays = 14
	listing := env.createListing(t)
	cleaner := env.createCleaner(t)
	rule, err := env.Engine.CreateRule(env.Ctx, engine.RuleCreateOptions{
		ListingID:    listing.ID,
		CleanerID:    cleaner.ID,
		ScheduleType: domain.ScheduleRecurring,
		Frequency:    domain.FrequencyWeekly,
		DaysOfWeek:   []int{1},
		StartDate:    time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Sync(env.Ctx, listing.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	manual, _ := env.Engine.Repo.ListItems(env.Ctx, listing.ID, domain.SourceManualRecurring)
	if len(manual) != 2 {
		t.Fatalf("setup: expected 2 manual items, got %d", len(manual))
	}
	if _, err := env.Engine.CompleteItem(env.Ctx, manual[0].ID, nil, "tester"); err != nil {
		t.Fatal(err)
	}

	pruned, err := env.Engine.DeactivateRule(env.Ctx, rule.ID, "tester")
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned, got %d", pruned)
	}
	manual, _ = env.Engine.Repo.ListItems(env.Ctx, listing.ID, domain.SourceManualRecurring)
	if len(manual) != 1 || manual[0].Status != domain.StatusCompleted {
		t.Fatalf("completed item must survive: %+v", manual)
	}

	got, err := env.Engine.Repo.GetRule(env.Ctx, rule.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsActive {
		t.Fatalf("rule still active after deactivation")
	}
}

func TestCreateRuleValidation(t *testing.T) {
	env := newTestEnv(t)
	listing := env.createListing(t)
	cleaner := env.createCleaner(t)
	base := engine.RuleCreateOptions{
		ListingID: listing.ID,
		CleanerID: cleaner.ID,
		StartDate: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
		ActorID:   "tester",
	}

	weekly := base
	weekly.ScheduleType = domain.ScheduleRecurring
	weekly.Frequency = domain.FrequencyWeekly
	if _, err := env.Engine.CreateRule(env.Ctx, weekly); err == nil {
		t.Fatalf("weekly rule without days must fail")
	}

	monthly := base
	monthly.ScheduleType = domain.ScheduleRecurring
	monthly.Frequency = domain.FrequencyMonthly
	monthly.DayOfMonth = 0
	if _, err := env.Engine.CreateRule(env.Ctx, monthly); err == nil {
		t.Fatalf("monthly rule without day of month must fail")
	}

	custom := base
	custom.ScheduleType = domain.ScheduleRecurring
	custom.Frequency = domain.FrequencyCustom
	custom.CustomIntervalDays = 0
	if _, err := env.Engine.CreateRule(env.Ctx, custom); err == nil {
		t.Fatalf("custom rule without interval must fail")
	}

	oneTime := base
	oneTime.ScheduleType = domain.ScheduleOneTime
	if _, err := env.Engine.CreateRule(env.Ctx, oneTime); err != nil {
		t.Fatalf("one_time rule needs no frequency: %v", err)
	}
}
