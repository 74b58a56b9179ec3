// Package engine implements the reconciliation and schedule generation core:
// booking diffing, manual rule expansion, merging and the item lifecycle.
// All writes for one operation land in a single transaction.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cleansweep/internal/config"
	"cleansweep/internal/domain"
	"cleansweep/internal/events"
	"cleansweep/internal/feed"
	"cleansweep/internal/repo"
)

// ErrSyncInFlight is returned when a sync is requested for a listing that is
// already syncing. The caller should retry later; queueing would only apply a
// stale snapshot.
var ErrSyncInFlight = errors.New("sync already in flight for listing")

// Normalizer turns a feed URL into a booking snapshot. Satisfied by
// *feed.Client; tests substitute a fake.
type Normalizer interface {
	Normalize(ctx context.Context, url string) ([]domain.Booking, error)
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Feed   Normalizer
	Log    *slog.Logger
	Now    func() time.Time

	locks *keyedLocks
}

func New(db *sql.DB, cfg *config.Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Feed:   feed.NewClient(cfg.FeedTimeout(), log),
		Log:    log,
		Now:    time.Now,
		locks:  newKeyedLocks(),
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) newID() string {
	return uuid.NewString()
}

func (e *Engine) hostID() string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Host.ID
}

// ListingCreateOptions are parameters for registering a listing.
type ListingCreateOptions struct {
	ID           string
	Name         string
	FeedURL      string
	Timezone     string
	CheckoutTime string
	ActorID      string
}

func (e *Engine) CreateListing(ctx context.Context, opts ListingCreateOptions) (domain.Listing, error) {
	if opts.Name == "" {
		return domain.Listing{}, errors.New("name is required")
	}
	if opts.Timezone == "" {
		opts.Timezone = e.Config.Defaults.Timezone
	}
	if opts.Timezone == "" {
		opts.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(opts.Timezone); err != nil {
		return domain.Listing{}, fmt.Errorf("timezone %q: %w", opts.Timezone, err)
	}
	if opts.CheckoutTime == "" {
		opts.CheckoutTime = e.Config.Defaults.CheckoutTime
	}
	if opts.CheckoutTime == "" {
		opts.CheckoutTime = "11:00"
	}
	if _, err := time.Parse("15:04", opts.CheckoutTime); err != nil {
		return domain.Listing{}, fmt.Errorf("checkout time must be HH:MM: %w", err)
	}
	id := opts.ID
	if id == "" {
		id = e.newID()
	}
	l := domain.Listing{
		ID:           id,
		HostID:       e.hostID(),
		Name:         opts.Name,
		FeedURL:      opts.FeedURL,
		Timezone:     opts.Timezone,
		CheckoutTime: opts.CheckoutTime,
		CreatedAt:    e.now().UTC(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Listing{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO listings(id,host_id,name,feed_url,timezone,checkout_time,created_at) VALUES (?,?,?,?,?,?,?)`,
		l.ID, l.HostID, l.Name, optional(l.FeedURL), l.Timezone, l.CheckoutTime, l.CreatedAt.Format(time.RFC3339)); err != nil {
		return domain.Listing{}, fmt.Errorf("insert listing: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "listing.created", e.hostID(), "listing", l.ID, opts.ActorID, events.EventPayload{"name": l.Name}); err != nil {
		return domain.Listing{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Listing{}, err
	}
	return l, nil
}

func (e *Engine) CreateCleaner(ctx context.Context, name, phone, actorID string) (domain.Cleaner, error) {
	if name == "" {
		return domain.Cleaner{}, errors.New("name is required")
	}
	c := domain.Cleaner{
		ID:        e.newID(),
		HostID:    e.hostID(),
		Name:      name,
		Phone:     phone,
		CreatedAt: e.now().UTC(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Cleaner{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO cleaners(id,host_id,name,phone,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.HostID, c.Name, optional(c.Phone), c.CreatedAt.Format(time.RFC3339)); err != nil {
		return domain.Cleaner{}, fmt.Errorf("insert cleaner: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "cleaner.created", e.hostID(), "cleaner", c.ID, actorID, events.EventPayload{"name": c.Name}); err != nil {
		return domain.Cleaner{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Cleaner{}, err
	}
	return c, nil
}

// RuleCreateOptions are parameters for a manual schedule rule.
type RuleCreateOptions struct {
	ListingID          string
	CleanerID          string
	ScheduleType       string
	Frequency          string
	DaysOfWeek         []int
	DayOfMonth         int
	CustomIntervalDays int
	CleaningTime       string
	StartDate          time.Time
	EndDate            *time.Time
	Notes              string
	ActorID            string
}

func (e *Engine) CreateRule(ctx context.Context, opts RuleCreateOptions) (domain.ManualScheduleRule, error) {
	var zero domain.ManualScheduleRule
	if _, err := e.Repo.GetListing(ctx, opts.ListingID); err != nil {
		return zero, err
	}
	if _, err := e.Repo.GetCleaner(ctx, opts.CleanerID); err != nil {
		return zero, err
	}
	if opts.ScheduleType == "" {
		opts.ScheduleType = domain.ScheduleRecurring
	}
	if opts.StartDate.IsZero() {
		return zero, errors.New("start date is required")
	}
	if opts.EndDate != nil && opts.EndDate.Before(opts.StartDate) {
		return zero, errors.New("end date before start date")
	}
	switch opts.ScheduleType {
	case domain.ScheduleOneTime:
		opts.Frequency = ""
	case domain.ScheduleRecurring:
		switch opts.Frequency {
		case domain.FrequencyWeekly:
			if len(opts.DaysOfWeek) == 0 {
				return zero, errors.New("weekly rule needs at least one day of week")
			}
			for _, d := range opts.DaysOfWeek {
				if d < 0 || d > 6 {
					return zero, fmt.Errorf("day of week %d out of range 0-6", d)
				}
			}
		case domain.FrequencyMonthly:
			if opts.DayOfMonth < 1 || opts.DayOfMonth > 31 {
				return zero, fmt.Errorf("day of month %d out of range 1-31", opts.DayOfMonth)
			}
		case domain.FrequencyCustom:
			if opts.CustomIntervalDays < 1 {
				return zero, errors.New("custom rule needs interval of at least 1 day")
			}
		default:
			return zero, fmt.Errorf("unknown frequency %q", opts.Frequency)
		}
	default:
		return zero, fmt.Errorf("unknown schedule type %q", opts.ScheduleType)
	}
	if opts.CleaningTime == "" {
		opts.CleaningTime = e.Config.Defaults.CleaningTime
	}
	if opts.CleaningTime == "" {
		opts.CleaningTime = "11:00"
	}
	if _, err := time.Parse("15:04", opts.CleaningTime); err != nil {
		return zero, fmt.Errorf("cleaning time must be HH:MM: %w", err)
	}

	now := e.now().UTC()
	rule := domain.ManualScheduleRule{
		ID:                 e.newID(),
		ListingID:          opts.ListingID,
		CleanerID:          opts.CleanerID,
		ScheduleType:       opts.ScheduleType,
		Frequency:          opts.Frequency,
		DaysOfWeek:         opts.DaysOfWeek,
		DayOfMonth:         opts.DayOfMonth,
		CustomIntervalDays: opts.CustomIntervalDays,
		CleaningTime:       opts.CleaningTime,
		StartDate:          dateOnly(opts.StartDate),
		EndDate:            opts.EndDate,
		IsActive:           true,
		Notes:              opts.Notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.Repo.InsertRule(ctx, rule); err != nil {
		return zero, fmt.Errorf("insert rule: %w", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return zero, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "rule.created", e.hostID(), "rule", rule.ID, opts.ActorID,
		events.EventPayload{"listing_id": rule.ListingID, "schedule_type": rule.ScheduleType, "frequency": rule.Frequency}); err != nil {
		return zero, err
	}
	if err := tx.Commit(); err != nil {
		return zero, err
	}
	return rule, nil
}

// DeactivateRule soft-deletes a rule and removes its future materialized items
// that carry no completion and no feedback.
func (e *Engine) DeactivateRule(ctx context.Context, ruleID, actorID string) (int, error) {
	return e.retireRule(ctx, ruleID, actorID, false)
}

// DeleteRule removes the rule row itself. Materialized items with history
// survive as orphans and keep their manual_rule_id for traceability.
func (e *Engine) DeleteRule(ctx context.Context, ruleID, actorID string) (int, error) {
	return e.retireRule(ctx, ruleID, actorID, true)
}

func (e *Engine) retireRule(ctx context.Context, ruleID, actorID string, hard bool) (int, error) {
	if _, err := e.Repo.GetRule(ctx, ruleID); err != nil {
		return 0, err
	}
	items, err := e.Repo.ListItemsByRule(ctx, ruleID)
	if err != nil {
		return 0, err
	}
	var prune []string
	for _, it := range items {
		if it.Status == domain.StatusCompleted {
			continue
		}
		has, err := e.Repo.HasFeedback(ctx, it.ID)
		if err != nil {
			return 0, err
		}
		if has {
			continue
		}
		prune = append(prune, it.ID)
	}

	now := e.now().UTC()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	for _, id := range prune {
		if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_items WHERE id=?`, id); err != nil {
			return 0, err
		}
	}
	pruned := len(prune)

	evtType := "rule.deactivated"
	if hard {
		if err := e.Repo.DeleteRule(ctx, tx, ruleID); err != nil {
			return 0, err
		}
		evtType = "rule.deleted"
	} else {
		if err := e.Repo.SetRuleActive(ctx, tx, ruleID, false, now.Format(time.RFC3339)); err != nil {
			return 0, err
		}
	}
	if err := e.Events.Append(ctx, tx, evtType, e.hostID(), "rule", ruleID, actorID, events.EventPayload{"pruned": pruned}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return pruned, nil
}

// Sync runs one full reconciliation pass for a listing: fetch the feed, diff
// bookings against stored items, complete overdue turnovers, expand manual
// rules over the window and commit the whole delta atomically. A feed error
// aborts the pass with stored state untouched.
func (e *Engine) Sync(ctx context.Context, listingID, actorID string) (domain.SyncReport, error) {
	report := domain.SyncReport{ListingID: listingID}
	if !e.locks.acquire(listingID) {
		return report, fmt.Errorf("listing %s: %w", listingID, ErrSyncInFlight)
	}
	defer e.locks.release(listingID)

	listing, err := e.Repo.GetListing(ctx, listingID)
	if err != nil {
		return report, err
	}
	loc := e.listingLocation(listing)
	now := e.now().UTC()
	today := dateIn(now, loc)
	windowEnd := today.AddDate(0, 0, e.Config.WindowDays())

	var bookings []domain.Booking
	if listing.FeedURL != "" {
		fctx, cancel := context.WithTimeout(ctx, e.Config.FeedTimeout())
		bookings, err = e.Feed.Normalize(fctx, listing.FeedURL)
		cancel()
		if err != nil {
			return report, fmt.Errorf("sync listing %s: %w", listingID, err)
		}
	}
	report.Bookings = len(bookings)

	items, err := e.Repo.ListItems(ctx, listingID, "")
	if err != nil {
		return report, err
	}
	var bookingItems, manualItems []domain.ScheduleItem
	for _, it := range items {
		if it.Source == domain.SourceBooking {
			bookingItems = append(bookingItems, it)
		} else {
			manualItems = append(manualItems, it)
		}
	}

	var cleanerID *string
	if id, err := e.Repo.DefaultCleaner(ctx, listingID); err == nil {
		cleanerID = &id
	} else if !errors.Is(err, repo.ErrNotFound) {
		return report, err
	}

	delta := Reconcile(ReconcileInput{
		ListingID:      listingID,
		Bookings:       bookings,
		Existing:       bookingItems,
		CleanerID:      cleanerID,
		CheckoutTime:   listing.CheckoutTime,
		Now:            now,
		NewID:          e.newID,
		AllowEmptyFeed: e.Config.Sync.AllowEmptyFeed,
	})
	for _, uid := range delta.DuplicateUIDs {
		e.Log.Warn("duplicate booking uid in feed, last occurrence wins", "listing", listingID, "uid", uid)
	}
	if delta.CancellationSkipped {
		e.Log.Warn("feed returned no bookings while live items exist, skipping cancellation inference", "listing", listingID)
	}

	past := pastCompletions(bookingItems, delta, loc, now)
	updates := append(delta.Updates(), past...)

	rules, err := e.Repo.ListRules(ctx, listingID)
	if err != nil {
		return report, err
	}
	hasFeedback, err := e.Repo.FeedbackItemIDs(ctx, listingID)
	if err != nil {
		return report, err
	}
	mergeDelta := Merge(MergeInput{
		ListingID:    listingID,
		Rules:        rules,
		Manual:       manualItems,
		BookingItems: postReconcile(bookingItems, delta, past),
		HasFeedback:  hasFeedback,
		From:         today,
		To:           windowEnd,
		Location:     loc,
		Now:          now,
		NewID:        e.newID,
	})

	batch := repo.Batch{
		Creates: append(delta.Creates, mergeDelta.Materialize...),
		Updates: updates,
		Deletes: mergeDelta.Prune,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return report, err
	}
	defer tx.Rollback()
	if err := e.Repo.ApplyBatch(ctx, tx, batch); err != nil {
		return report, fmt.Errorf("apply sync delta: %w", err)
	}
	if err := e.Repo.TouchListingSync(ctx, tx, listingID, now); err != nil {
		return report, err
	}
	for _, it := range delta.Cancellations {
		if err := e.Events.Append(ctx, tx, "item.cancelled", e.hostID(), "schedule_item", it.ID, actorID,
			events.EventPayload{"listing_id": listingID, "booking_uid": it.BookingUID}); err != nil {
			return report, err
		}
	}
	report.Created = len(delta.Creates)
	report.Extended = len(delta.Extensions)
	report.Cancelled = len(delta.Cancellations)
	report.CompletedPast = len(past)
	report.Materialized = len(mergeDelta.Materialize)
	report.Pruned = len(mergeDelta.Prune)
	report.SyncedAt = now
	if err := e.Events.Append(ctx, tx, "sync.completed", e.hostID(), "listing", listingID, actorID, events.EventPayload{
		"bookings": report.Bookings, "created": report.Created, "extended": report.Extended,
		"cancelled": report.Cancelled, "completed_past": report.CompletedPast,
		"materialized": report.Materialized, "pruned": report.Pruned,
	}); err != nil {
		return report, err
	}
	if err := tx.Commit(); err != nil {
		return report, err
	}
	e.Log.Info("sync completed", "listing", listingID,
		"bookings", report.Bookings, "created", report.Created, "extended", report.Extended,
		"cancelled", report.Cancelled, "completed_past", report.CompletedPast,
		"materialized", report.Materialized, "pruned", report.Pruned)
	return report, nil
}

// SyncAll syncs every listing that has a feed configured. One listing's
// failure does not stop the others; the joined error reports all failures.
func (e *Engine) SyncAll(ctx context.Context, actorID string) ([]domain.SyncReport, error) {
	listings, err := e.Repo.ListSyncableListings(ctx, e.hostID())
	if err != nil {
		return nil, err
	}
	var (
		reports []domain.SyncReport
		errs    []error
	)
	for _, l := range listings {
		report, err := e.Sync(ctx, l.ID, actorID)
		if err != nil {
			e.Log.Error("sync failed", "listing", l.ID, "err", err)
			errs = append(errs, fmt.Errorf("listing %s: %w", l.ID, err))
			continue
		}
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

// FeedbackInput is optional feedback captured at completion time.
type FeedbackInput struct {
	CleanlinessRating int
	Notes             string
}

// CompleteItem marks a pending item completed, recording feedback when given.
// Feedback is append-only: completing again after an undo adds a second
// record.
func (e *Engine) CompleteItem(ctx context.Context, itemID string, fb *FeedbackInput, actorID string) (domain.ScheduleItem, error) {
	it, err := e.Repo.GetItem(ctx, itemID)
	if err != nil {
		return it, err
	}
	if err := ensureTransition(it.Status, domain.StatusCompleted); err != nil {
		return it, err
	}
	if fb != nil && (fb.CleanlinessRating < 1 || fb.CleanlinessRating > 5) {
		return it, fmt.Errorf("cleanliness rating %d out of range 1-5", fb.CleanlinessRating)
	}
	now := e.now().UTC()
	it.Status = domain.StatusCompleted
	it.CompletedAt = &now
	it.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return it, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
		return it, err
	}
	if fb != nil {
		rec := domain.Feedback{
			ID:                e.newID(),
			ScheduleItemID:    it.ID,
			CleanlinessRating: fb.CleanlinessRating,
			Notes:             fb.Notes,
			CompletedAt:       now,
			CreatedAt:         now,
		}
		if err := e.Repo.InsertFeedbackTx(ctx, tx, rec); err != nil {
			return it, fmt.Errorf("insert feedback: %w", err)
		}
	}
	if err := e.Events.Append(ctx, tx, "item.completed", e.hostID(), "schedule_item", it.ID, actorID,
		events.EventPayload{"listing_id": it.ListingID, "with_feedback": fb != nil}); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	return it, nil
}

// UndoComplete returns a completed item to pending. Feedback recorded at
// completion time is retained.
func (e *Engine) UndoComplete(ctx context.Context, itemID, actorID string) (domain.ScheduleItem, error) {
	it, err := e.Repo.GetItem(ctx, itemID)
	if err != nil {
		return it, err
	}
	if err := ensureTransition(it.Status, domain.StatusPending); err != nil {
		return it, err
	}
	now := e.now().UTC()
	it.Status = domain.StatusPending
	it.CompletedAt = nil
	it.UpdatedAt = now
	if err := e.updateWithEvent(ctx, it, "item.completion_undone", actorID); err != nil {
		return it, err
	}
	return it, nil
}

// CancelItem cancels a pending item. Cancelling an already-cancelled item is
// a no-op.
func (e *Engine) CancelItem(ctx context.Context, itemID, actorID string) (domain.ScheduleItem, error) {
	it, err := e.Repo.GetItem(ctx, itemID)
	if err != nil {
		return it, err
	}
	if it.Status == domain.StatusCancelled {
		return it, nil
	}
	if err := ensureTransition(it.Status, domain.StatusCancelled); err != nil {
		return it, err
	}
	it = cancelItem(it, e.now().UTC())
	if err := e.updateWithEvent(ctx, it, "item.cancelled", actorID); err != nil {
		return it, err
	}
	return it, nil
}

// ReopenItem returns a cancelled item to pending. The cancellation timestamp
// is retained as history.
func (e *Engine) ReopenItem(ctx context.Context, itemID, actorID string) (domain.ScheduleItem, error) {
	it, err := e.Repo.GetItem(ctx, itemID)
	if err != nil {
		return it, err
	}
	if it.Status != domain.StatusCancelled {
		return it, fmt.Errorf("cannot reopen item in status %s", it.Status)
	}
	it.Status = domain.StatusPending
	it.UpdatedAt = e.now().UTC()
	if err := e.updateWithEvent(ctx, it, "item.reopened", actorID); err != nil {
		return it, err
	}
	return it, nil
}

// PruneOrphanedManualItems removes manual items whose rule is gone or inactive
// and which carry no completion and no feedback.
func (e *Engine) PruneOrphanedManualItems(ctx context.Context, listingID, actorID string) (int, error) {
	orphans, err := e.Repo.ListOrphanedManualItems(ctx, listingID)
	if err != nil {
		return 0, err
	}
	if len(orphans) == 0 {
		return 0, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	for _, it := range orphans {
		if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_items WHERE id=?`, it.ID); err != nil {
			return 0, err
		}
	}
	if err := e.Events.Append(ctx, tx, "items.pruned", e.hostID(), "listing", listingID, actorID,
		events.EventPayload{"count": len(orphans)}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(orphans), nil
}

func (e *Engine) updateWithEvent(ctx context.Context, it domain.ScheduleItem, evtType, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evtType, e.hostID(), "schedule_item", it.ID, actorID,
		events.EventPayload{"listing_id": it.ListingID, "status": it.Status}); err != nil {
		return err
	}
	return tx.Commit()
}

// ensureTransition enforces the item lifecycle. Every legal move is listed;
// anything else is rejected.
func ensureTransition(from, to string) error {
	switch {
	case from == domain.StatusPending && to == domain.StatusCompleted:
	case from == domain.StatusCompleted && to == domain.StatusPending:
	case from == domain.StatusPending && to == domain.StatusCancelled:
	case from == domain.StatusCancelled && to == domain.StatusPending:
	default:
		return fmt.Errorf("invalid transition %s -> %s", from, to)
	}
	return nil
}

func (e *Engine) listingLocation(l domain.Listing) *time.Location {
	if l.Timezone != "" {
		if loc, err := time.LoadLocation(l.Timezone); err == nil {
			return loc
		}
		e.Log.Warn("unknown listing timezone, falling back to host default", "listing", l.ID, "timezone", l.Timezone)
	}
	return e.Config.Timezone()
}

// pastCompletions marks pending booking items whose checkout date has passed
// as completed. Items already touched by the diff are left alone.
func pastCompletions(items []domain.ScheduleItem, delta ReconcileDelta, loc *time.Location, now time.Time) []domain.ScheduleItem {
	touched := make(map[string]bool)
	for _, it := range delta.Updates() {
		touched[it.ID] = true
	}
	today := dateIn(now, loc)
	var out []domain.ScheduleItem
	for _, it := range items {
		if touched[it.ID] || it.Status != domain.StatusPending {
			continue
		}
		if !dateIn(it.CheckOut, loc).Before(today) {
			continue
		}
		at := now
		it.Status = domain.StatusCompleted
		it.CompletedAt = &at
		it.UpdatedAt = now
		out = append(out, it)
	}
	return out
}

// postReconcile replays the diff over the stored booking items so the merge
// pass sees the schedule the transaction is about to commit.
func postReconcile(items []domain.ScheduleItem, delta ReconcileDelta, past []domain.ScheduleItem) []domain.ScheduleItem {
	byID := make(map[string]domain.ScheduleItem, len(items))
	order := make([]string, 0, len(items))
	for _, it := range items {
		byID[it.ID] = it
		order = append(order, it.ID)
	}
	for _, it := range delta.Updates() {
		byID[it.ID] = it
	}
	for _, it := range past {
		byID[it.ID] = it
	}
	out := make([]domain.ScheduleItem, 0, len(order)+len(delta.Creates))
	for _, id := range order {
		out = append(out, byID[id])
	}
	out = append(out, delta.Creates...)
	return out
}

// dateIn normalizes an instant to its calendar date in loc, represented as
// midnight UTC so dates compare with time.Time methods.
func dateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func optional(v string) any {
	if v == "" {
		return nil
	}
	return v
}
