package repo

import (
	"context"
	"database/sql"

	"cleansweep/internal/domain"
)

const itemColumns = `id,listing_id,cleaner_id,booking_uid,guest_name,check_in,check_out,checkout_time,
original_check_in,original_check_out,status,is_extended,extension_count,extension_notes,
cancelled_at,completed_at,source,manual_rule_id,notes,created_at,updated_at`

func scanItem(scan func(dest ...any) error) (domain.ScheduleItem, error) {
	var (
		it                        domain.ScheduleItem
		cleanerID, bookingUID     sql.NullString
		guestName, extNotes       sql.NullString
		cancelledAt, completedAt  sql.NullString
		manualRuleID, notes       sql.NullString
		checkIn, checkOut         string
		origCheckIn, origCheckOut string
		createdAt, updatedAt      string
		isExtended                int
	)
	err := scan(&it.ID, &it.ListingID, &cleanerID, &bookingUID, &guestName, &checkIn, &checkOut, &it.CheckoutTime,
		&origCheckIn, &origCheckOut, &it.Status, &isExtended, &it.ExtensionCount, &extNotes,
		&cancelledAt, &completedAt, &it.Source, &manualRuleID, &notes, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if cleanerID.Valid {
		it.CleanerID = &cleanerID.String
	}
	if bookingUID.Valid {
		it.BookingUID = &bookingUID.String
	}
	if guestName.Valid {
		it.GuestName = guestName.String
	}
	if extNotes.Valid {
		it.ExtensionNotes = &extNotes.String
	}
	if manualRuleID.Valid {
		it.ManualRuleID = &manualRuleID.String
	}
	if notes.Valid {
		it.Notes = notes.String
	}
	it.IsExtended = isExtended != 0
	if err := parseTimeField(checkIn, &it.CheckIn); err != nil {
		return it, err
	}
	if err := parseTimeField(checkOut, &it.CheckOut); err != nil {
		return it, err
	}
	if err := parseTimeField(origCheckIn, &it.OriginalCheckIn); err != nil {
		return it, err
	}
	if err := parseTimeField(origCheckOut, &it.OriginalCheckOut); err != nil {
		return it, err
	}
	if err := parseTimeNull(cancelledAt, &it.CancelledAt); err != nil {
		return it, err
	}
	if err := parseTimeNull(completedAt, &it.CompletedAt); err != nil {
		return it, err
	}
	if err := parseTimeField(createdAt, &it.CreatedAt); err != nil {
		return it, err
	}
	if err := parseTimeField(updatedAt, &it.UpdatedAt); err != nil {
		return it, err
	}
	return it, nil
}

func (r Repo) GetItem(ctx context.Context, id string) (domain.ScheduleItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM schedule_items WHERE id=?`, id)
	return scanItem(row.Scan)
}

// ListItems returns all schedule items for a listing, optionally filtered by
// source, ordered by effective cleaning date.
func (r Repo) ListItems(ctx context.Context, listingID, source string) ([]domain.ScheduleItem, error) {
	query := `SELECT ` + itemColumns + ` FROM schedule_items WHERE listing_id=?`
	args := []any{listingID}
	if source != "" {
		query += ` AND source=?`
		args = append(args, source)
	}
	query += ` ORDER BY check_out, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

// ListItemsInRange returns items whose check_out falls in [from, to].
func (r Repo) ListItemsInRange(ctx context.Context, listingID string, from, to string) ([]domain.ScheduleItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+itemColumns+` FROM schedule_items
WHERE listing_id=? AND check_out >= ? AND check_out <= ? ORDER BY check_out, id`, listingID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

// ListItemsByRule returns materialized items owned by a manual rule.
func (r Repo) ListItemsByRule(ctx context.Context, ruleID string) ([]domain.ScheduleItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+itemColumns+` FROM schedule_items WHERE manual_rule_id=? ORDER BY check_out, id`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

// ListOrphanedManualItems returns manual_recurring items whose owning rule is
// gone or inactive and which carry no feedback and no completion.
func (r Repo) ListOrphanedManualItems(ctx context.Context, listingID string) ([]domain.ScheduleItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+itemColumns+` FROM schedule_items i
WHERE i.listing_id=? AND i.source=?
  AND NOT EXISTS (SELECT 1 FROM manual_schedule_rules r WHERE r.id=i.manual_rule_id AND r.is_active=1)
  AND NOT EXISTS (SELECT 1 FROM feedback f WHERE f.schedule_item_id=i.id)
  AND i.status != ?
ORDER BY i.check_out, i.id`, listingID, domain.SourceManualRecurring, domain.StatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func collectItems(rows *sql.Rows) ([]domain.ScheduleItem, error) {
	var res []domain.ScheduleItem
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) insertItemTx(ctx context.Context, tx *sql.Tx, it domain.ScheduleItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO schedule_items
(id,listing_id,cleaner_id,booking_uid,guest_name,check_in,check_out,checkout_time,
 original_check_in,original_check_out,status,is_extended,extension_count,extension_notes,
 cancelled_at,completed_at,source,manual_rule_id,notes,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.ListingID, nullableStringPtr(it.CleanerID), nullableStringPtr(it.BookingUID), nullable(it.GuestName),
		formatTime(it.CheckIn), formatTime(it.CheckOut), it.CheckoutTime,
		formatTime(it.OriginalCheckIn), formatTime(it.OriginalCheckOut),
		it.Status, boolToInt(it.IsExtended), it.ExtensionCount, nullableStringPtr(it.ExtensionNotes),
		formatTimePtr(it.CancelledAt), formatTimePtr(it.CompletedAt),
		it.Source, nullableStringPtr(it.ManualRuleID), nullable(it.Notes),
		formatTime(it.CreatedAt), formatTime(it.UpdatedAt))
	return err
}

func (r Repo) updateItemTx(ctx context.Context, tx *sql.Tx, it domain.ScheduleItem) error {
	res, err := tx.ExecContext(ctx, `UPDATE schedule_items SET
cleaner_id=?, guest_name=?, check_in=?, check_out=?, checkout_time=?,
status=?, is_extended=?, extension_count=?, extension_notes=?,
cancelled_at=?, completed_at=?, notes=?, updated_at=?
WHERE id=?`,
		nullableStringPtr(it.CleanerID), nullable(it.GuestName),
		formatTime(it.CheckIn), formatTime(it.CheckOut), it.CheckoutTime,
		it.Status, boolToInt(it.IsExtended), it.ExtensionCount, nullableStringPtr(it.ExtensionNotes),
		formatTimePtr(it.CancelledAt), formatTimePtr(it.CompletedAt),
		nullable(it.Notes), formatTime(it.UpdatedAt), it.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateItemTx exposes a single-row update inside an existing transaction,
// used by the lifecycle operations.
func (r Repo) UpdateItemTx(ctx context.Context, tx *sql.Tx, it domain.ScheduleItem) error {
	return r.updateItemTx(ctx, tx, it)
}

// Batch is the full delta of one reconciliation pass. It is applied in a
// single transaction so no reader ever observes a partially updated schedule.
type Batch struct {
	Creates []domain.ScheduleItem
	Updates []domain.ScheduleItem
	Deletes []string
}

func (b Batch) Empty() bool {
	return len(b.Creates) == 0 && len(b.Updates) == 0 && len(b.Deletes) == 0
}

// ApplyBatch writes a reconciliation delta inside the given transaction.
func (r Repo) ApplyBatch(ctx context.Context, tx *sql.Tx, b Batch) error {
	for _, it := range b.Creates {
		if err := r.insertItemTx(ctx, tx, it); err != nil {
			return err
		}
	}
	for _, it := range b.Updates {
		if err := r.updateItemTx(ctx, tx, it); err != nil {
			return err
		}
	}
	for _, id := range b.Deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_items WHERE id=?`, id); err != nil {
			return err
		}
	}
	return nil
}
