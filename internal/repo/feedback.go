package repo

import (
	"context"
	"database/sql"

	"cleansweep/internal/domain"
)

func scanFeedback(scan func(dest ...any) error) (domain.Feedback, error) {
	var (
		f                      domain.Feedback
		notes                  sql.NullString
		completedAt, createdAt string
	)
	err := scan(&f.ID, &f.ScheduleItemID, &f.CleanlinessRating, &notes, &completedAt, &createdAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	if err != nil {
		return f, err
	}
	if notes.Valid {
		f.Notes = notes.String
	}
	if err := parseTimeField(completedAt, &f.CompletedAt); err != nil {
		return f, err
	}
	if err := parseTimeField(createdAt, &f.CreatedAt); err != nil {
		return f, err
	}
	return f, nil
}

func (r Repo) InsertFeedbackTx(ctx context.Context, tx *sql.Tx, f domain.Feedback) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO feedback(id,schedule_item_id,cleanliness_rating,notes,completed_at,created_at) VALUES (?,?,?,?,?,?)`,
		f.ID, f.ScheduleItemID, f.CleanlinessRating, nullable(f.Notes), formatTime(f.CompletedAt), formatTime(f.CreatedAt))
	return err
}

// ListFeedback returns all feedback records for an item, oldest first. An
// item completed, undone and completed again carries one record per
// completion.
func (r Repo) ListFeedback(ctx context.Context, scheduleItemID string) ([]domain.Feedback, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,schedule_item_id,cleanliness_rating,notes,completed_at,created_at FROM feedback WHERE schedule_item_id=? ORDER BY created_at, id`, scheduleItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Feedback
	for rows.Next() {
		f, err := scanFeedback(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// FeedbackItemIDs returns the ids of the listing's schedule items that carry
// at least one feedback record.
func (r Repo) FeedbackItemIDs(ctx context.Context, listingID string) (map[string]bool, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT f.schedule_item_id FROM feedback f
JOIN schedule_items i ON i.id = f.schedule_item_id WHERE i.listing_id=?`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// HasFeedback reports whether any feedback exists for the item.
func (r Repo) HasFeedback(ctx context.Context, scheduleItemID string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM feedback WHERE schedule_item_id=? LIMIT 1`, scheduleItemID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
