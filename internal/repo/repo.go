package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cleansweep/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const (
	timeLayout = time.RFC3339
	dateLayout = "2006-01-02"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(timeLayout, v)
}

func parseTimeField(v string, dst *time.Time) error {
	t, err := parseTime(v)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	*dst = t
	return nil
}

func parseTimeNull(v sql.NullString, dst **time.Time) error {
	if !v.Valid || v.String == "" {
		*dst = nil
		return nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", v.String, err)
	}
	*dst = &t
	return nil
}

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func formatDatePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatDate(*t)
}

func parseDate(v string) (time.Time, error) {
	return time.Parse(dateLayout, v)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// EnsureHost inserts the host row if it does not exist yet.
func (r Repo) EnsureHost(ctx context.Context, tx *sql.Tx, hostID, name, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO hosts(id,name,created_at) VALUES (?,?,?) ON CONFLICT(id) DO NOTHING`,
		hostID, nullable(name), now)
	return err
}

func (r Repo) HostExists(ctx context.Context, hostID string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM hosts WHERE id=?`, hostID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func scanListing(scan func(dest ...any) error) (domain.Listing, error) {
	var (
		l        domain.Listing
		feedURL  sql.NullString
		lastSync sql.NullString
		created  string
	)
	if err := scan(&l.ID, &l.HostID, &l.Name, &feedURL, &l.Timezone, &l.CheckoutTime, &lastSync, &created); err != nil {
		if err == sql.ErrNoRows {
			return l, ErrNotFound
		}
		return l, err
	}
	if feedURL.Valid {
		l.FeedURL = feedURL.String
	}
	if err := parseTimeNull(lastSync, &l.LastSyncAt); err != nil {
		return l, err
	}
	if err := parseTimeField(created, &l.CreatedAt); err != nil {
		return l, err
	}
	return l, nil
}

const listingColumns = `id,host_id,name,feed_url,timezone,checkout_time,last_sync_at,created_at`

func (r Repo) InsertListing(ctx context.Context, l domain.Listing) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO listings(id,host_id,name,feed_url,timezone,checkout_time,last_sync_at,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		l.ID, l.HostID, l.Name, nullable(l.FeedURL), l.Timezone, l.CheckoutTime, formatTimePtr(l.LastSyncAt), formatTime(l.CreatedAt))
	return err
}

func (r Repo) GetListing(ctx context.Context, id string) (domain.Listing, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id=?`, id)
	return scanListing(row.Scan)
}

func (r Repo) ListListings(ctx context.Context, hostID string) ([]domain.Listing, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE host_id=? ORDER BY created_at DESC, id DESC`, hostID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// ListSyncableListings returns listings that have a calendar feed configured.
func (r Repo) ListSyncableListings(ctx context.Context, hostID string) ([]domain.Listing, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE host_id=? AND feed_url IS NOT NULL ORDER BY created_at DESC, id DESC`, hostID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) UpdateListing(ctx context.Context, id string, name, feedURL, timezone, checkoutTime *string) error {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if feedURL != nil {
		fields = append(fields, "feed_url=?")
		args = append(args, nullable(*feedURL))
	}
	if timezone != nil {
		fields = append(fields, "timezone=?")
		args = append(args, *timezone)
	}
	if checkoutTime != nil {
		fields = append(fields, "checkout_time=?")
		args = append(args, *checkoutTime)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, `UPDATE listings SET `+joinFields(fields)+` WHERE id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) TouchListingSync(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE listings SET last_sync_at=? WHERE id=?`, formatTime(at), id)
	return err
}

func (r Repo) DeleteListing(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM listings WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCleaner(scan func(dest ...any) error) (domain.Cleaner, error) {
	var (
		c       domain.Cleaner
		phone   sql.NullString
		created string
	)
	if err := scan(&c.ID, &c.HostID, &c.Name, &phone, &created); err != nil {
		if err == sql.ErrNoRows {
			return c, ErrNotFound
		}
		return c, err
	}
	if phone.Valid {
		c.Phone = phone.String
	}
	if err := parseTimeField(created, &c.CreatedAt); err != nil {
		return c, err
	}
	return c, nil
}

func (r Repo) InsertCleaner(ctx context.Context, c domain.Cleaner) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO cleaners(id,host_id,name,phone,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.HostID, c.Name, nullable(c.Phone), formatTime(c.CreatedAt))
	return err
}

func (r Repo) GetCleaner(ctx context.Context, id string) (domain.Cleaner, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,host_id,name,phone,created_at FROM cleaners WHERE id=?`, id)
	return scanCleaner(row.Scan)
}

func (r Repo) ListCleaners(ctx context.Context, hostID string) ([]domain.Cleaner, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,host_id,name,phone,created_at FROM cleaners WHERE host_id=? ORDER BY created_at DESC, id DESC`, hostID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Cleaner
	for rows.Next() {
		c, err := scanCleaner(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) AssignCleaner(ctx context.Context, listingID, cleanerID string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO assignments(listing_id,cleaner_id,created_at) VALUES (?,?,?) ON CONFLICT(listing_id,cleaner_id) DO NOTHING`,
		listingID, cleanerID, formatTime(at))
	return err
}

func (r Repo) UnassignCleaner(ctx context.Context, listingID, cleanerID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM assignments WHERE listing_id=? AND cleaner_id=?`, listingID, cleanerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DefaultCleaner returns the first cleaner assigned to the listing, or
// ErrNotFound when the listing has no assignment.
func (r Repo) DefaultCleaner(ctx context.Context, listingID string) (string, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT cleaner_id FROM assignments WHERE listing_id=? ORDER BY created_at, cleaner_id LIMIT 1`, listingID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return id, err
}

func joinFields(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out
}
