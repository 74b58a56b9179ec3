package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"cleansweep/internal/domain"
)

const ruleColumns = `id,listing_id,cleaner_id,schedule_type,frequency,days_of_week,day_of_month,
custom_interval_days,cleaning_time,start_date,end_date,is_active,notes,created_at,updated_at`

func scanRule(scan func(dest ...any) error) (domain.ManualScheduleRule, error) {
	var (
		rule                 domain.ManualScheduleRule
		frequency, days      sql.NullString
		dayOfMonth, interval sql.NullInt64
		startDate            string
		endDate, notes       sql.NullString
		isActive             int
		createdAt, updatedAt string
	)
	err := scan(&rule.ID, &rule.ListingID, &rule.CleanerID, &rule.ScheduleType, &frequency, &days, &dayOfMonth,
		&interval, &rule.CleaningTime, &startDate, &endDate, &isActive, &notes, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return rule, ErrNotFound
	}
	if err != nil {
		return rule, err
	}
	if frequency.Valid {
		rule.Frequency = frequency.String
	}
	if days.Valid && days.String != "" {
		if err := json.Unmarshal([]byte(days.String), &rule.DaysOfWeek); err != nil {
			return rule, fmt.Errorf("decode days_of_week for rule %s: %w", rule.ID, err)
		}
	}
	if dayOfMonth.Valid {
		rule.DayOfMonth = int(dayOfMonth.Int64)
	}
	if interval.Valid {
		rule.CustomIntervalDays = int(interval.Int64)
	}
	rule.IsActive = isActive != 0
	if notes.Valid {
		rule.Notes = notes.String
	}
	start, err := parseDate(startDate)
	if err != nil {
		return rule, fmt.Errorf("parse start_date for rule %s: %w", rule.ID, err)
	}
	rule.StartDate = start
	if endDate.Valid && endDate.String != "" {
		end, err := parseDate(endDate.String)
		if err != nil {
			return rule, fmt.Errorf("parse end_date for rule %s: %w", rule.ID, err)
		}
		rule.EndDate = &end
	}
	if err := parseTimeField(createdAt, &rule.CreatedAt); err != nil {
		return rule, err
	}
	if err := parseTimeField(updatedAt, &rule.UpdatedAt); err != nil {
		return rule, err
	}
	return rule, nil
}

func marshalDays(days []int) (any, error) {
	if len(days) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(days)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r Repo) InsertRule(ctx context.Context, rule domain.ManualScheduleRule) error {
	days, err := marshalDays(rule.DaysOfWeek)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO manual_schedule_rules
(id,listing_id,cleaner_id,schedule_type,frequency,days_of_week,day_of_month,custom_interval_days,
 cleaning_time,start_date,end_date,is_active,notes,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rule.ID, rule.ListingID, rule.CleanerID, rule.ScheduleType, nullable(rule.Frequency), days,
		zeroToNil(rule.DayOfMonth), zeroToNil(rule.CustomIntervalDays), rule.CleaningTime,
		formatDate(rule.StartDate), formatDatePtr(rule.EndDate), boolToInt(rule.IsActive), nullable(rule.Notes),
		formatTime(rule.CreatedAt), formatTime(rule.UpdatedAt))
	return err
}

func (r Repo) GetRule(ctx context.Context, id string) (domain.ManualScheduleRule, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM manual_schedule_rules WHERE id=?`, id)
	return scanRule(row.Scan)
}

// ListActiveRules returns the active rules scoped to one listing.
func (r Repo) ListActiveRules(ctx context.Context, listingID string) ([]domain.ManualScheduleRule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ruleColumns+` FROM manual_schedule_rules WHERE listing_id=? AND is_active=1 ORDER BY created_at, id`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

func (r Repo) ListRules(ctx context.Context, listingID string) ([]domain.ManualScheduleRule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ruleColumns+` FROM manual_schedule_rules WHERE listing_id=? ORDER BY created_at DESC, id DESC`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

func collectRules(rows *sql.Rows) ([]domain.ManualScheduleRule, error) {
	var res []domain.ManualScheduleRule
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}

// SetRuleActive flips the soft-delete flag on a rule.
func (r Repo) SetRuleActive(ctx context.Context, tx *sql.Tx, id string, active bool, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE manual_schedule_rules SET is_active=?, updated_at=? WHERE id=?`,
		boolToInt(active), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteRule(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM manual_schedule_rules WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func zeroToNil(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
