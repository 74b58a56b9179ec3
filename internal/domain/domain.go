package domain

import "time"

// ScheduleItem statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// ScheduleItem sources.
const (
	SourceBooking         = "booking"
	SourceManualOneTime   = "manual_one_time"
	SourceManualRecurring = "manual_recurring"
)

// ManualScheduleRule frequencies.
const (
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
	FrequencyCustom  = "custom"
)

// ManualScheduleRule schedule types.
const (
	ScheduleRecurring = "recurring"
	ScheduleOneTime   = "one_time"
)

type Listing struct {
	ID           string     `json:"id"`
	HostID       string     `json:"host_id"`
	Name         string     `json:"name"`
	FeedURL      string     `json:"feed_url,omitempty"`
	Timezone     string     `json:"timezone"`
	CheckoutTime string     `json:"checkout_time"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type Cleaner struct {
	ID        string    `json:"id"`
	HostID    string    `json:"host_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Assignment links a listing to its default cleaner. New schedule items
// pick up the assigned cleaner at creation time.
type Assignment struct {
	ListingID string    `json:"listing_id"`
	CleanerID string    `json:"cleaner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Booking is a guest reservation as reported by a calendar feed. It is
// ephemeral: bookings exist only for the duration of one sync pass and are
// never stored directly.
type Booking struct {
	UID         string    `json:"uid"`
	CheckIn     time.Time `json:"check_in"`
	CheckOut    time.Time `json:"check_out"`
	GuestName   string    `json:"guest_name,omitempty"`
	Description string    `json:"description,omitempty"`
}

// ScheduleItem is the unit of cleaning work. Items derived from bookings
// track the booking's mutations (extensions, cancellation) while keeping
// their own identity and lifecycle.
type ScheduleItem struct {
	ID               string     `json:"id"`
	ListingID        string     `json:"listing_id"`
	CleanerID        *string    `json:"cleaner_id,omitempty"`
	BookingUID       *string    `json:"booking_uid,omitempty"`
	GuestName        string     `json:"guest_name,omitempty"`
	CheckIn          time.Time  `json:"check_in"`
	CheckOut         time.Time  `json:"check_out"`
	CheckoutTime     string     `json:"checkout_time"`
	OriginalCheckIn  time.Time  `json:"original_check_in"`
	OriginalCheckOut time.Time  `json:"original_check_out"`
	Status           string     `json:"status" enum:"pending,completed,cancelled"`
	IsExtended       bool       `json:"is_extended"`
	ExtensionCount   int        `json:"extension_count"`
	ExtensionNotes   *string    `json:"extension_notes,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Source           string     `json:"source" enum:"booking,manual_one_time,manual_recurring"`
	ManualRuleID     *string    `json:"manual_rule_id,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Live reports whether the item still participates in reconciliation.
func (s ScheduleItem) Live() bool {
	return s.Status != StatusCancelled
}

type ManualScheduleRule struct {
	ID                 string     `json:"id"`
	ListingID          string     `json:"listing_id"`
	CleanerID          string     `json:"cleaner_id"`
	ScheduleType       string     `json:"schedule_type" enum:"recurring,one_time"`
	Frequency          string     `json:"frequency,omitempty" enum:"weekly,monthly,custom"`
	DaysOfWeek         []int      `json:"days_of_week,omitempty"`
	DayOfMonth         int        `json:"day_of_month,omitempty"`
	CustomIntervalDays int        `json:"custom_interval_days,omitempty"`
	CleaningTime       string     `json:"cleaning_time"`
	StartDate          time.Time  `json:"start_date"`
	EndDate            *time.Time `json:"end_date,omitempty"`
	IsActive           bool       `json:"is_active"`
	Notes              string     `json:"notes,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Occurrence is one concrete firing of a manual rule: a calendar date plus
// the rule's wall-clock cleaning time.
type Occurrence struct {
	Date time.Time `json:"date"`
	Time string    `json:"time"`
}

// Feedback is an append-only record attached to a completed schedule item.
// It survives an undo of the completion.
type Feedback struct {
	ID                string    `json:"id"`
	ScheduleItemID    string    `json:"schedule_item_id"`
	CleanlinessRating int       `json:"cleanliness_rating"`
	Notes             string    `json:"notes,omitempty"`
	CompletedAt       time.Time `json:"completed_at"`
	CreatedAt         time.Time `json:"created_at"`
}

// SyncReport summarizes one reconciliation pass for a listing.
type SyncReport struct {
	ListingID     string    `json:"listing_id"`
	Bookings      int       `json:"bookings"`
	Created       int       `json:"created"`
	Extended      int       `json:"extended"`
	Cancelled     int       `json:"cancelled"`
	CompletedPast int       `json:"completed_past"`
	Materialized  int       `json:"materialized"`
	Pruned        int       `json:"pruned"`
	SyncedAt      time.Time `json:"synced_at"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	HostID     string `json:"host_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
