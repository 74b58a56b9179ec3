package server

import (
	"time"

	"cleansweep/internal/domain"
)

type CreateListingRequest struct {
	Name         string `json:"name" example:"Beach House"`
	FeedURL      string `json:"feed_url,omitempty"`
	Timezone     string `json:"timezone,omitempty" example:"Europe/Lisbon"`
	CheckoutTime string `json:"checkout_time,omitempty" example:"11:00"`
}

type UpdateListingRequest struct {
	Name         *string `json:"name,omitempty"`
	FeedURL      *string `json:"feed_url,omitempty"`
	Timezone     *string `json:"timezone,omitempty"`
	CheckoutTime *string `json:"checkout_time,omitempty"`
}

type CreateCleanerRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type CreateRuleRequest struct {
	CleanerID          string  `json:"cleaner_id"`
	ScheduleType       string  `json:"schedule_type,omitempty" enum:"recurring,one_time"`
	Frequency          string  `json:"frequency,omitempty" enum:"weekly,monthly,custom"`
	DaysOfWeek         []int   `json:"days_of_week,omitempty"`
	DayOfMonth         int     `json:"day_of_month,omitempty"`
	CustomIntervalDays int     `json:"custom_interval_days,omitempty"`
	CleaningTime       string  `json:"cleaning_time,omitempty" example:"10:00"`
	StartDate          string  `json:"start_date" example:"2024-06-01"`
	EndDate            *string `json:"end_date,omitempty"`
	Notes              string  `json:"notes,omitempty"`
}

type CompleteItemRequest struct {
	Feedback *FeedbackRequest `json:"feedback,omitempty"`
}

type FeedbackRequest struct {
	CleanlinessRating int    `json:"cleanliness_rating" minimum:"1" maximum:"5"`
	Notes             string `json:"notes,omitempty"`
}

type ShareRequest struct {
	CleanerID string `json:"cleaner_id"`
}

type ShareResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ScheduleResponse struct {
	ListingID string                `json:"listing_id"`
	From      string                `json:"from"`
	To        string                `json:"to"`
	Items     []domain.ScheduleItem `json:"items"`
}

type SyncAllResponse struct {
	Reports []domain.SyncReport `json:"reports"`
	Failed  []string            `json:"failed,omitempty"`
}

type OccurrencesResponse struct {
	RuleID      string              `json:"rule_id"`
	From        string              `json:"from"`
	To          string              `json:"to"`
	Occurrences []domain.Occurrence `json:"occurrences"`
}
