package cleansweepsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal CleanSweep HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Listing represents the API listing model.
type Listing struct {
	ID           string `json:"id"`
	HostID       string `json:"host_id"`
	Name         string `json:"name"`
	FeedURL      string `json:"feed_url,omitempty"`
	Timezone     string `json:"timezone"`
	CheckoutTime string `json:"checkout_time"`
	LastSyncAt   string `json:"last_sync_at,omitempty"`
}

// ScheduleItem represents one cleaning in a listing's schedule (partial).
type ScheduleItem struct {
	ID             string `json:"id"`
	ListingID      string `json:"listing_id"`
	GuestName      string `json:"guest_name,omitempty"`
	CheckIn        string `json:"check_in"`
	CheckOut       string `json:"check_out"`
	CheckoutTime   string `json:"checkout_time"`
	Status         string `json:"status"`
	Source         string `json:"source"`
	IsExtended     bool   `json:"is_extended"`
	ExtensionCount int    `json:"extension_count"`
}

// Schedule is a window of a listing's cleaning schedule.
type Schedule struct {
	ListingID string         `json:"listing_id"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Items     []ScheduleItem `json:"items"`
}

// SyncReport summarizes one reconciliation pass.
type SyncReport struct {
	ListingID     string `json:"listing_id"`
	Bookings      int    `json:"bookings"`
	Created       int    `json:"created"`
	Extended      int    `json:"extended"`
	Cancelled     int    `json:"cancelled"`
	CompletedPast int    `json:"completed_past"`
	Materialized  int    `json:"materialized"`
	Pruned        int    `json:"pruned"`
	SyncedAt      string `json:"synced_at"`
}

// Feedback is one feedback record on a completed cleaning.
type Feedback struct {
	ID                string `json:"id"`
	ScheduleItemID    string `json:"schedule_item_id"`
	CleanlinessRating int    `json:"cleanliness_rating"`
	Notes             string `json:"notes,omitempty"`
	CompletedAt       string `json:"completed_at"`
}

// ShareLink is a read-only schedule token for a cleaner.
type ShareLink struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateListing registers a listing.
func (c *Client) CreateListing(ctx context.Context, name, feedURL, timezone, checkoutTime string) (Listing, error) {
	body := map[string]any{
		"name":          name,
		"feed_url":      feedURL,
		"timezone":      timezone,
		"checkout_time": checkoutTime,
	}
	var resp Listing
	err := c.do(ctx, http.MethodPost, "listings", body, &resp)
	return resp, err
}

// Listings returns all listings for the host.
func (c *Client) Listings(ctx context.Context) ([]Listing, error) {
	var resp []Listing
	err := c.do(ctx, http.MethodGet, "listings", nil, &resp)
	return resp, err
}

// Sync triggers reconciliation for a listing.
func (c *Client) Sync(ctx context.Context, listingID string) (SyncReport, error) {
	var resp SyncReport
	endpoint := fmt.Sprintf("listings/%s/sync", url.PathEscape(listingID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Schedule returns a listing's schedule in the given window. Empty from/to
// use the server's default window.
func (c *Client) Schedule(ctx context.Context, listingID, from, to string) (Schedule, error) {
	endpoint := fmt.Sprintf("listings/%s/schedule", url.PathEscape(listingID))
	params := url.Values{}
	if from != "" {
		params.Set("from", from)
	}
	if to != "" {
		params.Set("to", to)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp Schedule
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CompleteItem marks a cleaning completed, optionally recording feedback.
func (c *Client) CompleteItem(ctx context.Context, itemID string, rating int, notes string) (ScheduleItem, error) {
	body := map[string]any{}
	if rating > 0 {
		body["feedback"] = map[string]any{
			"cleanliness_rating": rating,
			"notes":              notes,
		}
	}
	var resp ScheduleItem
	endpoint := fmt.Sprintf("items/%s/complete", url.PathEscape(itemID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// UncompleteItem undoes a completion.
func (c *Client) UncompleteItem(ctx context.Context, itemID string) (ScheduleItem, error) {
	var resp ScheduleItem
	endpoint := fmt.Sprintf("items/%s/uncomplete", url.PathEscape(itemID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CancelItem cancels a schedule item.
func (c *Client) CancelItem(ctx context.Context, itemID string) (ScheduleItem, error) {
	var resp ScheduleItem
	endpoint := fmt.Sprintf("items/%s/cancel", url.PathEscape(itemID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ItemFeedback lists feedback records for an item.
func (c *Client) ItemFeedback(ctx context.Context, itemID string) ([]Feedback, error) {
	var resp []Feedback
	endpoint := fmt.Sprintf("items/%s/feedback", url.PathEscape(itemID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Share issues a read-only schedule token for a cleaner.
func (c *Client) Share(ctx context.Context, listingID, cleanerID string) (ShareLink, error) {
	body := map[string]any{"cleaner_id": cleanerID}
	var resp ShareLink
	endpoint := fmt.Sprintf("listings/%s/share", url.PathEscape(listingID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("events?limit=%d", limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
