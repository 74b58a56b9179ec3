package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cleansweep/internal/domain"
)

const maxFeedBytes = 8 << 20

// Client fetches and normalizes calendar feeds over HTTP.
type Client struct {
	client *http.Client
	log    *slog.Logger
}

func NewClient(timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Normalize fetches the feed at url and returns the bookings it reports,
// sorted by check-in. The context deadline bounds the whole call; on any
// error no bookings are returned (fail-closed).
func (c *Client) Normalize(ctx context.Context, url string) ([]domain.Booking, error) {
	if url == "" {
		return nil, malformed(errors.New("empty feed url"))
	}
	body, err := c.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	bookings, err := Parse(body)
	if err != nil {
		c.log.Error("feed parse failed", "url", redactURL(url), "err", err)
		return nil, err
	}
	c.log.Info("feed normalized", "url", redactURL(url), "bookings", len(bookings))
	return bookings, nil
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, malformed(err)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return nil, unavailable(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, unavailable(fmt.Errorf("status %s", res.Status))
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxFeedBytes))
	if err != nil {
		return nil, unavailable(err)
	}
	return body, nil
}

// redactURL hides the path and query of feed URLs in logs; Airbnb feed URLs
// embed a per-host secret.
func redactURL(u string) string {
	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "feed://...(redacted)"
	}
	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + "/...(redacted)"
}
