package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"cleansweep/internal/config"
	"cleansweep/internal/db"
	"cleansweep/internal/domain"
	"cleansweep/internal/engine"
	"cleansweep/internal/migrate"
	"cleansweep/internal/repo"
)

type fakeFeed struct {
	bookings []domain.Booking
	err      error
}

func (f *fakeFeed) Normalize(ctx context.Context, url string) ([]domain.Booking, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bookings, nil
}

type testServer struct {
	URL    string
	Engine *engine.Engine
	Feed   *fakeFeed
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

var hostHeaders = map[string]string{"X-Actor-Id": "tester"}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("host-1")
	e := engine.New(conn, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	feed := &fakeFeed{}
	e.Feed = feed

	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	r := repo.Repo{DB: conn}
	if err := r.EnsureHost(ctx, tx, "host-1", "Test Host", time.Now().UTC().Format(time.RFC3339)); err != nil {
		t.Fatalf("seed host: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit host: %v", err)
	}

	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			ShareTokenTTL:          24 * time.Hour,
			AllowLegacyActorHeader: true,
			Logger:                 e.Log,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Feed:   feed,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v: %s", err, string(data))
	}
	return envelope.Error.Code
}

func createListing(t *testing.T, srv *testServer, feedURL string) domain.Listing {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/listings", map[string]any{
		"name":     "Beach House",
		"feed_url": feedURL,
	}, hostHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create listing status %d: %s", res.StatusCode, string(data))
	}
	var l domain.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		t.Fatalf("unmarshal listing: %v", err)
	}
	return l
}

func createCleaner(t *testing.T, srv *testServer) domain.Cleaner {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cleaners", map[string]any{
		"name": "Maria",
	}, hostHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create cleaner status %d: %s", res.StatusCode, string(data))
	}
	var c domain.Cleaner
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal cleaner: %v", err)
	}
	return c
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/listings", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("error code %q", code)
	}
}

func TestSyncScheduleCompleteFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	listing := createListing(t, srv, "https://calendar.example.com/listing.ics")
	cleaner := createCleaner(t, srv)

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/listings/"+listing.ID+"/cleaner", map[string]any{
		"cleaner_id": cleaner.ID,
	}, hostHeaders)
	if res.StatusCode >= 300 {
		t.Fatalf("assign cleaner status %d: %s", res.StatusCode, string(data))
	}

	checkOut := time.Now().UTC().AddDate(0, 0, 7).Truncate(time.Hour)
	srv.Feed.bookings = []domain.Booking{{
		UID:       "uid-a",
		CheckIn:   checkOut.AddDate(0, 0, -3),
		CheckOut:  checkOut,
		GuestName: "Jane Doe",
	}}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/listings/"+listing.ID+"/sync", nil, hostHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sync status %d: %s", res.StatusCode, string(data))
	}
	var report domain.SyncReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if report.Created != 1 {
		t.Fatalf("expected 1 created, got %+v", report)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/listings/"+listing.ID+"/schedule", nil, hostHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("schedule status %d: %s", res.StatusCode, string(data))
	}
	var schedule ScheduleResponse
	if err := json.Unmarshal(data, &schedule); err != nil {
		t.Fatalf("unmarshal schedule: %v", err)
	}
	if len(schedule.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(schedule.Items))
	}
	item := schedule.Items[0]
	if item.GuestName != "Jane Doe" || item.Status != domain.StatusPending {
		t.Fatalf("unexpected item: %+v", item)
	}
	if item.CleanerID == nil || *item.CleanerID != cleaner.ID {
		t.Fatalf("default cleaner not applied")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/complete", map[string]any{
		"feedback": map[string]any{"cleanliness_rating": 5, "notes": "spotless"},
	}, hostHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	var completed domain.ScheduleItem
	if err := json.Unmarshal(data, &completed); err != nil {
		t.Fatalf("unmarshal completed: %v", err)
	}
	if completed.Status != domain.StatusCompleted {
		t.Fatalf("status %s", completed.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/items/"+item.ID+"/feedback", nil, hostHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("feedback status %d: %s", res.StatusCode, string(data))
	}
	var recs []domain.Feedback
	if err := json.Unmarshal(data, &recs); err != nil {
		t.Fatalf("unmarshal feedback: %v", err)
	}
	if len(recs) != 1 || recs[0].CleanlinessRating != 5 {
		t.Fatalf("unexpected feedback: %+v", recs)
	}
}

func TestShareTokenIsReadOnlyAndListingBound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	listing := createListing(t, srv, "https://calendar.example.com/listing.ics")
	other := createListing(t, srv, "")
	cleaner := createCleaner(t, srv)

	checkOut := time.Now().UTC().AddDate(0, 0, 5).Truncate(time.Hour)
	srv.Feed.bookings = []domain.Booking{{UID: "uid-a", CheckIn: checkOut.AddDate(0, 0, -2), CheckOut: checkOut}}
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/listings/"+listing.ID+"/sync", nil, hostHeaders); res.StatusCode != http.StatusOK {
		t.Fatalf("sync status %d: %s", res.StatusCode, string(data))
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/listings/"+listing.ID+"/share", map[string]any{
		"cleaner_id": cleaner.ID,
	}, hostHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("share status %d: %s", res.StatusCode, string(data))
	}
	var share ShareResponse
	if err := json.Unmarshal(data, &share); err != nil {
		t.Fatalf("unmarshal share: %v", err)
	}
	if share.Token == "" {
		t.Fatalf("empty share token")
	}

	// Token works as a plain query parameter, browser style.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/listings/"+listing.ID+"/schedule?token="+share.Token, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("schedule via token status %d: %s", res.StatusCode, string(data))
	}
	var schedule ScheduleResponse
	if err := json.Unmarshal(data, &schedule); err != nil {
		t.Fatal(err)
	}
	if len(schedule.Items) != 1 {
		t.Fatalf("expected 1 item via share link, got %d", len(schedule.Items))
	}

	bearer := map[string]string{"Authorization": "Bearer " + share.Token}

	// Mutations are forbidden for share principals.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+schedule.Items[0].ID+"/complete", map[string]any{}, bearer)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for share mutation, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("error code %q", code)
	}

	// The token does not open other listings.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/listings/"+other.ID+"/schedule", nil, bearer)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign listing, got %d: %s", res.StatusCode, string(data))
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/items/nonexistent", nil, hostHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("error code %q", code)
	}
}

func TestInvalidTransitionConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	listing := createListing(t, srv, "https://calendar.example.com/listing.ics")

	checkOut := time.Now().UTC().AddDate(0, 0, 3).Truncate(time.Hour)
	srv.Feed.bookings = []domain.Booking{{UID: "uid-a", CheckIn: checkOut.AddDate(0, 0, -2), CheckOut: checkOut}}
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/listings/"+listing.ID+"/sync", nil, hostHeaders); res.StatusCode != http.StatusOK {
		t.Fatalf("sync status %d: %s", res.StatusCode, string(data))
	}
	_, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/listings/"+listing.ID+"/schedule", nil, hostHeaders)
	var schedule ScheduleResponse
	if err := json.Unmarshal(data, &schedule); err != nil {
		t.Fatal(err)
	}
	itemID := schedule.Items[0].ID

	// Reopening a pending item is an invalid lifecycle move.
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+itemID+"/reopen", nil, hostHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_transition" {
		t.Fatalf("error code %q", code)
	}
}
