// Package server exposes the engine over HTTP. Routes are registered with
// huma on top of chi; every error uses the {code,message,details} envelope.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"cleansweep/internal/domain"
	"cleansweep/internal/engine"
	"cleansweep/internal/feed"
	"cleansweep/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"sync_in_flight"`
	Message string         `json:"message" example:"listing is already syncing"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the CleanSweep API and starts the
// webhook dispatcher when webhooks are configured.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("CleanSweep API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerListings(group, cfg.Engine)
	registerCleaners(group, cfg.Engine)
	registerSync(group, cfg.Engine)
	registerSchedule(group, cfg.Engine)
	registerItems(group, cfg.Engine)
	registerRules(group, cfg.Engine)
	registerShare(group, cfg.Engine, cfg.Auth)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrSyncInFlight):
		return newAPIError(http.StatusConflict, "sync_in_flight", err.Error(), nil)
	case errors.Is(err, feed.ErrUnavailable):
		return newAPIError(http.StatusBadGateway, "feed_unavailable", err.Error(), nil)
	case errors.Is(err, feed.ErrMalformed):
		return newAPIError(http.StatusUnprocessableEntity, "feed_malformed", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid transition") || strings.Contains(lowered, "cannot reopen"):
		return newAPIError(http.StatusConflict, "invalid_transition", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "out of range") || strings.Contains(lowered, "unknown") ||
		strings.Contains(lowered, "must be"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>CleanSweep API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerListings(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-listing",
		Method:        http.MethodPost,
		Path:          "/listings",
		Summary:       "Register listing",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateListingRequest `json:"body"`
	}) (*struct {
		Body domain.Listing `json:"body"`
	}, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.CreateListing(ctx, engine.ListingCreateOptions{
			Name:         input.Body.Name,
			FeedURL:      input.Body.FeedURL,
			Timezone:     input.Body.Timezone,
			CheckoutTime: input.Body.CheckoutTime,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Listing `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-listings",
		Method:      http.MethodGet,
		Path:        "/listings",
		Summary:     "List listings",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Listing `json:"body"`
	}, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListListings(ctx, e.Config.Host.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Listing `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-listing",
		Method:      http.MethodGet,
		Path:        "/listings/{listing_id}",
		Summary:     "Get listing",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ListingID string `path:"listing_id"`
	}) (*struct {
		Body domain.Listing `json:"body"`
	}, error) {
		if err := requireListingAccess(ctx, input.ListingID); err != nil {
			return nil, err
		}
		l, err := e.Repo.GetListing(ctx, input.ListingID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Listing `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-listing",
		Method:      http.MethodPatch,
		Path:        "/listings/{listing_id}",
		Summary:     "Update listing",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ListingID string               `path:"listing_id"`
		Body      UpdateListingRequest `json:"body"`
	}) (*struct {
		Body domain.Listing `json:"body"`
	}, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		if input.Body.Timezone != nil {
			if _, err := time.LoadLocation(*input.Body.Timezone); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid timezone", map[string]any{"timezone": *input.Body.Timezone})
			}
		}
		if input.Body.CheckoutTime != nil {
			if _, err := time.Parse("15:04", *input.Body.CheckoutTime); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "checkout_time must be HH:MM", nil)
			}
		}
		if err := e.Repo.UpdateListing(ctx, input.ListingID, input.Body.Name, input.Body.FeedURL, input.Body.Timezone, input.Body.CheckoutTime); err != nil {
			return nil, handleError(err)
		}
		l, err := e.Repo.GetListing(ctx, input.ListingID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Listing `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-listing",
		Method:      http.MethodDelete,
		Path:        "/listings/{listing_id}",
		Summary:     "Delete listing",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ListingID string `path:"listing_id"`
	}) (*struct{}, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		if err := e.Repo.DeleteListing(ctx, input.ListingID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-cleaner",
		Method:      http.MethodPut,
		Path:        "/listings/{listing_id}/cleaner",
		Summary:     "Assign default cleaner",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ListingID string `path:"listing_id"`
		Body      struct {
			CleanerID string `json:"cleaner_id"`
		} `json:"body"`
	}) (*struct{}, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		if _, err := e.Repo.GetListing(ctx, input.ListingID); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetCleaner(ctx, input.Body.CleanerID); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.AssignCleaner(ctx, input.ListingID, input.Body.CleanerID, e.Now()); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerCleaners(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-cleaner",
		Method:        http.MethodPost,
		Path:          "/cleaners",
		Summary:       "Register cleaner",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateCleanerRequest `json:"body"`
	}) (*struct {
		Body domain.Cleaner `json:"body"`
	}, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateCleaner(ctx, input.Body.Name, input.Body.Phone, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Cleaner `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cleaners",
		Method:      http.MethodGet,
		Path:        "/cleaners",
		Summary:     "List cleaners",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Cleaner `json:"body"`
	}, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListCleaners(ctx, e.Config.Host.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Cleaner `json:"body"`
		}{Body: items}, nil
	})
}

func registerSync(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sync-listing",
		Method:      http.MethodPost,
		Path:        "/listings/{listing_id}/sync",
		Summary:     "Sync listing feed",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ListingID string `path:"listing_id"`
	}) (*struct {
		Body domain.SyncReport `json:"body"`
	}, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		report, err := e.Sync(ctx, input.ListingID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SyncReport `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-all",
		Method:      http.MethodPost,
		Path:        "/sync",
		Summary:     "Sync all feed-backed listings",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SyncAllResponse `json:"body"`
	}, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reports, err := e.SyncAll(ctx, actorID)
		resp := SyncAllResponse{Reports: reports}
		if reports == nil {
			resp.Reports = []domain.SyncReport{}
		}
		if err != nil {
			resp.Failed = strings.Split(err.Error(), "\n")
		}
		return &struct {
			Body SyncAllResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerSchedule(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "listing-schedule",
		Method:      http.MethodGet,
		Path:        "/listings/{listing_id}/schedule",
		Summary:     "Listing schedule",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ListingID string `path:"listing_id"`
		From      string `query:"from" example:"2024-06-01"`
		To        string `query:"to" example:"2024-08-31"`
	}) (*struct {
		Body ScheduleResponse `json:"body"`
	}, error) {
		if err := requireListingAccess(ctx, input.ListingID); err != nil {
			return nil, err
		}
		if _, err := e.Repo.GetListing(ctx, input.ListingID); err != nil {
			return nil, handleError(err)
		}
		from, to, err := scheduleWindow(input.From, input.To, e.Now(), e.Config.WindowDays())
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		items, err := e.Repo.ListItemsInRange(ctx, input.ListingID,
			from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.ScheduleItem{}
		}
		return &struct {
			Body ScheduleResponse `json:"body"`
		}{Body: ScheduleResponse{
			ListingID: input.ListingID,
			From:      from.Format("2006-01-02"),
			To:        to.Format("2006-01-02"),
			Items:     items,
		}}, nil
	})
}

// scheduleWindow resolves optional from/to date params to instants spanning
// whole days, defaulting to [today, today+windowDays].
func scheduleWindow(fromStr, toStr string, now time.Time, windowDays int) (time.Time, time.Time, error) {
	from := now.UTC().Truncate(24 * time.Hour)
	if fromStr != "" {
		parsed, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from date %q", fromStr)
		}
		from = parsed
	}
	to := from.AddDate(0, 0, windowDays)
	if toStr != "" {
		parsed, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to date %q", toStr)
		}
		to = parsed
	}
	to = to.AddDate(0, 0, 1).Add(-time.Second)
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid range: to before from")
	}
	return from, to, nil
}

func registerItems(api huma.API, e *engine.Engine) {
	type itemPath struct {
		ID string `path:"id"`
	}
	type itemResponse struct {
		Body domain.ScheduleItem `json:"body"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/items/{id}",
		Summary:     "Get schedule item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *itemPath) (*itemResponse, error) {
		it, err := e.Repo.GetItem(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireListingAccess(ctx, it.ListingID); err != nil {
			return nil, err
		}
		return &itemResponse{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-item",
		Method:      http.MethodPost,
		Path:        "/items/{id}/complete",
		Summary:     "Complete schedule item",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body CompleteItemRequest `json:"body,omitempty"`
	}) (*itemResponse, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var fb *engine.FeedbackInput
		if input.Body.Feedback != nil {
			fb = &engine.FeedbackInput{
				CleanlinessRating: input.Body.Feedback.CleanlinessRating,
				Notes:             input.Body.Feedback.Notes,
			}
		}
		it, err := e.CompleteItem(ctx, input.ID, fb, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &itemResponse{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "uncomplete-item",
		Method:      http.MethodPost,
		Path:        "/items/{id}/uncomplete",
		Summary:     "Undo item completion",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *itemPath) (*itemResponse, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.UndoComplete(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &itemResponse{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-item",
		Method:      http.MethodPost,
		Path:        "/items/{id}/cancel",
		Summary:     "Cancel schedule item",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *itemPath) (*itemResponse, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.CancelItem(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &itemResponse{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-item",
		Method:      http.MethodPost,
		Path:        "/items/{id}/reopen",
		Summary:     "Reopen cancelled item",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *itemPath) (*itemResponse, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.ReopenItem(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &itemResponse{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "item-feedback",
		Method:      http.MethodGet,
		Path:        "/items/{id}/feedback",
		Summary:     "List item feedback",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *itemPath) (*struct {
		Body []domain.Feedback `json:"body"`
	}, error) {
		it, err := e.Repo.GetItem(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireListingAccess(ctx, it.ListingID); err != nil {
			return nil, err
		}
		recs, err := e.Repo.ListFeedback(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if recs == nil {
			recs = []domain.Feedback{}
		}
		return &struct {
			Body []domain.Feedback `json:"body"`
		}{Body: recs}, nil
	})
}

func registerRules(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-rule",
		Method:        http.MethodPost,
		Path:          "/listings/{listing_id}/rules",
		Summary:       "Create manual schedule rule",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ListingID string            `path:"listing_id"`
		Body      CreateRuleRequest `json:"body"`
	}) (*struct {
		Body domain.ManualScheduleRule `json:"body"`
	}, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		startDate, err := time.Parse("2006-01-02", input.Body.StartDate)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "start_date must be YYYY-MM-DD", nil)
		}
		var endDate *time.Time
		if input.Body.EndDate != nil && *input.Body.EndDate != "" {
			parsed, err := time.Parse("2006-01-02", *input.Body.EndDate)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "end_date must be YYYY-MM-DD", nil)
			}
			endDate = &parsed
		}
		rule, err := e.CreateRule(ctx, engine.RuleCreateOptions{
			ListingID:          input.ListingID,
			CleanerID:          input.Body.CleanerID,
			ScheduleType:       input.Body.ScheduleType,
			Frequency:          input.Body.Frequency,
			DaysOfWeek:         input.Body.DaysOfWeek,
			DayOfMonth:         input.Body.DayOfMonth,
			CustomIntervalDays: input.Body.CustomIntervalDays,
			CleaningTime:       input.Body.CleaningTime,
			StartDate:          startDate,
			EndDate:            endDate,
			Notes:              input.Body.Notes,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ManualScheduleRule `json:"body"`
		}{Body: rule}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/listings/{listing_id}/rules",
		Summary:     "List manual schedule rules",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ListingID string `path:"listing_id"`
	}) (*struct {
		Body []domain.ManualScheduleRule `json:"body"`
	}, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		if _, err := e.Repo.GetListing(ctx, input.ListingID); err != nil {
			return nil, handleError(err)
		}
		rules, err := e.Repo.ListRules(ctx, input.ListingID)
		if err != nil {
			return nil, handleError(err)
		}
		if rules == nil {
			rules = []domain.ManualScheduleRule{}
		}
		return &struct {
			Body []domain.ManualScheduleRule `json:"body"`
		}{Body: rules}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rule-occurrences",
		Method:      http.MethodGet,
		Path:        "/rules/{id}/occurrences",
		Summary:     "Preview rule occurrences",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		From string `query:"from" example:"2024-06-01"`
		To   string `query:"to" example:"2024-08-31"`
	}) (*struct {
		Body OccurrencesResponse `json:"body"`
	}, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		rule, err := e.Repo.GetRule(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		from, to, err := scheduleWindow(input.From, input.To, e.Now(), e.Config.WindowDays())
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		occurrences := []domain.Occurrence{}
		for occ := range engine.Expand(rule, from, to) {
			occurrences = append(occurrences, occ)
		}
		return &struct {
			Body OccurrencesResponse `json:"body"`
		}{Body: OccurrencesResponse{
			RuleID:      rule.ID,
			From:        from.Format("2006-01-02"),
			To:          to.Format("2006-01-02"),
			Occurrences: occurrences,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deactivate-rule",
		Method:      http.MethodPost,
		Path:        "/rules/{id}/deactivate",
		Summary:     "Deactivate rule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pruned, err := e.DeactivateRule(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"pruned": pruned}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-rule",
		Method:      http.MethodDelete,
		Path:        "/rules/{id}",
		Summary:     "Delete rule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pruned, err := e.DeleteRule(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"pruned": pruned}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "prune-listing",
		Method:      http.MethodPost,
		Path:        "/listings/{listing_id}/prune",
		Summary:     "Remove orphaned rule-generated items",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ListingID string `path:"listing_id"`
	}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pruned, err := e.PruneOrphanedManualItems(ctx, input.ListingID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"pruned": pruned}}, nil
	})
}

func registerShare(api huma.API, e *engine.Engine, auth AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "share-listing-schedule",
		Method:      http.MethodPost,
		Path:        "/listings/{listing_id}/share",
		Summary:     "Issue cleaner schedule link token",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ListingID string       `path:"listing_id"`
		Body      ShareRequest `json:"body"`
	}) (*struct {
		Body ShareResponse `json:"body"`
	}, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		if _, err := e.Repo.GetListing(ctx, input.ListingID); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetCleaner(ctx, input.Body.CleanerID); err != nil {
			return nil, handleError(err)
		}
		now := e.Now()
		token, err := issueShareToken(auth.JWTSecret, input.ListingID, input.Body.CleanerID, auth.ShareTokenTTL, now)
		if err != nil {
			return nil, handleError(err)
		}
		ttl := auth.ShareTokenTTL
		if ttl <= 0 {
			ttl = 90 * 24 * time.Hour
		}
		return &struct {
			Body ShareResponse `json:"body"`
		}{Body: ShareResponse{Token: token, ExpiresAt: now.Add(ttl).UTC()}}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if err := requireHostScope(ctx); err != nil {
			return nil, err
		}
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		items, err := e.Repo.ListEvents(ctx, e.Config.Host.ID, input.EntityKind, input.EntityID, limit)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
