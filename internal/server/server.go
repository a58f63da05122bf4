package server

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"dealline/internal/metrics"
	"dealline/internal/pipeline"
	"dealline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   pipeline.Engine
	Metrics  *metrics.Metrics
	BasePath string
	Log      *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_period"`
	Message string         `json:"message" example:"unknown period \"decade\""`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Dealline analytics API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope shape.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema violations on query params read as client mistakes.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestID)
	router.Use(requestLogger(log))
	router.Use(instrument(m))

	hcfg := huma.DefaultConfig("Dealline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerLeadStage(group, cfg.Engine, m)
	registerAnalytics(group, cfg.Engine, m)
	registerOpenAPI(router, api, basePath)
	router.Handle("/metrics", m.Handler())

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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, pipeline.ErrInvalidPeriod) {
		return newAPIError(http.StatusBadRequest, "invalid_period", err.Error(), nil)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return newAPIError(http.StatusServiceUnavailable, "unavailable", "record store unavailable, retry later", nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "database is locked"),
		strings.Contains(lowered, "connection"):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", "record store unavailable, retry later", map[string]any{"error": msg})
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
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
	case http.StatusServiceUnavailable:
		return "unavailable"
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
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Dealline API Docs</title>
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
		Body healthBody `json:"body"`
	}, error) {
		return &struct {
			Body healthBody `json:"body"`
		}{Body: healthBody{Status: "ok"}}, nil
	})
}

func registerLeadStage(api huma.API, e pipeline.Engine, m *metrics.Metrics) {
	huma.Register(api, huma.Operation{
		OperationID: "lead-stage",
		Method:      http.MethodGet,
		Path:        "/leads/{lead_id}/stage",
		Summary:     "Resolve a lead's pipeline stage",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		LeadID string `path:"lead_id"`
	}) (*struct {
		Body pipeline.StageStatus `json:"body"`
	}, error) {
		st, err := e.StageStatus(ctx, input.LeadID)
		if err != nil {
			return nil, handleError(err)
		}
		m.LeadsResolved.Inc()
		return &struct {
			Body pipeline.StageStatus `json:"body"`
		}{Body: st}, nil
	})
}

func registerAnalytics(api huma.API, e pipeline.Engine, m *metrics.Metrics) {
	analyticsErrors := []int{
		http.StatusBadRequest,
		http.StatusServiceUnavailable,
		http.StatusInternalServerError,
	}

	huma.Register(api, huma.Operation{
		OperationID: "analytics-funnel",
		Method:      http.MethodGet,
		Path:        "/analytics/funnel",
		Summary:     "Funnel report",
		Errors:      analyticsErrors,
	}, func(ctx context.Context, input *struct {
		AnalyticsParams
		EmployeeBreakdown bool `query:"employee_breakdown" doc:"group completion by lead owner"`
	}) (*struct {
		Body pipeline.FunnelReport `json:"body"`
	}, error) {
		q, aerr := input.toQuery()
		if aerr != nil {
			return nil, aerr
		}
		q.EmployeeBreakdown = input.EmployeeBreakdown
		r, err := e.Funnel(ctx, q)
		if err != nil {
			return nil, handleError(err)
		}
		m.AnalyticsRuns.WithLabelValues("funnel").Inc()
		return &struct {
			Body pipeline.FunnelReport `json:"body"`
		}{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "analytics-bottlenecks",
		Method:      http.MethodGet,
		Path:        "/analytics/bottlenecks",
		Summary:     "Bottleneck report",
		Errors:      analyticsErrors,
	}, func(ctx context.Context, input *struct{ AnalyticsParams }) (*struct {
		Body pipeline.BottleneckReport `json:"body"`
	}, error) {
		q, aerr := input.toQuery()
		if aerr != nil {
			return nil, aerr
		}
		r, err := e.Bottlenecks(ctx, q)
		if err != nil {
			return nil, handleError(err)
		}
		m.AnalyticsRuns.WithLabelValues("bottlenecks").Inc()
		return &struct {
			Body pipeline.BottleneckReport `json:"body"`
		}{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "analytics-forecast",
		Method:      http.MethodGet,
		Path:        "/analytics/forecast",
		Summary:     "Revenue forecast",
		Errors:      analyticsErrors,
	}, func(ctx context.Context, input *struct{ AnalyticsParams }) (*struct {
		Body pipeline.ForecastReport `json:"body"`
	}, error) {
		q, aerr := input.toQuery()
		if aerr != nil {
			return nil, aerr
		}
		r, err := e.Forecast(ctx, q)
		if err != nil {
			return nil, handleError(err)
		}
		m.AnalyticsRuns.WithLabelValues("forecast").Inc()
		return &struct {
			Body pipeline.ForecastReport `json:"body"`
		}{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "analytics-time-in-stage",
		Method:      http.MethodGet,
		Path:        "/analytics/time-in-stage",
		Summary:     "Stage dwell times",
		Errors:      analyticsErrors,
	}, func(ctx context.Context, input *struct{ AnalyticsParams }) (*struct {
		Body pipeline.TimeInStageReport `json:"body"`
	}, error) {
		q, aerr := input.toQuery()
		if aerr != nil {
			return nil, aerr
		}
		r, err := e.TimeInStage(ctx, q)
		if err != nil {
			return nil, handleError(err)
		}
		m.AnalyticsRuns.WithLabelValues("time_in_stage").Inc()
		return &struct {
			Body pipeline.TimeInStageReport `json:"body"`
		}{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "analytics-velocity",
		Method:      http.MethodGet,
		Path:        "/analytics/velocity",
		Summary:     "Deal velocity",
		Errors:      analyticsErrors,
	}, func(ctx context.Context, input *struct{ AnalyticsParams }) (*struct {
		Body pipeline.VelocityReport `json:"body"`
	}, error) {
		q, aerr := input.toQuery()
		if aerr != nil {
			return nil, aerr
		}
		r, err := e.Velocity(ctx, q)
		if err != nil {
			return nil, handleError(err)
		}
		m.AnalyticsRuns.WithLabelValues("velocity").Inc()
		return &struct {
			Body pipeline.VelocityReport `json:"body"`
		}{Body: r}, nil
	})
}
