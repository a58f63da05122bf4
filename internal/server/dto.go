package server

import (
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"dealline/internal/pipeline"
)

type healthBody struct {
	Status string `json:"status" example:"ok"`
}

// AnalyticsParams is the query surface shared by every analytics
// endpoint. Dates accept YYYY-MM-DD or full RFC3339; period names are
// validated downstream so unknown values come back as invalid_period.
type AnalyticsParams struct {
	Period    string `query:"period" example:"month" doc:"week, month, quarter or year"`
	StartDate string `query:"start_date" example:"2024-01-01" doc:"window start, overrides period together with end_date"`
	EndDate   string `query:"end_date" example:"2024-02-01" doc:"window end, exclusive"`
	OwnerID   string `query:"owner_id" doc:"restrict to leads owned by this employee"`
}

func (p AnalyticsParams) toQuery() (pipeline.Query, huma.StatusError) {
	q := pipeline.Query{Period: p.Period, OwnerID: p.OwnerID}
	var err huma.StatusError
	if q.Start, err = parseBound(p.StartDate, "start_date"); err != nil {
		return q, err
	}
	if q.End, err = parseBound(p.EndDate, "end_date"); err != nil {
		return q, err
	}
	return q, nil
}

func parseBound(raw, field string) (time.Time, huma.StatusError) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, newAPIError(http.StatusBadRequest, "bad_request",
		field+" must be YYYY-MM-DD or RFC3339", map[string]any{"field": field, "value": raw})
}
