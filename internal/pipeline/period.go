package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPeriod marks a period the caller cannot retry without changing
// the request.
var ErrInvalidPeriod = errors.New("invalid period")

const (
	PeriodWeek    = "week"
	PeriodMonth   = "month"
	PeriodQuarter = "quarter"
	PeriodYear    = "year"
)

// DateRange is a half-open [Start, End) window over lead creation time.
type DateRange struct {
	Period string
	Start  time.Time
	End    time.Time
}

// ResolveRange picks the analysis window. Explicit bounds win; otherwise the
// calendar period containing now is used. Weeks start on Monday.
func ResolveRange(now time.Time, period string, start, end time.Time) (DateRange, error) {
	if !start.IsZero() || !end.IsZero() {
		if start.IsZero() || end.IsZero() {
			return DateRange{}, fmt.Errorf("%w: start and end must be set together", ErrInvalidPeriod)
		}
		if !end.After(start) {
			return DateRange{}, fmt.Errorf("%w: end must be after start", ErrInvalidPeriod)
		}
		return DateRange{Period: "custom", Start: start, End: end}, nil
	}
	if period == "" {
		period = PeriodMonth
	}
	now = now.UTC()
	y, m, d := now.Date()
	switch period {
	case PeriodWeek:
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7 // Sunday closes the week
		}
		startDay := time.Date(y, m, d-(weekday-1), 0, 0, 0, 0, time.UTC)
		return DateRange{Period: period, Start: startDay, End: startDay.AddDate(0, 0, 7)}, nil
	case PeriodMonth:
		startDay := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		return DateRange{Period: period, Start: startDay, End: startDay.AddDate(0, 1, 0)}, nil
	case PeriodQuarter:
		qm := time.Month((int(m)-1)/3*3 + 1)
		startDay := time.Date(y, qm, 1, 0, 0, 0, 0, time.UTC)
		return DateRange{Period: period, Start: startDay, End: startDay.AddDate(0, 3, 0)}, nil
	case PeriodYear:
		startDay := time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
		return DateRange{Period: period, Start: startDay, End: startDay.AddDate(1, 0, 0)}, nil
	default:
		return DateRange{}, fmt.Errorf("%w: %q (want week, month, quarter or year)", ErrInvalidPeriod, period)
	}
}
