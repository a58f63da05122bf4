package pipeline_test

import (
	"errors"
	"testing"
	"time"

	"dealline/internal/pipeline"
)

func TestResolveRangeCalendarPeriods(t *testing.T) {
	now := time.Date(2024, 5, 15, 13, 45, 0, 0, time.UTC) // a Wednesday

	cases := []struct {
		period string
		start  time.Time
		end    time.Time
	}{
		{"week", time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC), time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)},
		{"month", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"quarter", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)},
		{"year", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		rng, err := pipeline.ResolveRange(now, c.period, time.Time{}, time.Time{})
		if err != nil {
			t.Fatalf("%s: %v", c.period, err)
		}
		if !rng.Start.Equal(c.start) || !rng.End.Equal(c.end) {
			t.Errorf("%s: got [%s, %s)", c.period, rng.Start, rng.End)
		}
	}
}

func TestResolveRangeSundayBelongsToClosingWeek(t *testing.T) {
	sunday := time.Date(2024, 5, 19, 10, 0, 0, 0, time.UTC)
	rng, err := pipeline.ResolveRange(sunday, "week", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if !rng.Start.Equal(time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("week start %s", rng.Start)
	}
}

func TestResolveRangeExplicitBoundsWin(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	rng, err := pipeline.ResolveRange(time.Now(), "year", start, end)
	if err != nil {
		t.Fatal(err)
	}
	if rng.Period != "custom" || !rng.Start.Equal(start) || !rng.End.Equal(end) {
		t.Fatalf("range %+v", rng)
	}
}

func TestResolveRangeInvalid(t *testing.T) {
	if _, err := pipeline.ResolveRange(time.Now(), "fortnight", time.Time{}, time.Time{}); !errors.Is(err, pipeline.ErrInvalidPeriod) {
		t.Fatalf("err %v", err)
	}
	// start without end
	if _, err := pipeline.ResolveRange(time.Now(), "", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Time{}); !errors.Is(err, pipeline.ErrInvalidPeriod) {
		t.Fatalf("err %v", err)
	}
	// inverted bounds
	if _, err := pipeline.ResolveRange(time.Now(), "",
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)); !errors.Is(err, pipeline.ErrInvalidPeriod) {
		t.Fatalf("err %v", err)
	}
}

func TestDefaultPeriodIsMonth(t *testing.T) {
	now := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)
	rng, err := pipeline.ResolveRange(now, "", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if rng.Period != "month" {
		t.Fatalf("period %s", rng.Period)
	}
}
