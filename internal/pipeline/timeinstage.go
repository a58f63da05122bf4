package pipeline

import (
	"fmt"
	"time"
)

type StageDuration struct {
	Stage         string   `json:"stage"`
	Name          string   `json:"name"`
	AvgDays       *float64 `json:"avg_days"`
	MinDays       *float64 `json:"min_days"`
	MaxDays       *float64 `json:"max_days"`
	SampleCount   int      `json:"sample_count"`
	IsSlow        bool     `json:"is_slow"`
	BenchmarkDays float64  `json:"benchmark"`
}

type DwellMetrics struct {
	TotalSamples  int      `json:"total_samples"`
	SlowStages    int      `json:"slow_stages"`
	AvgAcrossDays *float64 `json:"avg_days_across_stages"`
}

type TimeInStageReport struct {
	Stages         []StageDuration `json:"stages"`
	OverallMetrics DwellMetrics    `json:"overall_metrics"`
	Insights       []string        `json:"insights"`
}

// AnalyzeTimeInStage measures dwell time per stage from the opportunistic
// stage_timestamps map. Leads without timestamps contribute a best-effort
// lead->meeting sample from record creation times. Stages with no samples
// report null averages so "no data" is distinguishable from "instant".
func AnalyzeTimeInStage(records []ResolvedLead, benchmarkDays float64) TimeInStageReport {
	samples := make([][]float64, len(Stages))
	for _, r := range records {
		if len(r.Lead.StageTimestamps) > 0 {
			collectStampedDurations(r, samples)
			continue
		}
		// Fallback path: only the first transition is recoverable.
		if r.Evidence.HasMeeting && r.FirstMeetingAt != "" {
			if d, ok := daysBetween(r.Lead.CreatedAt, r.FirstMeetingAt); ok {
				samples[0] = append(samples[0], d)
			}
		}
	}

	stages := make([]StageDuration, 0, len(Stages)-1)
	totalSamples, slowStages := 0, 0
	sumOfAverages, stagesWithData := 0.0, 0
	for i := 0; i < len(Stages)-1; i++ {
		sd := StageDuration{
			Stage:         string(Stages[i]),
			Name:          Stages[i].DisplayName(),
			SampleCount:   len(samples[i]),
			BenchmarkDays: benchmarkDays,
		}
		if len(samples[i]) > 0 {
			avg, min, max := stats(samples[i])
			sd.AvgDays, sd.MinDays, sd.MaxDays = ptr(round2(avg)), ptr(round2(min)), ptr(round2(max))
			sd.IsSlow = avg > benchmarkDays
			totalSamples += len(samples[i])
			sumOfAverages += avg
			stagesWithData++
			if sd.IsSlow {
				slowStages++
			}
		}
		stages = append(stages, sd)
	}

	report := TimeInStageReport{
		Stages: stages,
		OverallMetrics: DwellMetrics{
			TotalSamples: totalSamples,
			SlowStages:   slowStages,
		},
	}
	if stagesWithData > 0 {
		report.OverallMetrics.AvgAcrossDays = ptr(round2(sumOfAverages / float64(stagesWithData)))
	}
	report.Insights = dwellInsights(report)
	return report
}

// collectStampedDurations appends duration(stage i -> stage i+1) for every
// consecutive pair present in the lead's timestamp map. Negative durations
// are clock skew or bad writes and are discarded.
func collectStampedDurations(r ResolvedLead, samples [][]float64) {
	for i := 0; i < len(Stages)-1; i++ {
		from, okFrom := r.Lead.StageTimestamps[string(Stages[i])]
		to, okTo := r.Lead.StageTimestamps[string(Stages[i+1])]
		if !okFrom || !okTo {
			continue
		}
		if d, ok := daysBetween(from, to); ok {
			samples[i] = append(samples[i], d)
		}
	}
}

func dwellInsights(r TimeInStageReport) []string {
	if r.OverallMetrics.TotalSamples == 0 {
		return []string{"no stage timing data available"}
	}
	var out []string
	for _, sd := range r.Stages {
		if sd.IsSlow && sd.AvgDays != nil {
			out = append(out, fmt.Sprintf("%s averages %.1f days, above the %.0f-day benchmark",
				sd.Stage, *sd.AvgDays, sd.BenchmarkDays))
		}
	}
	if len(out) == 0 {
		out = append(out, "all stages are within the dwell-time benchmark")
	}
	return out
}

// daysBetween parses two RFC3339 timestamps and returns the elapsed days.
// Unparseable input or a negative span reports ok=false.
func daysBetween(from, to string) (float64, bool) {
	t0, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return 0, false
	}
	t1, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return 0, false
	}
	d := t1.Sub(t0)
	if d < 0 {
		return 0, false
	}
	return d.Hours() / 24, true
}

func stats(vals []float64) (avg, min, max float64) {
	min, max = vals[0], vals[0]
	sum := 0.0
	for _, v := range vals {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return sum / float64(len(vals)), min, max
}

func ptr(f float64) *float64 { return &f }
