package pipeline

import (
	"fmt"
	"math"
)

// Thresholds gate the bottleneck flag. Both must be exceeded so a single
// lost lead in a tiny population is not reported as a bottleneck.
type Thresholds struct {
	DropOffRatePct float64
	DropOffCount   int
}

type StageCount struct {
	Stage      string  `json:"stage"`
	Name       string  `json:"name"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type Transition struct {
	FromStage      string  `json:"from_stage"`
	ToStage        string  `json:"to_stage"`
	ConversionRate float64 `json:"conversion_rate"`
	DropOffRate    float64 `json:"drop_off_rate"`
	DropOffCount   int     `json:"drop_off_count"`
	IsBottleneck   bool    `json:"is_bottleneck"`
}

type BottleneckReport struct {
	TotalLeads        int          `json:"total_leads"`
	Completed         int          `json:"completed"`
	OverallConversion float64      `json:"overall_conversion"`
	Stages            []StageCount `json:"stages"`
	Bottlenecks       []Transition `json:"bottlenecks"`
	WorstBottleneck   *Transition  `json:"worst_bottleneck"`
	Insights          []string     `json:"insights"`
}

// AnalyzeBottlenecks computes per-stage reach counts and the conversion and
// drop-off between consecutive stages. Reach is evidence-based ("ever got
// there"), independent of the single winning stage per lead.
func AnalyzeBottlenecks(records []ResolvedLead, th Thresholds) BottleneckReport {
	total := len(records)
	if total == 0 {
		return BottleneckReport{
			Stages:      []StageCount{},
			Bottlenecks: []Transition{},
			Insights:    []string{"no leads to analyze"},
		}
	}

	reach := make([]int, len(Stages))
	completed := 0
	for _, r := range records {
		for i, s := range Stages {
			if r.Evidence.Reached(s) {
				reach[i]++
			}
		}
		if r.Stage == StageComplete {
			completed++
		}
	}

	stages := make([]StageCount, len(Stages))
	for i, s := range Stages {
		stages[i] = StageCount{
			Stage:      string(s),
			Name:       s.DisplayName(),
			Count:      reach[i],
			Percentage: round1(pct(reach[i], total)),
		}
	}

	transitions := make([]Transition, 0, len(Stages)-1)
	var worst *Transition
	for i := 0; i < len(Stages)-1; i++ {
		t := Transition{
			FromStage: string(Stages[i]),
			ToStage:   string(Stages[i+1]),
		}
		if reach[i] > 0 {
			t.ConversionRate = round1(pct(reach[i+1], reach[i]))
			t.DropOffRate = round1(100 - pct(reach[i+1], reach[i]))
			t.DropOffCount = reach[i] - reach[i+1]
			t.IsBottleneck = t.DropOffRate > th.DropOffRatePct && t.DropOffCount > th.DropOffCount
		}
		transitions = append(transitions, t)
		if reach[i] > 0 && (worst == nil || t.DropOffRate > worst.DropOffRate) {
			w := t
			worst = &w
		}
	}

	report := BottleneckReport{
		TotalLeads:        total,
		Completed:         completed,
		OverallConversion: round1(pct(completed, total)),
		Stages:            stages,
		Bottlenecks:       transitions,
		WorstBottleneck:   worst,
	}
	report.Insights = bottleneckInsights(report)
	return report
}

func bottleneckInsights(r BottleneckReport) []string {
	var out []string
	flagged := 0
	for _, t := range r.Bottlenecks {
		if t.IsBottleneck {
			flagged++
			out = append(out, fmt.Sprintf("%.1f%% of leads drop off between %s and %s (%d leads)",
				t.DropOffRate, t.FromStage, t.ToStage, t.DropOffCount))
		}
	}
	if flagged == 0 {
		out = append(out, "no stage transition exceeds the bottleneck thresholds")
	}
	if r.WorstBottleneck != nil && r.WorstBottleneck.DropOffRate > 0 {
		out = append(out, fmt.Sprintf("worst transition: %s to %s at %.1f%% drop-off",
			r.WorstBottleneck.FromStage, r.WorstBottleneck.ToStage, r.WorstBottleneck.DropOffRate))
	}
	out = append(out, fmt.Sprintf("%d of %d leads completed the pipeline (%.1f%%)",
		r.Completed, r.TotalLeads, r.OverallConversion))
	return out
}

func pct(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }
func round2(f float64) float64 { return math.Round(f*100) / 100 }
