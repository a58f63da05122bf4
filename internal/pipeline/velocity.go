package pipeline

import (
	"fmt"
	"sort"
)

type VelocityStats struct {
	AvgDays *float64 `json:"avg_days"`
	MinDays *float64 `json:"min_days"`
	MaxDays *float64 `json:"max_days"`
}

type TransitionVelocity struct {
	Transition  string   `json:"transition"`
	AvgDays     *float64 `json:"avg_days"`
	MinDays     *float64 `json:"min_days"`
	MaxDays     *float64 `json:"max_days"`
	SampleCount int      `json:"sample_count"`
}

type DealVelocity struct {
	LeadID   string  `json:"lead_id"`
	LeadName string  `json:"lead_name,omitempty"`
	Days     float64 `json:"days"`
	ClosedAt string  `json:"closed_at,omitempty"`
}

type VelocityReport struct {
	TotalCompletedDeals int                  `json:"total_completed_deals"`
	OverallVelocity     VelocityStats        `json:"overall_velocity"`
	StageVelocities     []TransitionVelocity `json:"stage_velocities"`
	RecentDeals         []DealVelocity       `json:"recent_deals"`
	Insights            []string             `json:"insights"`
}

// AnalyzeVelocity measures lead-creation to kickoff-acceptance time for
// completed deals, plus a per-transition breakdown over the nine fixed
// stage pairs. Negative spans are discarded, never propagated.
func AnalyzeVelocity(records []ResolvedLead) VelocityReport {
	var (
		overall     []float64
		deals       []DealVelocity
		transitions = make([][]float64, len(Stages)-1)
		completed   int
	)
	for _, r := range records {
		if r.Stage != StageComplete {
			continue
		}
		completed++
		if r.ClosedAt != "" {
			if d, ok := daysBetween(r.Lead.CreatedAt, r.ClosedAt); ok {
				overall = append(overall, d)
				deals = append(deals, DealVelocity{
					LeadID:   r.Lead.ID,
					LeadName: r.Lead.Name,
					Days:     round2(d),
					ClosedAt: r.ClosedAt,
				})
			}
		}
		collectStampedDurations(r, transitions)
	}

	report := VelocityReport{
		TotalCompletedDeals: completed,
		OverallVelocity:     velocityStats(overall),
		StageVelocities:     make([]TransitionVelocity, 0, len(Stages)-1),
	}
	for i := 0; i < len(Stages)-1; i++ {
		tv := TransitionVelocity{
			Transition:  string(Stages[i]) + "_to_" + string(Stages[i+1]),
			SampleCount: len(transitions[i]),
		}
		if len(transitions[i]) > 0 {
			avg, min, max := stats(transitions[i])
			tv.AvgDays, tv.MinDays, tv.MaxDays = ptr(round2(avg)), ptr(round2(min)), ptr(round2(max))
		}
		report.StageVelocities = append(report.StageVelocities, tv)
	}

	// Fastest deals first; cap the inspection sample at ten.
	sort.Slice(deals, func(i, j int) bool { return deals[i].Days < deals[j].Days })
	if len(deals) > 10 {
		deals = deals[:10]
	}
	report.RecentDeals = deals
	report.Insights = velocityInsights(report)
	return report
}

func velocityStats(vals []float64) VelocityStats {
	if len(vals) == 0 {
		return VelocityStats{}
	}
	avg, min, max := stats(vals)
	return VelocityStats{AvgDays: ptr(round2(avg)), MinDays: ptr(round2(min)), MaxDays: ptr(round2(max))}
}

func velocityInsights(r VelocityReport) []string {
	if r.TotalCompletedDeals == 0 {
		return []string{"no completed deals in the selected window"}
	}
	var out []string
	if r.OverallVelocity.AvgDays != nil {
		out = append(out, fmt.Sprintf("deals close in %.1f days on average", *r.OverallVelocity.AvgDays))
	}
	var slowest *TransitionVelocity
	for i := range r.StageVelocities {
		tv := &r.StageVelocities[i]
		if tv.AvgDays == nil {
			continue
		}
		if slowest == nil || *tv.AvgDays > *slowest.AvgDays {
			slowest = tv
		}
	}
	if slowest != nil {
		out = append(out, fmt.Sprintf("slowest transition is %s at %.1f days on average",
			slowest.Transition, *slowest.AvgDays))
	}
	return out
}
