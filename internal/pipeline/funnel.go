package pipeline

import "time"

type FunnelDateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type FunnelSummary struct {
	TotalLeads     int     `json:"total_leads"`
	Completed      int     `json:"completed"`
	ConversionRate float64 `json:"conversion_rate"`
	InProgress     int     `json:"in_progress"`
}

type EmployeeFunnel struct {
	TotalLeads     int     `json:"total_leads"`
	Completed      int     `json:"completed"`
	ConversionRate float64 `json:"conversion_rate"`
}

type FunnelReport struct {
	Period            string                    `json:"period"`
	DateRange         FunnelDateRange           `json:"date_range"`
	Summary           FunnelSummary             `json:"summary"`
	StageCounts       map[string]int            `json:"stage_counts"`
	FunnelStages      []StageCount              `json:"funnel_stages"`
	EmployeeBreakdown map[string]EmployeeFunnel `json:"employee_breakdown,omitempty"`
}

// AnalyzeFunnel reports the current stage distribution next to the
// evidence-based reach funnel for the window. The optional employee
// breakdown groups completion by lead owner.
func AnalyzeFunnel(records []ResolvedLead, rng DateRange, withBreakdown bool) FunnelReport {
	report := FunnelReport{
		Period: rng.Period,
		DateRange: FunnelDateRange{
			Start: rng.Start.Format(time.RFC3339),
			End:   rng.End.Format(time.RFC3339),
		},
		StageCounts:  make(map[string]int),
		FunnelStages: make([]StageCount, 0, len(Stages)),
	}

	total := len(records)
	reach := make([]int, len(Stages))
	completed := 0
	byOwner := make(map[string]*EmployeeFunnel)
	for _, r := range records {
		report.StageCounts[string(r.Stage)]++
		for i, s := range Stages {
			if r.Evidence.Reached(s) {
				reach[i]++
			}
		}
		done := r.Stage == StageComplete
		if done {
			completed++
		}
		if withBreakdown && r.Lead.OwnerID != "" {
			ef := byOwner[r.Lead.OwnerID]
			if ef == nil {
				ef = &EmployeeFunnel{}
				byOwner[r.Lead.OwnerID] = ef
			}
			ef.TotalLeads++
			if done {
				ef.Completed++
			}
		}
	}

	for i, s := range Stages {
		report.FunnelStages = append(report.FunnelStages, StageCount{
			Stage:      string(s),
			Name:       s.DisplayName(),
			Count:      reach[i],
			Percentage: round1(pct(reach[i], total)),
		})
	}
	report.Summary = FunnelSummary{
		TotalLeads:     total,
		Completed:      completed,
		ConversionRate: round1(pct(completed, total)),
		InProgress:     total - completed,
	}
	if withBreakdown {
		report.EmployeeBreakdown = make(map[string]EmployeeFunnel, len(byOwner))
		for owner, ef := range byOwner {
			ef.ConversionRate = round1(pct(ef.Completed, ef.TotalLeads))
			report.EmployeeBreakdown[owner] = *ef
		}
	}
	return report
}
