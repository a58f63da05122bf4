package pipeline_test

import (
	"fmt"
	"testing"

	"dealline/internal/domain"
	"dealline/internal/pipeline"
)

func completedDeal(id, createdAt, closedAt string) pipeline.ResolvedLead {
	ev := chain(pipeline.StageComplete)
	return pipeline.ResolvedLead{
		LeadRecords: pipeline.LeadRecords{
			Lead:     domain.Lead{ID: id, Name: "Deal " + id, CreatedAt: createdAt},
			Evidence: ev,
			ClosedAt: closedAt,
		},
		Stage: pipeline.Resolve(ev),
	}
}

func TestVelocityEmptyPopulation(t *testing.T) {
	r := pipeline.AnalyzeVelocity(nil)
	if r.TotalCompletedDeals != 0 {
		t.Fatalf("completed %d", r.TotalCompletedDeals)
	}
	if r.OverallVelocity.AvgDays != nil {
		t.Fatalf("avg not null")
	}
	if len(r.Insights) == 0 || r.Insights[0] != "no completed deals in the selected window" {
		t.Fatalf("insights %v", r.Insights)
	}
}

func TestVelocityOverall(t *testing.T) {
	records := []pipeline.ResolvedLead{
		completedDeal("fast", "2024-01-01T00:00:00Z", "2024-01-11T00:00:00Z"), // 10d
		completedDeal("slow", "2024-01-01T00:00:00Z", "2024-01-31T00:00:00Z"), // 30d
		resolvedLead("open", chain(pipeline.StageQuotation)),                  // not completed
	}
	r := pipeline.AnalyzeVelocity(records)
	if r.TotalCompletedDeals != 2 {
		t.Fatalf("completed %d", r.TotalCompletedDeals)
	}
	if *r.OverallVelocity.AvgDays != 20 || *r.OverallVelocity.MinDays != 10 || *r.OverallVelocity.MaxDays != 30 {
		t.Fatalf("overall %+v", r.OverallVelocity)
	}
	if len(r.RecentDeals) != 2 || r.RecentDeals[0].LeadID != "fast" {
		t.Fatalf("recent deals not fastest-first: %+v", r.RecentDeals)
	}
}

func TestVelocityNegativeElapsedDiscarded(t *testing.T) {
	records := []pipeline.ResolvedLead{
		completedDeal("skewed", "2024-02-01T00:00:00Z", "2024-01-01T00:00:00Z"),
	}
	r := pipeline.AnalyzeVelocity(records)
	if r.TotalCompletedDeals != 1 {
		t.Fatalf("completed %d", r.TotalCompletedDeals)
	}
	if r.OverallVelocity.AvgDays != nil || len(r.RecentDeals) != 0 {
		t.Fatalf("negative elapsed not discarded: %+v", r.OverallVelocity)
	}
}

func TestVelocityTransitionBreakdown(t *testing.T) {
	deal := completedDeal("d1", "2024-01-01T00:00:00Z", "2024-01-20T00:00:00Z")
	deal.Lead.StageTimestamps = map[string]string{
		"lead":    "2024-01-01T00:00:00Z",
		"meeting": "2024-01-03T00:00:00Z",
		"pricing": "2024-01-08T00:00:00Z",
	}
	r := pipeline.AnalyzeVelocity([]pipeline.ResolvedLead{deal})

	if len(r.StageVelocities) != 9 {
		t.Fatalf("expected nine transition keys, got %d", len(r.StageVelocities))
	}
	if r.StageVelocities[0].Transition != "lead_to_meeting" {
		t.Fatalf("first transition %s", r.StageVelocities[0].Transition)
	}
	if *r.StageVelocities[0].AvgDays != 2 {
		t.Fatalf("lead_to_meeting avg %v", *r.StageVelocities[0].AvgDays)
	}
	if *r.StageVelocities[1].AvgDays != 5 {
		t.Fatalf("meeting_to_pricing avg %v", *r.StageVelocities[1].AvgDays)
	}
	for _, tv := range r.StageVelocities[2:] {
		if tv.SampleCount != 0 {
			t.Errorf("transition %s unexpectedly sampled", tv.Transition)
		}
	}
}

func TestVelocityTopTenCap(t *testing.T) {
	var records []pipeline.ResolvedLead
	for i := 0; i < 15; i++ {
		closed := fmt.Sprintf("2024-01-%02dT00:00:00Z", i+2)
		records = append(records, completedDeal(fmt.Sprintf("d%d", i), "2024-01-01T00:00:00Z", closed))
	}
	r := pipeline.AnalyzeVelocity(records)
	if len(r.RecentDeals) != 10 {
		t.Fatalf("recent deals %d, want 10", len(r.RecentDeals))
	}
	for i := 1; i < len(r.RecentDeals); i++ {
		if r.RecentDeals[i].Days < r.RecentDeals[i-1].Days {
			t.Fatalf("recent deals not ascending at %d", i)
		}
	}
}
