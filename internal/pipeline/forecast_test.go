package pipeline_test

import (
	"math"
	"testing"

	"dealline/internal/config"
	"dealline/internal/pipeline"
)

func testProbs(t *testing.T) map[string]float64 {
	t.Helper()
	return config.Default().Pipeline.StageProbabilities
}

func TestForecastEmptyPopulation(t *testing.T) {
	r := pipeline.AnalyzeForecast(nil, testProbs(t), 50000)
	if r.TotalPipeline != 0 || r.AlreadyClosed != 0 {
		t.Fatalf("unexpected totals %+v", r)
	}
	if r.AvgDealValue != 50000 {
		t.Fatalf("avg deal value %v, want default", r.AvgDealValue)
	}
	if r.WeightedSummary.ExpectedDeals != 0 || r.TimeBasedForecast.Days90.ExpectedDeals != 0 {
		t.Fatalf("non-zero forecast for empty population")
	}
	if len(r.Insights) == 0 || r.Insights[0] != "no leads to analyze" {
		t.Fatalf("insights %v", r.Insights)
	}
}

func TestForecastWeighting(t *testing.T) {
	records := []pipeline.ResolvedLead{
		resolvedLead("a", pipeline.Evidence{}),                 // lead, p=0.05
		resolvedLead("b", chain(pipeline.StageQuotation)),      // quotation, p=0.50
		resolvedLead("c", chain(pipeline.StageKickoff)),        // kickoff, p=0.98
		resolvedLead("d", chain(pipeline.StageComplete)),       // closed, excluded
	}
	r := pipeline.AnalyzeForecast(records, testProbs(t), 1000)
	if r.TotalPipeline != 3 || r.AlreadyClosed != 1 {
		t.Fatalf("pipeline %d closed %d", r.TotalPipeline, r.AlreadyClosed)
	}
	wantDeals := 0.05 + 0.50 + 0.98
	if math.Abs(r.WeightedSummary.ExpectedDeals-wantDeals) > 1e-9 {
		t.Fatalf("expected deals %v, want %v", r.WeightedSummary.ExpectedDeals, wantDeals)
	}
	if math.Abs(r.WeightedSummary.ExpectedValue-wantDeals*1000) > 1e-6 {
		t.Fatalf("expected value %v", r.WeightedSummary.ExpectedValue)
	}
	for _, fs := range r.PipelineForecast {
		if fs.Stage == "complete" {
			t.Fatalf("complete stage in pipeline forecast")
		}
		if fs.Stage == "quotation" && (fs.Count != 1 || fs.WeightedDeals != 0.5 || fs.WeightedValue != 500) {
			t.Fatalf("quotation row %+v", fs)
		}
	}
}

func TestForecastAvgDealValueFromAgreements(t *testing.T) {
	a := resolvedLead("a", chain(pipeline.StageAgreement))
	a.AgreementTotals = []float64{10000, 30000}
	r := pipeline.AnalyzeForecast([]pipeline.ResolvedLead{a}, testProbs(t), 999)
	if r.AvgDealValue != 20000 {
		t.Fatalf("avg deal value %v, want 20000", r.AvgDealValue)
	}
}

// The 30/60/90 blend is a frozen heuristic; these numbers must never drift.
func TestForecastHorizonBlendFrozen(t *testing.T) {
	records := []pipeline.ResolvedLead{
		resolvedLead("q", chain(pipeline.StageQuotation)),
		resolvedLead("s", chain(pipeline.StageSigned)),
		resolvedLead("p", chain(pipeline.StagePayment)),
		resolvedLead("k", chain(pipeline.StageKickoff)),
	}
	r := pipeline.AnalyzeForecast(records, testProbs(t), 1000)

	// 30d: kickoff 0.98*0.9 + payment 0.90*0.75 + signed 0.85*0.5
	want30 := 0.98*0.9 + 0.90*0.75 + 0.85*0.5
	// 60d: kickoff 0.98*1.0 + payment 0.90*0.9 + signed 0.85*0.75 + quotation 0.50*0.35
	want60 := 0.98*1.0 + 0.90*0.9 + 0.85*0.75 + 0.50*0.35
	// 90d: kickoff 0.98 + payment 0.90 + signed 0.85*0.9 + quotation 0.50*0.6
	want90 := 0.98*1.0 + 0.90*1.0 + 0.85*0.9 + 0.50*0.6

	checks := []struct {
		name string
		got  pipeline.HorizonForecast
		want float64
	}{
		{"30_days", r.TimeBasedForecast.Days30, want30},
		{"60_days", r.TimeBasedForecast.Days60, want60},
		{"90_days", r.TimeBasedForecast.Days90, want90},
	}
	for _, c := range checks {
		if math.Abs(c.got.ExpectedDeals-round2(c.want)) > 1e-9 {
			t.Errorf("%s deals %v, want %v", c.name, c.got.ExpectedDeals, round2(c.want))
		}
		if math.Abs(c.got.ExpectedValue-round2(c.want*1000)) > 1e-6 {
			t.Errorf("%s value %v", c.name, c.got.ExpectedValue)
		}
	}
}

func round2(f float64) float64 { return float64(int64(f*100+0.5)) / 100 }
