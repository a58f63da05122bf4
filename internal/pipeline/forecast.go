package pipeline

import "fmt"

type ForecastStage struct {
	Stage         string  `json:"stage"`
	Name          string  `json:"name"`
	Count         int     `json:"count"`
	Probability   float64 `json:"probability"`
	WeightedDeals float64 `json:"weighted_deals"`
	WeightedValue float64 `json:"weighted_value"`
}

type WeightedSummary struct {
	ExpectedDeals float64 `json:"expected_deals"`
	ExpectedValue float64 `json:"expected_value"`
}

type HorizonForecast struct {
	ExpectedDeals float64 `json:"expected_deals"`
	ExpectedValue float64 `json:"expected_value"`
}

type TimeBasedForecast struct {
	Days30 HorizonForecast `json:"30_days"`
	Days60 HorizonForecast `json:"60_days"`
	Days90 HorizonForecast `json:"90_days"`
}

type ForecastReport struct {
	TotalPipeline     int               `json:"total_pipeline"`
	AlreadyClosed     int               `json:"already_closed"`
	AvgDealValue      float64           `json:"avg_deal_value"`
	StageDistribution map[string]int    `json:"stage_distribution"`
	PipelineForecast  []ForecastStage   `json:"pipeline_forecast"`
	WeightedSummary   WeightedSummary   `json:"weighted_summary"`
	TimeBasedForecast TimeBasedForecast `json:"time_based_forecast"`
	Insights          []string          `json:"insights"`
}

// Horizon weights for the 30/60/90-day projections. This is the hand-tuned
// scoring the reporting layer has always shipped, not a statistical model;
// downstream consumers depend on the exact numbers.
var (
	horizon30 = map[Stage]float64{
		StageKickoff: 0.9,
		StagePayment: 0.75,
		StageSigned:  0.5,
	}
	horizon60 = map[Stage]float64{
		StageKickoff:   1.0,
		StagePayment:   0.9,
		StageSigned:    0.75,
		StageAgreement: 0.6,
		StageQuotation: 0.35,
	}
	horizon90 = map[Stage]float64{
		StageKickoff:   1.0,
		StagePayment:   1.0,
		StageSigned:    0.9,
		StageAgreement: 0.8,
		StageQuotation: 0.6,
		StageSOW:       0.45,
		StagePricing:   0.3,
		StageMeeting:   0.2,
		StageLead:      0.1,
	}
)

// AnalyzeForecast weights the current stage distribution by the fixed
// stage->probability table. Completed deals are excluded from the pipeline.
// Average deal value is the mean of positive agreement totals across the
// population, falling back to defaultDealValue when none exist.
func AnalyzeForecast(records []ResolvedLead, probs map[string]float64, defaultDealValue float64) ForecastReport {
	dist := make(map[string]int)
	closed := 0
	valueSum, valueN := 0.0, 0
	for _, r := range records {
		for _, v := range r.AgreementTotals {
			valueSum += v
			valueN++
		}
		if r.Stage == StageComplete {
			closed++
			continue
		}
		dist[string(r.Stage)]++
	}
	avgValue := defaultDealValue
	if valueN > 0 {
		avgValue = valueSum / float64(valueN)
	}

	report := ForecastReport{
		AlreadyClosed:     closed,
		AvgDealValue:      round2(avgValue),
		StageDistribution: dist,
		PipelineForecast:  make([]ForecastStage, 0, len(Stages)-1),
	}
	for _, s := range Stages {
		if s == StageComplete {
			continue
		}
		count := dist[string(s)]
		p := probs[string(s)]
		fs := ForecastStage{
			Stage:         string(s),
			Name:          s.DisplayName(),
			Count:         count,
			Probability:   p,
			WeightedDeals: round2(float64(count) * p),
			WeightedValue: round2(float64(count) * p * avgValue),
		}
		report.TotalPipeline += count
		report.WeightedSummary.ExpectedDeals += float64(count) * p
		report.WeightedSummary.ExpectedValue += float64(count) * p * avgValue
		report.PipelineForecast = append(report.PipelineForecast, fs)
	}
	report.WeightedSummary.ExpectedDeals = round2(report.WeightedSummary.ExpectedDeals)
	report.WeightedSummary.ExpectedValue = round2(report.WeightedSummary.ExpectedValue)

	report.TimeBasedForecast = TimeBasedForecast{
		Days30: horizonForecast(dist, probs, horizon30, avgValue),
		Days60: horizonForecast(dist, probs, horizon60, avgValue),
		Days90: horizonForecast(dist, probs, horizon90, avgValue),
	}
	report.Insights = forecastInsights(report)
	return report
}

func horizonForecast(dist map[string]int, probs map[string]float64, weights map[Stage]float64, avgValue float64) HorizonForecast {
	deals := 0.0
	for stage, w := range weights {
		deals += float64(dist[string(stage)]) * probs[string(stage)] * w
	}
	return HorizonForecast{
		ExpectedDeals: round2(deals),
		ExpectedValue: round2(deals * avgValue),
	}
}

func forecastInsights(r ForecastReport) []string {
	if r.TotalPipeline == 0 && r.AlreadyClosed == 0 {
		return []string{"no leads to analyze"}
	}
	out := []string{
		fmt.Sprintf("%d open deals weigh in at %.1f expected closes worth %.0f",
			r.TotalPipeline, r.WeightedSummary.ExpectedDeals, r.WeightedSummary.ExpectedValue),
	}
	if r.TimeBasedForecast.Days30.ExpectedDeals > 0 {
		out = append(out, fmt.Sprintf("%.1f deals expected to close within 30 days",
			r.TimeBasedForecast.Days30.ExpectedDeals))
	}
	if r.AlreadyClosed > 0 {
		out = append(out, fmt.Sprintf("%d deals already closed in the selected window", r.AlreadyClosed))
	}
	return out
}
