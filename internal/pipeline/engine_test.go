package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"dealline/internal/config"
	"dealline/internal/db"
	"dealline/internal/domain"
	"dealline/internal/migrate"
	"dealline/internal/pipeline"
	"dealline/internal/repo"
)

type testEnv struct {
	Engine pipeline.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := pipeline.New(conn, config.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	eng.Now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) addLead(t *testing.T, id, owner, createdAt string) {
	t.Helper()
	err := env.Engine.Repo.InsertLead(env.Ctx, domain.Lead{
		ID: id, Name: "Lead " + id, Status: "new", OwnerID: owner, CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("insert lead %s: %v", id, err)
	}
}

func (env testEnv) addMeeting(t *testing.T, leadID, createdAt string) {
	t.Helper()
	err := env.Engine.Repo.InsertMeeting(env.Ctx, domain.Meeting{
		ID: leadID + "-m", LeadID: leadID, CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("insert meeting: %v", err)
	}
}

func TestStageStatusNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.StageStatus(env.Ctx, "missing")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err %v, want not found", err)
	}
}

func TestStageStatusProgression(t *testing.T) {
	env := newTestEnv(t)
	env.addLead(t, "l1", "anna", "2024-06-01T00:00:00Z")

	st, err := env.Engine.StageStatus(env.Ctx, "l1")
	if err != nil {
		t.Fatal(err)
	}
	if st.CurrentStage != "lead" || !st.CanProgress {
		t.Fatalf("fresh lead %+v", st)
	}

	env.addMeeting(t, "l1", "2024-06-02T00:00:00Z")
	planID := "l1-plan"
	if err := env.Engine.Repo.InsertPricingPlan(env.Ctx, domain.PricingPlan{ID: planID, LeadID: "l1", CreatedAt: "2024-06-03T00:00:00Z"}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.InsertScopeOfWork(env.Ctx, domain.ScopeOfWork{ID: "l1-sow", LeadID: "l1", PricingPlanID: &planID, CreatedAt: "2024-06-04T00:00:00Z"}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.InsertQuotation(env.Ctx, domain.Quotation{ID: "l1-q", LeadID: "l1", CreatedAt: "2024-06-05T00:00:00Z"}); err != nil {
		t.Fatal(err)
	}
	value := 120000.0
	if err := env.Engine.Repo.InsertAgreement(env.Ctx, domain.Agreement{ID: "l1-agr", LeadID: "l1", Status: "signed", TotalValue: &value, CreatedAt: "2024-06-06T00:00:00Z"}); err != nil {
		t.Fatal(err)
	}

	st, err = env.Engine.StageStatus(env.Ctx, "l1")
	if err != nil {
		t.Fatal(err)
	}
	if st.CurrentStage != "signed" {
		t.Fatalf("stage %s, want signed", st.CurrentStage)
	}
	if st.CoarseStage != "agreement" {
		t.Fatalf("coarse %s, want agreement", st.CoarseStage)
	}

	if err := env.Engine.Repo.InsertPayment(env.Ctx, domain.Payment{ID: "l1-pay", AgreementID: "l1-agr", CreatedAt: "2024-06-07T00:00:00Z"}); err != nil {
		t.Fatal(err)
	}
	accepted := "2024-06-10T00:00:00Z"
	if err := env.Engine.Repo.InsertKickoffRequest(env.Ctx, domain.KickoffRequest{ID: "l1-ko", LeadID: "l1", Status: "accepted", AcceptedAt: &accepted, CreatedAt: "2024-06-09T00:00:00Z"}); err != nil {
		t.Fatal(err)
	}

	st, err = env.Engine.StageStatus(env.Ctx, "l1")
	if err != nil {
		t.Fatal(err)
	}
	if st.CurrentStage != "complete" || st.CanProgress {
		t.Fatalf("closed deal %+v", st)
	}
}

func TestFunnelWindowAndBreakdown(t *testing.T) {
	env := newTestEnv(t)
	env.addLead(t, "in1", "anna", "2024-06-02T00:00:00Z")
	env.addLead(t, "in2", "anna", "2024-06-03T00:00:00Z")
	env.addLead(t, "in3", "ben", "2024-06-04T00:00:00Z")
	env.addLead(t, "out1", "anna", "2024-05-01T00:00:00Z") // previous month
	env.addMeeting(t, "in2", "2024-06-05T00:00:00Z")

	r, err := env.Engine.Funnel(env.Ctx, pipeline.Query{Period: "month", EmployeeBreakdown: true})
	if err != nil {
		t.Fatal(err)
	}
	if r.Summary.TotalLeads != 3 {
		t.Fatalf("total %d, want 3 (window filter)", r.Summary.TotalLeads)
	}
	if r.StageCounts["lead"] != 2 || r.StageCounts["meeting"] != 1 {
		t.Fatalf("stage counts %v", r.StageCounts)
	}
	if r.Period != "month" || r.DateRange.Start != "2024-06-01T00:00:00Z" {
		t.Fatalf("range %+v", r.DateRange)
	}
	if ef := r.EmployeeBreakdown["anna"]; ef.TotalLeads != 2 {
		t.Fatalf("breakdown %v", r.EmployeeBreakdown)
	}
}

func TestAnalyticsOnEmptyWindow(t *testing.T) {
	env := newTestEnv(t)
	q := pipeline.Query{Period: "week"}

	if r, err := env.Engine.Bottlenecks(env.Ctx, q); err != nil || r.TotalLeads != 0 {
		t.Fatalf("bottlenecks %v %v", r.TotalLeads, err)
	}
	if r, err := env.Engine.Forecast(env.Ctx, q); err != nil || r.TotalPipeline != 0 {
		t.Fatalf("forecast %v %v", r.TotalPipeline, err)
	}
	if r, err := env.Engine.Velocity(env.Ctx, q); err != nil || r.TotalCompletedDeals != 0 {
		t.Fatalf("velocity %v %v", r.TotalCompletedDeals, err)
	}
	if r, err := env.Engine.TimeInStage(env.Ctx, q); err != nil || r.OverallMetrics.TotalSamples != 0 {
		t.Fatalf("time-in-stage %v %v", r.OverallMetrics.TotalSamples, err)
	}
}

func TestInvalidPeriodRejected(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Funnel(env.Ctx, pipeline.Query{Period: "decade"})
	if !errors.Is(err, pipeline.ErrInvalidPeriod) {
		t.Fatalf("err %v", err)
	}
}

func TestForecastUsesAgreementValues(t *testing.T) {
	env := newTestEnv(t)
	env.addLead(t, "l1", "", "2024-06-01T00:00:00Z")
	env.addMeeting(t, "l1", "2024-06-02T00:00:00Z")
	value := 80000.0
	if err := env.Engine.Repo.InsertAgreement(env.Ctx, domain.Agreement{ID: "a1", LeadID: "l1", Status: "draft", TotalValue: &value, CreatedAt: "2024-06-03T00:00:00Z"}); err != nil {
		t.Fatal(err)
	}
	r, err := env.Engine.Forecast(env.Ctx, pipeline.Query{Period: "month"})
	if err != nil {
		t.Fatal(err)
	}
	if r.AvgDealValue != 80000 {
		t.Fatalf("avg deal value %v", r.AvgDealValue)
	}
	if r.StageDistribution["agreement"] != 1 {
		t.Fatalf("distribution %v", r.StageDistribution)
	}
}

func TestVelocityEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.addLead(t, "won", "", "2024-06-01T00:00:00Z")
	accepted := "2024-06-11T00:00:00Z"
	if err := env.Engine.Repo.InsertKickoffRequest(env.Ctx, domain.KickoffRequest{
		ID: "ko1", LeadID: "won", Status: "accepted", AcceptedAt: &accepted, CreatedAt: "2024-06-10T00:00:00Z",
	}); err != nil {
		t.Fatal(err)
	}
	r, err := env.Engine.Velocity(env.Ctx, pipeline.Query{Period: "month"})
	if err != nil {
		t.Fatal(err)
	}
	if r.TotalCompletedDeals != 1 {
		t.Fatalf("completed %d", r.TotalCompletedDeals)
	}
	if r.OverallVelocity.AvgDays == nil || *r.OverallVelocity.AvgDays != 10 {
		t.Fatalf("overall %+v", r.OverallVelocity)
	}
}

func TestStageTimestampsRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.addLead(t, "l1", "", "2024-06-01T00:00:00Z")
	stamps := map[string]string{
		"lead":    "2024-06-01T00:00:00Z",
		"meeting": "2024-06-03T00:00:00Z",
	}
	if err := env.Engine.Repo.UpdateLeadStageTimestamps(env.Ctx, "l1", stamps); err != nil {
		t.Fatal(err)
	}
	r, err := env.Engine.TimeInStage(env.Ctx, pipeline.Query{Period: "month"})
	if err != nil {
		t.Fatal(err)
	}
	lead := r.Stages[0]
	if lead.SampleCount != 1 || lead.AvgDays == nil || *lead.AvgDays != 2 {
		t.Fatalf("lead dwell %+v", lead)
	}
}
