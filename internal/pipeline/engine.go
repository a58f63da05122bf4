package pipeline

import (
	"context"
	"database/sql"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"dealline/internal/config"
	"dealline/internal/repo"
)

// ResolvedLead pairs the fetched aggregate with its derived stage. Every
// analyzer consumes this shape; none re-derives stage on its own.
type ResolvedLead struct {
	LeadRecords
	Stage Stage
}

// Engine is the analytics façade. It is read-only and stateless: every call
// recomputes from the record store, so concurrent requests share nothing.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Loader Loader
	Config *config.Config
	Log    *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, log *slog.Logger) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Loader: Loader{Repo: r, Log: log},
		Config: cfg,
		Log:    log,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Query selects the lead population for an analytics run.
type Query struct {
	Period            string
	Start             time.Time
	End               time.Time
	OwnerID           string
	EmployeeBreakdown bool
}

// StageStatus is the per-lead derived position.
type StageStatus struct {
	LeadID       string `json:"lead_id"`
	CurrentStage string `json:"current_stage"`
	CoarseStage  string `json:"coarse_stage"`
	CanProgress  bool   `json:"can_progress"`
}

// StageStatus resolves a single lead. repo.ErrNotFound propagates when the
// lead does not exist.
func (e Engine) StageStatus(ctx context.Context, leadID string) (StageStatus, error) {
	rec, err := e.Loader.LoadLead(ctx, leadID)
	if err != nil {
		return StageStatus{}, err
	}
	stage := Resolve(rec.Evidence)
	return StageStatus{
		LeadID:       leadID,
		CurrentStage: string(stage),
		CoarseStage:  string(ResolveCoarse(rec.Evidence)),
		CanProgress:  CanProgress(stage),
	}, nil
}

func (e Engine) Funnel(ctx context.Context, q Query) (FunnelReport, error) {
	resolved, rng, err := e.population(ctx, q)
	if err != nil {
		return FunnelReport{}, err
	}
	return AnalyzeFunnel(resolved, rng, q.EmployeeBreakdown), nil
}

func (e Engine) Bottlenecks(ctx context.Context, q Query) (BottleneckReport, error) {
	resolved, _, err := e.population(ctx, q)
	if err != nil {
		return BottleneckReport{}, err
	}
	return AnalyzeBottlenecks(resolved, Thresholds{
		DropOffRatePct: e.Config.Pipeline.Bottleneck.DropOffRatePct,
		DropOffCount:   e.Config.Pipeline.Bottleneck.DropOffCount,
	}), nil
}

func (e Engine) TimeInStage(ctx context.Context, q Query) (TimeInStageReport, error) {
	resolved, _, err := e.population(ctx, q)
	if err != nil {
		return TimeInStageReport{}, err
	}
	return AnalyzeTimeInStage(resolved, e.Config.Pipeline.SlowStageDays), nil
}

func (e Engine) Velocity(ctx context.Context, q Query) (VelocityReport, error) {
	resolved, _, err := e.population(ctx, q)
	if err != nil {
		return VelocityReport{}, err
	}
	return AnalyzeVelocity(resolved), nil
}

func (e Engine) Forecast(ctx context.Context, q Query) (ForecastReport, error) {
	resolved, _, err := e.population(ctx, q)
	if err != nil {
		return ForecastReport{}, err
	}
	return AnalyzeForecast(resolved, e.Config.Pipeline.StageProbabilities, e.Config.Pipeline.DefaultDealValue), nil
}

// population loads the window and resolves every lead's stage. Resolution is
// pure per lead, so it fans out across a bounded worker group; aggregation
// only starts once the whole group has finished.
func (e Engine) population(ctx context.Context, q Query) ([]ResolvedLead, DateRange, error) {
	rng, err := e.resolveWindow(q)
	if err != nil {
		return nil, DateRange{}, err
	}
	records, err := e.Loader.LoadPopulation(ctx, repo.LeadQuery{
		Start:   rng.Start.Format(time.RFC3339),
		End:     rng.End.Format(time.RFC3339),
		OwnerID: q.OwnerID,
	})
	if err != nil {
		return nil, DateRange{}, err
	}

	resolved := make([]ResolvedLead, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for i := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			resolved[i] = ResolvedLead{
				LeadRecords: records[i],
				Stage:       Resolve(records[i].Evidence),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, DateRange{}, err
	}
	return resolved, rng, nil
}

func (e Engine) resolveWindow(q Query) (DateRange, error) {
	return ResolveRange(e.now(), q.Period, q.Start, q.End)
}

func (e Engine) workers() int {
	if e.Config != nil && e.Config.Pipeline.Workers > 0 {
		return e.Config.Pipeline.Workers
	}
	return runtime.NumCPU()
}
