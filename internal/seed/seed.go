package seed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"dealline/internal/domain"
	"dealline/internal/pipeline"
	"dealline/internal/repo"
)

// Options controls the generated demo population.
type Options struct {
	Leads int
	Seed  int64
	Now   time.Time
}

var owners = []string{"anna", "ben", "carla", "diego"}

// Populate inserts a demo population of leads whose depth into the
// pipeline thins out stage by stage, so every analytics report has
// something to show. The RNG seed makes runs reproducible.
func Populate(ctx context.Context, r repo.Repo, opts Options) (int, error) {
	if opts.Leads <= 0 {
		opts.Leads = 40
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	for i := 0; i < opts.Leads; i++ {
		depth := rollDepth(rng)
		createdAt := now.AddDate(0, 0, -rng.Intn(25)-1)
		if err := insertLead(ctx, r, rng, i, depth, createdAt); err != nil {
			return i, err
		}
	}
	return opts.Leads, nil
}

// rollDepth picks how far a lead made it. Roughly half stall early and
// a thin tail closes, which mirrors a believable funnel shape.
func rollDepth(rng *rand.Rand) pipeline.Stage {
	roll := rng.Float64()
	switch {
	case roll < 0.35:
		return pipeline.StageLead
	case roll < 0.55:
		return pipeline.StageMeeting
	case roll < 0.65:
		return pipeline.StagePricing
	case roll < 0.72:
		return pipeline.StageSOW
	case roll < 0.80:
		return pipeline.StageQuotation
	case roll < 0.86:
		return pipeline.StageAgreement
	case roll < 0.91:
		return pipeline.StageSigned
	case roll < 0.95:
		return pipeline.StagePayment
	case roll < 0.98:
		return pipeline.StageKickoff
	default:
		return pipeline.StageComplete
	}
}

func insertLead(ctx context.Context, r repo.Repo, rng *rand.Rand, n int, depth pipeline.Stage, createdAt time.Time) error {
	leadID := uuid.NewString()
	owner := owners[rng.Intn(len(owners))]
	stamp := func(d time.Time) string { return d.UTC().Format(time.RFC3339) }

	lead := domain.Lead{
		ID:        leadID,
		Name:      fmt.Sprintf("Demo Lead %03d", n+1),
		Status:    "new",
		OwnerID:   owner,
		CreatedAt: stamp(createdAt),
	}
	if err := r.InsertLead(ctx, lead); err != nil {
		return err
	}

	at := createdAt
	stamps := map[string]string{"lead": stamp(at)}
	advance := func() time.Time {
		at = at.Add(time.Duration(rng.Intn(72)+6) * time.Hour)
		return at
	}
	reached := func(s pipeline.Stage) bool { return depth.Index() >= s.Index() }

	if reached(pipeline.StageMeeting) {
		t := advance()
		stamps["meeting"] = stamp(t)
		if err := r.InsertMeeting(ctx, domain.Meeting{ID: uuid.NewString(), LeadID: leadID, CreatedAt: stamp(t)}); err != nil {
			return err
		}
	}
	var planID string
	if reached(pipeline.StagePricing) {
		t := advance()
		stamps["pricing"] = stamp(t)
		planID = uuid.NewString()
		total := float64(rng.Intn(80)+20) * 1000
		if err := r.InsertPricingPlan(ctx, domain.PricingPlan{ID: planID, LeadID: leadID, Total: &total, CreatedAt: stamp(t)}); err != nil {
			return err
		}
	}
	if reached(pipeline.StageSOW) {
		t := advance()
		stamps["sow"] = stamp(t)
		sow := domain.ScopeOfWork{ID: uuid.NewString(), LeadID: leadID, CreatedAt: stamp(t)}
		if planID != "" {
			sow.PricingPlanID = &planID
		}
		if err := r.InsertScopeOfWork(ctx, sow); err != nil {
			return err
		}
	}
	if reached(pipeline.StageQuotation) {
		t := advance()
		stamps["quotation"] = stamp(t)
		if err := r.InsertQuotation(ctx, domain.Quotation{ID: uuid.NewString(), LeadID: leadID, CreatedAt: stamp(t)}); err != nil {
			return err
		}
	}
	var agreementID string
	if reached(pipeline.StageAgreement) {
		t := advance()
		stamps["agreement"] = stamp(t)
		agreementID = uuid.NewString()
		status := "draft"
		if reached(pipeline.StageSigned) {
			status = pipeline.AgreementStatusSigned
		}
		total := float64(rng.Intn(120)+30) * 1000
		if err := r.InsertAgreement(ctx, domain.Agreement{
			ID: agreementID, LeadID: leadID, Status: status, TotalValue: &total, CreatedAt: stamp(t),
		}); err != nil {
			return err
		}
		if reached(pipeline.StageSigned) {
			stamps["signed"] = stamp(advance())
		}
	}
	if reached(pipeline.StagePayment) && agreementID != "" {
		t := advance()
		stamps["payment"] = stamp(t)
		if err := r.InsertPayment(ctx, domain.Payment{ID: uuid.NewString(), AgreementID: agreementID, CreatedAt: stamp(t)}); err != nil {
			return err
		}
	}
	if reached(pipeline.StageKickoff) {
		t := advance()
		stamps["kickoff"] = stamp(t)
		ko := domain.KickoffRequest{ID: uuid.NewString(), LeadID: leadID, Status: "pending", CreatedAt: stamp(t)}
		if reached(pipeline.StageComplete) {
			accepted := stamp(advance())
			stamps["complete"] = accepted
			ko.Status = pipeline.KickoffStatusAccepted
			ko.AcceptedAt = &accepted
		}
		if err := r.InsertKickoffRequest(ctx, ko); err != nil {
			return err
		}
	}

	return r.UpdateLeadStageTimestamps(ctx, leadID, stamps)
}
