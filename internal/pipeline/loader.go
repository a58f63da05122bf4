package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"dealline/internal/domain"
	"dealline/internal/repo"
)

// LeadRecords is the per-lead aggregate the engine works on: the lead row
// plus the evidence and the few timestamps the analyzers need. Nothing else
// from the related records is retained.
type LeadRecords struct {
	Lead     domain.Lead
	Evidence Evidence

	// FirstMeetingAt is the creation time of the earliest meeting, used as
	// the lead->meeting fallback when a lead carries no stage timestamps.
	FirstMeetingAt string

	// AgreementTotals holds every positive agreement total_value for the
	// lead; the forecast derives its average deal value from these.
	AgreementTotals []float64

	// ClosedAt is set only for completed deals: the kickoff acceptance time,
	// falling back to the kickoff request creation time.
	ClosedAt string
}

// Loader assembles LeadRecords from the record store. One query per
// collection for the whole population; no per-lead round trips.
type Loader struct {
	Repo repo.Repo
	Log  *slog.Logger
}

// LoadLead fetches the aggregate for a single lead. Returns repo.ErrNotFound
// when the lead itself does not exist.
func (l Loader) LoadLead(ctx context.Context, id string) (LeadRecords, error) {
	lead, err := l.Repo.GetLead(ctx, id)
	if err != nil {
		return LeadRecords{}, err
	}
	recs, err := l.assemble(ctx, []domain.Lead{lead})
	if err != nil {
		return LeadRecords{}, err
	}
	return recs[0], nil
}

// LoadPopulation fetches the aggregates for every lead matching q.
func (l Loader) LoadPopulation(ctx context.Context, q repo.LeadQuery) ([]LeadRecords, error) {
	leads, err := l.Repo.ListLeads(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	if len(leads) == 0 {
		return nil, nil
	}
	return l.assemble(ctx, leads)
}

func (l Loader) assemble(ctx context.Context, leads []domain.Lead) ([]LeadRecords, error) {
	ids := make([]string, len(leads))
	for i, lead := range leads {
		ids[i] = lead.ID
	}

	meetings, err := l.Repo.MeetingsByLeads(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch meetings: %w", err)
	}
	plans, err := l.Repo.PricingPlansByLeads(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch pricing plans: %w", err)
	}
	planIDs := make([]string, len(plans))
	planLead := make(map[string]string, len(plans))
	for i, p := range plans {
		planIDs[i] = p.ID
		planLead[p.ID] = p.LeadID
	}
	sows, err := l.Repo.ScopeOfWorkByLeadsOrPlans(ctx, ids, planIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch sow documents: %w", err)
	}
	quotations, err := l.Repo.QuotationsByLeads(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch quotations: %w", err)
	}
	agreements, err := l.Repo.AgreementsByLeads(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch agreements: %w", err)
	}
	agreementIDs := make([]string, len(agreements))
	agreementLead := make(map[string]string, len(agreements))
	for i, a := range agreements {
		agreementIDs[i] = a.ID
		agreementLead[a.ID] = a.LeadID
	}
	payments, err := l.Repo.PaymentsByAgreements(ctx, agreementIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch payments: %w", err)
	}
	kickoffs, err := l.Repo.KickoffRequestsByLeads(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch kickoff requests: %w", err)
	}

	recs := make(map[string]*LeadRecords, len(leads))
	out := make([]LeadRecords, len(leads))
	for i, lead := range leads {
		out[i] = LeadRecords{Lead: lead}
		recs[lead.ID] = &out[i]
	}

	for _, m := range meetings {
		rec, ok := recs[m.LeadID]
		if !ok {
			continue
		}
		rec.Evidence.HasMeeting = true
		if rec.FirstMeetingAt == "" || m.CreatedAt < rec.FirstMeetingAt {
			rec.FirstMeetingAt = m.CreatedAt
		}
	}
	for _, p := range plans {
		if rec, ok := recs[p.LeadID]; ok {
			rec.Evidence.HasPricing = true
		}
	}
	for _, s := range sows {
		leadID := s.LeadID
		if leadID == "" && s.PricingPlanID != nil {
			leadID = planLead[*s.PricingPlanID]
		}
		if rec, ok := recs[leadID]; ok {
			rec.Evidence.HasSOW = true
		}
	}
	for _, q := range quotations {
		if rec, ok := recs[q.LeadID]; ok {
			rec.Evidence.HasQuotation = true
		}
	}
	for _, a := range agreements {
		rec, ok := recs[a.LeadID]
		if !ok {
			continue
		}
		rec.Evidence.HasAgreement = true
		if a.Status == AgreementStatusSigned {
			rec.Evidence.AgreementStatus = AgreementStatusSigned
		}
		if a.TotalValue != nil && *a.TotalValue > 0 {
			rec.AgreementTotals = append(rec.AgreementTotals, *a.TotalValue)
		}
	}
	for _, p := range payments {
		leadID, ok := agreementLead[p.AgreementID]
		if !ok {
			// Foreign key should make this impossible; tolerate it anyway.
			l.warn("payment references unknown agreement", "payment_id", p.ID, "agreement_id", p.AgreementID)
			continue
		}
		if rec, ok := recs[leadID]; ok {
			rec.Evidence.HasPayment = true
		}
	}
	for _, k := range kickoffs {
		rec, ok := recs[k.LeadID]
		if !ok {
			continue
		}
		rec.Evidence.HasKickoff = true
		if k.Status == KickoffStatusAccepted {
			rec.Evidence.KickoffStatus = KickoffStatusAccepted
			closed := k.CreatedAt
			if k.AcceptedAt != nil && *k.AcceptedAt != "" {
				closed = *k.AcceptedAt
			}
			if rec.ClosedAt == "" || closed < rec.ClosedAt {
				rec.ClosedAt = closed
			}
		} else if rec.Evidence.KickoffStatus == "" {
			rec.Evidence.KickoffStatus = k.Status
		}
	}
	return out, nil
}

func (l Loader) warn(msg string, args ...any) {
	if l.Log != nil {
		l.Log.Warn(msg, args...)
	}
}
