package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dealline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// LeadQuery filters the lead population.
type LeadQuery struct {
	Start   string // inclusive RFC3339 lower bound on created_at
	End     string // exclusive RFC3339 upper bound on created_at
	OwnerID string
}

func (r Repo) InsertLead(ctx context.Context, l domain.Lead) error {
	ts, err := marshalTimestamps(l.StageTimestamps)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO leads(id,name,status,owner_id,stage_timestamps_json,created_at) VALUES (?,?,?,?,?,?)`,
		l.ID, l.Name, l.Status, nullable(l.OwnerID), ts, l.CreatedAt)
	return err
}

func (r Repo) UpdateLeadStageTimestamps(ctx context.Context, id string, stamps map[string]string) error {
	ts, err := marshalTimestamps(stamps)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE leads SET stage_timestamps_json=? WHERE id=?`, ts, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetLead(ctx context.Context, id string) (domain.Lead, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,name,status,COALESCE(owner_id,''),stage_timestamps_json,created_at FROM leads WHERE id=?`, id)
	return scanLead(row)
}

func (r Repo) ListLeads(ctx context.Context, q LeadQuery) ([]domain.Lead, error) {
	query := `SELECT id,name,status,COALESCE(owner_id,''),stage_timestamps_json,created_at FROM leads`
	var (
		conds []string
		args  []any
	)
	if q.Start != "" {
		conds = append(conds, "created_at >= ?")
		args = append(args, q.Start)
	}
	if q.End != "" {
		conds = append(conds, "created_at < ?")
		args = append(args, q.End)
	}
	if q.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, q.OwnerID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Lead
	for rows.Next() {
		l, err := scanLeadRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func scanLead(row *sql.Row) (domain.Lead, error) {
	var l domain.Lead
	var stamps sql.NullString
	err := row.Scan(&l.ID, &l.Name, &l.Status, &l.OwnerID, &stamps, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	l.StageTimestamps = unmarshalTimestamps(stamps)
	return l, nil
}

func scanLeadRows(rows *sql.Rows) (domain.Lead, error) {
	var l domain.Lead
	var stamps sql.NullString
	if err := rows.Scan(&l.ID, &l.Name, &l.Status, &l.OwnerID, &stamps, &l.CreatedAt); err != nil {
		return l, err
	}
	l.StageTimestamps = unmarshalTimestamps(stamps)
	return l, nil
}

func (r Repo) InsertMeeting(ctx context.Context, m domain.Meeting) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO meetings(id,lead_id,subject,held_at,created_at) VALUES (?,?,?,?,?)`,
		m.ID, m.LeadID, nullable(m.Subject), nullable(m.HeldAt), m.CreatedAt)
	return err
}

// MeetingsByLeads returns every meeting referencing one of the given leads.
func (r Repo) MeetingsByLeads(ctx context.Context, leadIDs []string) ([]domain.Meeting, error) {
	if len(leadIDs) == 0 {
		return nil, nil
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,lead_id,COALESCE(subject,''),COALESCE(held_at,''),created_at FROM meetings WHERE lead_id IN (`+placeholders(len(leadIDs))+`) ORDER BY created_at`,
		toAny(leadIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Meeting
	for rows.Next() {
		var m domain.Meeting
		if err := rows.Scan(&m.ID, &m.LeadID, &m.Subject, &m.HeldAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) InsertPricingPlan(ctx context.Context, p domain.PricingPlan) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO pricing_plans(id,lead_id,sow_id,total,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.LeadID, p.SOWID, p.Total, p.CreatedAt)
	return err
}

func (r Repo) PricingPlansByLeads(ctx context.Context, leadIDs []string) ([]domain.PricingPlan, error) {
	if len(leadIDs) == 0 {
		return nil, nil
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,lead_id,sow_id,total,created_at FROM pricing_plans WHERE lead_id IN (`+placeholders(len(leadIDs))+`) ORDER BY created_at`,
		toAny(leadIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PricingPlan
	for rows.Next() {
		var p domain.PricingPlan
		if err := rows.Scan(&p.ID, &p.LeadID, &p.SOWID, &p.Total, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertScopeOfWork(ctx context.Context, s domain.ScopeOfWork) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sow_documents(id,lead_id,pricing_plan_id,title,created_at) VALUES (?,?,?,?,?)`,
		s.ID, s.LeadID, s.PricingPlanID, nullable(s.Title), s.CreatedAt)
	return err
}

// ScopeOfWorkByLeadsOrPlans matches a SOW either through its lead or through
// the pricing plan it is attached to.
func (r Repo) ScopeOfWorkByLeadsOrPlans(ctx context.Context, leadIDs, planIDs []string) ([]domain.ScopeOfWork, error) {
	if len(leadIDs) == 0 && len(planIDs) == 0 {
		return nil, nil
	}
	var (
		conds []string
		args  []any
	)
	if len(leadIDs) > 0 {
		conds = append(conds, "lead_id IN ("+placeholders(len(leadIDs))+")")
		args = append(args, toAny(leadIDs)...)
	}
	if len(planIDs) > 0 {
		conds = append(conds, "pricing_plan_id IN ("+placeholders(len(planIDs))+")")
		args = append(args, toAny(planIDs)...)
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,lead_id,pricing_plan_id,COALESCE(title,''),created_at FROM sow_documents WHERE `+strings.Join(conds, " OR ")+` ORDER BY created_at`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScopeOfWork
	for rows.Next() {
		var s domain.ScopeOfWork
		if err := rows.Scan(&s.ID, &s.LeadID, &s.PricingPlanID, &s.Title, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) InsertQuotation(ctx context.Context, q domain.Quotation) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO quotations(id,lead_id,amount,created_at) VALUES (?,?,?,?)`,
		q.ID, q.LeadID, q.Amount, q.CreatedAt)
	return err
}

func (r Repo) QuotationsByLeads(ctx context.Context, leadIDs []string) ([]domain.Quotation, error) {
	if len(leadIDs) == 0 {
		return nil, nil
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,lead_id,amount,created_at FROM quotations WHERE lead_id IN (`+placeholders(len(leadIDs))+`) ORDER BY created_at`,
		toAny(leadIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Quotation
	for rows.Next() {
		var q domain.Quotation
		if err := rows.Scan(&q.ID, &q.LeadID, &q.Amount, &q.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

func (r Repo) InsertAgreement(ctx context.Context, a domain.Agreement) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agreements(id,lead_id,status,total_value,created_at) VALUES (?,?,?,?,?)`,
		a.ID, a.LeadID, a.Status, a.TotalValue, a.CreatedAt)
	return err
}

// AgreementsByLeads projects id, status and total_value only; the analytics
// layer needs nothing else from the agreement row.
func (r Repo) AgreementsByLeads(ctx context.Context, leadIDs []string) ([]domain.Agreement, error) {
	if len(leadIDs) == 0 {
		return nil, nil
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,lead_id,status,total_value,created_at FROM agreements WHERE lead_id IN (`+placeholders(len(leadIDs))+`) ORDER BY created_at`,
		toAny(leadIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agreement
	for rows.Next() {
		var a domain.Agreement
		if err := rows.Scan(&a.ID, &a.LeadID, &a.Status, &a.TotalValue, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertPayment(ctx context.Context, p domain.Payment) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO payments(id,agreement_id,amount,paid_at,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.AgreementID, p.Amount, nullable(p.PaidAt), p.CreatedAt)
	return err
}

func (r Repo) PaymentsByAgreements(ctx context.Context, agreementIDs []string) ([]domain.Payment, error) {
	if len(agreementIDs) == 0 {
		return nil, nil
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,agreement_id,amount,COALESCE(paid_at,''),created_at FROM payments WHERE agreement_id IN (`+placeholders(len(agreementIDs))+`) ORDER BY created_at`,
		toAny(agreementIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.AgreementID, &p.Amount, &p.PaidAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertKickoffRequest(ctx context.Context, k domain.KickoffRequest) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO kickoff_requests(id,lead_id,status,accepted_at,created_at) VALUES (?,?,?,?,?)`,
		k.ID, k.LeadID, k.Status, k.AcceptedAt, k.CreatedAt)
	return err
}

func (r Repo) KickoffRequestsByLeads(ctx context.Context, leadIDs []string) ([]domain.KickoffRequest, error) {
	if len(leadIDs) == 0 {
		return nil, nil
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,lead_id,status,accepted_at,created_at FROM kickoff_requests WHERE lead_id IN (`+placeholders(len(leadIDs))+`) ORDER BY created_at`,
		toAny(leadIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.KickoffRequest
	for rows.Next() {
		var k domain.KickoffRequest
		if err := rows.Scan(&k.ID, &k.LeadID, &k.Status, &k.AcceptedAt, &k.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, k)
	}
	return res, rows.Err()
}

// --- helpers ---

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAny(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func marshalTimestamps(stamps map[string]string) (any, error) {
	if len(stamps) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(stamps)
	if err != nil {
		return nil, fmt.Errorf("marshal stage timestamps: %w", err)
	}
	return string(b), nil
}

func unmarshalTimestamps(raw sql.NullString) map[string]string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var stamps map[string]string
	// Bad JSON in the column is degraded data, not a request failure.
	if err := json.Unmarshal([]byte(raw.String), &stamps); err != nil {
		return nil
	}
	return stamps
}
