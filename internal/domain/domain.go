package domain

type Lead struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Status          string            `json:"status" enum:"new,contacted,qualified,negotiating,won,lost"`
	OwnerID         string            `json:"owner_id,omitempty"`
	StageTimestamps map[string]string `json:"stage_timestamps,omitempty"`
	CreatedAt       string            `json:"created_at" format:"date-time"`
}

type Meeting struct {
	ID        string `json:"id"`
	LeadID    string `json:"lead_id"`
	Subject   string `json:"subject,omitempty"`
	HeldAt    string `json:"held_at,omitempty" format:"date-time"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type PricingPlan struct {
	ID        string   `json:"id"`
	LeadID    string   `json:"lead_id"`
	SOWID     *string  `json:"sow_id,omitempty"`
	Total     *float64 `json:"total,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type ScopeOfWork struct {
	ID            string  `json:"id"`
	LeadID        string  `json:"lead_id"`
	PricingPlanID *string `json:"pricing_plan_id,omitempty"`
	Title         string  `json:"title,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type Quotation struct {
	ID        string   `json:"id"`
	LeadID    string   `json:"lead_id"`
	Amount    *float64 `json:"amount,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type Agreement struct {
	ID         string   `json:"id"`
	LeadID     string   `json:"lead_id"`
	Status     string   `json:"status" enum:"draft,sent,signed,void"`
	TotalValue *float64 `json:"total_value,omitempty"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
}

// Payment references an agreement, not the lead directly.
type Payment struct {
	ID          string   `json:"id"`
	AgreementID string   `json:"agreement_id"`
	Amount      *float64 `json:"amount,omitempty"`
	PaidAt      string   `json:"paid_at,omitempty" format:"date-time"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}

type KickoffRequest struct {
	ID         string  `json:"id"`
	LeadID     string  `json:"lead_id"`
	Status     string  `json:"status" enum:"pending,accepted,declined"`
	AcceptedAt *string `json:"accepted_at,omitempty" format:"date-time"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}
