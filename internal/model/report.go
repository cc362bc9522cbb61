package model

import (
	"encoding/json"
	"time"
)

// PayStatus is the billing state of a report, derived from price and
// payments. Billing integration itself is a collaborator; the core only
// stores the fields and the derivation rule.
type PayStatus string

const (
	PayStatusNone     PayStatus = "none"
	PayStatusPending  PayStatus = "pending"
	PayStatusPartial  PayStatus = "partial"
	PayStatusPaid     PayStatus = "paid"
	PayStatusOverdue  PayStatus = "overdue"
	PayStatusCourtesy PayStatus = "courtesy"
)

// NarrativeSections are the five labeled blocks the narrative engine
// produces. Error is set when generation failed and fallback text was used.
type NarrativeSections struct {
	ExecutiveSummary string `json:"executive_summary"`
	TrendAnalysis    string `json:"trend_analysis"`
	VisualAnalysis   string `json:"visual_analysis"`
	Recommendations  string `json:"recommendations"`
	Alerts           string `json:"alerts"`
	Error            string `json:"error,omitempty"`
}

// Report is the record of one generated PDF report.
type Report struct {
	ID           string    `json:"id"`
	ParcelID     string    `json:"parcel_id"`
	Title        string    `json:"title"`
	PeriodMonths int       `json:"period_months"`
	DateStart    time.Time `json:"date_start"`
	DateEnd      time.Time `json:"date_end"`

	// ConfigSnapshot is the exact normalized configuration JSON used.
	ConfigSnapshot json.RawMessage `json:"configuration_snapshot"`

	PDFPath     string    `json:"pdf_handle"`
	GeneratedAt time.Time `json:"generated_at"`

	Narrative        NarrativeSections      `json:"narrative_sections"`
	IndexPeriodMeans map[IndexName]*float64 `json:"index_period_means,omitempty"`

	PriceBase   float64    `json:"price_base"`
	DiscountPct float64    `json:"discount_pct"`
	AmountPaid  float64    `json:"amount_paid"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	StatusPay   PayStatus  `json:"status_pay"`
}

// PriceFinal applies the discount to the base price.
func (r *Report) PriceFinal() float64 {
	return r.PriceBase * (1 - r.DiscountPct/100)
}

// Outstanding is the unpaid remainder, floored at zero.
func (r *Report) Outstanding() float64 {
	out := r.PriceFinal() - r.AmountPaid
	if out < 0 {
		return 0
	}
	return out
}

// DerivePayStatus computes the billing status at the given instant.
func (r *Report) DerivePayStatus(now time.Time) PayStatus {
	final := r.PriceFinal()
	switch {
	case r.PriceBase == 0:
		return PayStatusCourtesy
	case r.AmountPaid >= final:
		return PayStatusPaid
	case r.AmountPaid > 0:
		return PayStatusPartial
	case r.DueDate != nil && r.DueDate.Before(now) && r.Outstanding() > 0:
		return PayStatusOverdue
	default:
		return PayStatusPending
	}
}
