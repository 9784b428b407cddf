package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the most decimal places a fee or payment amount may carry.
const MoneyPlaces = 2

// HasMoneyScale reports whether d fits in MoneyPlaces decimal places.
// Trailing zeros beyond the scale are fine.
func HasMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyPlaces))
}

// AssessmentRecord is the frozen financial summary written when an
// assessment is submitted. One per application.
type AssessmentRecord struct {
	ID              string                `json:"id"`
	ApplicationID   string                `json:"applicationId"`
	BusinessName    string                `json:"businessName"`
	OwnerName       string                `json:"ownerName"`
	Address         string                `json:"address"`
	TotalBalanceDue decimal.Decimal       `json:"totalBalanceDue"`
	TotalSurcharge  decimal.Decimal       `json:"totalSurcharge"`
	TotalInterest   decimal.Decimal       `json:"totalInterest"`
	TotalAmountDue  decimal.Decimal       `json:"totalAmountDue"`
	Q1              decimal.Decimal       `json:"q1"`
	Q2              decimal.Decimal       `json:"q2"`
	Q3              decimal.Decimal       `json:"q3"`
	Q4              decimal.Decimal       `json:"q4"`
	ValidUntil      time.Time             `json:"validUntil"`
	PreparedBy      string                `json:"preparedBy"`
	ApprovedBy      *string               `json:"approvedBy,omitempty"`
	Fees            []AssessmentRecordFee `json:"fees"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

type AssessmentRecordFee struct {
	ID                 string          `json:"id"`
	AssessmentRecordID string          `json:"assessmentRecordId"`
	FeeID              string          `json:"feeId"`
	Description        string          `json:"description"`
	BalanceDue         decimal.Decimal `json:"balanceDue"`
	Surcharge          decimal.Decimal `json:"surcharge"`
	Interest           decimal.Decimal `json:"interest"`
	Total              decimal.Decimal `json:"total"`
}
