// internal/permit/assessment/calculator.go
package assessment

import (
	"fmt"
	"time"

	apperrors "permit-workers/internal/common/errors"

	"github.com/shopspring/decimal"
)

// Line is one assessed fee as the calculator sees it. Amount already has the
// quantity folded in.
type Line struct {
	FeeID       string
	Description string
	Amount      decimal.Decimal
	Quantity    int
}

type LineResult struct {
	FeeID       string          `json:"feeId"`
	Description string          `json:"description"`
	BalanceDue  decimal.Decimal `json:"balanceDue"`
	Surcharge   decimal.Decimal `json:"surcharge"`
	Interest    decimal.Decimal `json:"interest"`
	Total       decimal.Decimal `json:"total"`
}

// InstallmentPlaces is the scale installments are stored at.
const InstallmentPlaces = 3

// Result is a complete assessment. Q1+Q2+Q3+Q4 == TotalAmountDue exactly.
type Result struct {
	Lines           []LineResult    `json:"lines"`
	TotalBalanceDue decimal.Decimal `json:"totalBalanceDue"`
	TotalSurcharge  decimal.Decimal `json:"totalSurcharge"`
	TotalInterest   decimal.Decimal `json:"totalInterest"`
	TotalAmountDue  decimal.Decimal `json:"totalAmountDue"`
	Q1              decimal.Decimal `json:"q1"`
	Q2              decimal.Decimal `json:"q2"`
	Q3              decimal.Decimal `json:"q3"`
	Q4              decimal.Decimal `json:"q4"`
	ValidUntil      time.Time       `json:"validUntil"`
}

func (r *Result) Installments() [4]decimal.Decimal {
	return [4]decimal.Decimal{r.Q1, r.Q2, r.Q3, r.Q4}
}

// DefaultWeights is the 0/38/36/26 quarterly split.
func DefaultWeights() [4]decimal.Decimal {
	return [4]decimal.Decimal{
		decimal.Zero,
		decimal.RequireFromString("0.38"),
		decimal.RequireFromString("0.36"),
		decimal.RequireFromString("0.26"),
	}
}

// Calculator is stateless apart from its weights and safe for concurrent use.
type Calculator struct {
	weights [4]decimal.Decimal
}

func NewCalculator(weights [4]decimal.Decimal) (*Calculator, error) {
	sum := decimal.Zero
	for i, w := range weights {
		if w.IsNegative() {
			return nil, fmt.Errorf("installment weight q%d is negative", i+1)
		}
		sum = sum.Add(w)
	}
	if !sum.Equal(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("installment weights sum to %s, want 1", sum.String())
	}
	return &Calculator{weights: weights}, nil
}

// Compute totals lines and splits the grand total into quarters. Q1 to Q3
// are rounded to InstallmentPlaces and Q4 takes the remainder. createdAt
// should already be in the numbering location. Surcharge and interest are
// always zero for now.
func (c *Calculator) Compute(lines []Line, createdAt time.Time) (*Result, error) {
	res := &Result{
		Lines:           make([]LineResult, 0, len(lines)),
		TotalBalanceDue: decimal.Zero,
		TotalSurcharge:  decimal.Zero,
		TotalInterest:   decimal.Zero,
		TotalAmountDue:  decimal.Zero,
	}

	for i, l := range lines {
		if l.Amount.IsNegative() {
			return nil, apperrors.NewValidationError(fmt.Sprintf("fee line %d has a negative amount", i+1))
		}
		lr := LineResult{
			FeeID:       l.FeeID,
			Description: l.Description,
			BalanceDue:  l.Amount,
			Surcharge:   decimal.Zero,
			Interest:    decimal.Zero,
		}
		lr.Total = lr.BalanceDue.Add(lr.Surcharge).Add(lr.Interest)

		res.Lines = append(res.Lines, lr)
		res.TotalBalanceDue = res.TotalBalanceDue.Add(lr.BalanceDue)
		res.TotalSurcharge = res.TotalSurcharge.Add(lr.Surcharge)
		res.TotalInterest = res.TotalInterest.Add(lr.Interest)
		res.TotalAmountDue = res.TotalAmountDue.Add(lr.Total)
	}

	res.Q1 = res.TotalAmountDue.Mul(c.weights[0]).Round(InstallmentPlaces)
	res.Q2 = res.TotalAmountDue.Mul(c.weights[1]).Round(InstallmentPlaces)
	res.Q3 = res.TotalAmountDue.Mul(c.weights[2]).Round(InstallmentPlaces)
	res.Q4 = res.TotalAmountDue.Sub(res.Q1).Sub(res.Q2).Sub(res.Q3)

	res.ValidUntil = ValidUntil(createdAt)
	return res, nil
}

// ValidUntil is the last weekday on or before the final day of the month
// after createdAt's month. The month is read in createdAt's location; the
// result is that calendar date at midnight UTC.
func ValidUntil(createdAt time.Time) time.Time {
	y, m, _ := createdAt.Date()
	// Day 0 of m+2 is the last day of m+1.
	d := time.Date(y, m+2, 0, 0, 0, 0, 0, time.UTC)
	switch d.Weekday() {
	case time.Saturday:
		d = d.AddDate(0, 0, -1)
	case time.Sunday:
		d = d.AddDate(0, 0, -2)
	}
	return d
}
