// internal/workers/permit/submit-assessment/models.go
package submitassessment

import "permit-workers/internal/workers/permit/permitjob"

type Input struct {
	Actor         permitjob.ActorInput `json:"actor"`
	ApplicationID string               `json:"applicationId"`
}

// Output amounts are decimal strings so no precision is lost in the
// process variables.
type Output struct {
	ApplicationID      string   `json:"applicationId"`
	Status             string   `json:"status"`
	AssessmentRecordID string   `json:"assessmentRecordId"`
	TotalBalanceDue    string   `json:"totalBalanceDue"`
	TotalSurcharge     string   `json:"totalSurcharge"`
	TotalInterest      string   `json:"totalInterest"`
	TotalAmountDue     string   `json:"totalAmountDue"`
	Installments       []string `json:"installments"`
	ValidUntil         string   `json:"validUntil"`
	FeeCount           int      `json:"feeCount"`
}
