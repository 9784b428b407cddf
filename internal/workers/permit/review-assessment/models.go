// internal/workers/permit/review-assessment/models.go
package reviewassessment

import "permit-workers/internal/workers/permit/permitjob"

const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

type Input struct {
	Actor         permitjob.ActorInput `json:"actor"`
	ApplicationID string               `json:"applicationId"`
	Decision      string               `json:"decision"`
	Reason        string               `json:"reason,omitempty"`
}

type Output struct {
	permitjob.ApplicationOutput
	Decision        string `json:"decision"`
	ApproverID      string `json:"approverId"`
	RejectionReason string `json:"rejectionReason,omitempty"`
}
