// internal/workers/permit/issue-permit/models.go
package issuepermit

import "permit-workers/internal/workers/permit/permitjob"

type Input struct {
	Actor         permitjob.ActorInput `json:"actor"`
	ApplicationID string               `json:"applicationId"`
}

type Output struct {
	permitjob.ApplicationOutput
	ValidityDate string `json:"validityDate"`
	IssuedBy     string `json:"issuedBy"`
	IssuedAt     string `json:"issuedAt"`
}
