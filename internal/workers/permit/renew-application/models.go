// internal/workers/permit/renew-application/models.go
package renewapplication

import "permit-workers/internal/workers/permit/permitjob"

type Input struct {
	Actor         permitjob.ActorInput `json:"actor"`
	ApplicationID string               `json:"applicationId"`
}

// Output describes the new Pending application.
type Output struct {
	permitjob.ApplicationOutput
	RenewedFromID string `json:"renewedFromId"`
}
