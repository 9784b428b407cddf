// internal/workers/permit/delete-application/models.go
package deleteapplication

import "permit-workers/internal/workers/permit/permitjob"

type Input struct {
	Actor         permitjob.ActorInput `json:"actor"`
	ApplicationID string               `json:"applicationId"`
}

type Output struct {
	ApplicationID string `json:"applicationId"`
	Deleted       bool   `json:"deleted"`
}
