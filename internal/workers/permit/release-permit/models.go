// internal/workers/permit/release-permit/models.go
package releasepermit

import "permit-workers/internal/workers/permit/permitjob"

type Input struct {
	Actor         permitjob.ActorInput `json:"actor"`
	ApplicationID string               `json:"applicationId"`
	ReleasedBy    string               `json:"releasedBy"`
	ReceivedBy    string               `json:"receivedBy"`
}

type Output struct {
	permitjob.ApplicationOutput
	ReleasedBy string `json:"releasedBy"`
	ReceivedBy string `json:"receivedBy"`
	ReleasedAt string `json:"releasedAt"`
}
