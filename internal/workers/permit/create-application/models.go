// internal/workers/permit/create-application/models.go
package createapplication

import "permit-workers/internal/workers/permit/permitjob"

type Input struct {
	Actor        permitjob.ActorInput `json:"actor"`
	BusinessID   string               `json:"businessId"`
	PermitTypeID string               `json:"permitTypeId"`
	Parameters   []Parameter          `json:"parameters"`
}

type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Output struct {
	permitjob.ApplicationOutput
	CreatedBy string `json:"createdBy"`
}
