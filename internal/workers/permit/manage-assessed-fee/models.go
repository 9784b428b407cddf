// internal/workers/permit/manage-assessed-fee/models.go
package manageassessedfee

import "permit-workers/internal/workers/permit/permitjob"

const (
	OperationAdd    = "add"
	OperationEdit   = "edit"
	OperationRemove = "remove"
)

// Input drives one fee line change. Amounts are decimal strings; a nil
// field on edit keeps the stored value.
type Input struct {
	Actor         permitjob.ActorInput `json:"actor"`
	ApplicationID string               `json:"applicationId"`
	Operation     string               `json:"operation"`
	FeeLineID     string               `json:"feeLineId,omitempty"`
	FeeID         *string              `json:"feeId,omitempty"`
	Description   *string              `json:"description,omitempty"`
	UnitAmount    *string              `json:"unitAmount,omitempty"`
	Quantity      *int                 `json:"quantity,omitempty"`
}

type Output struct {
	ApplicationID string `json:"applicationId"`
	Operation     string `json:"operation"`
	FeeLineID     string `json:"feeLineId"`
	FeeID         string `json:"feeId,omitempty"`
	Description   string `json:"description,omitempty"`
	UnitAmount    string `json:"unitAmount,omitempty"`
	Quantity      int    `json:"quantity,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Removed       bool   `json:"removed"`
}
