package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ValidityPolicy string

const (
	ValidityFixed  ValidityPolicy = "fixed"
	ValidityCustom ValidityPolicy = "custom"
)

// PermitType is a catalog entry for a class of permits.
type PermitType struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	ValidityPolicy  ValidityPolicy `json:"validityPolicy"`
	DefaultValidity *time.Time     `json:"defaultValidity,omitempty"`
}

// Fee is a fee catalog entry.
type Fee struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	DefaultAmount decimal.Decimal `json:"defaultAmount"`
}

// Business is the entity applying for the permit.
type Business struct {
	ID           string `json:"id"`
	BusinessName string `json:"businessName"`
	OwnerName    string `json:"ownerName"`
	Address      string `json:"address"`
}

// AuditEntry is one row of the audit trail. ApplicationID is nil once the
// application it referred to has been deleted.
type AuditEntry struct {
	ID            string    `json:"id"`
	ActorID       string    `json:"actorId"`
	ActionCode    string    `json:"actionCode"`
	Details       string    `json:"details"`
	ApplicationID *string   `json:"applicationId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}
