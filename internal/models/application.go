package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending         Status = "Pending"
	StatusAssessed        Status = "Assessed"
	StatusPendingApproval Status = "Pending Approval"
	StatusApproved        Status = "Approved"
	StatusRejected        Status = "Rejected"
	StatusPaid            Status = "Paid"
	StatusIssued          Status = "Issued"
	StatusReleased        Status = "Released"
)

var allStatuses = []Status{
	StatusPending,
	StatusAssessed,
	StatusPendingApproval,
	StatusApproved,
	StatusRejected,
	StatusPaid,
	StatusIssued,
	StatusReleased,
}

// AllStatuses returns the closed set of persisted application statuses.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

func (s Status) Valid() bool {
	for _, st := range allStatuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// Application is one permit request moving through the workflow.
type Application struct {
	ID                string     `json:"id"`
	ApplicationNumber *string    `json:"applicationNumber,omitempty"`
	BusinessID        string     `json:"businessId"`
	PermitTypeID      string     `json:"permitTypeId"`
	Status            Status     `json:"status"`
	CreatedBy         string     `json:"createdBy"`
	AssessorID        *string    `json:"assessorId,omitempty"`
	ApproverID        *string    `json:"approverId,omitempty"`
	RejectionReason   *string    `json:"rejectionReason,omitempty"`
	ValidityDate      *string    `json:"validityDate,omitempty"`
	IssuedBy          *string    `json:"issuedBy,omitempty"`
	IssuedAt          *time.Time `json:"issuedAt,omitempty"`
	ReleasedBy        *string    `json:"releasedBy,omitempty"`
	ReceivedBy        *string    `json:"receivedBy,omitempty"`
	ReleasedAt        *time.Time `json:"releasedAt,omitempty"`
	RenewedFromID     *string    `json:"renewedFromId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Number returns the allocated application number or "".
func (a *Application) Number() string {
	if a.ApplicationNumber == nil {
		return ""
	}
	return *a.ApplicationNumber
}

// ApplicationParameter is one domain-specific intake field.
type ApplicationParameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ParameterDate is the intake field that carries the validity of permit
// types with a custom validity policy.
const ParameterDate = "Date"

// AssessedFee is a fee line attached during assessment. Amount is
// UnitAmount × Quantity.
type AssessedFee struct {
	ID            string          `json:"id"`
	ApplicationID string          `json:"applicationId"`
	FeeID         string          `json:"feeId"`
	Description   string          `json:"description"`
	UnitAmount    decimal.Decimal `json:"unitAmount"`
	Quantity      int             `json:"quantity"`
	Amount        decimal.Decimal `json:"amount"`
	AssessedBy    string          `json:"assessedBy"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Payment is money received against an approved assessment.
type Payment struct {
	ID            string          `json:"id"`
	ApplicationID string          `json:"applicationId"`
	Amount        decimal.Decimal `json:"amount"`
	Reference     string          `json:"reference"`
	RecordedBy    string          `json:"recordedBy"`
	PaidAt        time.Time       `json:"paidAt"`
}

// SequenceCounter holds the last ordinal issued for one period key.
type SequenceCounter struct {
	PeriodKey string    `json:"periodKey"`
	LastValue int64     `json:"lastValue"`
	UpdatedAt time.Time `json:"updatedAt"`
}
