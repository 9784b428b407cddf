// internal/permit/workflow/roles.go
package workflow

import (
	"fmt"

	"permit-workers/internal/models"
)

type Role string

const (
	RoleCreator    Role = "Creator"
	RoleAssessor   Role = "Assessor"
	RoleApprover   Role = "Approver"
	RoleAdmin      Role = "Admin"
	RoleSuperAdmin Role = "SuperAdmin"
	RoleCashier    Role = "Cashier"
)

var allRoles = []Role{RoleCreator, RoleAssessor, RoleApprover, RoleAdmin, RoleSuperAdmin, RoleCashier}

func ParseRole(s string) (Role, error) {
	for _, r := range allRoles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

type Action string

const (
	ActionCreate           Action = "create"
	ActionAddFee           Action = "add_fee"
	ActionEditFee          Action = "edit_fee"
	ActionRemoveFee        Action = "remove_fee"
	ActionSubmitAssessment Action = "submit_assessment"
	ActionApprove          Action = "approve"
	ActionReject           Action = "reject"
	ActionRecordPayment    Action = "record_payment"
	ActionIssue            Action = "issue"
	ActionRelease          Action = "release"
	ActionRenew            Action = "renew"
	ActionDelete           Action = "delete"
	ActionView             Action = "view"
)

var (
	managers     = []Role{RoleAdmin, RoleSuperAdmin}
	creators     = append([]Role{RoleCreator}, managers...)
	assessors    = append([]Role{RoleAssessor}, managers...)
	approvers    = append([]Role{RoleApprover}, managers...)
	feeEditors   = append([]Role{RoleAssessor, RoleApprover}, managers...)
	everyoneRole = allRoles
)

// permissions is the complete action → roles table. An action missing here
// is denied to everyone.
var permissions = map[Action][]Role{
	ActionCreate:           creators,
	ActionAddFee:           assessors,
	ActionEditFee:          feeEditors,
	ActionRemoveFee:        assessors,
	ActionSubmitAssessment: assessors,
	ActionApprove:          approvers,
	ActionReject:           approvers,
	ActionRecordPayment:    everyoneRole,
	ActionIssue:            approvers,
	ActionRelease:          approvers,
	ActionRenew:            creators,
	ActionDelete:           creators,
	ActionView:             everyoneRole,
}

// Permitted reports whether role may perform action.
func Permitted(role Role, action Action) bool {
	for _, r := range permissions[action] {
		if r == role {
			return true
		}
	}
	return false
}

var feeStatuses = []models.Status{models.StatusPending, models.StatusAssessed}

// sourceStatuses lists the statuses each action may start from. Create has
// no source; Delete's list is for everyone but SuperAdmin.
var sourceStatuses = map[Action][]models.Status{
	ActionAddFee:           feeStatuses,
	ActionEditFee:          feeStatuses,
	ActionRemoveFee:        feeStatuses,
	ActionSubmitAssessment: feeStatuses,
	ActionApprove:          {models.StatusPendingApproval},
	ActionReject:           {models.StatusPendingApproval},
	ActionRecordPayment:    {models.StatusApproved},
	ActionIssue:            {models.StatusPaid},
	ActionRelease:          {models.StatusIssued},
	ActionRenew:            {models.StatusIssued, models.StatusReleased},
	ActionDelete:           {models.StatusPending},
}

// AllowedFrom reports whether action may start from status.
func AllowedFrom(action Action, status models.Status) bool {
	for _, s := range sourceStatuses[action] {
		if s == status {
			return true
		}
	}
	return false
}

// Actor is the authenticated caller. Identity is established upstream.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// DisplayName is what issuance and release columns record.
func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
