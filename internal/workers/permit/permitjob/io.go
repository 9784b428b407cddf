// internal/workers/permit/permitjob/io.go
package permitjob

import (
	"fmt"
	"time"

	apperrors "permit-workers/internal/common/errors"
	"permit-workers/internal/models"
	"permit-workers/internal/permit/workflow"

	"github.com/shopspring/decimal"
)

// ActorInput is the caller identity every permit job carries. It is
// established by the process starter; workers only map it.
type ActorInput struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
}

// Actor maps the input to a workflow actor. An unknown role is an
// authorization failure, not a validation one.
func (a ActorInput) Actor() (workflow.Actor, error) {
	role, err := workflow.ParseRole(a.Role)
	if err != nil {
		return workflow.Actor{}, apperrors.NewAuthorizationError(a.Role, "act on permit applications")
	}
	return workflow.Actor{ID: a.ID, Name: a.Name, Role: role}, nil
}

// ApplicationOutput is the variable set every application-returning job
// completes with.
type ApplicationOutput struct {
	ApplicationID     string `json:"applicationId"`
	ApplicationNumber string `json:"applicationNumber"`
	Status            string `json:"status"`
	UpdatedAt         string `json:"updatedAt"`
}

func FromApplication(app *models.Application) ApplicationOutput {
	return ApplicationOutput{
		ApplicationID:     app.ID,
		ApplicationNumber: app.Number(),
		Status:            app.Status.String(),
		UpdatedAt:         app.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// ParseAmount reads a money amount sent as a decimal string with at most
// two decimal places.
func ParseAmount(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperrors.NewValidationError(field + " must be a decimal number")
	}
	if !models.HasMoneyScale(d) {
		return decimal.Zero, apperrors.NewValidationError(
			fmt.Sprintf("%s must have at most %d decimal places", field, models.MoneyPlaces))
	}
	return d, nil
}

// ParseOptionalAmount is ParseAmount for fields that may be omitted.
func ParseOptionalAmount(field string, raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := ParseAmount(field, *raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
