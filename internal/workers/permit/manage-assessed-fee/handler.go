// internal/workers/permit/manage-assessed-fee/handler.go
package manageassessedfee

import (
	"context"
	"fmt"

	"permit-workers/internal/common/camunda"
	apperrors "permit-workers/internal/common/errors"
	"permit-workers/internal/common/logger"
	"permit-workers/internal/common/observability"
	"permit-workers/internal/models"
	"permit-workers/internal/permit/workflow"
	"permit-workers/internal/workers/permit/permitjob"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "permit-manage-assessed-fee"

type Service interface {
	AddFee(ctx context.Context, actor workflow.Actor, applicationID string, in workflow.FeeLineInput) (*models.AssessedFee, error)
	EditFee(ctx context.Context, actor workflow.Actor, applicationID, feeLineID string, edit workflow.FeeLineEdit) (*models.AssessedFee, error)
	RemoveFee(ctx context.Context, actor workflow.Actor, applicationID, feeLineID string) error
}

type Handler struct {
	config  *permitjob.Config
	service Service
	runner  *camunda.JobRunner
	logger  logger.Logger
}

func NewHandler(cfg *permitjob.Config, svc Service, v camunda.InputValidator, obs *observability.Observability, log logger.Logger) *Handler {
	return &Handler{
		config:  cfg,
		service: svc,
		runner:  camunda.NewJobRunner(TaskType, cfg.Timeout, v, obs, log),
		logger:  log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	var input Input
	h.runner.Run(client, job, &input, func(ctx context.Context) (interface{}, error) {
		return h.Execute(ctx, &input)
	})
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	actor, err := input.Actor.Actor()
	if err != nil {
		return nil, err
	}
	unit, err := permitjob.ParseOptionalAmount("unitAmount", input.UnitAmount)
	if err != nil {
		return nil, err
	}

	switch input.Operation {
	case OperationAdd:
		if input.FeeID == nil || *input.FeeID == "" {
			return nil, apperrors.NewValidationError("feeId is required to add a fee line")
		}
		in := workflow.FeeLineInput{FeeID: *input.FeeID, UnitAmount: unit}
		if input.Description != nil {
			in.Description = *input.Description
		}
		if input.Quantity != nil {
			in.Quantity = *input.Quantity
		}
		line, err := h.service.AddFee(ctx, actor, input.ApplicationID, in)
		if err != nil {
			return nil, err
		}
		return lineOutput(input.Operation, line), nil

	case OperationEdit:
		if input.FeeLineID == "" {
			return nil, apperrors.NewValidationError("feeLineId is required to edit a fee line")
		}
		line, err := h.service.EditFee(ctx, actor, input.ApplicationID, input.FeeLineID, workflow.FeeLineEdit{
			FeeID:       input.FeeID,
			Description: input.Description,
			UnitAmount:  unit,
			Quantity:    input.Quantity,
		})
		if err != nil {
			return nil, err
		}
		return lineOutput(input.Operation, line), nil

	case OperationRemove:
		if input.FeeLineID == "" {
			return nil, apperrors.NewValidationError("feeLineId is required to remove a fee line")
		}
		if err := h.service.RemoveFee(ctx, actor, input.ApplicationID, input.FeeLineID); err != nil {
			return nil, err
		}
		return &Output{
			ApplicationID: input.ApplicationID,
			Operation:     input.Operation,
			FeeLineID:     input.FeeLineID,
			Removed:       true,
		}, nil
	}

	return nil, apperrors.NewValidationError(fmt.Sprintf("unknown operation %q", input.Operation))
}

func lineOutput(op string, line *models.AssessedFee) *Output {
	return &Output{
		ApplicationID: line.ApplicationID,
		Operation:     op,
		FeeLineID:     line.ID,
		FeeID:         line.FeeID,
		Description:   line.Description,
		UnitAmount:    line.UnitAmount.String(),
		Quantity:      line.Quantity,
		Amount:        line.Amount.String(),
	}
}
