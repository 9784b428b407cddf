// internal/workers/permit/review-assessment/handler.go
package reviewassessment

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

const TaskType = "permit-review-assessment"

type Service interface {
	Approve(ctx context.Context, actor workflow.Actor, applicationID string) (*models.Application, error)
	Reject(ctx context.Context, actor workflow.Actor, applicationID, reason string) (*models.Application, error)
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

	var app *models.Application
	switch input.Decision {
	case DecisionApprove:
		app, err = h.service.Approve(ctx, actor, input.ApplicationID)
	case DecisionReject:
		app, err = h.service.Reject(ctx, actor, input.ApplicationID, input.Reason)
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("decision must be %q or %q", DecisionApprove, DecisionReject))
	}
	if err != nil {
		return nil, err
	}

	out := &Output{
		ApplicationOutput: permitjob.FromApplication(app),
		Decision:          input.Decision,
		ApproverID:        actor.ID,
	}
	if app.RejectionReason != nil {
		out.RejectionReason = *app.RejectionReason
	}
	return out, nil
}
