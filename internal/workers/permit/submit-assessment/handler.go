// internal/workers/permit/submit-assessment/handler.go
package submitassessment

import (
	"context"

	"permit-workers/internal/common/camunda"
	"permit-workers/internal/common/logger"
	"permit-workers/internal/common/observability"
	"permit-workers/internal/models"
	"permit-workers/internal/permit/workflow"
	"permit-workers/internal/workers/permit/permitjob"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "permit-submit-assessment"

type Service interface {
	SubmitAssessment(ctx context.Context, actor workflow.Actor, applicationID string) (*models.AssessmentRecord, error)
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

	rec, err := h.service.SubmitAssessment(ctx, actor, input.ApplicationID)
	if err != nil {
		return nil, err
	}

	h.logger.Info("assessment submitted", map[string]interface{}{
		"applicationId":  input.ApplicationID,
		"totalAmountDue": rec.TotalAmountDue.String(),
	})
	return &Output{
		ApplicationID:      rec.ApplicationID,
		Status:             models.StatusPendingApproval.String(),
		AssessmentRecordID: rec.ID,
		TotalBalanceDue:    rec.TotalBalanceDue.String(),
		TotalSurcharge:     rec.TotalSurcharge.String(),
		TotalInterest:      rec.TotalInterest.String(),
		TotalAmountDue:     rec.TotalAmountDue.String(),
		Installments:       []string{rec.Q1.String(), rec.Q2.String(), rec.Q3.String(), rec.Q4.String()},
		ValidUntil:         rec.ValidUntil.Format("2006-01-02"),
		FeeCount:           len(rec.Fees),
	}, nil
}
