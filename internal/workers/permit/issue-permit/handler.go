// internal/workers/permit/issue-permit/handler.go
package issuepermit

import (
	"context"
	"time"

	"permit-workers/internal/common/camunda"
	"permit-workers/internal/common/logger"
	"permit-workers/internal/common/observability"
	"permit-workers/internal/models"
	"permit-workers/internal/permit/workflow"
	"permit-workers/internal/workers/permit/permitjob"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "permit-issue-permit"

type Service interface {
	Issue(ctx context.Context, actor workflow.Actor, applicationID string) (*models.Application, error)
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

	app, err := h.service.Issue(ctx, actor, input.ApplicationID)
	if err != nil {
		return nil, err
	}

	out := &Output{ApplicationOutput: permitjob.FromApplication(app)}
	if app.ValidityDate != nil {
		out.ValidityDate = *app.ValidityDate
	}
	if app.IssuedBy != nil {
		out.IssuedBy = *app.IssuedBy
	}
	if app.IssuedAt != nil {
		out.IssuedAt = app.IssuedAt.UTC().Format(time.RFC3339)
	}
	h.logger.Info("permit issued", map[string]interface{}{
		"applicationNumber": out.ApplicationNumber,
		"validityDate":      out.ValidityDate,
	})
	return out, nil
}
