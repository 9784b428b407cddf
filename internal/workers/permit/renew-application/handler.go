// internal/workers/permit/renew-application/handler.go
package renewapplication

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

const TaskType = "permit-renew-application"

type Service interface {
	Renew(ctx context.Context, actor workflow.Actor, applicationID string) (*models.Application, error)
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

	app, err := h.service.Renew(ctx, actor, input.ApplicationID)
	if err != nil {
		return nil, err
	}

	h.logger.Info("application renewed", map[string]interface{}{
		"renewedFromId":     input.ApplicationID,
		"applicationNumber": app.Number(),
	})
	out := &Output{
		ApplicationOutput: permitjob.FromApplication(app),
		RenewedFromID:     input.ApplicationID,
	}
	if app.RenewedFromID != nil {
		out.RenewedFromID = *app.RenewedFromID
	}
	return out, nil
}
