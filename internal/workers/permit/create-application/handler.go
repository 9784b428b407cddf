// internal/workers/permit/create-application/handler.go
package createapplication

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

const TaskType = "permit-create-application"

type Service interface {
	Create(ctx context.Context, actor workflow.Actor, req workflow.CreateRequest) (*models.Application, error)
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

	params := make([]models.ApplicationParameter, len(input.Parameters))
	for i, p := range input.Parameters {
		params[i] = models.ApplicationParameter{Name: p.Name, Value: p.Value}
	}

	app, err := h.service.Create(ctx, actor, workflow.CreateRequest{
		BusinessID:   input.BusinessID,
		PermitTypeID: input.PermitTypeID,
		Parameters:   params,
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("application created", map[string]interface{}{
		"applicationId":     app.ID,
		"applicationNumber": app.Number(),
	})
	return &Output{
		ApplicationOutput: permitjob.FromApplication(app),
		CreatedBy:         app.CreatedBy,
	}, nil
}
