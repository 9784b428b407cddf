// internal/workers/permit/record-payment/handler.go
package recordpayment

import (
	"context"

	"permit-workers/internal/common/camunda"
	"permit-workers/internal/common/logger"
	"permit-workers/internal/common/observability"
	"permit-workers/internal/permit/workflow"
	"permit-workers/internal/workers/permit/permitjob"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/shopspring/decimal"
)

const TaskType = "permit-record-payment"

type Service interface {
	RecordPayment(ctx context.Context, actor workflow.Actor, applicationID string, in workflow.PaymentInput) (*workflow.PaymentResult, error)
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
	amount, err := permitjob.ParseAmount("amount", input.Amount)
	if err != nil {
		return nil, err
	}

	res, err := h.service.RecordPayment(ctx, actor, input.ApplicationID, workflow.PaymentInput{
		Amount:    amount,
		Reference: input.Reference,
	})
	if err != nil {
		return nil, err
	}

	balance := decimal.Max(res.AmountDue.Sub(res.TotalPaid), decimal.Zero)
	h.logger.Info("payment recorded", map[string]interface{}{
		"applicationId": input.ApplicationID,
		"totalPaid":     res.TotalPaid.String(),
		"paid":          res.Paid,
	})
	return &Output{
		ApplicationOutput: permitjob.FromApplication(res.Application),
		PaymentID:         res.Payment.ID,
		Amount:            res.Payment.Amount.String(),
		TotalPaid:         res.TotalPaid.String(),
		AmountDue:         res.AmountDue.String(),
		Balance:           balance.String(),
		Paid:              res.Paid,
	}, nil
}
