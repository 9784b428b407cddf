// internal/common/camunda/job.go
package camunda

import (
	"context"
	"encoding/json"
	"time"

	apperrors "permit-workers/internal/common/errors"
	"permit-workers/internal/common/logger"
	"permit-workers/internal/common/metrics"
	"permit-workers/internal/common/observability"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InputValidator checks raw job variables before they are decoded.
type InputValidator interface {
	Validate(taskType string, variables map[string]interface{}) error
}

// JobRunner carries the plumbing every permit job shares: deadline, schema
// check, decode, metrics, completion and error reporting.
type JobRunner struct {
	taskType  string
	timeout   time.Duration
	validator InputValidator
	errors    *apperrors.ErrorHandler
	obs       *observability.Observability
	logger    logger.Logger
}

func NewJobRunner(taskType string, timeout time.Duration, v InputValidator, obs *observability.Observability, log logger.Logger) *JobRunner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log = log.WithFields(map[string]interface{}{"taskType": taskType})
	return &JobRunner{
		taskType:  taskType,
		timeout:   timeout,
		validator: v,
		errors:    apperrors.NewErrorHandler(log),
		obs:       obs,
		logger:    log,
	}
}

// Run validates and decodes the job variables into input, calls execute and
// completes the job with its output. Any error is reported through the
// ErrorHandler.
func (r *JobRunner) Run(client worker.JobClient, job entities.Job, input interface{}, execute func(ctx context.Context) (interface{}, error)) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(r.taskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(r.taskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	ctx, span := r.obs.StartJobSpan(ctx, r.taskType, job.GetKey())
	defer span.End()

	r.logger.Info("processing job", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	if err := r.decode(job, input); err != nil {
		r.fail(ctx, span, client, job, err)
		return
	}

	output, err := execute(ctx)
	if err != nil {
		r.fail(ctx, span, client, job, err)
		return
	}

	r.complete(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(r.taskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(r.taskType).Observe(time.Since(start).Seconds())
	r.obs.RecordJobProcessed(ctx, r.taskType, "completed")
}

func (r *JobRunner) decode(job entities.Job, input interface{}) error {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return apperrors.NewValidationError("job variables are not a JSON object")
	}
	if r.validator != nil {
		if err := r.validator.Validate(r.taskType, variables); err != nil {
			return err
		}
	}
	if err := json.Unmarshal([]byte(job.GetVariables()), input); err != nil {
		return apperrors.NewValidationError("decode job variables: " + err.Error())
	}
	return nil
}

func (r *JobRunner) complete(ctx context.Context, client worker.JobClient, job entities.Job, output interface{}) {
	cmd, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromObject(output)
	if err != nil {
		r.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		r.logger.Error("failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}
	r.logger.Info("job completed", map[string]interface{}{"jobKey": job.GetKey()})
}

func (r *JobRunner) fail(ctx context.Context, span trace.Span, client worker.JobClient, job entities.Job, err error) {
	stdErr := apperrors.Normalize(err)
	span.RecordError(stdErr)
	span.SetStatus(codes.Error, string(stdErr.Code))
	metrics.WorkerJobsFailed.WithLabelValues(r.taskType, string(stdErr.Code)).Inc()
	r.obs.RecordJobProcessed(ctx, r.taskType, "failed")
	// The job deadline may already have passed; reporting must still reach
	// the broker.
	r.errors.HandleJobError(context.WithoutCancel(ctx), client, job, stdErr)
}
