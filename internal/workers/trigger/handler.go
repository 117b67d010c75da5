// Package trigger exposes the pipeline jobs as zeebe job workers so a BPMN
// process can run ingestion, enrichment or matching and read back the counts.
package trigger

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"immo-alerts/internal/common/camunda"
	apperrors "immo-alerts/internal/common/errors"
	"immo-alerts/internal/common/logger"
	"immo-alerts/internal/scheduler"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// TaskTypes maps each zeebe job type to the scheduler job it runs.
var TaskTypes = map[string]string{
	"alerts-ingest": scheduler.JobIngest,
	"alerts-enrich": scheduler.JobEnrich,
	"alerts-match":  scheduler.JobMatch,
}

type Runner interface {
	RunNow(ctx context.Context, name string) (map[string]int, error)
}

type Handler struct {
	taskType   string
	job        string
	runner     Runner
	config     *Config
	errHandler *apperrors.ErrorHandler
	logger     logger.Logger
}

func NewHandler(taskType string, runner Runner, config *Config, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": taskType})
	return &Handler{
		taskType:   taskType,
		job:        TaskTypes[taskType],
		runner:     runner,
		config:     config,
		errHandler: apperrors.NewErrorHandler(log),
		logger:     log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if vars := strings.TrimSpace(job.Variables); vars != "" {
		if err := json.Unmarshal([]byte(vars), &input); err != nil {
			h.errHandler.HandleJobError(ctx, client, job, apperrors.NewMalformedPayloadError("job variables", err))
			return
		}
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		h.errHandler.HandleJobError(ctx, client, job, err)
		return
	}
	h.completeJob(ctx, client, job, output)
}

// Execute runs the mapped scheduler job synchronously.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if h.job == "" {
		return nil, apperrors.NewJobUnknownError(h.taskType)
	}
	counts, err := h.runner.RunNow(ctx, h.job)
	if err != nil {
		return nil, err
	}
	if counts == nil {
		counts = map[string]int{}
	}
	return &Output{
		RequestID:   input.RequestID,
		Job:         h.job,
		Status:      "completed",
		Counts:      counts,
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{"error": err.Error()})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{"error": err.Error()})
	}
}

// StartAll opens one worker per task type; callers Stop the group on shutdown.
func StartAll(client zbc.Client, runner Runner, config *Config, maxJobsActive int, log logger.Logger) *camunda.WorkerGroup {
	group := camunda.NewWorkerGroup(client, log)
	for taskType := range TaskTypes {
		group.Open(taskType, maxJobsActive, config.Timeout, NewHandler(taskType, runner, config, log))
	}
	return group
}
