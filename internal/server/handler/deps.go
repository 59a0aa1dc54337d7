package handler

import (
	"context"

	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/runner"
	"github.com/Kshitijknk07/CicadaCI/pkg/pipeline"
)

// RunService is the read and cancel side of the run engine.
type RunService interface {
	GetRun(id string) (*runner.PipelineRun, bool)
	GetAllRuns() []*runner.PipelineRun
	CancelRun(id string) bool
}

// PipelineTrigger starts runs of stored pipelines and keeps their cron entries current.
type PipelineTrigger interface {
	TriggerPipeline(ctx context.Context, name string, trigger runner.Trigger) (string, error)
	Dispatch(ctx context.Context, name string, trigger runner.Trigger) (string, error)
	UpsertPipelineSchedule(def *pipeline.Definition) error
}

var (
	runService      RunService
	pipelineTrigger PipelineTrigger
)

// Setup wires the services the handlers delegate to. Call it before serving.
func Setup(runs RunService, trigger PipelineTrigger) {
	runService = runs
	pipelineTrigger = trigger
}
