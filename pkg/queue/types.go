package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const PIPELINE_EXECUTE = "pipeline:execute"

// PipelineExecuteInfo asks a worker to run the latest version of a pipeline.
type PipelineExecuteInfo struct {
	PipelineName string          `json:"pipeline_name"`
	TriggerType  string          `json:"trigger_type"` // manual/cron/webhook
	Payload      json.RawMessage `json:"payload,omitempty"`
}

func NewPipelineExecuteTask(info PipelineExecuteInfo, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(PIPELINE_EXECUTE, data, opts...), nil
}

func ParsePipelineExecuteInfo(data []byte) (*PipelineExecuteInfo, error) {
	var info PipelineExecuteInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", PIPELINE_EXECUTE, err)
	}
	if info.PipelineName == "" {
		return nil, fmt.Errorf("decode %s payload: pipeline_name is empty", PIPELINE_EXECUTE)
	}
	return &info, nil
}
