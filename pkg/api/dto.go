package api

import "time"

type PipelineBrief struct {
	ID            uint   `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	LatestVersion int    `json:"latest_version"`
}

type PipelineDetail struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     int    `json:"version"`
	Config      string `json:"config"` // raw YAML of that version
}

type RunBrief struct {
	ID           string     `json:"id"`
	PipelineName string     `json:"pipeline_name"`
	Status       string     `json:"status"`
	TriggerType  string     `json:"trigger_type"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
}
