package runner

import (
	"time"
)

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no transition can leave s.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Trigger describes what started a run. Payload is carried through untouched.
type Trigger struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

const (
	TriggerManual  = "manual"
	TriggerWebhook = "webhook"
	TriggerCron    = "cron"
	TriggerLocal   = "local"
)

type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Step      string         `json:"step,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

type StepRun struct {
	Name      string     `json:"name"`
	Status    StepStatus `json:"status"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Output    string     `json:"output"`
	Error     string     `json:"error,omitempty"`
	ExitCode  *int       `json:"exitCode,omitempty"`
}

type PipelineRun struct {
	ID           string     `json:"id"`
	PipelineName string     `json:"pipelineName"`
	Status       RunStatus  `json:"status"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Steps        []StepRun  `json:"steps"`
	Logs         []LogEntry `json:"logs"`
	Trigger      Trigger    `json:"trigger"`
}

// Step returns the StepRun named name.
func (r *PipelineRun) Step(name string) (*StepRun, bool) {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i], true
		}
	}
	return nil, false
}

// appendLog adds entry, clamping its timestamp so the log never goes back in time.
func (r *PipelineRun) appendLog(entry LogEntry) {
	if n := len(r.Logs); n > 0 && entry.Timestamp.Before(r.Logs[n-1].Timestamp) {
		entry.Timestamp = r.Logs[n-1].Timestamp
	}
	r.Logs = append(r.Logs, entry)
}

// Clone returns a deep copy. Trigger payloads and log data values are shared.
func (r *PipelineRun) Clone() *PipelineRun {
	if r == nil {
		return nil
	}
	out := *r
	out.EndTime = cloneTime(r.EndTime)

	out.Steps = make([]StepRun, len(r.Steps))
	for i, s := range r.Steps {
		s.StartTime = cloneTime(s.StartTime)
		s.EndTime = cloneTime(s.EndTime)
		if s.ExitCode != nil {
			code := *s.ExitCode
			s.ExitCode = &code
		}
		out.Steps[i] = s
	}

	out.Logs = make([]LogEntry, len(r.Logs))
	for i, l := range r.Logs {
		if l.Data != nil {
			data := make(map[string]any, len(l.Data))
			for k, v := range l.Data {
				data[k] = v
			}
			l.Data = data
		}
		out.Logs[i] = l
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
