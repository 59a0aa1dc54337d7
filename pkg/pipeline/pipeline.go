package pipeline

import "time"

// DefaultStepTimeout applies when neither the step nor the pipeline sets a timeout.
const DefaultStepTimeout int64 = 300000

// Triggers are consumed by the webhook and cron layers only; the engine never reads them.
type Triggers struct {
	Branches []string `yaml:"branches,omitempty" json:"branches,omitempty"`
	Tags     []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Events   []string `yaml:"events,omitempty" json:"events,omitempty"`
	Cron     string   `yaml:"cron,omitempty" json:"cron,omitempty"`
}

// Definition is a decoded pipeline file.
type Definition struct {
	Version     string            `yaml:"version" json:"version"`
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Triggers    Triggers          `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	Steps       []Step            `yaml:"steps" json:"steps"`
	Environment map[string]string `yaml:"environment,omitempty" json:"environment,omitempty"`
	Timeout     int64             `yaml:"timeout,omitempty" json:"timeout,omitempty"` // milliseconds
}

// Step is one unit of work, run inside Image as a sequence of commands.
type Step struct {
	Name        string            `yaml:"name" json:"name"`
	Image       string            `yaml:"image" json:"image"`
	Commands    []string          `yaml:"commands" json:"commands"`
	Environment map[string]string `yaml:"environment,omitempty" json:"environment,omitempty"`
	WorkingDir  string            `yaml:"workingDir,omitempty" json:"workingDir,omitempty"`
	Timeout     int64             `yaml:"timeout,omitempty" json:"timeout,omitempty"` // milliseconds
	DependsOn   []string          `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`
}

// EffectiveTimeout resolves the step timeout against the pipeline default.
func (s Step) EffectiveTimeout(pipelineTimeout int64) time.Duration {
	ms := s.Timeout
	if ms <= 0 {
		ms = pipelineTimeout
	}
	if ms <= 0 {
		ms = DefaultStepTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

// MergeEnv overlays step on top of global. Step keys win.
func MergeEnv(global, step map[string]string) map[string]string {
	env := make(map[string]string, len(global)+len(step))
	for k, v := range global {
		env[k] = v
	}
	for k, v := range step {
		env[k] = v
	}
	return env
}
