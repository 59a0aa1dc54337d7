package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Kshitijknk07/CicadaCI/pkg/pipeline"
)

var ErrUnschedulable = errors.New("steps cannot be scheduled")

// SchedulingError means steps remain but none of them can run. Validation
// rejects every definition that gets here, so treat it as a config-layer bug.
type SchedulingError struct {
	Pending []string
	Reason  string
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("%s: %s [%s]", ErrUnschedulable, e.Reason, strings.Join(e.Pending, ", "))
}

func (e *SchedulingError) Unwrap() error { return ErrUnschedulable }

// Schedule splits steps into execution groups. Every step lands in the first
// group after all of its dependencies; steps inside a group keep declaration
// order and may run in parallel.
func Schedule(steps []pipeline.Step) ([][]pipeline.Step, error) {
	if err := checkUniqueNames(steps); err != nil {
		return nil, err
	}

	var groups [][]pipeline.Step
	scheduled := make(map[string]bool, len(steps))

	for len(scheduled) < len(steps) {
		var group []pipeline.Step
		for _, step := range steps {
			if scheduled[step.Name] {
				continue
			}
			if dependenciesScheduled(step, scheduled) {
				group = append(group, step)
			}
		}

		if len(group) == 0 {
			return nil, &SchedulingError{
				Pending: pendingSteps(steps, scheduled),
				Reason:  "circular dependency or unknown step reference",
			}
		}

		// Marked after the pass so a step never shares a group with its dependency.
		for _, step := range group {
			scheduled[step.Name] = true
		}
		groups = append(groups, group)
	}

	return groups, nil
}

// dependenciesScheduled reports whether every dependency sits in an earlier group.
func dependenciesScheduled(step pipeline.Step, scheduled map[string]bool) bool {
	for _, dep := range step.DependsOn {
		if !scheduled[dep] {
			return false
		}
	}
	return true
}

func checkUniqueNames(steps []pipeline.Step) error {
	names := make(map[string]bool, len(steps))
	for _, step := range steps {
		if names[step.Name] {
			return &SchedulingError{Pending: []string{step.Name}, Reason: "duplicate step name"}
		}
		names[step.Name] = true
	}
	return nil
}

func pendingSteps(steps []pipeline.Step, scheduled map[string]bool) []string {
	var pending []string
	for _, step := range steps {
		if !scheduled[step.Name] {
			pending = append(pending, step.Name)
		}
	}
	return pending
}

// GroupNames flattens groups to step names, handy for logs and plan output.
func GroupNames(groups [][]pipeline.Step) [][]string {
	out := make([][]string, 0, len(groups))
	for _, g := range groups {
		names := make([]string, 0, len(g))
		for _, s := range g {
			names = append(names, s.Name)
		}
		out = append(out, names)
	}
	return out
}
