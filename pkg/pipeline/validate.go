package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidDefinition matches every validation failure.
	ErrInvalidDefinition = errors.New("invalid pipeline definition")

	ErrMissingField       = fmt.Errorf("%w: missing required field", ErrInvalidDefinition)
	ErrDuplicateStep      = fmt.Errorf("%w: duplicate step name", ErrInvalidDefinition)
	ErrUnknownDependency  = fmt.Errorf("%w: unknown dependency", ErrInvalidDefinition)
	ErrCircularDependency = fmt.Errorf("%w: circular dependency", ErrInvalidDefinition)
)

// ValidationError describes the first problem found in a definition.
type ValidationError struct {
	Err        error
	Field      string
	Index      int // step index, -1 for pipeline-level fields
	Step       string
	Dependency string
	Path       []string // cycle path, first and last element equal
}

func (e *ValidationError) Error() string {
	switch {
	case errors.Is(e.Err, ErrCircularDependency):
		return fmt.Sprintf("circular dependency detected involving step '%s': %s", e.Step, strings.Join(e.Path, " -> "))
	case errors.Is(e.Err, ErrUnknownDependency):
		return fmt.Sprintf("step %s: depends on non-existent step '%s'", e.Step, e.Dependency)
	case errors.Is(e.Err, ErrDuplicateStep):
		return fmt.Sprintf("step %d: duplicate step name '%s'", e.Index, e.Step)
	case e.Index >= 0:
		return fmt.Sprintf("step %d: %s is required", e.Index, e.Field)
	default:
		return fmt.Sprintf("pipeline %s is required", e.Field)
	}
}

func (e *ValidationError) Unwrap() error { return e.Err }

func missing(field string, index int) error {
	return &ValidationError{Err: ErrMissingField, Field: field, Index: index}
}

// Validate checks required fields, dependency references and cycles, in that
// order, and returns the first violation.
func Validate(def *Definition) error {
	if def == nil {
		return missing("definition", -1)
	}
	if def.Version == "" {
		return missing("version", -1)
	}
	if def.Name == "" {
		return missing("name", -1)
	}
	if len(def.Steps) == 0 {
		return missing("steps", -1)
	}

	seen := make(map[string]bool, len(def.Steps))
	for i, step := range def.Steps {
		if err := validateStep(step, i); err != nil {
			return err
		}
		if seen[step.Name] {
			return &ValidationError{Err: ErrDuplicateStep, Index: i, Step: step.Name}
		}
		seen[step.Name] = true
	}

	for _, step := range def.Steps {
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				return &ValidationError{Err: ErrUnknownDependency, Index: -1, Step: step.Name, Dependency: dep}
			}
		}
	}

	return detectCycles(def.Steps)
}

func validateStep(step Step, index int) error {
	if step.Name == "" {
		return missing("name", index)
	}
	if step.Image == "" {
		return missing("image", index)
	}
	if len(step.Commands) == 0 {
		return missing("commands", index)
	}
	return nil
}

// detectCycles walks step -> dependency edges depth first from every step.
// A dependency that is still on the stack closes a cycle.
func detectCycles(steps []Step) error {
	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps[s.Name] = s.DependsOn
	}

	done := make(map[string]bool, len(steps))
	onStack := make(map[string]bool)
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		if done[name] {
			return nil
		}
		if onStack[name] {
			start := 0
			for i, n := range stack {
				if n == name {
					start = i
					break
				}
			}
			path := append(append([]string{}, stack[start:]...), name)
			return &ValidationError{Err: ErrCircularDependency, Index: -1, Step: name, Path: path}
		}

		onStack[name] = true
		stack = append(stack, name)
		for _, dep := range deps[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		delete(onStack, name)
		done[name] = true
		return nil
	}

	for _, s := range steps {
		if err := visit(s.Name); err != nil {
			return err
		}
	}
	return nil
}
