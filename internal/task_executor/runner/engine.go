package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Kshitijknk07/CicadaCI/internal/common"
	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/container"
	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/scheduler"
	"github.com/Kshitijknk07/CicadaCI/pkg/pipeline"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrRunNotFound = errors.New("run not found")

// StatusUpdate is emitted on every run or step transition. Step is empty for
// run-level updates.
type StatusUpdate struct {
	RunID        string
	PipelineName string
	Step         string
	Status       string
	Error        string
	Time         time.Time
}

// Engine executes pipeline definitions. Every run is driven by its own
// goroutine; runs never wait on each other except through maxConcurrency.
type Engine struct {
	executor       container.Executor
	store          RunStore
	semaphore      chan struct{}
	statusCallback func(*StatusUpdate)

	mu         sync.RWMutex
	executions map[string]*execution
}

// execution is the live state of one run. mu guards run and serializes every
// write to the store for it.
type execution struct {
	mu        sync.Mutex
	run       *PipelineRun
	stepIndex map[string]int
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewEngine creates an engine. maxConcurrency bounds concurrent executor calls
// across all runs, zero means unbounded. statusCallback may be nil.
func NewEngine(executor container.Executor, store RunStore, maxConcurrency int, statusCallback func(*StatusUpdate)) *Engine {
	if store == nil {
		store = NewMemoryStore()
	}
	e := &Engine{
		executor:       executor,
		store:          store,
		statusCallback: statusCallback,
		executions:     make(map[string]*execution),
	}
	if maxConcurrency > 0 {
		e.semaphore = make(chan struct{}, maxConcurrency)
	}
	return e
}

// ExecutePipeline validates and schedules def, records a pending run and
// starts it in the background. Definition errors are returned before any run
// exists.
func (e *Engine) ExecutePipeline(def *pipeline.Definition, workspacePath string, trigger Trigger) (string, error) {
	if err := pipeline.Validate(def); err != nil {
		return "", err
	}
	groups, err := scheduler.Schedule(def.Steps)
	if err != nil {
		return "", err
	}

	now := time.Now()
	run := &PipelineRun{
		ID:           uuid.NewString(),
		PipelineName: def.Name,
		Status:       RunPending,
		StartTime:    now,
		Steps:        make([]StepRun, len(def.Steps)),
		Trigger:      trigger,
	}
	stepIndex := make(map[string]int, len(def.Steps))
	for i, step := range def.Steps {
		run.Steps[i] = StepRun{Name: step.Name, Status: StepPending}
		stepIndex[step.Name] = i
	}

	ctx, cancel := context.WithCancel(context.Background())
	x := &execution{
		run:       run,
		stepIndex: stepIndex,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	x.mu.Lock()
	e.log(run, LevelInfo, "", "Pipeline run created", map[string]any{
		"trigger": trigger.Type,
		"groups":  scheduler.GroupNames(groups),
	})
	err = e.store.Save(run)
	x.mu.Unlock()
	if err != nil {
		cancel()
		return "", fmt.Errorf("save run: %w", err)
	}

	e.mu.Lock()
	e.executions[run.ID] = x
	e.mu.Unlock()

	go e.execute(ctx, x, def, groups, workspacePath)
	return run.ID, nil
}

func (e *Engine) GetRun(id string) (*PipelineRun, bool) {
	return e.store.Get(id)
}

func (e *Engine) GetAllRuns() []*PipelineRun {
	return e.store.List()
}

// CancelRun marks a non-terminal run cancelled and interrupts its in-flight
// commands. It returns false for unknown or already finished runs.
func (e *Engine) CancelRun(id string) bool {
	x, ok := e.lookup(id)
	if !ok {
		return false
	}

	// Cancellation follows the live run, whether or not its snapshot was saved.
	var update *StatusUpdate
	e.mutate(x, func(run *PipelineRun) {
		if run.Status.IsTerminal() {
			return
		}
		now := time.Now()
		run.Status = RunCancelled
		run.EndTime = &now
		e.log(run, LevelWarn, "", "Pipeline run cancelled", nil)
		update = runUpdate(run)
	})
	if update == nil {
		return false
	}

	x.cancel()
	e.notify(update)
	return true
}

// Wait blocks until the run's background execution returned, then reports the
// final snapshot.
func (e *Engine) Wait(ctx context.Context, id string) (*PipelineRun, error) {
	x, ok := e.lookup(id)
	if !ok {
		return nil, ErrRunNotFound
	}
	select {
	case <-x.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	run, ok := e.store.Get(id)
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

func (e *Engine) lookup(id string) (*execution, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	x, ok := e.executions[id]
	return x, ok
}

func (e *Engine) execute(ctx context.Context, x *execution, def *pipeline.Definition, groups [][]pipeline.Step, workspacePath string) {
	defer close(x.done)
	defer x.cancel()
	defer func() {
		if r := recover(); r != nil {
			e.finish(x, fmt.Errorf("engine panic: %v", r))
		}
	}()

	var update *StatusUpdate
	e.mutate(x, func(run *PipelineRun) {
		if run.Status.IsTerminal() {
			return
		}
		run.Status = RunRunning
		e.log(run, LevelInfo, "", "Pipeline started", map[string]any{
			"workspace": workspacePath,
			"steps":     len(def.Steps),
		})
		update = runUpdate(run)
	})
	e.notify(update)

	for i, group := range groups {
		if ctx.Err() != nil {
			break
		}

		names := make([]string, 0, len(group))
		for _, step := range group {
			names = append(names, step.Name)
		}
		e.mutate(x, func(run *PipelineRun) {
			e.log(run, LevelDebug, "", fmt.Sprintf("Executing group %d/%d", i+1, len(groups)), map[string]any{"steps": names})
		})

		var wg sync.WaitGroup
		for _, step := range group {
			wg.Add(1)
			go func(step pipeline.Step) {
				defer wg.Done()
				e.runStep(ctx, x, def, step, workspacePath)
			}(step)
		}
		wg.Wait()

		if x.anyFailed(names) {
			break
		}
	}

	e.finish(x, nil)
}

// runStep runs the commands of step in order and stops at the first failure.
// It only ever writes the StepRun of step.
func (e *Engine) runStep(ctx context.Context, x *execution, def *pipeline.Definition, step pipeline.Step, workspacePath string) {
	idx := x.stepIndex[step.Name]

	var update *StatusUpdate
	e.mutate(x, func(run *PipelineRun) {
		now := time.Now()
		sr := &run.Steps[idx]
		sr.Status = StepRunning
		sr.StartTime = &now
		e.log(run, LevelInfo, step.Name, "Step started", map[string]any{"image": step.Image})
		update = stepUpdate(run, sr)
	})
	e.notify(update)

	workingDir := step.WorkingDir
	if workingDir == "" {
		workingDir = workspacePath
	}
	opts := container.Options{
		WorkingDir:  workingDir,
		Workspace:   workspacePath,
		Environment: pipeline.MergeEnv(def.Environment, step.Environment),
		Timeout:     step.EffectiveTimeout(def.Timeout),
	}

	exitCode := 0
	for _, command := range step.Commands {
		if err := ctx.Err(); err != nil {
			e.failStep(x, idx, step.Name, fmt.Errorf("%w: %v", container.ErrCancelled, err))
			return
		}

		e.mutate(x, func(run *PipelineRun) {
			e.log(run, LevelDebug, step.Name, "Executing command", map[string]any{"command": command})
		})

		result, err := e.invoke(ctx, step.Image, command, opts)
		if result != nil {
			exitCode = result.ExitCode
			if result.Output != "" {
				e.mutate(x, func(run *PipelineRun) {
					run.Steps[idx].Output += result.Output
				})
			}
		}
		if err != nil {
			e.failStep(x, idx, step.Name, err)
			return
		}
	}

	update = nil
	e.mutate(x, func(run *PipelineRun) {
		now := time.Now()
		sr := &run.Steps[idx]
		sr.Status = StepCompleted
		sr.EndTime = &now
		code := exitCode
		sr.ExitCode = &code
		e.log(run, LevelInfo, step.Name, "Step completed", map[string]any{
			"duration": now.Sub(*sr.StartTime).String(),
		})
		update = stepUpdate(run, sr)
	})
	e.notify(update)
}

func (e *Engine) failStep(x *execution, idx int, name string, cause error) {
	var update *StatusUpdate
	e.mutate(x, func(run *PipelineRun) {
		now := time.Now()
		sr := &run.Steps[idx]
		sr.Status = StepFailed
		sr.EndTime = &now

		msg := "Step failed"
		switch {
		case container.IsTimeout(cause):
			msg = "Step timed out"
		case errors.Is(cause, container.ErrCancelled):
			msg = "Step interrupted"
		}
		sr.Error = fmt.Sprintf("%s: %v", msg, cause)
		if code, ok := container.ExitCode(cause); ok {
			sr.ExitCode = &code
		}

		data := map[string]any{"error": cause.Error()}
		if sr.ExitCode != nil {
			data["exitCode"] = *sr.ExitCode
		}
		e.log(run, LevelError, name, msg, data)
		update = stepUpdate(run, sr)
	})
	e.notify(update)
}

// invoke hands one command to the executor. Executor panics come back as
// errors so a misbehaving implementation only fails its step.
func (e *Engine) invoke(ctx context.Context, image, command string, opts container.Options) (result *container.Result, err error) {
	if e.semaphore != nil {
		select {
		case e.semaphore <- struct{}{}:
			defer func() { <-e.semaphore }()
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", container.ErrCancelled, ctx.Err())
		}
	}

	callCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("executor panic: %v", r)
		}
	}()
	result, err = e.executor.Run(callCtx, image, container.CommandFor(command), opts)

	// The deadline is ours; an executor that only watches ctx still times out.
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && !container.IsTimeout(err) {
		return result, &container.TimeoutError{Timeout: opts.Timeout}
	}
	return result, err
}

// finish skips steps that never started and settles the run status. A
// cancelled run keeps its status and end time.
func (e *Engine) finish(x *execution, cause error) {
	var updates []*StatusUpdate
	e.mutate(x, func(run *PipelineRun) {
		now := time.Now()
		for i := range run.Steps {
			sr := &run.Steps[i]
			if sr.Status.IsTerminal() {
				continue
			}
			if sr.Status == StepPending {
				sr.Status = StepSkipped
				e.log(run, LevelWarn, sr.Name, "Step skipped", nil)
			} else {
				// Only reachable when the engine itself panicked mid-group.
				sr.Status = StepFailed
				sr.EndTime = &now
				sr.Error = "Step aborted: pipeline execution stopped"
			}
			updates = append(updates, stepUpdate(run, sr))
		}

		if cause != nil {
			e.log(run, LevelError, "", "Pipeline execution error", map[string]any{"error": cause.Error()})
		}
		if run.Status.IsTerminal() {
			return
		}

		run.Status = RunCompleted
		if cause != nil {
			run.Status = RunFailed
		}
		for _, sr := range run.Steps {
			if sr.Status == StepFailed {
				run.Status = RunFailed
				break
			}
		}
		run.EndTime = &now

		level := LevelInfo
		if run.Status == RunFailed {
			level = LevelError
		}
		e.log(run, level, "", "Pipeline "+string(run.Status), map[string]any{
			"duration": now.Sub(run.StartTime).String(),
		})
		updates = append(updates, runUpdate(run))
	})
	for _, u := range updates {
		e.notify(u)
	}
}

// mutate applies fn to the live run and writes the result through to the
// store while still holding the run lock, so saved snapshots never regress.
func (e *Engine) mutate(x *execution, fn func(run *PipelineRun)) {
	x.mu.Lock()
	defer x.mu.Unlock()
	fn(x.run)
	if err := e.store.Save(x.run); err != nil {
		common.GetLogger().Error("fail to save run", zap.String("run_id", x.run.ID), zap.Error(err))
	}
}

// log appends to the run log and mirrors the entry to the process logger.
// Callers hold the run lock.
func (e *Engine) log(run *PipelineRun, level LogLevel, step, message string, data map[string]any) {
	run.appendLog(LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Step:      step,
		Message:   message,
		Data:      data,
	})

	fields := []zap.Field{zap.String("run_id", run.ID), zap.String("pipeline", run.PipelineName)}
	if step != "" {
		fields = append(fields, zap.String("step", step))
	}
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	logger := common.GetLogger()
	switch level {
	case LevelDebug:
		logger.Debug(message, fields...)
	case LevelWarn:
		logger.Warn(message, fields...)
	case LevelError:
		logger.Error(message, fields...)
	default:
		logger.Info(message, fields...)
	}
}

// notify hands update to the status callback. A panicking callback is logged
// and otherwise ignored.
func (e *Engine) notify(update *StatusUpdate) {
	if update == nil || e.statusCallback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			common.GetLogger().Error("status callback panic",
				zap.String("run_id", update.RunID),
				zap.String("step", update.Step),
				zap.String("status", update.Status),
				zap.Any("panic", r))
		}
	}()
	e.statusCallback(update)
}

func (x *execution) anyFailed(names []string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, name := range names {
		if x.run.Steps[x.stepIndex[name]].Status == StepFailed {
			return true
		}
	}
	return false
}

func runUpdate(run *PipelineRun) *StatusUpdate {
	return &StatusUpdate{
		RunID:        run.ID,
		PipelineName: run.PipelineName,
		Status:       string(run.Status),
		Time:         time.Now(),
	}
}

func stepUpdate(run *PipelineRun, sr *StepRun) *StatusUpdate {
	return &StatusUpdate{
		RunID:        run.ID,
		PipelineName: run.PipelineName,
		Step:         sr.Name,
		Status:       string(sr.Status),
		Error:        sr.Error,
		Time:         time.Now(),
	}
}
