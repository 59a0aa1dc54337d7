package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/container"
	"github.com/Kshitijknk07/CicadaCI/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	image   string
	command []string
	opts    container.Options
	start   time.Time
	end     time.Time
}

// fakeExecutor answers every command with handle and records what it saw.
type fakeExecutor struct {
	mu     sync.Mutex
	calls  []call
	handle func(ctx context.Context, image, cmd string, opts container.Options) (*container.Result, error)
}

func (f *fakeExecutor) Run(ctx context.Context, image string, command []string, opts container.Options) (*container.Result, error) {
	c := call{image: image, command: command, opts: opts, start: time.Now()}
	var (
		res *container.Result
		err error
	)
	if f.handle != nil {
		res, err = f.handle(ctx, image, command[len(command)-1], opts)
	} else {
		res = &container.Result{Output: "ok\n"}
	}
	c.end = time.Now()

	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	return res, err
}

func (f *fakeExecutor) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.command[len(c.command)-1])
	}
	return out
}

func (f *fakeExecutor) callFor(cmd string) (call, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.command[len(c.command)-1] == cmd {
			return c, true
		}
	}
	return call{}, false
}

func step(name string, commands []string, deps ...string) pipeline.Step {
	return pipeline.Step{Name: name, Image: "alpine:3.19", Commands: commands, DependsOn: deps}
}

func definition(steps ...pipeline.Step) *pipeline.Definition {
	return &pipeline.Definition{Version: "1.0", Name: "demo", Steps: steps}
}

func waitRun(t *testing.T, e *Engine, id string) *PipelineRun {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	run, err := e.Wait(ctx, id)
	require.NoError(t, err)
	return run
}

func TestEngine_BuildThenFailingTest(t *testing.T) {
	exec := &fakeExecutor{handle: func(ctx context.Context, image, cmd string, opts container.Options) (*container.Result, error) {
		if cmd == "go test ./..." {
			return &container.Result{Output: "--- FAIL: TestX\n", ExitCode: 1}, &container.RuntimeError{ExitCode: 1}
		}
		return &container.Result{Output: "built\n"}, nil
	}}
	e := NewEngine(exec, nil, 0, nil)

	id, err := e.ExecutePipeline(definition(
		step("build", []string{"go build ./..."}),
		step("test", []string{"go test ./..."}, "build"),
	), "/tmp/ws", Trigger{Type: TriggerManual})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run := waitRun(t, e, id)
	assert.Equal(t, RunFailed, run.Status)
	require.NotNil(t, run.EndTime)

	build, _ := run.Step("build")
	assert.Equal(t, StepCompleted, build.Status)
	assert.Equal(t, "built\n", build.Output)
	require.NotNil(t, build.ExitCode)
	assert.Equal(t, 0, *build.ExitCode)

	test, _ := run.Step("test")
	assert.Equal(t, StepFailed, test.Status)
	assert.NotEmpty(t, test.Error)
	assert.Equal(t, "--- FAIL: TestX\n", test.Output)
	require.NotNil(t, test.ExitCode)
	assert.Equal(t, 1, *test.ExitCode)
	assert.NotNil(t, test.EndTime)
}

func TestEngine_StepTimeout(t *testing.T) {
	exec := &fakeExecutor{handle: func(ctx context.Context, image, cmd string, opts container.Options) (*container.Result, error) {
		select {
		case <-time.After(opts.Timeout):
			return nil, &container.TimeoutError{Timeout: opts.Timeout}
		case <-time.After(5 * time.Second):
			return &container.Result{}, nil
		}
	}}
	e := NewEngine(exec, nil, 0, nil)

	slow := step("slow", []string{"sleep 60"})
	slow.Timeout = 20
	id, err := e.ExecutePipeline(definition(slow), "/tmp/ws", Trigger{Type: TriggerManual})
	require.NoError(t, err)

	run := waitRun(t, e, id)
	assert.Equal(t, RunFailed, run.Status)
	sr, _ := run.Step("slow")
	assert.Equal(t, StepFailed, sr.Status)
	assert.Contains(t, sr.Error, "timed out")

	var logged bool
	for _, l := range run.Logs {
		if l.Step == "slow" && l.Message == "Step timed out" {
			logged = true
		}
	}
	assert.True(t, logged, "timeout must be distinguishable in the run log")
}

func TestEngine_SkipsGroupsAfterFailure(t *testing.T) {
	exec := &fakeExecutor{handle: func(ctx context.Context, image, cmd string, opts container.Options) (*container.Result, error) {
		if cmd == "lint" {
			return nil, &container.RuntimeError{ExitCode: 2}
		}
		time.Sleep(10 * time.Millisecond)
		return &container.Result{Output: cmd + "\n"}, nil
	}}
	e := NewEngine(exec, nil, 0, nil)

	id, err := e.ExecutePipeline(definition(
		step("lint", []string{"lint"}),
		step("compile", []string{"compile"}),
		step("unit", []string{"unit"}, "compile"),
		step("publish", []string{"publish"}, "lint", "unit"),
	), "/tmp/ws", Trigger{Type: TriggerManual})
	require.NoError(t, err)

	run := waitRun(t, e, id)
	assert.Equal(t, RunFailed, run.Status)

	// A sibling in the failing group still runs to completion.
	compile, _ := run.Step("compile")
	assert.Equal(t, StepCompleted, compile.Status)

	for _, name := range []string{"unit", "publish"} {
		sr, _ := run.Step(name)
		assert.Equal(t, StepSkipped, sr.Status, name)
		assert.Nil(t, sr.StartTime, name)
	}
	assert.ElementsMatch(t, []string{"lint", "compile"}, exec.commands())
}

func TestEngine_StopsCommandsAfterFirstFailure(t *testing.T) {
	exec := &fakeExecutor{handle: func(ctx context.Context, image, cmd string, opts container.Options) (*container.Result, error) {
		if cmd == "false" {
			return &container.Result{Output: "boom\n", ExitCode: 1}, &container.RuntimeError{ExitCode: 1}
		}
		return &container.Result{Output: cmd + "\n"}, nil
	}}
	e := NewEngine(exec, nil, 0, nil)

	id, err := e.ExecutePipeline(definition(
		step("build", []string{"one", "two", "false", "three"}),
	), "/tmp/ws", Trigger{Type: TriggerManual})
	require.NoError(t, err)

	run := waitRun(t, e, id)
	sr, _ := run.Step("build")
	assert.Equal(t, StepFailed, sr.Status)
	assert.Equal(t, "one\ntwo\nboom\n", sr.Output)
	assert.Equal(t, []string{"one", "two", "false"}, exec.commands())
}

func TestEngine_ExecutorOptions(t *testing.T) {
	exec := &fakeExecutor{}
	e := NewEngine(exec, nil, 0, nil)

	def := definition(
		pipeline.Step{
			Name:        "build",
			Image:       "golang:1.22",
			Commands:    []string{"go build ./..."},
			Environment: map[string]string{"GOOS": "linux", "CGO_ENABLED": "0"},
		},
		pipeline.Step{
			Name:       "docs",
			Image:      "node:20",
			Commands:   []string{"npm run docs"},
			WorkingDir: "site",
			Timeout:    1500,
		},
	)
	def.Environment = map[string]string{"CI": "true", "GOOS": "darwin"}
	def.Timeout = 60000

	id, err := e.ExecutePipeline(def, "/srv/ws/demo", Trigger{Type: TriggerManual})
	require.NoError(t, err)
	run := waitRun(t, e, id)
	require.Equal(t, RunCompleted, run.Status)

	build, ok := exec.callFor("go build ./...")
	require.True(t, ok)
	assert.Equal(t, "golang:1.22", build.image)
	assert.Equal(t, container.CommandFor("go build ./..."), build.command)
	assert.Equal(t, map[string]string{"CI": "true", "GOOS": "linux", "CGO_ENABLED": "0"}, build.opts.Environment)
	assert.Equal(t, "/srv/ws/demo", build.opts.WorkingDir)
	assert.Equal(t, "/srv/ws/demo", build.opts.Workspace)
	assert.Equal(t, 60*time.Second, build.opts.Timeout)

	docs, ok := exec.callFor("npm run docs")
	require.True(t, ok)
	assert.Equal(t, "site", docs.opts.WorkingDir)
	assert.Equal(t, 1500*time.Millisecond, docs.opts.Timeout)
	assert.Equal(t, map[string]string{"CI": "true", "GOOS": "darwin"}, docs.opts.Environment)

	// The definition itself is left untouched.
	assert.Equal(t, "darwin", def.Environment["GOOS"])
}

func TestEngine_GroupBarrier(t *testing.T) {
	exec := &fakeExecutor{handle: func(ctx context.Context, image, cmd string, opts container.Options) (*container.Result, error) {
		if cmd == "slow" {
			time.Sleep(80 * time.Millisecond)
		}
		return &container.Result{Output: cmd}, nil
	}}
	e := NewEngine(exec, nil, 0, nil)

	id, err := e.ExecutePipeline(definition(
		step("fast", []string{"fast"}),
		step("slow", []string{"slow"}),
		step("after", []string{"after"}, "fast"),
	), "/tmp/ws", Trigger{Type: TriggerManual})
	require.NoError(t, err)
	run := waitRun(t, e, id)
	require.Equal(t, RunCompleted, run.Status)

	slow, _ := exec.callFor("slow")
	after, _ := exec.callFor("after")
	assert.False(t, after.start.Before(slow.end), "group 2 started before group 1 finished")
}

func TestEngine_MaxConcurrency(t *testing.T) {
	var inFlight, peak int32
	exec := &fakeExecutor{handle: func(ctx context.Context, image, cmd string, opts container.Options) (*container.Result, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &container.Result{}, nil
	}}
	e := NewEngine(exec, nil, 1, nil)

	id, err := e.ExecutePipeline(definition(
		step("a", []string{"a"}),
		step("b", []string{"b"}),
		step("c", []string{"c"}),
	), "/tmp/ws", Trigger{Type: TriggerManual})
	require.NoError(t, err)

	run := waitRun(t, e, id)
	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestEngine_ExecutorPanicFailsStep(t *testing.T) {
	exec := &fakeExecutor{handle: func(ctx context.Context, image, cmd string, opts container.Options) (*container.Result, error) {
		if cmd == "explode" {
			panic("docker went away")
		}
		return &container.Result{}, nil
	}}
	e := NewEngine(exec, nil, 0, nil)

	id, err := e.ExecutePipeline(definition(
		step("ok", []string{"true"}),
		step("bad", []string{"explode"}),
	), "/tmp/ws", Trigger{Type: TriggerManual})
	require.NoError(t, err)

	run := waitRun(t, e, id)
	assert.Equal(t, RunFailed, run.Status)
	ok, _ := run.Step("ok")
	assert.Equal(t, StepCompleted, ok.Status)
	bad, _ := run.Step("bad")
	assert.Equal(t, StepFailed, bad.Status)
	assert.Contains(t, bad.Error, "docker went away")
}

func TestEngine_InvalidDefinitionCreatesNoRun(t *testing.T) {
	e := NewEngine(&fakeExecutor{}, nil, 0, nil)

	tests := []struct {
		name string
		def  *pipeline.Definition
	}{
		{"missing version", &pipeline.Definition{Name: "x", Steps: []pipeline.Step{step("a", []string{"true"})}}},
		{"cycle", definition(step("a", []string{"true"}, "b"), step("b", []string{"true"}, "a"))},
		{"unknown dependency", definition(step("a", []string{"true"}, "ghost"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := e.ExecutePipeline(tt.def, "/tmp/ws", Trigger{Type: TriggerManual})
			require.Error(t, err)
			assert.ErrorIs(t, err, pipeline.ErrInvalidDefinition)
			assert.Empty(t, id)
		})
	}
	assert.Empty(t, e.GetAllRuns())
}

func TestEngine_CancelRun(t *testing.T) {
	t.Run("unknown run", func(t *testing.T) {
		e := NewEngine(&fakeExecutor{}, nil, 0, nil)
		assert.False(t, e.CancelRun("missing"))
	})

	t.Run("completed run is left unchanged", func(t *testing.T) {
		e := NewEngine(&fakeExecutor{}, nil, 0, nil)
		id, err := e.ExecutePipeline(definition(step("a", []string{"true"})), "/tmp/ws", Trigger{Type: TriggerManual})
		require.NoError(t, err)
		before := waitRun(t, e, id)
		require.Equal(t, RunCompleted, before.Status)

		assert.False(t, e.CancelRun(id))
		after, ok := e.GetRun(id)
		require.True(t, ok)
		assert.Equal(t, before, after)
	})

	t.Run("running run becomes cancelled", func(t *testing.T) {
		started := make(chan struct{})
		var once sync.Once
		exec := &fakeExecutor{handle: func(ctx context.Context, image, cmd string, opts container.Options) (*container.Result, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return nil, fmt.Errorf("%w: %v", container.ErrCancelled, ctx.Err())
		}}
		e := NewEngine(exec, nil, 0, nil)
		id, err := e.ExecutePipeline(definition(
			step("long", []string{"sleep 3600"}),
			step("next", []string{"echo next"}, "long"),
		), "/tmp/ws", Trigger{Type: TriggerManual})
		require.NoError(t, err)

		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatal("step never started")
		}

		require.True(t, e.CancelRun(id))
		run, ok := e.GetRun(id)
		require.True(t, ok)
		assert.Equal(t, RunCancelled, run.Status)
		assert.NotNil(t, run.EndTime)

		assert.False(t, e.CancelRun(id), "second cancel must be refused")

		final := waitRun(t, e, id)
		assert.Equal(t, RunCancelled, final.Status)
		assert.Equal(t, run.EndTime, final.EndTime)

		long, _ := final.Step("long")
		assert.Equal(t, StepFailed, long.Status)
		assert.True(t, strings.Contains(long.Error, "cancelled"), long.Error)
		next, _ := final.Step("next")
		assert.Equal(t, StepSkipped, next.Status)
		assert.Equal(t, []string{"sleep 3600"}, exec.commands())
	})
}

func TestEngine_SnapshotsOnlyMoveForward(t *testing.T) {
	exec := &fakeExecutor{handle: func(ctx context.Context, image, cmd string, opts container.Options) (*container.Result, error) {
		time.Sleep(5 * time.Millisecond)
		return &container.Result{Output: cmd}, nil
	}}
	e := NewEngine(exec, nil, 0, nil)
	id, err := e.ExecutePipeline(definition(
		step("a", []string{"a1", "a2"}),
		step("b", []string{"b1"}, "a"),
		step("c", []string{"c1"}, "a"),
		step("d", []string{"d1"}, "b", "c"),
	), "/tmp/ws", Trigger{Type: TriggerManual})
	require.NoError(t, err)

	runRank := func(s RunStatus) int {
		switch s {
		case RunPending:
			return 0
		case RunRunning:
			return 1
		default:
			return 2
		}
	}
	stepRank := func(s StepStatus) int {
		switch s {
		case StepPending:
			return 0
		case StepRunning:
			return 1
		default:
			return 2
		}
	}

	var prev *PipelineRun
	for {
		run, ok := e.GetRun(id)
		require.True(t, ok)
		if prev != nil {
			assert.GreaterOrEqual(t, runRank(run.Status), runRank(prev.Status))
			for i := range run.Steps {
				assert.GreaterOrEqual(t, stepRank(run.Steps[i].Status), stepRank(prev.Steps[i].Status), run.Steps[i].Name)
			}
			assert.GreaterOrEqual(t, len(run.Logs), len(prev.Logs))
		}
		prev = run
		if run.Status.IsTerminal() {
			break
		}
		time.Sleep(time.Millisecond)
	}

	final := waitRun(t, e, id)
	assert.Equal(t, RunCompleted, final.Status)
	for i := 1; i < len(final.Logs); i++ {
		assert.False(t, final.Logs[i].Timestamp.Before(final.Logs[i-1].Timestamp))
	}
	assert.Equal(t, "Pipeline run created", final.Logs[0].Message)
	assert.Equal(t, "Pipeline completed", final.Logs[len(final.Logs)-1].Message)
}

func TestEngine_StatusCallback(t *testing.T) {
	var mu sync.Mutex
	var updates []StatusUpdate
	e := NewEngine(&fakeExecutor{}, nil, 0, func(u *StatusUpdate) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, *u)
	})

	id, err := e.ExecutePipeline(definition(step("a", []string{"true"})), "/tmp/ws", Trigger{Type: TriggerManual})
	require.NoError(t, err)
	waitRun(t, e, id)

	mu.Lock()
	defer mu.Unlock()
	var seen []string
	for _, u := range updates {
		assert.Equal(t, id, u.RunID)
		seen = append(seen, u.Step+":"+u.Status)
	}
	assert.Equal(t, []string{":running", "a:running", "a:completed", ":completed"}, seen)
}

func TestEngine_GetAllRunsInInsertionOrder(t *testing.T) {
	e := NewEngine(&fakeExecutor{}, nil, 0, nil)
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := e.ExecutePipeline(definition(step("a", []string{"true"})), "/tmp/ws", Trigger{Type: TriggerWebhook, Payload: i})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitRun(t, e, id)
	}

	runs := e.GetAllRuns()
	require.Len(t, runs, 3)
	for i, run := range runs {
		assert.Equal(t, ids[i], run.ID)
		assert.Equal(t, i, run.Trigger.Payload)
	}

	_, ok := e.GetRun("nope")
	assert.False(t, ok)
	_, err := e.Wait(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestEngine_EnforcesTimeoutOnContextOnlyExecutor(t *testing.T) {
	// Ignores opts.Timeout and only watches ctx.
	exec := &fakeExecutor{handle: func(ctx context.Context, image, cmd string, opts container.Options) (*container.Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(3 * time.Second):
			return &container.Result{Output: "done\n"}, nil
		}
	}}
	e := NewEngine(exec, nil, 0, nil)

	slow := step("slow", []string{"sleep 60"})
	slow.Timeout = 50
	start := time.Now()
	id, err := e.ExecutePipeline(definition(slow), "/tmp/ws", Trigger{Type: TriggerManual})
	require.NoError(t, err)

	run := waitRun(t, e, id)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, RunFailed, run.Status)
	sr, _ := run.Step("slow")
	assert.Equal(t, StepFailed, sr.Status)
	assert.Contains(t, sr.Error, "Step timed out")
	assert.Nil(t, sr.ExitCode)
}

func TestEngine_PanickingStatusCallback(t *testing.T) {
	e := NewEngine(&fakeExecutor{}, nil, 0, func(u *StatusUpdate) {
		if u.Step != "" && u.Status == string(StepRunning) {
			panic("callback bug")
		}
	})

	id, err := e.ExecutePipeline(definition(
		step("a", []string{"true"}),
		step("b", []string{"true"}, "a"),
	), "/tmp/ws", Trigger{Type: TriggerManual})
	require.NoError(t, err)

	run := waitRun(t, e, id)
	assert.Equal(t, RunCompleted, run.Status)
	for _, sr := range run.Steps {
		assert.Equal(t, StepCompleted, sr.Status, sr.Name)
	}
}

// flakyStore fails every Save once broken is set.
type flakyStore struct {
	*MemoryStore
	broken atomic.Bool
}

func (s *flakyStore) Save(run *PipelineRun) error {
	if s.broken.Load() {
		return errors.New("disk full")
	}
	return s.MemoryStore.Save(run)
}

func TestEngine_CancelRunWhenStoreFails(t *testing.T) {
	started := make(chan struct{})
	interrupted := make(chan struct{})
	var once sync.Once
	exec := &fakeExecutor{handle: func(ctx context.Context, image, cmd string, opts container.Options) (*container.Result, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		close(interrupted)
		return nil, fmt.Errorf("%w: %v", container.ErrCancelled, ctx.Err())
	}}
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	e := NewEngine(exec, store, 0, nil)

	id, err := e.ExecutePipeline(definition(step("long", []string{"sleep 3600"})), "/tmp/ws", Trigger{Type: TriggerManual})
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("step never started")
	}

	store.broken.Store(true)
	assert.True(t, e.CancelRun(id))
	select {
	case <-interrupted:
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight command was not interrupted")
	}
	assert.False(t, e.CancelRun(id))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = e.Wait(ctx, id)
	require.NoError(t, err)
}
