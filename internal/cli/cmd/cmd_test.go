package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Kshitijknk07/CicadaCI/internal/cli/client"
	"github.com/Kshitijknk07/CicadaCI/internal/common"
	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/runner"
	"github.com/Kshitijknk07/CicadaCI/pkg/api"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	root := &cobra.Command{Use: "cicada"}
	RegisterCommands(root)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return out.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	valid := writeFile(t, dir, "ok.yml", `version: "1.0"
name: api
steps:
  - {name: lint, image: golang:1.22, commands: ["go vet ./..."]}
  - {name: build, image: golang:1.22, commands: ["go build ./..."]}
  - {name: test, image: golang:1.22, commands: ["go test ./..."], dependsOn: [lint, build]}
`)
	out := execute(t, "validate", "-f", valid)
	assert.Contains(t, out, "Pipeline api is valid")
	assert.Contains(t, out, "group 1: lint, build")
	assert.Contains(t, out, "group 2: test")

	cyclic := writeFile(t, dir, "cycle.yml", `version: "1.0"
name: api
steps:
  - {name: a, image: alpine, commands: ["true"], dependsOn: [b]}
  - {name: b, image: alpine, commands: ["true"], dependsOn: [a]}
`)
	out = execute(t, "validate", "-f", cyclic)
	assert.Contains(t, out, "Invalid pipeline")
	assert.Contains(t, out, "circular")

	writeFile(t, dir, ".cicadaci.yml", `version: "1.0"
name: from-workspace
steps:
  - {name: only, image: alpine, commands: ["true"]}
`)
	out = execute(t, "validate", "-w", dir)
	assert.Contains(t, out, "Pipeline from-workspace is valid")
}

type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func serve(t *testing.T, routes map[string]any) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := routes[r.Method+" "+r.URL.RequestURI()]
		if !ok {
			_ = json.NewEncoder(w).Encode(envelope{Code: common.RequestInvalid, Message: "request invalid"})
			return
		}
		_, _ = io.Copy(io.Discard, r.Body)
		_ = json.NewEncoder(w).Encode(envelope{Code: common.SuccessCode, Message: "success", Data: data})
	}))
	t.Cleanup(srv.Close)
	client.SetServerURL(srv.URL)
	t.Cleanup(func() { client.SaveToken("") })
}

func TestLoginAndTrigger(t *testing.T) {
	serve(t, map[string]any{
		"POST /login":   api.LoginResponse{Token: "tok", Role: "executor"},
		"POST /trigger": api.TriggerResponse{RunID: "run-42"},
	})

	out := execute(t, "login", "-u", "alice", "-p", "pw")
	assert.Contains(t, out, "role: executor")
	assert.Equal(t, "tok", client.Token())

	out = execute(t, "trigger", "-n", "web", "-b", "main")
	assert.Contains(t, out, "run ID run-42")
}

func TestRunsAndRun(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)
	exit := 2
	serve(t, map[string]any{
		"GET /runs?pipeline=web": []api.RunBrief{{ID: "r1", PipelineName: "web", Status: "failed", TriggerType: "manual", StartTime: start}},
		"GET /runs/r1": runner.PipelineRun{
			ID:           "r1",
			PipelineName: "web",
			Status:       runner.RunFailed,
			Trigger:      runner.Trigger{Type: runner.TriggerManual},
			Steps: []runner.StepRun{
				{Name: "build", Status: runner.StepFailed, StartTime: &start, EndTime: &end, ExitCode: &exit, Output: "boom\n", Error: "Step failed: exit status 2"},
				{Name: "test", Status: runner.StepSkipped},
			},
			Logs: []runner.LogEntry{{Timestamp: start, Level: runner.LevelError, Step: "build", Message: "Step failed"}},
		},
	})

	out := execute(t, "runs", "-n", "web")
	assert.Contains(t, out, "r1")
	assert.Contains(t, out, "failed")

	out = execute(t, "run", "-i", "r1", "--logs", "--output")
	assert.Contains(t, out, "Run r1 of web: failed (manual)")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "Step failed: exit status 2")
	assert.Contains(t, out, "--- build ---\nboom")
	assert.Contains(t, out, "[build] Step failed")

	out = execute(t, "cancel", "-i", "r1")
	assert.Contains(t, out, "Cancel failed")
}
