// Package queue moves pipeline triggers through Redis with asynq so webhook
// and cron bursts do not start runs on the request path.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Kshitijknk07/CicadaCI/internal/common"
	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/runner"
	pkgqueue "github.com/Kshitijknk07/CicadaCI/pkg/queue"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	queueName  = "pipelines"
	maxRetry   = 3
	taskExpiry = 30 * time.Minute
)

type PipelineTrigger interface {
	TriggerPipeline(ctx context.Context, name string, trigger runner.Trigger) (string, error)
}

func RedisOpt(cfg common.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
}

type Client struct {
	client *asynq.Client
}

func NewClient(opt asynq.RedisConnOpt) *Client {
	return &Client{client: asynq.NewClient(opt)}
}

func (c *Client) EnqueuePipeline(ctx context.Context, info pkgqueue.PipelineExecuteInfo) error {
	task, err := pkgqueue.NewPipelineExecuteTask(info,
		asynq.Queue(queueName),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(time.Minute),
		asynq.Deadline(time.Now().Add(taskExpiry)))
	if err != nil {
		return err
	}
	taskInfo, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", info.PipelineName, err)
	}
	common.GetLogger().Info("pipeline trigger enqueued",
		zap.String("pipeline", info.PipelineName),
		zap.String("task_id", taskInfo.ID),
		zap.String("trigger", info.TriggerType))
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Handler starts the run described by a pipeline:execute task.
type Handler struct {
	trigger PipelineTrigger
}

func NewHandler(trigger PipelineTrigger) *Handler {
	return &Handler{trigger: trigger}
}

func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	info, err := pkgqueue.ParsePipelineExecuteInfo(task.Payload())
	if err != nil {
		// A malformed payload never gets better on retry.
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	trigger := runner.Trigger{Type: info.TriggerType}
	if len(info.Payload) > 0 {
		var payload any
		if err := json.Unmarshal(info.Payload, &payload); err != nil {
			return fmt.Errorf("decode trigger payload: %v: %w", err, asynq.SkipRetry)
		}
		trigger.Payload = payload
	}

	runID, err := h.trigger.TriggerPipeline(ctx, info.PipelineName, trigger)
	if err != nil {
		if isPermanent(err) {
			return fmt.Errorf("trigger %s: %v: %w", info.PipelineName, err, asynq.SkipRetry)
		}
		return fmt.Errorf("trigger %s: %w", info.PipelineName, err)
	}
	common.GetLogger().Info("queued pipeline started", zap.String("pipeline", info.PipelineName), zap.String("run_id", runID))
	return nil
}

// isPermanent reports errors that a retry cannot fix.
func isPermanent(err error) bool {
	switch common.ConvertErr(err).ErrCode {
	case common.PipelineNotExists, common.ConfigInvalid, common.PipelineStartFail:
		return true
	}
	return false
}

// Worker consumes pipeline:execute tasks in-process.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewWorker(opt asynq.RedisConnOpt, concurrency int, handler *Handler) *Worker {
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueName: 1},
		Logger:      zapAdapter{common.GetLogger().Sugar()},
	})
	mux := asynq.NewServeMux()
	mux.Handle(pkgqueue.PIPELINE_EXECUTE, handler)
	return &Worker{server: server, mux: mux}
}

func (w *Worker) Start() error {
	return w.server.Start(w.mux)
}

func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

// zapAdapter satisfies asynq.Logger.
type zapAdapter struct {
	l *zap.SugaredLogger
}

func (a zapAdapter) Debug(args ...interface{}) { a.l.Debug(args...) }
func (a zapAdapter) Info(args ...interface{})  { a.l.Info(args...) }
func (a zapAdapter) Warn(args ...interface{})  { a.l.Warn(args...) }
func (a zapAdapter) Error(args ...interface{}) { a.l.Error(args...) }
func (a zapAdapter) Fatal(args ...interface{}) { a.l.Fatal(args...) }
