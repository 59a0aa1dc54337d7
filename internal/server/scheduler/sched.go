package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Kshitijknk07/CicadaCI/internal/common"
	"github.com/Kshitijknk07/CicadaCI/internal/server/dao"
	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/runner"
	"github.com/Kshitijknk07/CicadaCI/pkg/pipeline"
	"github.com/Kshitijknk07/CicadaCI/pkg/queue"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type RunEngine interface {
	ExecutePipeline(def *pipeline.Definition, workspacePath string, trigger runner.Trigger) (string, error)
}

// Enqueuer hands a trigger to the background queue instead of starting it inline.
type Enqueuer interface {
	EnqueuePipeline(ctx context.Context, info queue.PipelineExecuteInfo) error
}

// SchedulerService starts runs for stored pipelines, either on demand or from
// their cron trigger.
type SchedulerService struct {
	cron          *cron.Cron
	engine        RunEngine
	pipelineDao   dao.PipelineDao
	workspaceRoot string
	enqueuer      Enqueuer

	mu            sync.Mutex
	scheduledJobs map[string]cron.EntryID // pipeline name -> cron entry
}

func NewSchedulerService(engine RunEngine, pipelineDao dao.PipelineDao, workspaceRoot string) *SchedulerService {
	return &SchedulerService{
		cron:          cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		engine:        engine,
		pipelineDao:   pipelineDao,
		workspaceRoot: workspaceRoot,
		scheduledJobs: make(map[string]cron.EntryID),
	}
}

// SetEnqueuer routes Dispatch through q. Pass nil to start runs inline.
func (s *SchedulerService) SetEnqueuer(q Enqueuer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueuer = q
}

func (s *SchedulerService) Start() {
	common.GetLogger().Info("starting cron scheduler")
	s.cron.Start()
}

// Stop halts the cron loop; the returned context is done once running jobs returned.
func (s *SchedulerService) Stop() context.Context {
	return s.cron.Stop()
}

// UpsertPipelineSchedule replaces the cron entry of def with its current
// trigger. A definition without a cron trigger just loses its entry.
func (s *SchedulerService) UpsertPipelineSchedule(def *pipeline.Definition) error {
	logger := common.GetLogger().With(zap.String("pipeline", def.Name))

	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.scheduledJobs[def.Name]; exists {
		s.cron.Remove(entryID)
		delete(s.scheduledJobs, def.Name)
		logger.Info("removed existing cron job", zap.Int("entry_id", int(entryID)))
	}

	spec := def.Triggers.Cron
	if spec == "" {
		return nil
	}

	name := def.Name
	entryID, err := s.cron.AddFunc(spec, func() {
		trigger := runner.Trigger{Type: runner.TriggerCron, Payload: map[string]any{"schedule": spec}}
		if _, err := s.Dispatch(context.Background(), name, trigger); err != nil {
			common.GetLogger().Error("cron trigger failed", zap.String("pipeline", name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule pipeline %s: invalid cron %q: %w", def.Name, spec, err)
	}
	s.scheduledJobs[def.Name] = entryID
	logger.Info("scheduled cron job", zap.String("spec", spec), zap.Int("entry_id", int(entryID)))
	return nil
}

// ValidateCron checks spec with the parser the scheduler uses.
func ValidateCron(spec string) error {
	if spec == "" {
		return nil
	}
	_, err := cron.ParseStandard(spec)
	return err
}

// LoadAllSchedules registers the cron trigger of every stored pipeline.
// Pipelines whose stored definition no longer parses are logged and skipped.
func (s *SchedulerService) LoadAllSchedules(ctx context.Context) error {
	pipelineVersions, err := s.pipelineDao.GetAllPipelineVersions(ctx)
	if err != nil {
		return err
	}

	for _, pipelineVersion := range pipelineVersions {
		def, err := pipeline.Parse([]byte(pipelineVersion.Config))
		if err != nil {
			common.GetLogger().Warn("skip schedule of invalid pipeline", zap.Uint("pipeline_id", pipelineVersion.PipelineID), zap.Error(err))
			continue
		}
		if err := s.UpsertPipelineSchedule(def); err != nil {
			common.GetLogger().Error("fail to schedule pipeline", zap.String("pipeline", def.Name), zap.Error(err))
		}
	}
	return nil
}

// TriggerPipeline starts the latest stored version of name right away.
func (s *SchedulerService) TriggerPipeline(ctx context.Context, name string, trigger runner.Trigger) (string, error) {
	_, pipelineVersion, err := s.pipelineDao.GetPipelineByName(ctx, name)
	if err != nil {
		return "", err
	}

	def, err := pipeline.Parse([]byte(pipelineVersion.Config))
	if err != nil {
		return "", common.WrapErrNo(common.ConfigInvalid, err)
	}

	workspace, err := s.workspaceFor(name)
	if err != nil {
		return "", err
	}

	runID, err := s.engine.ExecutePipeline(def, workspace, trigger)
	if err != nil {
		return "", common.WrapErrNo(common.PipelineStartFail, err)
	}
	common.GetLogger().Info("pipeline triggered",
		zap.String("pipeline", name),
		zap.String("run_id", runID),
		zap.String("trigger", trigger.Type),
		zap.Int("version", pipelineVersion.Version))
	return runID, nil
}

// Dispatch enqueues the trigger when a queue is configured and starts it
// inline otherwise. The run id is empty for queued triggers.
func (s *SchedulerService) Dispatch(ctx context.Context, name string, trigger runner.Trigger) (string, error) {
	s.mu.Lock()
	q := s.enqueuer
	s.mu.Unlock()

	if q == nil {
		return s.TriggerPipeline(ctx, name, trigger)
	}

	info := queue.PipelineExecuteInfo{PipelineName: name, TriggerType: trigger.Type}
	if trigger.Payload != nil {
		payload, err := json.Marshal(trigger.Payload)
		if err != nil {
			return "", fmt.Errorf("encode trigger payload: %w", err)
		}
		info.Payload = payload
	}
	if err := q.EnqueuePipeline(ctx, info); err != nil {
		return "", common.WrapErrNo(common.PipelineStartFail, err)
	}
	return "", nil
}

func (s *SchedulerService) workspaceFor(name string) (string, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return "", fmt.Errorf("pipeline name %q cannot be used as a workspace directory", name)
	}
	workspace, err := filepath.Abs(filepath.Join(s.workspaceRoot, name))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return "", fmt.Errorf("prepare workspace: %w", err)
	}
	return workspace, nil
}
