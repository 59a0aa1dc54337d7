package handler

import (
	"fmt"
	"strconv"

	"github.com/Kshitijknk07/CicadaCI/internal/common"
	"github.com/Kshitijknk07/CicadaCI/internal/server/dao"
	"github.com/Kshitijknk07/CicadaCI/internal/server/middleware"
	"github.com/Kshitijknk07/CicadaCI/internal/server/model"
	"github.com/Kshitijknk07/CicadaCI/internal/server/scheduler"
	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/runner"
	"github.com/Kshitijknk07/CicadaCI/pkg/api"
	"github.com/Kshitijknk07/CicadaCI/pkg/pipeline"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// parseDefinition decodes and validates an uploaded definition. Decode errors
// and rule violations map to different codes.
func parseDefinition(data []byte) (*pipeline.Definition, error) {
	def, err := pipeline.Decode(data)
	if err != nil {
		return nil, common.WrapErrNo(common.YamlInvalid, err)
	}
	if err := pipeline.Validate(def); err != nil {
		return nil, common.WrapErrNo(common.ConfigInvalid, err)
	}
	if err := scheduler.ValidateCron(def.Triggers.Cron); err != nil {
		return nil, common.WrapErrNo(common.ConfigInvalid, err)
	}
	return def, nil
}

func CreatePipeline(c *gin.Context) {
	yamlContent, err := c.GetRawData()
	if err != nil {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}

	def, err := parseDefinition(yamlContent)
	if err != nil {
		common.Error(c, err)
		return
	}

	pipelineModel := &model.Pipeline{
		Name:        def.Name,
		Description: def.Description,
	}
	err = dao.NewPipelineDao().Create(c, pipelineModel, &model.PipelineVersion{Config: string(yamlContent)})
	if err != nil {
		common.Error(c, err)
		return
	}

	if err := pipelineTrigger.UpsertPipelineSchedule(def); err != nil {
		common.GetLogger().Error("fail to schedule pipeline", zap.String("pipeline", def.Name), zap.Error(err))
	}
	common.Success(c, api.PipelineBrief{
		ID:            pipelineModel.ID,
		Name:          pipelineModel.Name,
		Description:   pipelineModel.Description,
		LatestVersion: pipelineModel.LatestVersion,
	})
}

func UpdatePipeline(c *gin.Context) {
	name := c.Param("name")
	yamlContent, err := c.GetRawData()
	if err != nil {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}

	def, err := parseDefinition(yamlContent)
	if err != nil {
		common.Error(c, err)
		return
	}
	if def.Name != name {
		common.Error(c, common.WrapErrNo(common.RequestInvalid, fmt.Errorf("document names pipeline %q, not %q", def.Name, name)))
		return
	}

	pipelineModel := &model.Pipeline{Description: def.Description}
	err = dao.NewPipelineDao().Update(c, name, pipelineModel, &model.PipelineVersion{Config: string(yamlContent)})
	if err != nil {
		common.Error(c, err)
		return
	}

	if err := pipelineTrigger.UpsertPipelineSchedule(def); err != nil {
		common.GetLogger().Error("fail to schedule pipeline", zap.String("pipeline", def.Name), zap.Error(err))
	}
	common.Success(c, api.PipelineBrief{
		ID:            pipelineModel.ID,
		Name:          pipelineModel.Name,
		Description:   pipelineModel.Description,
		LatestVersion: pipelineModel.LatestVersion,
	})
}

func ListPipelines(c *gin.Context) {
	pipelines, err := dao.NewPipelineDao().GetAllPipelines(c)
	if err != nil {
		common.Error(c, err)
		return
	}

	briefs := make([]api.PipelineBrief, 0, len(pipelines))
	for _, p := range pipelines {
		briefs = append(briefs, api.PipelineBrief{
			ID:            p.ID,
			Name:          p.Name,
			Description:   p.Description,
			LatestVersion: p.LatestVersion,
		})
	}
	common.Success(c, briefs)
}

// GetPipelineDetail returns the latest definition, or the one named by ?version=.
func GetPipelineDetail(c *gin.Context) {
	name := c.Param("name")
	pipelineDao := dao.NewPipelineDao()

	p, version, err := pipelineDao.GetPipelineByName(c, name)
	if err != nil {
		common.Error(c, err)
		return
	}

	if v := c.Query("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			common.Error(c, common.NewErrNo(common.RequestInvalid))
			return
		}
		version, err = pipelineDao.GetPipelineVersion(c, name, n)
		if err != nil {
			common.Error(c, err)
			return
		}
	}

	common.Success(c, api.PipelineDetail{
		Name:        p.Name,
		Description: p.Description,
		Version:     version.Version,
		Config:      version.Config,
	})
}

func TriggerPipeline(c *gin.Context) {
	var req api.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}

	trigger := runner.Trigger{
		Type: runner.TriggerManual,
		Payload: map[string]any{
			"branch": req.Branch,
			"role":   middleware.UserRole(c),
		},
	}
	runID, err := pipelineTrigger.TriggerPipeline(c, req.PipelineName, trigger)
	if err != nil {
		common.Error(c, err)
		return
	}
	common.Success(c, api.TriggerResponse{RunID: runID})
}
