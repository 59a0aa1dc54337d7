package handler

import (
	"github.com/Kshitijknk07/CicadaCI/internal/common"
	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/runner"
	"github.com/Kshitijknk07/CicadaCI/pkg/api"
	"github.com/gin-gonic/gin"
)

// ListRuns lists runs oldest first, optionally only those of ?pipeline=.
func ListRuns(c *gin.Context) {
	name := c.Query("pipeline")
	runs := runService.GetAllRuns()

	briefs := make([]api.RunBrief, 0, len(runs))
	for _, run := range runs {
		if name != "" && run.PipelineName != name {
			continue
		}
		briefs = append(briefs, runBrief(run))
	}
	common.Success(c, briefs)
}

func GetRun(c *gin.Context) {
	run, ok := runService.GetRun(c.Param("id"))
	if !ok {
		common.Error(c, common.NewErrNo(common.RunNotExists))
		return
	}
	common.Success(c, run)
}

func CancelRun(c *gin.Context) {
	id := c.Param("id")
	if _, ok := runService.GetRun(id); !ok {
		common.Error(c, common.NewErrNo(common.RunNotExists))
		return
	}
	if !runService.CancelRun(id) {
		common.Error(c, common.NewErrNo(common.RunCancelFail))
		return
	}

	run, _ := runService.GetRun(id)
	common.Success(c, runBrief(run))
}

func runBrief(run *runner.PipelineRun) api.RunBrief {
	return api.RunBrief{
		ID:           run.ID,
		PipelineName: run.PipelineName,
		Status:       string(run.Status),
		TriggerType:  run.Trigger.Type,
		StartTime:    run.StartTime,
		EndTime:      run.EndTime,
	}
}
