package handler

import (
	"github.com/Kshitijknk07/CicadaCI/internal/server/middleware"
	"github.com/Kshitijknk07/CicadaCI/internal/server/model"
	"github.com/gin-gonic/gin"
)

func NewRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/login", UserLogin)
	r.POST("/webhook", Webhook)

	auth := r.Group("/", middleware.JWTAuthMiddleware())
	write := middleware.RequireRole(model.RoleExecutor)

	auth.GET("/pipeline", ListPipelines)
	auth.GET("/pipeline/:name", GetPipelineDetail)
	auth.POST("/pipeline/create", write, CreatePipeline)
	auth.POST("/pipeline/update/:name", write, UpdatePipeline)
	auth.POST("/trigger", write, TriggerPipeline)

	auth.GET("/runs", ListRuns)
	auth.GET("/runs/:id", GetRun)
	auth.POST("/runs/:id/cancel", write, CancelRun)
	return r
}
