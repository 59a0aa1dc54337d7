package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kshitijknk07/CicadaCI/internal/common"
	"github.com/Kshitijknk07/CicadaCI/internal/server/dao"
	"github.com/Kshitijknk07/CicadaCI/internal/server/handler"
	"github.com/Kshitijknk07/CicadaCI/internal/server/model"
	"github.com/Kshitijknk07/CicadaCI/internal/server/queue"
	"github.com/Kshitijknk07/CicadaCI/internal/server/scheduler"
	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/docker"
	"github.com/Kshitijknk07/CicadaCI/internal/task_executor/runner"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	common.InitConf()
	config := common.GetConfig()
	common.InitLog(config)
	logger := common.GetLogger()
	defer logger.Sync()

	if config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := dao.Init(config); err != nil {
		logger.Fatal("fail to init database", zap.Error(err))
	}
	if config.AdminPassword != "" {
		if _, err := dao.NewUserDAO().EnsureUser(context.Background(), config.AdminUser, config.AdminPassword, model.RoleExecutor); err != nil {
			logger.Fatal("fail to ensure admin user", zap.Error(err))
		}
	}

	dockerClient, err := docker.NewDockerClient(config.DockerHost)
	if err != nil {
		logger.Fatal("fail to create docker client", zap.Error(err))
	}
	defer dockerClient.Close()

	engine := runner.NewEngine(dockerClient, runner.NewMemoryStore(), config.MaxConcurrency, func(u *runner.StatusUpdate) {
		fields := []zap.Field{zap.String("run_id", u.RunID), zap.String("pipeline", u.PipelineName), zap.String("status", u.Status)}
		if u.Step != "" {
			fields = append(fields, zap.String("step", u.Step))
		}
		if u.Error != "" {
			fields = append(fields, zap.String("error", u.Error))
		}
		logger.Debug("status update", fields...)
	})

	schedulerService := scheduler.NewSchedulerService(engine, dao.NewPipelineDao(), config.WorkspaceRoot)

	var worker *queue.Worker
	if config.RedisAddr != "" {
		redisOpt := queue.RedisOpt(config)
		queueClient := queue.NewClient(redisOpt)
		defer queueClient.Close()
		schedulerService.SetEnqueuer(queueClient)

		worker = queue.NewWorker(redisOpt, config.MaxConcurrency, queue.NewHandler(schedulerService))
		if err := worker.Start(); err != nil {
			logger.Fatal("fail to start queue worker", zap.Error(err))
		}
		logger.Info("trigger queue enabled", zap.String("redis", config.RedisAddr))
	}

	if err := schedulerService.LoadAllSchedules(context.Background()); err != nil {
		logger.Error("fail to load schedules", zap.Error(err))
	}
	schedulerService.Start()

	handler.Setup(engine, schedulerService)
	srv := &http.Server{
		Addr:    config.ListenAddr,
		Handler: handler.NewRouter(),
	}

	go func() {
		logger.Info("server listening", zap.String("addr", config.ListenAddr), zap.Bool("tls", config.CertPath != ""))
		var err error
		if config.CertPath != "" && config.KeyPath != "" {
			err = srv.ListenAndServeTLS(config.CertPath, config.KeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("fail to shutdown http server", zap.Error(err))
	}
	<-schedulerService.Stop().Done()
	if worker != nil {
		worker.Shutdown()
	}
	for _, run := range engine.GetAllRuns() {
		if !run.Status.IsTerminal() {
			engine.CancelRun(run.ID)
		}
	}
}
