// Package worker 运行 asynq Worker Server，承载周期性的维护任务。
package worker

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"my-room-spaces/internal/tasks"
)

// WorkerServer 封装 asynq Server 的启动与关闭。
type WorkerServer struct {
	server       *asynq.Server
	chatHandler  *ChatPruneHandler
	sweepHandler *SessionSweepHandler
	log          *logrus.Entry
}

// NewWorkerServer 创建实例。
func NewWorkerServer(redisOpt asynq.RedisClientOpt, chatHandler *ChatPruneHandler, sweepHandler *SessionSweepHandler) *WorkerServer {
	logEntry := logrus.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
		},
	)

	return &WorkerServer{
		server:       server,
		chatHandler:  chatHandler,
		sweepHandler: sweepHandler,
		log:          logEntry,
	}
}

// Start 运行 Worker Server，应在单独的 goroutine 中调用。
func (ws *WorkerServer) Start() {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeChatPrune, ws.chatHandler.ProcessTask)
	mux.HandleFunc(tasks.TypeSessionSweep, ws.sweepHandler.ProcessTask)

	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(mux); err != nil {
		if !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Fatalf("Could not run worker server: %v", err)
		}
		ws.log.Info("Worker server stopped.")
	}
}

// Shutdown 优雅关闭 Worker Server。
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
