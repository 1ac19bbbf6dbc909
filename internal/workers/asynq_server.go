package workers

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"slugforge/internal/tasks"
)

// AsynqServer wraps the Asynq server that drains the build queue.
type AsynqServer struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	logger  *zap.Logger
	handler *BuildHandler
}

// NewAsynqServer creates a build queue server.
func NewAsynqServer(redisAddr string, concurrency int, handler *BuildHandler, logger *zap.Logger) *AsynqServer {
	config := asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			tasks.QueueBuilds: 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("Task processing error",
				zap.String("task_type", task.Type()),
				zap.Error(err),
			)
		}),
	}

	server := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, config)
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeBuildRequest, handler.HandleBuildRequest)

	return &AsynqServer{
		server:  server,
		mux:     mux,
		logger:  logger,
		handler: handler,
	}
}

// Start starts the server and blocks until the context is cancelled.
func (s *AsynqServer) Start(ctx context.Context) error {
	s.logger.Info("Starting build queue server")

	if err := s.server.Start(s.mux); err != nil {
		return fmt.Errorf("failed to start queue server: %w", err)
	}

	<-ctx.Done()
	return ctx.Err()
}

// Shutdown gracefully stops the server, waiting for in-flight builds.
func (s *AsynqServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping build queue server")
	s.server.Shutdown()
	return nil
}
