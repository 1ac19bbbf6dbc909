package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Client wraps the Asynq client for enqueueing build requests.
type Client struct {
	client *asynq.Client
	logger *zap.Logger
}

// NewClient creates a task client.
func NewClient(redisAddr string, logger *zap.Logger) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
		logger: logger,
	}
}

// Close closes the task client.
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueBuildRequest enqueues one pipeline run. Builds are not retried
// automatically: the pipeline's own stamping makes a manual re-run cheap, and
// a failed build needs operator attention first.
func (c *Client) EnqueueBuildRequest(payload BuildRequestPayload) (*asynq.TaskInfo, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal build request payload: %w", err)
	}

	task := asynq.NewTask(TypeBuildRequest, payloadBytes)
	opts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.Timeout(45 * time.Minute),
		asynq.Queue(QueueBuilds),
	}

	info, err := c.client.Enqueue(task, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue build request: %w", err)
	}

	c.logger.Info("Build request enqueued",
		zap.String("task_id", info.ID),
		zap.String("build_id", payload.BuildID),
		zap.String("service", payload.Service),
	)
	return info, nil
}
