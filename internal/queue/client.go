package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	timeout  time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string, maxRetry int, timeout time.Duration) *Client {
	return &Client{
		client:   asynq.NewClient(redisOpt),
		queue:    queueName,
		maxRetry: maxRetry,
		timeout:  timeout,
	}
}

func (c *Client) EnqueueProcessImage(ctx context.Context, payload ProcessImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewProcessImageTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(c.timeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
