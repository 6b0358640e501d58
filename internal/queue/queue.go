// Package queue enqueues analysis jobs onto the shared asynq queue.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mohans/geodiff/internal/model"
)

// TypeAnalysisRun is the asynq task type for one analysis attempt.
const TypeAnalysisRun = "analysis:run"

// Payload is the JSON body carried by the queue. The task id doubles as
// the asynq task id, so workers and middleware see the same identifier the
// store tracks.
type Payload struct {
	TaskID  string                `json:"task_id"`
	Request model.AnalysisRequest `json:"request"`
}

// Enqueuer is the submission path's view of the queue.
type Enqueuer interface {
	EnqueueAnalysis(ctx context.Context, taskID string, req model.AnalysisRequest) error
}

type ClientOptions struct {
	Queue string
	// TaskTimeout bounds one processing attempt end to end.
	TaskTimeout time.Duration
}

// Client wraps asynq.Client. Retries are disabled: a failed task stays
// failed, and clients resubmit, which is a fresh task and a fresh
// fingerprint lookup. Hidden automatic retries against billed, rate-limited
// upstreams are a cost hazard.
type Client struct {
	client  *asynq.Client
	queue   string
	timeout time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, opts ClientOptions) *Client {
	q := opts.Queue
	if q == "" {
		q = "default"
	}
	timeout := opts.TaskTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Client{
		client:  asynq.NewClient(redisOpt),
		queue:   q,
		timeout: timeout,
	}
}

func (c *Client) EnqueueAnalysis(ctx context.Context, taskID string, req model.AnalysisRequest) error {
	payload, err := json.Marshal(Payload{TaskID: taskID, Request: req})
	if err != nil {
		return err
	}
	t := asynq.NewTask(TypeAnalysisRun, payload)
	_, err = c.client.EnqueueContext(ctx, t,
		asynq.Queue(c.queue),
		asynq.TaskID(taskID),
		asynq.MaxRetry(0),
		asynq.Timeout(c.timeout))
	return err
}

func (c *Client) Close() error {
	return c.client.Close()
}
