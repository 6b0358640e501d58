// Package worker drains the analysis queue: claim a task, serve it from
// the result cache when possible, otherwise fetch imagery, run the engine
// or the summarizer, and write exactly one terminal state.
package worker

import (
	"context"
	"runtime/debug"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/mohans/geodiff/internal/model"
	"github.com/mohans/geodiff/internal/queue"
	"github.com/mohans/geodiff/internal/task"
)

// Processor runs the bounded worker pool against the shared queue.
type Processor struct {
	server *asynq.Server
	store  task.Store
	log    *zap.Logger
}

type ProcessorConfig struct {
	Concurrency int
	Queue       string
}

func NewProcessor(redisOpt asynq.RedisClientOpt, store task.Store, cfg ProcessorConfig, log *zap.Logger) *Processor {
	con := cfg.Concurrency
	if con <= 0 {
		con = 10
	}
	q := cfg.Queue
	if q == "" {
		q = "default"
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: con,
		Queues:      map[string]int{q: 1},
	})
	return &Processor{server: server, store: store, log: log.Named("worker")}
}

// Start blocks serving the queue until Shutdown.
func (p *Processor) Start(h *Handler) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeAnalysisRun, h.HandleAnalysis)
	return p.server.Run(p.recoverMiddleware(mux))
}

func (p *Processor) Shutdown() { p.server.Shutdown() }

// recoverMiddleware converts a panicking handler into a failed task instead
// of letting one bad task take down the pool. The asynq task id is the
// store id (set at enqueue), so the failure lands on the right record.
func (p *Processor) recoverMiddleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			p.log.Error("task handler panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			if id, ok := asynq.GetTaskID(ctx); ok {
				terr := model.NewError(model.KindInternal, "an unexpected server error occurred")
				if ferr := p.store.Fail(ctx, id, terr); ferr != nil {
					p.log.Error("could not fail panicked task", zap.String("task_id", id), zap.Error(ferr))
				}
			}
			err = nil
		}()
		return next.ProcessTask(ctx, t)
	})
}
