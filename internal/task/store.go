// Package task tracks the lifecycle of submitted analysis jobs.
//
// All mutation goes through the narrow Store API; no other component reads
// or writes task state directly. Transitions for one id are atomic and
// strictly forward: queued -> processing -> completed|failed.
package task

import (
	"context"
	"errors"

	"github.com/mohans/geodiff/internal/model"
)

// ErrNotFound is returned by Get and the transition methods for unknown ids.
var ErrNotFound = errors.New("task not found")

// ErrBadTransition is returned when a transition is attempted from the
// wrong state (completing a task that is not processing, claiming a task
// twice). That is a programming error in the caller and is surfaced, never
// silently ignored.
var ErrBadTransition = errors.New("invalid task transition")

// Store abstracts task lifecycle persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create registers a new queued task under the given id.
	Create(ctx context.Context, id string, req model.AnalysisRequest) (*model.Task, error)
	// Start claims a queued task, flipping it to processing. At most one
	// caller can win the claim for a given id.
	Start(ctx context.Context, id string) (*model.Task, error)
	// Complete moves a processing task to its completed terminal state.
	Complete(ctx context.Context, id string, res *model.Result) error
	// Fail moves a queued or processing task to its failed terminal state.
	// Queued is permitted only for the submission path abandoning a task it
	// could not enqueue.
	Fail(ctx context.Context, id string, terr *model.Error) error
	// Cancel fails a processing task with kind=cancelled. Hook for future
	// client-driven cancellation; nothing calls it from the HTTP surface yet.
	Cancel(ctx context.Context, id string) error
	// Get returns a snapshot of the task, or ErrNotFound.
	Get(ctx context.Context, id string) (*model.Task, error)
}
