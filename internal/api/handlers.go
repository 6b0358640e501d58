package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mohans/geodiff/internal/model"
	"github.com/mohans/geodiff/internal/queue"
	"github.com/mohans/geodiff/internal/task"
)

// Handlers contains the submission and polling HTTP handlers.
type Handlers struct {
	store    task.Store
	enqueuer queue.Enqueuer
	log      *zap.Logger
}

func NewHandlers(store task.Store, enqueuer queue.Enqueuer, log *zap.Logger) *Handlers {
	return &Handlers{store: store, enqueuer: enqueuer, log: log.Named("api")}
}

// SubmitResponse acknowledges a submission.
type SubmitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// StatusResponse reports current task state; result and error are present
// only in the matching terminal state.
type StatusResponse struct {
	TaskID string        `json:"task_id"`
	Status string        `json:"status"`
	Result *model.Result `json:"result,omitempty"`
	Error  *model.Error  `json:"error,omitempty"`
}

// SubmitAnalysisHandler handles POST /api/analysis. Validation failures are
// rejected synchronously; a task exists only for well-formed requests.
func (h *Handlers) SubmitAnalysisHandler(c *gin.Context) {
	var req model.AnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": model.NewError(model.KindValidation, "malformed request body: %v", err),
		})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": model.Classify(err)})
		return
	}

	id := uuid.NewString()
	t, err := h.store.Create(c.Request.Context(), id, req)
	if err != nil {
		h.log.Error("task create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create task"})
		return
	}

	if err := h.enqueuer.EnqueueAnalysis(c.Request.Context(), id, req); err != nil {
		h.log.Error("enqueue failed", zap.String("task_id", id), zap.Error(err))
		// The task was created but will never be picked up; abandon it so
		// pollers are not left with an eternally queued id.
		terr := model.NewError(model.KindTransient, "the job queue is unavailable, please retry")
		if ferr := h.store.Fail(c.Request.Context(), id, terr); ferr != nil {
			h.log.Error("could not abandon unenqueued task", zap.String("task_id", id), zap.Error(ferr))
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": terr})
		return
	}

	h.log.Info("task submitted", zap.String("task_id", id), zap.String("kind", string(req.Kind)))
	c.JSON(http.StatusAccepted, SubmitResponse{TaskID: t.ID, Status: string(t.Status)})
}

// GetTaskStatusHandler handles GET /api/analysis/status/:taskId.
func (h *Handlers) GetTaskStatusHandler(c *gin.Context) {
	taskID := c.Param("taskId")
	t, err := h.store.Get(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		h.log.Error("task lookup failed", zap.String("task_id", taskID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up task"})
		return
	}

	resp := StatusResponse{TaskID: t.ID, Status: string(t.Status)}
	switch t.Status {
	case model.StatusCompleted:
		resp.Result = t.Result
	case model.StatusFailed:
		resp.Error = t.Err
	}
	c.JSON(http.StatusOK, resp)
}
