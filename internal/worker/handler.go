package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/mohans/geodiff/internal/cache"
	"github.com/mohans/geodiff/internal/engine"
	"github.com/mohans/geodiff/internal/model"
	"github.com/mohans/geodiff/internal/queue"
	"github.com/mohans/geodiff/internal/task"
)

// Imagery is the worker's view of the satellite provider.
type Imagery interface {
	FetchIndexRaster(ctx context.Context, bbox model.BoundingBox, date string, kind model.AnalysisKind) (*engine.Raster, error)
	FetchTrueColor(ctx context.Context, bbox model.BoundingBox, date string) ([]byte, error)
}

// Describer is the worker's view of the summarization model.
type Describer interface {
	Describe(ctx context.Context, images [][]byte) (string, error)
}

// Handler processes one analysis task per invocation. It owns every state
// transition after the claim: exactly one of Complete or Fail per task,
// never a retry.
type Handler struct {
	store     task.Store
	cache     cache.Cache
	imagery   Imagery
	describer Describer
	cacheTTL  time.Duration
	log       *zap.Logger
}

func NewHandler(store task.Store, c cache.Cache, img Imagery, d Describer, cacheTTL time.Duration, log *zap.Logger) *Handler {
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Handler{
		store:     store,
		cache:     c,
		imagery:   img,
		describer: d,
		cacheTTL:  cacheTTL,
		log:       log.Named("handler"),
	}
}

func (h *Handler) HandleAnalysis(ctx context.Context, t *asynq.Task) error {
	var p queue.Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.log.Error("malformed task payload", zap.Error(err))
		return err
	}
	log := h.log.With(zap.String("task_id", p.TaskID), zap.String("kind", string(p.Request.Kind)))

	if _, err := h.store.Start(ctx, p.TaskID); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			// Evicted or never created; nothing to update.
			log.Warn("claimed task no longer exists")
			return nil
		}
		log.Error("could not claim task", zap.Error(err))
		return err
	}
	start := time.Now()

	fp := cache.Fingerprint(p.Request)
	if res, hit, err := h.cache.Lookup(ctx, fp); err != nil {
		// Cache trouble is not a task failure; fall through to computing.
		log.Warn("cache lookup failed", zap.Error(err))
	} else if hit {
		log.Info("cache hit", zap.String("fingerprint", fp))
		return h.finish(ctx, log, p.TaskID, res, nil)
	}

	res, err := h.run(ctx, p.Request)
	if err != nil {
		log.Warn("analysis failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return h.finish(ctx, log, p.TaskID, nil, model.Classify(err))
	}

	if err := h.cache.Store(ctx, fp, res, h.cacheTTL); err != nil {
		log.Warn("cache store failed", zap.Error(err))
	}
	log.Info("analysis completed", zap.Duration("duration", time.Since(start)))
	return h.finish(ctx, log, p.TaskID, res, nil)
}

// finish writes the single terminal transition. A transition rejection here
// is a programming error; it is logged loudly and returned so it shows up
// in queue diagnostics rather than disappearing.
func (h *Handler) finish(ctx context.Context, log *zap.Logger, id string, res *model.Result, terr *model.Error) error {
	var err error
	if terr != nil {
		err = h.store.Fail(ctx, id, terr)
	} else {
		err = h.store.Complete(ctx, id, res)
	}
	if err != nil {
		log.Error("terminal transition rejected", zap.Error(err))
		return err
	}
	return nil
}

func (h *Handler) run(ctx context.Context, req model.AnalysisRequest) (*model.Result, error) {
	switch req.Kind {
	case model.KindNDVI, model.KindNDWI:
		return h.runIndex(ctx, req)
	case model.KindImagery:
		return h.runImagery(ctx, req)
	default:
		return nil, model.NewError(model.KindInternal, "unknown analysis kind %q", req.Kind)
	}
}

func (h *Handler) runIndex(ctx context.Context, req model.AnalysisRequest) (*model.Result, error) {
	from, err := h.imagery.FetchIndexRaster(ctx, req.BBox, req.FromDate, req.Kind)
	if err != nil {
		return nil, err
	}
	to := from
	if !req.SingleImage() {
		if to, err = h.imagery.FetchIndexRaster(ctx, req.BBox, req.ToDate, req.Kind); err != nil {
			return nil, err
		}
	}
	return engine.Analyze(req, from, to)
}

func (h *Handler) runImagery(ctx context.Context, req model.AnalysisRequest) (*model.Result, error) {
	fromScene, err := h.imagery.FetchTrueColor(ctx, req.BBox, req.FromDate)
	if err != nil {
		return nil, err
	}
	scenes := [][]byte{fromScene}
	var toScene []byte
	if !req.SingleImage() {
		if toScene, err = h.imagery.FetchTrueColor(ctx, req.BBox, req.ToDate); err != nil {
			return nil, err
		}
		scenes = append(scenes, toScene)
	}

	summary, err := h.describer.Describe(ctx, scenes)
	if err != nil {
		return nil, err
	}

	res := &model.Result{
		FromDate:  req.FromDate,
		ToDate:    req.ToDate,
		Kind:      strings.ToUpper(string(req.Kind)),
		ImageFrom: jpegDataURL(fromScene),
		Summary:   summary,
	}
	if toScene != nil {
		res.ImageTo = jpegDataURL(toScene)
	}
	return res, nil
}

func jpegDataURL(data []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
}
