// Package engine computes index statistics and preview images from raster
// samples. It performs no I/O; rasters come from the imagery client.
package engine

import (
	"math"
	"strings"

	"github.com/mohans/geodiff/internal/model"
)

// epsilon guards the change-percentage denominator. Index means this close
// to zero would blow the percentage up to meaningless magnitudes.
const epsilon = 1e-6

// Raster is a single-band grid of index values. No-data pixels (cloud mask,
// sensor gap) are NaN.
type Raster struct {
	Width  int
	Height int
	Pixels []float64
}

// Mean returns the spatial mean ignoring no-data pixels. ok is false when
// every pixel is no-data and the mean is undefined.
func (r *Raster) Mean() (mean float64, ok bool) {
	var sum float64
	var n int
	for _, v := range r.Pixels {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// ChangePercentage applies the asymmetric-denominator rule: percent change
// relative to |from|, or 0 when |from| <= epsilon. Not symmetric under
// swapping from/to; that asymmetry is part of the public contract.
func ChangePercentage(from, to float64) float64 {
	if math.Abs(from) <= epsilon {
		return 0
	}
	return (to - from) / math.Abs(from) * 100
}

// Round to a fixed number of decimal places. Means round to 4 places,
// percentages to 2; both are echoed verbatim to clients and compared in
// cache equality checks.
func Round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// Analyze computes the full index result for one or two raster samples.
// In single-image mode the caller passes the same raster twice. Fails with
// no_data when a mean is undefined rather than fabricating a zero.
func Analyze(req model.AnalysisRequest, from, to *Raster) (*model.Result, error) {
	meanFrom, okFrom := from.Mean()
	meanTo, okTo := to.Mean()
	if !okFrom || !okTo {
		return nil, model.NewError(model.KindNoData,
			"no satellite data found for one or both dates, likely due to cloud cover")
	}

	fromVal := Round(meanFrom, 4)
	toVal := Round(meanTo, 4)
	change := Round(ChangePercentage(meanFrom, meanTo), 2)

	imageFrom, err := EncodePreview(from)
	if err != nil {
		return nil, err
	}
	imageTo := imageFrom
	if to != from {
		if imageTo, err = EncodePreview(to); err != nil {
			return nil, err
		}
	}

	return &model.Result{
		FromDate:         req.FromDate,
		ToDate:           req.ToDate,
		Kind:             strings.ToUpper(string(req.Kind)),
		FromValue:        &fromVal,
		ToValue:          &toVal,
		ChangePercentage: &change,
		ImageFrom:        imageFrom,
		ImageTo:          imageTo,
	}, nil
}
