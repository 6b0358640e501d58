package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/mohans/geodiff/internal/model"
)

// promptVersion tags the fingerprint so a change to the fixed summarization
// prompt or the index pipeline invalidates previously cached results.
const promptVersion = "v1"

// Fingerprint derives the deterministic cache key for a request. It is a
// pure function of the semantically relevant fields only: two textually
// different requests that parse to the same bbox/dates/kind collide to the
// same entry. Nothing time- or order-dependent goes in.
func Fingerprint(req model.AnalysisRequest) string {
	var b strings.Builder
	for _, f := range []float64{req.BBox.West, req.BBox.South, req.BBox.East, req.BBox.North} {
		b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		b.WriteByte('|')
	}
	b.WriteString(req.FromDate)
	b.WriteByte('|')
	b.WriteString(req.ToDate)
	b.WriteByte('|')
	b.WriteString(string(req.Kind))
	b.WriteByte('|')
	b.WriteString(promptVersion)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
