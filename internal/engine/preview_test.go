package engine

import (
	"math"
	"testing"
)

func TestScalePixel(t *testing.T) {
	cases := []struct {
		in   float64
		want uint8
	}{
		{-1, 0},
		{1, 255},
		{0, 127},
		{-2.5, 0},   // clamped below
		{3.0, 255},  // clamped above
		{0.5, 191},  // 0.5*127.5+127.5 = 191.25 truncated
		{math.NaN(), 0}, // no-data renders darkest
	}
	for _, c := range cases {
		if got := scalePixel(c.in); got != c.want {
			t.Fatalf("scalePixel(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestEncodePreview_Deterministic(t *testing.T) {
	r := rasterOf(0.1, math.NaN(), -0.7, 0.9)
	a, err := EncodePreview(r)
	if err != nil {
		t.Fatalf("EncodePreview: %v", err)
	}
	b, err := EncodePreview(r)
	if err != nil {
		t.Fatalf("EncodePreview: %v", err)
	}
	if a != b {
		t.Fatalf("preview encoding must be deterministic")
	}
}

func TestEncodePreview_DoesNotMutateInput(t *testing.T) {
	r := rasterOf(0.1, math.NaN(), -0.7, 0.9)
	if _, err := EncodePreview(r); err != nil {
		t.Fatalf("EncodePreview: %v", err)
	}
	if r.Pixels[0] != 0.1 || r.Pixels[2] != -0.7 || r.Pixels[3] != 0.9 {
		t.Fatalf("input buffer was mutated: %v", r.Pixels)
	}
	if !math.IsNaN(r.Pixels[1]) {
		t.Fatalf("no-data pixel was overwritten: %v", r.Pixels[1])
	}
}
