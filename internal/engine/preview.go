package engine

import (
	"bytes"
	"encoding/base64"
	"image"

	"github.com/disintegration/imaging"
)

// EncodePreview renders a raster as a grayscale PNG data URL. No-data
// pixels are forced to -1 (the darkest value) before min-max scaling into
// the displayable 8-bit range: scaled = clip(v, -1, 1)*127.5 + 127.5.
// The caller's pixel buffer is never mutated.
func EncodePreview(r *Raster) (string, error) {
	img := image.NewGray(image.Rect(0, 0, r.Width, r.Height))
	for i, v := range r.Pixels {
		img.Pix[i] = scalePixel(v)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func scalePixel(v float64) uint8 {
	if v != v { // NaN no-data renders black
		v = -1
	}
	if v < -1 {
		v = -1
	} else if v > 1 {
		v = 1
	}
	return uint8(v*127.5 + 127.5)
}
