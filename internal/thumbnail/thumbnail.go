// Package thumbnail renders bounded JPEG derivatives of uploaded images.
package thumbnail

import (
	"bytes"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
)

// ContentType of every derivative produced by Render.
const ContentType = "image/jpeg"

// Options bounds the derivative.
type Options struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
}

// Small is the gallery grid derivative.
var Small = Options{MaxWidth: 400, MaxHeight: 400, Quality: 80}

// Render decodes src, applies its EXIF orientation, fits it inside the
// bounding box and re-encodes it as JPEG. Images already inside the box are
// not upscaled.
func Render(src io.Reader, opts Options) ([]byte, error) {
	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	img = imaging.Fit(img, opts.MaxWidth, opts.MaxHeight, imaging.Lanczos)

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = Small.Quality
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
