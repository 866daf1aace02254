package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"math"

	"golang.org/x/image/draw"
)

// MaxPixels caps width×height of an upload before it is decoded.
const MaxPixels = 40_000_000

var (
	// ErrDecode is returned when the upload is not a decodable image.
	ErrDecode = errors.New("failed to load image")
	// ErrTooManyPixels is returned for images whose header declares more than MaxPixels.
	ErrTooManyPixels = errors.New("image dimensions too large")
)

// ResizeToEncoded decodes r, scales it to fit within maxWidth×maxHeight while
// keeping its aspect ratio, and re-encodes it as a JPEG data URL.
// Images that already fit are re-encoded at their own size.
func ResizeToEncoded(ctx context.Context, r io.Reader, maxWidth, maxHeight int, quality float64) (string, error) {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	if maxHeight <= 0 {
		maxHeight = DefaultMaxHeight
	}

	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return "", fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(io.MultiReader(&header, r))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	bounds := src.Bounds()
	w, h := FitDimensions(bounds.Dx(), bounds.Dy(), maxWidth, maxHeight)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality(quality)}); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	return DataURL("image/jpeg", buf.Bytes()), nil
}

// FitDimensions scales width×height down so neither side exceeds its maximum.
// The longer side drives the scale (width when width >= height); if the other
// side still overflows, it is scaled again by that side.
func FitDimensions(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= 0 || height <= 0 {
		return 1, 1
	}

	scale := 1.0
	if width >= height {
		if width > maxWidth {
			scale = float64(maxWidth) / float64(width)
		}
		if float64(height)*scale > float64(maxHeight) {
			scale = float64(maxHeight) / float64(height)
		}
	} else {
		if height > maxHeight {
			scale = float64(maxHeight) / float64(height)
		}
		if float64(width)*scale > float64(maxWidth) {
			scale = float64(maxWidth) / float64(width)
		}
	}

	w := clamp(int(math.Round(float64(width)*scale)), 1, maxWidth)
	h := clamp(int(math.Round(float64(height)*scale)), 1, maxHeight)
	return w, h
}

// DataURL embeds data as a base64 data URL of the given media type.
func DataURL(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func jpegQuality(q float64) int {
	if q <= 0 || q > 1 {
		q = DefaultQuality
	}
	return clamp(int(math.Round(q*100)), 1, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
