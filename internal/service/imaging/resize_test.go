package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeDataURL(t *testing.T, url string) image.Config {
	t.Helper()
	const prefix = "data:image/jpeg;base64,"
	require.True(t, strings.HasPrefix(url, prefix), "unexpected data url prefix")
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, prefix))
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	return cfg
}

func TestResizeToEncodedBoundsAndAspect(t *testing.T) {
	cases := []struct{ w, h int }{
		{640, 480}, {480, 640}, {1000, 10}, {10, 1000}, {256, 256}, {129, 128}, {64, 32},
	}
	for _, tc := range cases {
		url, err := ResizeToEncoded(context.Background(), bytes.NewReader(encodePNG(t, tc.w, tc.h)), 128, 128, 0.8)
		require.NoError(t, err)

		cfg := decodeDataURL(t, url)
		assert.LessOrEqualf(t, cfg.Width, 128, "%dx%d", tc.w, tc.h)
		assert.LessOrEqualf(t, cfg.Height, 128, "%dx%d", tc.w, tc.h)

		want := float64(tc.w) / float64(tc.h)
		got := float64(cfg.Width) / float64(cfg.Height)
		// one pixel of rounding on the short side
		tolerance := want * (1/float64(min(cfg.Width, cfg.Height)) + 0.01)
		assert.InDeltaf(t, want, got, tolerance, "%dx%d -> %dx%d", tc.w, tc.h, cfg.Width, cfg.Height)
	}
}

func TestResizeToEncodedAcceptsGIF(t *testing.T) {
	pal := image.NewPaletted(image.Rect(0, 0, 300, 150), []color.Color{color.Black, color.White})
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, pal, nil))

	url, err := ResizeToEncoded(context.Background(), &buf, DefaultMaxWidth, DefaultMaxHeight, DefaultQuality)
	require.NoError(t, err)
	cfg := decodeDataURL(t, url)
	assert.Equal(t, 128, cfg.Width)
	assert.Equal(t, 64, cfg.Height)
}

func TestResizeToEncodedRejectsGarbage(t *testing.T) {
	_, err := ResizeToEncoded(context.Background(), strings.NewReader("definitely not an image"), 128, 128, 0.8)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestFitDimensions(t *testing.T) {
	cases := []struct {
		w, h, maxW, maxH int
		wantW, wantH     int
	}{
		{640, 480, 128, 128, 128, 96},
		{480, 640, 128, 128, 96, 128},
		{100, 50, 128, 128, 100, 50},
		{200, 200, 100, 50, 50, 50},
		{300, 200, 128, 64, 96, 64},
		{5000, 1, 128, 128, 128, 1},
	}
	for _, tc := range cases {
		w, h := FitDimensions(tc.w, tc.h, tc.maxW, tc.maxH)
		assert.Equalf(t, tc.wantW, w, "%dx%d in %dx%d", tc.w, tc.h, tc.maxW, tc.maxH)
		assert.Equalf(t, tc.wantH, h, "%dx%d in %dx%d", tc.w, tc.h, tc.maxW, tc.maxH)
		assert.LessOrEqual(t, w, tc.maxW)
		assert.LessOrEqual(t, h, tc.maxH)
	}
}

func TestJPEGQualityFallsBackToDefault(t *testing.T) {
	assert.Equal(t, 80, jpegQuality(0.8))
	assert.Equal(t, 80, jpegQuality(0))
	assert.Equal(t, 80, jpegQuality(1.5))
	assert.Equal(t, 100, jpegQuality(1))
}

// pngHeader returns a PNG signature and IHDR chunk declaring w×h 8-bit grayscale.
func pngHeader(w, h uint32) []byte {
	var ihdr bytes.Buffer
	ihdr.WriteString("IHDR")
	_ = binary.Write(&ihdr, binary.BigEndian, w)
	_ = binary.Write(&ihdr, binary.BigEndian, h)
	ihdr.Write([]byte{8, 0, 0, 0, 0})

	var out bytes.Buffer
	out.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&out, binary.BigEndian, uint32(ihdr.Len()-4))
	out.Write(ihdr.Bytes())
	_ = binary.Write(&out, binary.BigEndian, crc32.ChecksumIEEE(ihdr.Bytes()))
	return out.Bytes()
}

func TestResizeRejectsOversizedDimensionsBeforeDecode(t *testing.T) {
	header := pngHeader(12000, 12000)
	cfg, err := png.DecodeConfig(bytes.NewReader(header))
	require.NoError(t, err)
	require.Equal(t, 12000, cfg.Width)

	_, err = ResizeToEncoded(context.Background(), bytes.NewReader(header), 128, 128, 0.8)
	require.ErrorIs(t, err, ErrTooManyPixels)
	assert.NotErrorIs(t, err, ErrDecode)
}
