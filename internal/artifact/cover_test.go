package artifact

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		img.Set(x, 0, color.NRGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalizeCover(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		w, h  int
		max   int
		wantW int
		wantH int
	}{
		{name: "landscape scaled", w: 400, h: 200, max: 100, wantW: 100, wantH: 50},
		{name: "portrait scaled", w: 300, h: 600, max: 150, wantW: 75, wantH: 150},
		{name: "small untouched", w: 40, h: 60, max: 100, wantW: 40, wantH: 60},
		{name: "no limit", w: 120, h: 80, max: 0, wantW: 120, wantH: 80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := NormalizeCover(pngOf(t, tt.w, tt.h), tt.max)
			require.NoError(t, err)
			cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
			require.NoError(t, err)
			require.Equal(t, tt.wantW, cfg.Width)
			require.Equal(t, tt.wantH, cfg.Height)
		})
	}
}

func TestNormalizeCoverRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := NormalizeCover([]byte("not an image"), 100)
	require.ErrorContains(t, err, "decode cover")
}
