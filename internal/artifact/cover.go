package artifact

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // decoder registration
	"image/jpeg"
	_ "image/png" // decoder registration

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // decoder registration
)

// CoverContentType is the media type NormalizeCover always produces.
const CoverContentType = "image/jpeg"

// NormalizeCover decodes a downloaded cover, scales it to fit within
// maxDim on its longest side and re-encodes it as JPEG. maxDim <= 0 keeps the
// original size.
func NormalizeCover(data []byte, maxDim int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode cover: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("decode cover: empty image")
	}
	if maxDim > 0 && (width > maxDim || height > maxDim) {
		if width >= height {
			height = max(1, height*maxDim/width)
			width = maxDim
		} else {
			width = max(1, width*maxDim/height)
			height = maxDim
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode cover: %w", err)
	}
	return buf.Bytes(), nil
}
