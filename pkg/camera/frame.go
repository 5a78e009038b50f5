package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	// Source cameras commonly deliver JPEG or PNG stills.
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

// processFrame decodes a camera still, crops it to the viewport, downscales
// to the target width preserving aspect (never upscales), and re-encodes as
// JPEG at the target quality. CPU-bound; callers dispatch through the Pool.
func processFrame(frame []byte, vp Viewport, width, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	src := img.Bounds()
	crop := src
	if !vp.isFullFrame() {
		crop = cropRect(src, vp)
	}

	dstW := crop.Dx()
	dstH := crop.Dy()
	if dstW > width {
		ratio := float64(width) / float64(dstW)
		dstW = width
		dstH = int(float64(crop.Dy()) * ratio)
		if dstH < 1 {
			dstH = 1
		}
	}

	out := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	xdraw.CatmullRom.Scale(out, out.Bounds(), img, crop, xdraw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// cropRect maps the normalized viewport onto pixel bounds, clamped so the
// result is non-empty.
func cropRect(bounds image.Rectangle, vp Viewport) image.Rectangle {
	w := bounds.Dx()
	h := bounds.Dy()

	left := int(vp.X * float64(w))
	top := int(vp.Y * float64(h))
	right := int((vp.X + vp.W) * float64(w))
	bottom := int((vp.Y + vp.H) * float64(h))

	left = clampInt(left, 0, w-1)
	top = clampInt(top, 0, h-1)
	right = clampInt(right, left+1, w)
	bottom = clampInt(bottom, top+1, h)

	return image.Rect(
		bounds.Min.X+left, bounds.Min.Y+top,
		bounds.Min.X+right, bounds.Min.Y+bottom,
	)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
