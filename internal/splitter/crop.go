package splitter

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// JPEGQuality is the fixed quality used when encoding each half.
const JPEGQuality = 95

// halves returns the left and right regions of a w-wide buffer anchored at min.
// The right half absorbs the remainder of an odd width.
func halves(b image.Rectangle) (image.Rectangle, image.Rectangle, error) {
	w, h := b.Dx(), b.Dy()
	if w < 2 || h < 1 {
		return image.Rectangle{}, image.Rectangle{}, &DegenerateSplitError{Width: w, Height: h}
	}
	mid := b.Min.X + w/2
	left := image.Rect(b.Min.X, b.Min.Y, mid, b.Max.Y)
	right := image.Rect(mid, b.Min.Y, b.Max.X, b.Max.Y)
	return left, right, nil
}

func encodeRegion(img image.Image, region image.Rectangle) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.Crop(img, region), imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return nil, fmt.Errorf("encode region %v: %w", region, err)
	}
	return buf.Bytes(), nil
}
