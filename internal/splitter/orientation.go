package splitter

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// Orientation is the EXIF orientation tag of a source image.
type Orientation int

const (
	OrientationUnspecified Orientation = 0
	OrientationNormal      Orientation = 1
	OrientationRotate180   Orientation = 3
	OrientationRotate270   Orientation = 6
	OrientationRotate90    Orientation = 8
)

// Rotation is a counter-clockwise rotation that expands the canvas to fit the result.
type Rotation int

const (
	RotateNone Rotation = 0
	Rotate90   Rotation = 90
	Rotate180  Rotation = 180
	Rotate270  Rotation = 270
)

// Apply rotates img. Unknown values leave the image untouched.
func (r Rotation) Apply(img image.Image) image.Image {
	switch r {
	case Rotate90:
		return imaging.Rotate90(img)
	case Rotate180:
		return imaging.Rotate180(img)
	case Rotate270:
		return imaging.Rotate270(img)
	default:
		return img
	}
}

// ReadOrientation returns the orientation tag embedded in data. Missing, unreadable,
// malformed or out of range metadata yields OrientationUnspecified.
//
// The metadata block is bounds checked before it is handed to the EXIF decoder,
// which trusts the component counts it reads.
func ReadOrientation(data []byte) Orientation {
	block, ok := exifBlock(data)
	if !ok || !wellFormedTIFF(block) {
		return orientationFallback()
	}
	x, err := exif.Decode(bytes.NewReader(block))
	if err != nil || x == nil {
		return orientationFallback()
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil || tag == nil || tag.Type != tiff.DTShort || tag.Count != 1 {
		return orientationFallback()
	}
	value, err := tag.Int(0)
	if err != nil || value < 1 || value > 8 {
		return orientationFallback()
	}
	return Orientation(value)
}

// orientationFallback is the result for every metadata read failure: the image is
// treated as already upright and processing continues.
func orientationFallback() Orientation {
	return OrientationUnspecified
}

// Normalize rotates img so it presents the way the orientation tag says it should
// be displayed. Orientations without a rotation in the policy pass through unchanged.
func (p Policy) Normalize(img image.Image, o Orientation) image.Image {
	rotation, ok := p.Rotations[o]
	if !ok {
		return img
	}
	return rotation.Apply(img)
}
