// Package splitter turns a photo of two petri dishes side by side into two
// upright JPEG images, one per dish.
//
// The pipeline is decode, orientation normalization, split planning, then
// crop and encode. A Splitter holds no mutable state and is safe for
// concurrent use.
package splitter

import (
	"bytes"
	"fmt"
	"image"

	// Registered decoders.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultPortraitRatio is the height/width ratio above which a photo is treated as
// captured sideways.
const DefaultPortraitRatio = 1.1

// DefaultMaxPixels caps the decoded raster at 100 megapixels, about 400 MiB of RGBA.
const DefaultMaxPixels int64 = 100_000_000

// Policy holds the camera convention assumptions of the split.
type Policy struct {
	// PortraitRatio is the height/width ratio above which the image is turned before splitting.
	PortraitRatio float64
	// PortraitRotation is applied to images above PortraitRatio.
	PortraitRotation Rotation
	// Rotations maps an orientation tag to the rotation that makes the image upright.
	Rotations map[Orientation]Rotation
	// MaxPixels rejects sources whose header announces more pixels before any raster
	// is allocated.
	MaxPixels int64
}

// DefaultPolicy returns the policy matching the capture rig the service was built for.
func DefaultPolicy() Policy {
	return Policy{
		PortraitRatio:    DefaultPortraitRatio,
		PortraitRotation: Rotate90,
		Rotations: map[Orientation]Rotation{
			OrientationRotate180: Rotate180,
			OrientationRotate270: Rotate270,
			OrientationRotate90:  Rotate90,
		},
		MaxPixels: DefaultMaxPixels,
	}
}

// SplitResult is the output of a split. Left and Right are owned by the caller.
type SplitResult struct {
	Left        []byte
	Right       []byte
	Method      SplitMethod
	Orientation Orientation
	Width       int
	Height      int
	LeftWidth   int
	RightWidth  int
}

// Splitter runs the split pipeline under a fixed policy.
type Splitter struct {
	policy Policy
}

// New builds a Splitter. A zero PortraitRatio or MaxPixels falls back to its default.
func New(policy Policy) *Splitter {
	if policy.PortraitRatio <= 0 {
		policy.PortraitRatio = DefaultPortraitRatio
	}
	if policy.MaxPixels <= 0 {
		policy.MaxPixels = DefaultMaxPixels
	}
	rotations := make(map[Orientation]Rotation, len(policy.Rotations))
	for o, r := range policy.Rotations {
		rotations[o] = r
	}
	policy.Rotations = rotations
	return &Splitter{policy: policy}
}

// Split runs the pipeline with DefaultPolicy.
func Split(data []byte) (*SplitResult, error) {
	return New(DefaultPolicy()).Split(data)
}

// Split decodes data, normalizes its orientation, plans the split and encodes
// both halves. It returns *DecodeError for undecodable input and
// *DegenerateSplitError when the working buffer cannot be halved.
func (s *Splitter) Split(data []byte) (*SplitResult, error) {
	img, orientation, err := s.decode(data)
	if err != nil {
		return nil, err
	}

	plan := s.policy.Plan(img)
	leftRegion, rightRegion, err := halves(plan.Image.Bounds())
	if err != nil {
		return nil, err
	}

	left, err := encodeRegion(plan.Image, leftRegion)
	if err != nil {
		return nil, err
	}
	right, err := encodeRegion(plan.Image, rightRegion)
	if err != nil {
		return nil, err
	}

	return &SplitResult{
		Left:        left,
		Right:       right,
		Method:      plan.Method,
		Orientation: orientation,
		Width:       plan.Width,
		Height:      plan.Height,
		LeftWidth:   leftRegion.Dx(),
		RightWidth:  rightRegion.Dx(),
	}, nil
}

// Normalize decodes data and returns the upright image with the orientation tag that was consumed.
func (s *Splitter) Normalize(data []byte) (image.Image, Orientation, error) {
	return s.decode(data)
}

func (s *Splitter) decode(data []byte) (image.Image, Orientation, error) {
	if len(data) == 0 {
		return nil, OrientationUnspecified, &DecodeError{Err: image.ErrFormat}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, OrientationUnspecified, &DecodeError{Err: err}
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > s.policy.MaxPixels {
		return nil, OrientationUnspecified, &DecodeError{
			Err: fmt.Errorf("%w: %dx%d over %d", ErrTooManyPixels, cfg.Width, cfg.Height, s.policy.MaxPixels),
		}
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, OrientationUnspecified, &DecodeError{Err: err}
	}
	orientation := ReadOrientation(data)
	return s.policy.Normalize(img, orientation), orientation, nil
}
