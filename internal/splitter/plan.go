package splitter

import "image"

// SplitMethod labels which rotation policy was applied before cropping.
type SplitMethod string

const (
	MethodLandscapeOrSquare SplitMethod = "landscape-or-square"
	MethodPortraitRotated   SplitMethod = "portrait-rotated"
)

// SplitPlan is the planner decision together with the working buffer it produced.
type SplitPlan struct {
	Method SplitMethod
	Image  image.Image
	Width  int
	Height int
}

// Plan decides whether img must be turned before the vertical split. Images whose
// height/width ratio exceeds the portrait threshold were captured sideways and are
// rotated once more.
func (p Policy) Plan(img image.Image) SplitPlan {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > 0 && float64(h)/float64(w) > p.PortraitRatio {
		rotated := p.PortraitRotation.Apply(img)
		rb := rotated.Bounds()
		return SplitPlan{Method: MethodPortraitRotated, Image: rotated, Width: rb.Dx(), Height: rb.Dy()}
	}
	return SplitPlan{Method: MethodLandscapeOrSquare, Image: img, Width: w, Height: h}
}
