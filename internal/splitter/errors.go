package splitter

import (
	"errors"
	"fmt"
)

// ErrTooManyPixels is wrapped by DecodeError when the header announces more pixels
// than the policy allows to be decoded.
var ErrTooManyPixels = errors.New("image exceeds pixel limit")

// DecodeError reports source bytes that could not be parsed as a raster image.
type DecodeError struct {
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e == nil || e.Err == nil {
		return "decode image"
	}
	return fmt.Sprintf("decode image: %v", e.Err)
}

// Unwrap returns the underlying decoder error.
func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DegenerateSplitError reports a working buffer too small to produce two non-empty halves.
type DegenerateSplitError struct {
	Width  int
	Height int
}

// Error implements the error interface.
func (e *DegenerateSplitError) Error() string {
	return fmt.Sprintf("degenerate split: %dx%d image cannot be halved", e.Width, e.Height)
}
