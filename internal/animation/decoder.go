// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"image"
	"image/color"
)

// Disposal is a frame disposal mode.
type Disposal uint8

const (
	DisposalUnspecified Disposal = iota
	DoNotDispose
	RestoreBackground
	RestorePrevious
)

func (d Disposal) String() string {
	switch d {
	case DisposalUnspecified:
		return "unspecified"
	case DoNotDispose:
		return "none"
	case RestoreBackground:
		return "background"
	case RestorePrevious:
		return "previous"
	default:
		return "invalid"
	}
}

// ControlBlock is the timing and disposal description of a single frame.
type ControlBlock struct {
	// Delay is the frame display duration in milliseconds.
	Delay uint32 `json:"delay_ms"`
	// Disposal is how the frame's region is treated before
	// the next frame is drawn.
	Disposal Disposal `json:"disposal"`
	// Transparent is the frame's transparent palette index,
	// valid only if HasTransparent is true.
	Transparent    byte `json:"transparent,omitempty"`
	HasTransparent bool `json:"has_transparent,omitempty"`
}

// Frame is a single decoded frame.
type Frame struct {
	Control ControlBlock
	// Image is the frame's color index raster positioned
	// within the logical screen. Image is nil when the frame
	// was read without decoding.
	Image *image.Paletted
}

// Header is the logical screen description of an animation.
type Header struct {
	Width, Height int
	// LoopCount is the number of passes to play. Zero
	// means loop forever.
	LoopCount uint16
	// Background is the logical screen background color.
	// It is nil if the source does not define one.
	Background color.Color
	// Comment is the concatenated comment text, if any.
	Comment *string
}

// Decoder is a pull-based frame source. Decoder values are not required
// to be safe for concurrent use.
type Decoder interface {
	// Header returns the source's logical screen description.
	Header() Header
	// Next returns the next frame in the source. If decode is false,
	// only the control block is read and the frame's Image is nil.
	// Next returns io.EOF after the last frame.
	Next(decode bool) (*Frame, error)
	// Rewind returns the decoder to the first frame.
	Rewind() error
	// Len returns the length of the source in bytes or -1 if it
	// is not known.
	Len() int64
	// Close releases the decoder's resources.
	Close() error
}
