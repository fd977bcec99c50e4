// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// compositor draws frames onto a persistent canvas. The disposal of a
// frame is applied immediately before the following frame is drawn, not
// when the frame's display time ends.
type compositor struct {
	bounds image.Rectangle

	// background is the logical screen background.
	// It may be nil.
	background color.Color
	// fill is the color used to prepare the canvas and to
	// dispose RestoreBackground frames.
	fill color.RGBA

	alloc  Allocator
	backup *image.RGBA // allocated at the first RestorePrevious frame

	// pending is the disposal of the last drawn frame
	// over the region rect.
	pending Disposal
	rect    image.Rectangle
}

func newCompositor(bounds image.Rectangle, background color.Color, alloc Allocator) *compositor {
	return &compositor{bounds: bounds, background: background, alloc: alloc}
}

// prepare fills dst with the background color, or with transparent black
// if the first frame uses transparency or there is no background. Any
// pending disposal is discarded.
func (c *compositor) prepare(dst *image.RGBA, first ControlBlock) {
	c.fill = color.RGBA{}
	if c.background != nil && !first.HasTransparent {
		c.fill = color.RGBAModel.Convert(c.background).(color.RGBA)
	}
	draw.Draw(dst, dst.Bounds(), &image.Uniform{c.fill}, image.Point{}, draw.Src)
	c.pending = DisposalUnspecified
	c.rect = image.Rectangle{}
}

// apply disposes the previously drawn frame as required and then draws f
// onto dst, returning the frame's unscaled delay. The frame's raster must
// lie within the canvas bounds.
func (c *compositor) apply(dst *image.RGBA, f *Frame) (uint32, error) {
	if f.Image == nil {
		panic("apply of frame without raster")
	}
	r := f.Image.Bounds()
	if !r.In(c.bounds) {
		panic(fmt.Sprintf("frame bounds %v outside canvas %v", r, c.bounds))
	}
	c.dispose(dst)

	if f.Control.Disposal == RestorePrevious {
		if c.backup == nil {
			b, err := c.alloc.NewRGBA(c.bounds)
			if err != nil {
				return 0, &Error{Code: NotEnoughMem, Err: err}
			}
			c.backup = b
		}
		draw.Copy(c.backup, r.Min, dst, r, draw.Src, nil)
	}

	src := *f.Image
	src.Palette = renderPalette(f.Image.Palette, f.Control)
	draw.Copy(dst, r.Min, &src, r, draw.Over, nil)

	c.pending = f.Control.Disposal
	c.rect = r
	return f.Control.Delay, nil
}

// dispose applies the pending disposal of the last drawn frame.
func (c *compositor) dispose(dst *image.RGBA) {
	switch c.pending {
	case RestoreBackground:
		draw.Copy(dst, c.rect.Min, &image.Uniform{c.fill}, c.rect, draw.Src, nil)
	case RestorePrevious:
		draw.Copy(dst, c.rect.Min, c.backup, c.rect, draw.Src, nil)
	}
	c.pending = DisposalUnspecified
}

// renderPalette returns a complete 256 entry palette for drawing a frame
// with the provided palette and control block. The transparent index and
// entries beyond the source palette are fully transparent so they leave
// the canvas unaltered when drawn with draw.Over.
func renderPalette(pal color.Palette, ctl ControlBlock) color.Palette {
	p := make(color.Palette, 256)
	for i := range p {
		if i < len(pal) {
			p[i] = pal[i]
		} else {
			p[i] = color.Transparent
		}
	}
	if ctl.HasTransparent {
		p[ctl.Transparent] = color.Transparent
	}
	return p
}

// backupBytes returns the size of the backup buffer.
func (c *compositor) backupBytes() uint64 {
	if c.backup == nil {
		return 0
	}
	return uint64(len(c.backup.Pix))
}

// free releases the backup buffer.
func (c *compositor) free() {
	if c.backup != nil {
		c.alloc.Free(c.backup)
		c.backup = nil
	}
}
