// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bytes"
	"errors"
	"flag"
	"image"
	"image/color"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/kortschak/gifplay/internal/slogext"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

var (
	white = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	red   = color.RGBA{R: 0xff, A: 0xff}
	green = color.RGBA{G: 0xff, A: 0xff}
	blue  = color.RGBA{B: 0xff, A: 0xff}
)

// testLogger returns a logger writing to a buffer that is logged at the end
// of the test if -verbose_log is set.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	var logBuf bytes.Buffer
	t.Cleanup(func() {
		if *verbose && logBuf.Len() != 0 {
			t.Logf("log:\n%s\n", &logBuf)
		}
	})
	return slog.New(slogext.NewJSONHandler(&logBuf, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	}))
}

// rect returns a frame filling r with c. If c is nil the frame is
// fully transparent.
func rect(r image.Rectangle, c color.Color, ctl ControlBlock) Frame {
	pal := color.Palette{color.Transparent, c}
	if c == nil {
		pal = color.Palette{color.Transparent}
	}
	img := image.NewPaletted(r, pal)
	if c != nil {
		for i := range img.Pix {
			img.Pix[i] = 1
		}
	}
	if c == nil || ctl.HasTransparent {
		ctl.HasTransparent = true
		ctl.Transparent = 0
	}
	return Frame{Control: ctl, Image: img}
}

// fakeDecoder is a Decoder over a fixed set of frames.
type fakeDecoder struct {
	header Header
	frames []Frame

	next    int
	rewinds int
	closed  bool

	// rewindErr is returned by Rewind if not nil.
	rewindErr error
	// failAt is the index of a frame that fails to decode
	// if failErr is not nil.
	failAt  int
	failErr error
}

func newFakeDecoder(w, h int, loops uint16, frames ...Frame) *fakeDecoder {
	return &fakeDecoder{
		header: Header{Width: w, Height: h, LoopCount: loops, Background: white},
		frames: frames,
	}
}

func (d *fakeDecoder) Header() Header { return d.header }
func (d *fakeDecoder) Len() int64     { return int64(len(d.frames)) }

func (d *fakeDecoder) Next(decode bool) (*Frame, error) {
	if d.next >= len(d.frames) {
		return nil, io.EOF
	}
	if decode && d.failErr != nil && d.next == d.failAt {
		return nil, d.failErr
	}
	f := d.frames[d.next]
	if !decode {
		f.Image = nil
	}
	d.next++
	return &f, nil
}

func (d *fakeDecoder) Rewind() error {
	if d.rewindErr != nil {
		return d.rewindErr
	}
	d.rewinds++
	d.next = 0
	return nil
}

func (d *fakeDecoder) Close() error {
	d.closed = true
	return nil
}

// trackingAlloc is an Allocator that records live allocations.
type trackingAlloc struct {
	live   map[*image.RGBA]bool
	allocs int
	// failAfter is the number of successful allocations
	// allowed. Negative values allow any number.
	failAfter int
}

func newTrackingAlloc() *trackingAlloc {
	return &trackingAlloc{live: make(map[*image.RGBA]bool), failAfter: -1}
}

var errAlloc = errors.New("allocation refused")

func (a *trackingAlloc) NewRGBA(r image.Rectangle) (*image.RGBA, error) {
	if a.failAfter >= 0 && a.allocs >= a.failAfter {
		return nil, errAlloc
	}
	a.allocs++
	img := image.NewRGBA(r)
	a.live[img] = true
	return img, nil
}

func (a *trackingAlloc) Free(img *image.RGBA) {
	if !a.live[img] {
		panic("free of unknown or freed buffer")
	}
	delete(a.live, img)
}

// pic returns a text rendering of img with one character per pixel.
func pic(img *image.RGBA) []string {
	b := img.Bounds()
	rows := make([]string, 0, b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		var row strings.Builder
		for x := b.Min.X; x < b.Max.X; x++ {
			switch img.RGBAAt(x, y) {
			case white:
				row.WriteByte('W')
			case red:
				row.WriteByte('R')
			case green:
				row.WriteByte('G')
			case blue:
				row.WriteByte('B')
			case color.RGBA{}:
				row.WriteByte('.')
			default:
				row.WriteByte('?')
			}
		}
		rows = append(rows, row.String())
	}
	return rows
}
