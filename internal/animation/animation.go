// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"time"
)

// DefaultMaxBytes is the canvas byte budget used when Options.MaxBytes
// is zero.
const DefaultMaxBytes = 720 * 720 * bytesPerPixel

// Options control how an animation is opened.
type Options struct {
	// MetadataOnly opens the animation for timing and header
	// information only. No canvas is allocated and the decoder
	// is not rewound for playback.
	MetadataOnly bool

	// MaxBytes is the largest canvas size in bytes that
	// may be allocated. If zero, DefaultMaxBytes is used.
	MaxBytes uint32

	// Alloc is the allocator used for the canvas and
	// backup buffers. If nil, Heap is used.
	Alloc Allocator

	// Background overrides the decoder's background color.
	Background color.Color

	// Log is the logger used by the animation. If nil,
	// logging is discarded.
	Log *slog.Logger
}

// Animation is an open animation's playback state.
//
// Animation values are not safe for concurrent use. Read-only methods may
// be called concurrently with each other, but not with a method that
// mutates the animation.
type Animation struct {
	dec       Decoder
	header    Header
	controls  []ControlBlock
	opaque    bool
	sourceLen int64

	alloc  Allocator
	canvas *Buffer // nil when opened for metadata only
	comp   *compositor

	// currentIndex is the index of the frame on the canvas.
	// started is false until a frame has been drawn since
	// open or the last rewind.
	currentIndex int
	started      bool

	// stale is set while the decoder is still positioned
	// after the control blocks read by a metadata only open.
	stale bool

	currentLoop uint16
	loopLimit   uint16
	speed       float64

	// nextStart is the deadline for the next frame. It is
	// only meaningful when remainder is -1, otherwise remainder
	// holds an explicit remaining display time in milliseconds.
	nextStart time.Time
	remainder int64

	// err is the sticky decode error.
	err error

	log *slog.Logger
}

// Open returns an Animation reading from dec. The canvas dimensions are
// validated against the byte budget before any buffer is allocated and all
// frame control blocks are read before Open returns. On error, all partial
// allocations are released and dec is closed.
func Open(dec Decoder, opts Options) (_ *Animation, err error) {
	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With(slog.String("component", "animation"))
	alloc := opts.Alloc
	if alloc == nil {
		alloc = Heap
	}
	maxBytes := opts.MaxBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxBytes
	}

	a := &Animation{
		dec:       dec,
		header:    dec.Header(),
		sourceLen: dec.Len(),
		alloc:     alloc,
		loopLimit: 1,
		speed:     1,
		remainder: -1,
		log:       log,
	}
	defer func() {
		if err != nil {
			log.LogAttrs(context.Background(), slog.LevelDebug, "open failed", slog.Any("error", err))
			err = errors.Join(err, a.release())
		}
	}()

	err = CheckSize(a.header.Width, a.header.Height, maxBytes)
	if err != nil {
		return nil, err
	}
	a.loopLimit = a.header.LoopCount
	background := a.header.Background
	if opts.Background != nil {
		background = opts.Background
	}

	a.opaque = true
	for {
		f, err := dec.Next(false)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, decodeError(err)
		}
		a.controls = append(a.controls, f.Control)
		if f.Control.HasTransparent {
			a.opaque = false
		}
	}
	if len(a.controls) == 0 {
		return nil, &Error{Code: NoFrames}
	}

	bounds := image.Rect(0, 0, a.header.Width, a.header.Height)
	a.comp = newCompositor(bounds, background, alloc)
	if !opts.MetadataOnly {
		err = dec.Rewind()
		if err != nil {
			return nil, &Error{Code: RewindFailed, Err: err}
		}
		img, err := alloc.NewRGBA(bounds)
		if err != nil {
			return nil, &Error{Code: NotEnoughMem, Err: err}
		}
		a.canvas = NewBuffer(img)
	} else {
		a.stale = true
	}

	log.LogAttrs(context.Background(), slog.LevelDebug, "open",
		slog.Int("width", a.header.Width),
		slog.Int("height", a.header.Height),
		slog.Int("frames", len(a.controls)),
		slog.Bool("metadata_only", opts.MetadataOnly),
	)
	return a, nil
}

// Close releases the canvas, backup buffer, control blocks and the decoder.
// The animation must not be used after Close.
func (a *Animation) Close() error {
	a.log.LogAttrs(context.Background(), slog.LevelDebug, "close")
	return a.release()
}

func (a *Animation) release() error {
	if a.comp != nil {
		a.comp.free()
	}
	if a.canvas != nil {
		a.canvas.release(a.alloc)
		a.canvas = nil
	}
	a.controls = nil
	a.header.Comment = nil
	if a.dec == nil {
		return nil
	}
	err := a.dec.Close()
	a.dec = nil
	return err
}

// decodeError returns err as an *Error, using ReadFailed if it does not
// already carry a code.
func decodeError(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &Error{Code: EOFTooSoon, Err: err}
	}
	return &Error{Code: ReadFailed, Err: err}
}

// fault records err as the sticky error and returns it.
func (a *Animation) fault(err error) error {
	err = decodeError(err)
	a.err = err
	a.log.LogAttrs(context.Background(), slog.LevelWarn, "fault",
		slog.Int("frame", a.currentIndex),
		slog.Any("error", err),
	)
	return err
}

// Err returns the sticky error set by a failed decode or rewind.
func (a *Animation) Err() error { return a.err }

// ErrorCode returns the native code of the sticky error, or NoError.
func (a *Animation) ErrorCode() Code { return CodeOf(a.err) }

// Width returns the canvas width.
func (a *Animation) Width() int { return a.header.Width }

// Height returns the canvas height.
func (a *Animation) Height() int { return a.header.Height }

// Frames returns the number of frames in the animation.
func (a *Animation) Frames() int { return len(a.controls) }

// Comment returns the source's comment text and whether there was one.
func (a *Animation) Comment() (string, bool) {
	if a.header.Comment == nil {
		return "", false
	}
	return *a.header.Comment, true
}

// SourceLength returns the length of the source in bytes, or -1 if it
// is not known.
func (a *Animation) SourceLength() int64 { return a.sourceLen }

// IsOpaque returns whether no frame of the animation uses transparency.
func (a *Animation) IsOpaque() bool { return a.opaque }

// LoopCount returns the number of passes the animation plays. Zero
// means the animation loops forever.
func (a *Animation) LoopCount() uint16 { return a.loopLimit }

// SetLoopCount sets the number of passes the animation plays.
func (a *Animation) SetLoopCount(n uint16) { a.loopLimit = n }

// CurrentLoop returns the number of completed passes.
func (a *Animation) CurrentLoop() uint16 { return a.currentLoop }

// CurrentIndex returns the index of the frame on the canvas.
func (a *Animation) CurrentIndex() int { return a.currentIndex }

// FrameDuration returns the unscaled delay of frame i in milliseconds, or
// zero if i is out of range.
func (a *Animation) FrameDuration(i int) uint32 {
	if i < 0 || i >= len(a.controls) {
		return 0
	}
	return a.controls[i].Delay
}

// Control returns the control block of frame i.
func (a *Animation) Control(i int) ControlBlock { return a.controls[i] }

// Canvas returns the animation's own canvas, or nil if it was opened for
// metadata only.
func (a *Animation) Canvas() *Buffer { return a.canvas }

// AllocationByteCount returns the number of bytes held in the canvas and
// backup buffers.
func (a *Animation) AllocationByteCount() uint64 {
	var n uint64
	if a.canvas != nil {
		if img := a.canvas.Image(); img != nil {
			n += uint64(len(img.Pix))
		}
	}
	if a.comp != nil {
		n += a.comp.backupBytes()
	}
	return n
}

// State is a playback state.
type State int

const (
	Uninitialized State = iota
	Ready
	Advancing
	Completed
	Faulted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Advancing:
		return "advancing"
	case Completed:
		return "completed"
	case Faulted:
		return "faulted"
	default:
		return "invalid"
	}
}

// State returns the receiver's playback state.
func (a *Animation) State() State {
	switch {
	case a == nil || a.controls == nil:
		return Uninitialized
	case a.err != nil:
		return Faulted
	case a.IsCompleted():
		return Completed
	case a.started:
		return Advancing
	default:
		return Ready
	}
}
