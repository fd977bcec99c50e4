// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package handle provides a table of open animations addressed by opaque
// handles. Every Table method is total: calls with a handle that is not
// open return a sentinel value rather than failing.
package handle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/kortschak/gifplay/internal/animation"
	"github.com/kortschak/gifplay/internal/slogext"
)

// Handle is an opaque reference to an open animation. The zero Handle is
// never valid.
type Handle uint64

// Table is a set of open animations. It is safe for concurrent use.
// Operations on a single handle are serialized.
type Table struct {
	opts animation.Options
	log  *slog.Logger

	mu      sync.Mutex
	last    Handle
	entries map[Handle]*entry
}

type entry struct {
	mu sync.Mutex
	a  *animation.Animation // nil after close
}

// NewTable returns a new Table. The provided options are used for each
// animation opened by the table, with MetadataOnly and MaxBytes set by
// the call to Open.
func NewTable(opts animation.Options) *Table {
	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	opts.Log = log
	return &Table{
		opts:    opts,
		log:     log.With(slog.String("component", "handle")),
		entries: make(map[Handle]*entry),
	}
}

// Open opens the GIF data in r and returns a handle to it. The table owns
// r from the time of the call; if r is an io.Closer it is closed when the
// handle is closed or if Open fails.
func (t *Table) Open(r io.ReadSeeker, metadataOnly bool, maxBytes uint32) (Handle, error) {
	opts := t.opts
	opts.MetadataOnly = metadataOnly
	opts.MaxBytes = maxBytes
	a, err := animation.OpenGIF(r, opts)
	if err != nil {
		t.log.LogAttrs(context.Background(), slog.LevelWarn, "open", slog.Any("error", err))
		return 0, err
	}
	t.mu.Lock()
	t.last++
	h := t.last
	t.entries[h] = &entry{a: a}
	t.mu.Unlock()
	t.log.LogAttrs(context.Background(), slog.LevelDebug, "open", slog.Uint64("handle", uint64(h)))
	return h, nil
}

// Close closes the animation referenced by h. Closing a handle that is not
// open is a no-op.
func (t *Table) Close(h Handle) error {
	t.mu.Lock()
	e, ok := t.entries[h]
	delete(t.entries, h)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.a == nil {
		return nil
	}
	err := e.a.Close()
	e.a = nil
	t.log.LogAttrs(context.Background(), slog.LevelDebug, "close", slog.Uint64("handle", uint64(h)))
	return err
}

// Len returns the number of open handles.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// do calls fn with the animation for h while holding the handle's lock.
// It returns false without calling fn if h is not open.
func (t *Table) do(h Handle, fn func(a *animation.Animation)) bool {
	t.mu.Lock()
	e, ok := t.entries[h]
	t.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.a == nil {
		return false
	}
	fn(e.a)
	return true
}

func (t *Table) warn(h Handle, op string, err error) {
	t.log.LogAttrs(context.Background(), slog.LevelWarn, op,
		slog.Uint64("handle", uint64(h)),
		slog.Any("error", err),
	)
}

// millis returns d in milliseconds or -1 for negative durations.
func millis(d time.Duration) int64 {
	if d < 0 {
		return -1
	}
	return d.Milliseconds()
}

// Comment returns the animation's comment text and whether there is one.
func (t *Table) Comment(h Handle) (comment string, ok bool) {
	t.do(h, func(a *animation.Animation) { comment, ok = a.Comment() })
	return comment, ok
}

// IsCompleted returns whether the animation has played all its passes.
// It returns false for invalid handles.
func (t *Table) IsCompleted(h Handle) (done bool) {
	t.do(h, func(a *animation.Animation) { done = a.IsCompleted() })
	return done
}

// LoopCount returns the animation's pass count, or zero for an invalid
// handle.
func (t *Table) LoopCount(h Handle) (n uint16) {
	t.do(h, func(a *animation.Animation) { n = a.LoopCount() })
	return n
}

// SetLoopCount sets the animation's pass count.
func (t *Table) SetLoopCount(h Handle, n uint16) {
	t.do(h, func(a *animation.Animation) { a.SetLoopCount(n) })
}

// Duration returns the unscaled duration of one pass in milliseconds, or
// zero for an invalid handle.
func (t *Table) Duration(h Handle) (ms uint32) {
	t.do(h, func(a *animation.Animation) { ms = a.Duration() })
	return ms
}

// SourceLength returns the source length in bytes, or -1 for an invalid
// handle.
func (t *Table) SourceLength(h Handle) int64 {
	n := int64(-1)
	t.do(h, func(a *animation.Animation) { n = a.SourceLength() })
	return n
}

// CurrentPosition returns the playback position at now in milliseconds, or
// zero for an invalid handle.
func (t *Table) CurrentPosition(h Handle, now time.Time) (ms uint32) {
	t.do(h, func(a *animation.Animation) { ms = a.Position(now) })
	return ms
}

// AllocationByteCount returns the bytes held in pixel buffers, or zero
// for an invalid handle.
func (t *Table) AllocationByteCount(h Handle) (n uint64) {
	t.do(h, func(a *animation.Animation) { n = a.AllocationByteCount() })
	return n
}

// NativeErrorCode returns the animation's sticky error code, or NoError for
// an invalid handle.
func (t *Table) NativeErrorCode(h Handle) (c animation.Code) {
	t.do(h, func(a *animation.Animation) { c = a.ErrorCode() })
	return c
}

// CurrentLoop returns the number of completed passes, or zero for an
// invalid handle.
func (t *Table) CurrentLoop(h Handle) (n uint16) {
	t.do(h, func(a *animation.Animation) { n = a.CurrentLoop() })
	return n
}

// CurrentFrameIndex returns the index of the frame on the canvas, or -1 for
// an invalid handle.
func (t *Table) CurrentFrameIndex(h Handle) int {
	i := -1
	t.do(h, func(a *animation.Animation) { i = a.CurrentIndex() })
	return i
}

// FrameDuration returns the unscaled delay of frame i in milliseconds, or
// zero for an invalid handle or index.
func (t *Table) FrameDuration(h Handle, i int) (ms uint32) {
	t.do(h, func(a *animation.Animation) { ms = a.FrameDuration(i) })
	return ms
}

// IsOpaque returns whether no frame uses transparency. It returns false
// for invalid handles.
func (t *Table) IsOpaque(h Handle) (opaque bool) {
	t.do(h, func(a *animation.Animation) { opaque = a.IsOpaque() })
	return opaque
}

// Width returns the canvas width, or zero for an invalid handle.
func (t *Table) Width(h Handle) (w int) {
	t.do(h, func(a *animation.Animation) { w = a.Width() })
	return w
}

// Height returns the canvas height, or zero for an invalid handle.
func (t *Table) Height(h Handle) (ht int) {
	t.do(h, func(a *animation.Animation) { ht = a.Height() })
	return ht
}

// NumberOfFrames returns the number of frames, or zero for an invalid
// handle.
func (t *Table) NumberOfFrames(h Handle) (n int) {
	t.do(h, func(a *animation.Animation) { n = a.Frames() })
	return n
}

// SavedState returns the animation's playback snapshot. It returns false
// for an invalid handle.
func (t *Table) SavedState(h Handle) (s animation.Snapshot, ok bool) {
	ok = t.do(h, func(a *animation.Animation) { s = a.Save() })
	return s, ok
}

// RestoreSavedState restores the snapshot s onto dst, or the animation's
// canvas if dst is nil, and returns the delay until the next frame in
// milliseconds. It returns -1 when no frame should be scheduled, when the
// restore fails and for invalid handles.
func (t *Table) RestoreSavedState(h Handle, s animation.Snapshot, now time.Time, dst animation.Surface) int32 {
	ms := int32(-1)
	t.do(h, func(a *animation.Animation) {
		d, err := a.Restore(s, now, dst)
		if err != nil {
			t.warn(h, "restore", err)
			return
		}
		ms = int32(min(millis(d), math.MaxInt32))
	})
	return ms
}

// RenderFrame draws the next frame onto dst, or the animation's canvas if
// dst is nil, and returns the delay until the next frame in milliseconds.
// It returns -1 when no frame should be scheduled, when rendering fails
// and for invalid handles.
func (t *Table) RenderFrame(h Handle, now time.Time, dst animation.Surface) int64 {
	ms := int64(-1)
	t.do(h, func(a *animation.Animation) {
		d, err := a.Advance(now, dst)
		if err != nil {
			t.warn(h, "render", err)
			return
		}
		ms = millis(d)
		t.log.LogAttrs(context.Background(), slog.LevelDebug, "render",
			slog.Uint64("handle", uint64(h)),
			slog.Int("frame", a.CurrentIndex()),
			slog.Any("delay", slogext.Millis(d)),
		)
	})
	return ms
}

// Reset rewinds the animation to its start. It returns false if the
// rewind fails or the handle is invalid.
func (t *Table) Reset(h Handle) (ok bool) {
	t.do(h, func(a *animation.Animation) {
		err := a.Reset()
		if err != nil {
			t.warn(h, "reset", err)
			return
		}
		ok = true
	})
	return ok
}

// SetSpeedFactor sets the factor applied to frame delays.
func (t *Table) SetSpeedFactor(h Handle, f float64) error {
	err := animation.ErrInvalidHandle
	t.do(h, func(a *animation.Animation) { err = a.SetSpeed(f) })
	if err == animation.ErrInvalidHandle {
		return fmt.Errorf("%w: %d", err, h)
	}
	return err
}

// SeekToFrame draws frame i and returns its scaled delay in milliseconds,
// or -1 on failure or for an invalid handle.
func (t *Table) SeekToFrame(h Handle, i int, now time.Time, dst animation.Surface) int64 {
	ms := int64(-1)
	t.do(h, func(a *animation.Animation) {
		d, err := a.SeekToFrame(i, now, dst)
		if err != nil {
			t.warn(h, "seek frame", err)
			return
		}
		ms = millis(d)
	})
	return ms
}

// SeekToTime draws the frame covering the position pos, in milliseconds,
// and returns the scaled time left for the frame in milliseconds, or -1 on
// failure or for an invalid handle.
func (t *Table) SeekToTime(h Handle, pos uint32, now time.Time, dst animation.Surface) int64 {
	ms := int64(-1)
	t.do(h, func(a *animation.Animation) {
		d, err := a.SeekToTime(pos, now, dst)
		if err != nil {
			t.warn(h, "seek time", err)
			return
		}
		ms = millis(d)
	})
	return ms
}

// SaveRemainder pauses the animation's timing at now.
func (t *Table) SaveRemainder(h Handle, now time.Time) {
	t.do(h, func(a *animation.Animation) { a.SaveRemainder(now) })
}

// RestoreRemainder resumes the animation's timing at now and returns the
// remaining frame time in milliseconds, or -1 if there was nothing to
// resume or the handle is invalid.
func (t *Table) RestoreRemainder(h Handle, now time.Time) int64 {
	ms := int64(-1)
	t.do(h, func(a *animation.Animation) { ms = millis(a.RestoreRemainder(now)) })
	return ms
}

// Canvas returns the animation's own canvas, or nil if the animation was
// opened for metadata only or the handle is invalid.
func (t *Table) Canvas(h Handle) (b *animation.Buffer) {
	t.do(h, func(a *animation.Animation) { b = a.Canvas() })
	return b
}
