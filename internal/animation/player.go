// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"time"
)

// NoSchedule is returned in place of a frame delay when no further frame
// should be scheduled.
const NoSchedule time.Duration = -1

// MinSpeed is the smallest accepted speed factor.
const MinSpeed = 1.0 / math.MaxInt32

// Duration returns the total unscaled duration of one pass of the animation
// in milliseconds.
func (a *Animation) Duration() uint32 {
	var sum uint32
	for _, c := range a.controls {
		sum += c.Delay
	}
	return sum
}

// Position returns the playback position within the current pass in
// milliseconds at the time now. The position of a single frame image is
// always zero.
func (a *Animation) Position(now time.Time) uint32 {
	if len(a.controls) <= 1 {
		return 0
	}
	var sum int64
	for _, c := range a.controls[:a.currentIndex] {
		sum += int64(c.Delay)
	}
	pos := sum - a.remaining(now)
	if pos < 0 {
		return 0
	}
	return uint32(pos)
}

// remaining returns the display time left on the current frame at now in
// milliseconds.
func (a *Animation) remaining(now time.Time) int64 {
	if a.remainder != -1 {
		return a.remainder
	}
	return max(0, a.nextStart.Sub(now).Milliseconds())
}

// IsCompleted returns whether the animation has played all its passes.
func (a *Animation) IsCompleted() bool {
	return a.loopLimit != 0 && a.currentLoop == a.loopLimit
}

// Speed returns the current speed factor.
func (a *Animation) Speed() float64 { return a.speed }

// SetSpeed sets the factor that frame delays are multiplied by. Factors
// less than MinSpeed are raised to MinSpeed.
func (a *Animation) SetSpeed(f float64) error {
	if !validSpeed(f) {
		return fmt.Errorf("%w: speed factor %v", ErrBadState, f)
	}
	a.speed = max(f, MinSpeed)
	return nil
}

func validSpeed(f float64) bool {
	return f > 0 && !math.IsNaN(f) && !math.IsInf(f, 1)
}

// scale returns the delay in milliseconds multiplied by the speed factor.
func (a *Animation) scale(delay uint32) time.Duration {
	ms := float64(delay) * a.speed
	if ms > math.MaxInt64/float64(time.Millisecond) {
		return math.MaxInt64
	}
	return time.Duration(ms) * time.Millisecond
}

// Advance draws the next frame onto dst, or the animation's own canvas if
// dst is nil, and returns the scaled time the frame should be displayed
// for. The deadline of the next frame is set relative to now. When the last
// pass completes, nothing is drawn and NoSchedule is returned. A single
// frame image is drawn once and NoSchedule is returned thereafter.
func (a *Animation) Advance(now time.Time, dst Surface) (time.Duration, error) {
	if a.err != nil {
		return NoSchedule, a.faulted()
	}
	if a.IsCompleted() {
		return NoSchedule, nil
	}
	if a.started && len(a.controls) == 1 {
		return NoSchedule, nil
	}
	img, unlock, err := a.lock(dst)
	if err != nil {
		return NoSchedule, err
	}
	defer unlock()

	if a.started && a.currentIndex == len(a.controls)-1 {
		loop := a.currentLoop
		if loop < math.MaxUint16 {
			loop++
		}
		if a.loopLimit != 0 && loop == a.loopLimit {
			a.currentLoop = loop
			a.remainder = -1
			a.log.LogAttrs(context.Background(), slog.LevelDebug, "completed", slog.Int("loops", int(loop)))
			return NoSchedule, nil
		}
		err = a.rewind()
		if err != nil {
			return NoSchedule, err
		}
		a.currentLoop = loop
	}
	delay, err := a.drawNext(img)
	if err != nil {
		return NoSchedule, err
	}
	d := a.scale(delay)
	a.nextStart = now.Add(d)
	a.remainder = -1
	return d, nil
}

// RewindTo composites frames onto dst, or the animation's own canvas if dst
// is nil, until the frame at target is on the canvas. If target is before
// the current frame, the decoder is rewound first. The unscaled delay of the
// frame at target is returned. No timing state is changed.
func (a *Animation) RewindTo(target int, dst Surface) (uint32, error) {
	if a.err != nil {
		return 0, a.faulted()
	}
	if target < 0 || target >= len(a.controls) {
		return 0, fmt.Errorf("%w: frame index %d out of range [0,%d)", ErrBadState, target, len(a.controls))
	}
	img, unlock, err := a.lock(dst)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return a.seek(img, target)
}

// Reset rewinds the animation to its first frame and clears the loop count
// and timing state. The first frame is drawn by the next call to Advance.
func (a *Animation) Reset() error {
	if a.err != nil {
		return a.faulted()
	}
	err := a.rewind()
	if err != nil {
		return err
	}
	a.currentLoop = 0
	a.nextStart = time.Time{}
	a.remainder = -1
	return nil
}

// SeekToFrame draws frame i onto dst, or the animation's own canvas if dst
// is nil, and returns the scaled delay of that frame. Indexes past the last
// frame seek to the last frame. If playback is paused, the stored remainder
// is set to the new frame's delay.
func (a *Animation) SeekToFrame(i int, now time.Time, dst Surface) (time.Duration, error) {
	if a.err != nil {
		return NoSchedule, a.faulted()
	}
	if i < 0 {
		return NoSchedule, fmt.Errorf("%w: frame index %d", ErrBadState, i)
	}
	i = min(i, len(a.controls)-1)
	img, unlock, err := a.lock(dst)
	if err != nil {
		return NoSchedule, err
	}
	defer unlock()
	delay, err := a.seek(img, i)
	if err != nil {
		return NoSchedule, err
	}
	return a.schedule(now, a.scale(delay)), nil
}

// SeekToTime draws the frame covering the position ms within the pass
// onto dst, or the animation's own canvas if dst is nil, and returns the
// scaled display time left for that frame. Positions past the end seek to
// the end of the last frame. Seeking a single frame image is a no-op.
func (a *Animation) SeekToTime(ms uint32, now time.Time, dst Surface) (time.Duration, error) {
	if a.err != nil {
		return NoSchedule, a.faulted()
	}
	if len(a.controls) == 1 {
		return NoSchedule, nil
	}
	var (
		target int
		end    uint64
	)
	for target = range a.controls {
		end += uint64(a.controls[target].Delay)
		if end > uint64(ms) {
			break
		}
	}
	left := uint32(0)
	if end > uint64(ms) {
		left = uint32(end - uint64(ms))
	}
	img, unlock, err := a.lock(dst)
	if err != nil {
		return NoSchedule, err
	}
	defer unlock()
	_, err = a.seek(img, target)
	if err != nil {
		return NoSchedule, err
	}
	return a.schedule(now, a.scale(left)), nil
}

// schedule sets the next frame deadline to now+d, or the stored remainder
// to d if playback is paused, and returns d.
func (a *Animation) schedule(now time.Time, d time.Duration) time.Duration {
	if a.remainder != -1 {
		a.remainder = d.Milliseconds()
	} else {
		a.nextStart = now.Add(d)
	}
	return d
}

// SaveRemainder pauses timing by storing the display time left on the
// current frame at now. It is a no-op if a remainder is already stored or
// the animation has completed.
func (a *Animation) SaveRemainder(now time.Time) {
	if a.remainder != -1 || a.IsCompleted() {
		return
	}
	a.remainder = a.remaining(now)
}

// RestoreRemainder resumes timing from a stored remainder, setting the next
// frame deadline relative to now, and returns the remaining display time.
// NoSchedule is returned if there is no stored remainder, the image has a
// single frame, or the animation has completed.
func (a *Animation) RestoreRemainder(now time.Time) time.Duration {
	if a.remainder == -1 || len(a.controls) == 1 || a.IsCompleted() {
		return NoSchedule
	}
	d := time.Duration(a.remainder) * time.Millisecond
	a.nextStart = now.Add(d)
	a.remainder = -1
	return d
}

// lock locks dst, or the animation's canvas if dst is nil, for drawing.
func (a *Animation) lock(dst Surface) (*image.RGBA, func(), error) {
	if dst == nil {
		if a.canvas == nil {
			return nil, nil, ErrNoCanvas
		}
		dst = a.canvas
	}
	img, err := dst.Lock(a.header.Width, a.header.Height)
	if err != nil {
		return nil, nil, err
	}
	return img, dst.Unlock, nil
}

func (a *Animation) faulted() error {
	return fmt.Errorf("%w: %w", ErrFaulted, a.err)
}

// rewind returns the decoder to the first frame. On failure the sticky
// error is set and no other state is changed.
func (a *Animation) rewind() error {
	err := a.dec.Rewind()
	if err != nil {
		return a.fault(&Error{Code: RewindFailed, Err: err})
	}
	a.log.LogAttrs(context.Background(), slog.LevelDebug, "rewind", slog.Int("from", a.currentIndex))
	a.stale = false
	a.started = false
	a.currentIndex = 0
	return nil
}

// seek composites frames onto img until the frame at target is on the
// canvas, rewinding first if target is behind the current frame. It
// returns the unscaled delay of the frame at target.
func (a *Animation) seek(img *image.RGBA, target int) (uint32, error) {
	if a.started && target < a.currentIndex {
		err := a.rewind()
		if err != nil {
			return 0, err
		}
	}
	last := a.controls[a.currentIndex].Delay
	for !a.started || a.currentIndex < target {
		var err error
		last, err = a.drawNext(img)
		if err != nil {
			return 0, err
		}
	}
	return last, nil
}

// drawNext decodes the next frame and composites it onto img, preparing
// the canvas first if it is the first frame of a pass. The decoder is
// rewound first if it has not been since a metadata only open.
func (a *Animation) drawNext(img *image.RGBA) (uint32, error) {
	next := a.currentIndex + 1
	if !a.started {
		next = 0
	}
	if a.stale {
		err := a.rewind()
		if err != nil {
			return 0, err
		}
	}
	f, err := a.dec.Next(true)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = Errorf(EOFTooSoon, "frame %d of %d missing", next, len(a.controls))
		}
		return 0, a.fault(err)
	}
	if f.Image == nil {
		return 0, a.fault(Errorf(ImageDefect, "frame %d has no raster", next))
	}
	if !f.Image.Bounds().In(image.Rect(0, 0, a.header.Width, a.header.Height)) {
		return 0, a.fault(Errorf(ImageNotConfined, "frame %d bounds %v", next, f.Image.Bounds()))
	}
	if next == 0 {
		a.comp.prepare(img, a.controls[0])
	}
	fr := *f
	fr.Control = a.controls[next]
	delay, err := a.comp.apply(img, &fr)
	if err != nil {
		return 0, a.fault(err)
	}
	a.currentIndex = next
	a.started = true
	return delay, nil
}
