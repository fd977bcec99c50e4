// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// SnapshotSize is the length of a marshaled Snapshot.
const SnapshotSize = 4 * 8

// Snapshot is the serializable playback position of an animation.
type Snapshot struct {
	FrameIndex int64 `json:"frame_index"`
	LoopIndex  int64 `json:"loop_index"`
	// Remainder is the stored display time left on the
	// frame in milliseconds, or -1 if playback was running.
	Remainder int64 `json:"remainder"`
	// SpeedBits is the IEEE 754 bit pattern of the
	// speed factor.
	SpeedBits int64 `json:"speed_bits"`
}

// Speed returns the snapshot's speed factor.
func (s Snapshot) Speed() float64 {
	return math.Float64frombits(uint64(s.SpeedBits))
}

// MarshalBinary encodes the snapshot as four little-endian int64 values in
// field order.
func (s Snapshot) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, SnapshotSize)
	for _, v := range [...]int64{s.FrameIndex, s.LoopIndex, s.Remainder, s.SpeedBits} {
		b = binary.LittleEndian.AppendUint64(b, uint64(v))
	}
	return b, nil
}

// UnmarshalBinary decodes a snapshot encoded by MarshalBinary.
func (s *Snapshot) UnmarshalBinary(b []byte) error {
	if len(b) != SnapshotSize {
		return fmt.Errorf("%w: snapshot length %d", ErrBadState, len(b))
	}
	for i, p := range [...]*int64{&s.FrameIndex, &s.LoopIndex, &s.Remainder, &s.SpeedBits} {
		*p = int64(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return nil
}

// Save returns the receiver's playback position. It has no side effects.
func (a *Animation) Save() Snapshot {
	return Snapshot{
		FrameIndex: int64(a.currentIndex),
		LoopIndex:  int64(a.currentLoop),
		Remainder:  a.remainder,
		SpeedBits:  int64(math.Float64bits(a.speed)),
	}
}

// Restore moves playback to the position held in s, compositing frames
// onto dst, or the animation's own canvas if dst is nil. If the snapshot
// was taken while running, the next frame deadline is set relative to now
// and the scaled delay of the restored frame is returned. Otherwise the
// stored remainder is kept and NoSchedule is returned.
//
// The snapshot is validated before any state is changed. If a rewind is
// needed and fails, the sticky error is set and no other state changes.
func (a *Animation) Restore(s Snapshot, now time.Time, dst Surface) (time.Duration, error) {
	switch {
	case a.err != nil:
		return NoSchedule, a.faulted()
	case len(a.controls) == 1:
		return NoSchedule, ErrSingleFrame
	case s.FrameIndex < 0 || s.FrameIndex >= int64(len(a.controls)):
		return NoSchedule, fmt.Errorf("%w: frame index %d out of range [0,%d)", ErrBadState, s.FrameIndex, len(a.controls))
	case s.LoopIndex < 0 || s.LoopIndex > math.MaxUint16:
		return NoSchedule, fmt.Errorf("%w: loop index %d", ErrBadState, s.LoopIndex)
	case s.Remainder < -1:
		return NoSchedule, fmt.Errorf("%w: remainder %d", ErrBadState, s.Remainder)
	case !validSpeed(s.Speed()):
		return NoSchedule, fmt.Errorf("%w: speed factor %v", ErrBadState, s.Speed())
	case a.loopLimit != 0 && s.LoopIndex > int64(a.loopLimit):
		return NoSchedule, fmt.Errorf("%w: loop %d past limit %d", ErrBadState, s.LoopIndex, a.loopLimit)
	case a.loopLimit != 0 && a.currentLoop > a.loopLimit:
		return NoSchedule, fmt.Errorf("%w: loop %d past limit %d", ErrBadState, a.currentLoop, a.loopLimit)
	}

	img, unlock, err := a.lock(dst)
	if err != nil {
		return NoSchedule, err
	}
	defer unlock()
	last, err := a.seek(img, int(s.FrameIndex))
	if err != nil {
		return NoSchedule, err
	}
	a.currentLoop = uint16(s.LoopIndex)
	a.remainder = s.Remainder
	a.speed = max(s.Speed(), MinSpeed)
	a.log.LogAttrs(context.Background(), slog.LevelDebug, "restore",
		slog.Int64("frame", s.FrameIndex),
		slog.Int64("loop", s.LoopIndex),
		slog.Int64("remainder", s.Remainder),
		slog.Float64("speed", a.speed),
	)
	if a.remainder != -1 {
		return NoSchedule, nil
	}
	d := a.scale(last)
	a.nextStart = now.Add(d)
	return d, nil
}
