// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package handle

import (
	"bytes"
	"errors"
	"flag"
	"image"
	"image/color"
	"image/gif"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/gifplay/internal/animation"
	"github.com/kortschak/gifplay/internal/slogext"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

var epoch = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	var (
		mu     sync.Mutex
		logBuf bytes.Buffer
	)
	t.Cleanup(func() {
		if *verbose && logBuf.Len() != 0 {
			t.Logf("log:\n%s\n", &logBuf)
		}
	})
	log := slog.New(slogext.NewJSONHandler(&lockedWriter{mu: &mu, w: &logBuf}, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	}))
	return NewTable(animation.Options{Log: log})
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (w *lockedWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(b)
}

// testGIF returns an 8x8 GIF with delays of 100, 200 and 150ms.
func testGIF(t *testing.T, loopCount int) []byte {
	t.Helper()
	pal := color.Palette{color.White, color.Black, color.RGBA{R: 0xff, A: 0xff}}
	var frames []*image.Paletted
	for i := range 3 {
		img := image.NewPaletted(image.Rect(0, 0, 8, 8), pal)
		for j := range img.Pix {
			img.Pix[j] = uint8(i)
		}
		frames = append(frames, img)
	}
	var buf bytes.Buffer
	err := gif.EncodeAll(&buf, &gif.GIF{
		Image:     frames,
		Delay:     []int{10, 20, 15},
		LoopCount: loopCount,
	})
	if err != nil {
		t.Fatalf("failed to encode gif: %v", err)
	}
	return buf.Bytes()
}

func TestInvalidHandle(t *testing.T) {
	tab := newTestTable(t)
	const h = Handle(42)
	now := epoch

	type results struct {
		Comment        string
		HasComment     bool
		IsCompleted    bool
		LoopCount      uint16
		Duration       uint32
		SourceLength   int64
		Position       uint32
		Allocation     uint64
		ErrorCode      animation.Code
		CurrentLoop    uint16
		FrameIndex     int
		FrameDuration  uint32
		IsOpaque       bool
		Width, Height  int
		Frames         int
		HasSaved       bool
		Restore        int32
		Render         int64
		Reset          bool
		SeekFrame      int64
		SeekTime       int64
		ResumeRemain   int64
		CanvasIsNil    bool
		SpeedIsInvalid bool
	}
	var got results
	got.Comment, got.HasComment = tab.Comment(h)
	got.IsCompleted = tab.IsCompleted(h)
	got.LoopCount = tab.LoopCount(h)
	got.Duration = tab.Duration(h)
	got.SourceLength = tab.SourceLength(h)
	got.Position = tab.CurrentPosition(h, now)
	got.Allocation = tab.AllocationByteCount(h)
	got.ErrorCode = tab.NativeErrorCode(h)
	got.CurrentLoop = tab.CurrentLoop(h)
	got.FrameIndex = tab.CurrentFrameIndex(h)
	got.FrameDuration = tab.FrameDuration(h, 0)
	got.IsOpaque = tab.IsOpaque(h)
	got.Width = tab.Width(h)
	got.Height = tab.Height(h)
	got.Frames = tab.NumberOfFrames(h)
	_, got.HasSaved = tab.SavedState(h)
	got.Restore = tab.RestoreSavedState(h, animation.Snapshot{}, now, nil)
	got.Render = tab.RenderFrame(h, now, nil)
	got.Reset = tab.Reset(h)
	got.SeekFrame = tab.SeekToFrame(h, 1, now, nil)
	got.SeekTime = tab.SeekToTime(h, 10, now, nil)
	tab.SaveRemainder(h, now)
	tab.SetLoopCount(h, 3)
	got.ResumeRemain = tab.RestoreRemainder(h, now)
	got.CanvasIsNil = tab.Canvas(h) == nil
	got.SpeedIsInvalid = errors.Is(tab.SetSpeedFactor(h, 2), animation.ErrInvalidHandle)

	want := results{
		SourceLength:   -1,
		FrameIndex:     -1,
		Restore:        -1,
		Render:         -1,
		SeekFrame:      -1,
		SeekTime:       -1,
		ResumeRemain:   -1,
		CanvasIsNil:    true,
		SpeedIsInvalid: true,
	}
	if !cmp.Equal(want, got) {
		t.Errorf("unexpected invalid handle results:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
	if err := tab.Close(h); err != nil {
		t.Errorf("unexpected error closing invalid handle: %v", err)
	}
	if err := tab.Close(0); err != nil {
		t.Errorf("unexpected error closing zero handle: %v", err)
	}
}

func TestTable(t *testing.T) {
	tab := newTestTable(t)
	data := testGIF(t, 1)
	h, err := tab.Open(bytes.NewReader(data), false, 1<<20)
	if err != nil {
		t.Fatalf("unexpected error opening: %v", err)
	}
	if h == 0 {
		t.Fatal("unexpected zero handle")
	}
	if tab.Len() != 1 {
		t.Errorf("unexpected table length: got:%d want:1", tab.Len())
	}

	if got := tab.Duration(h); got != 450 {
		t.Errorf("unexpected duration: got:%d want:450", got)
	}
	if got := tab.LoopCount(h); got != 2 {
		t.Errorf("unexpected loop count: got:%d want:2", got)
	}
	if got := tab.SourceLength(h); got != int64(len(data)) {
		t.Errorf("unexpected source length: got:%d want:%d", got, len(data))
	}
	if got := tab.AllocationByteCount(h); got != 8*8*4 {
		t.Errorf("unexpected allocation byte count: got:%d want:%d", got, 8*8*4)
	}
	if !tab.IsOpaque(h) {
		t.Error("expected opaque animation")
	}
	if got := tab.FrameDuration(h, 1); got != 200 {
		t.Errorf("unexpected frame duration: got:%d want:200", got)
	}
	if got := tab.FrameDuration(h, 3); got != 0 {
		t.Errorf("unexpected out of range frame duration: got:%d want:0", got)
	}

	now := epoch
	var delays []int64
	for range 7 {
		d := tab.RenderFrame(h, now, nil)
		delays = append(delays, d)
		if d > 0 {
			now = now.Add(time.Duration(d) * time.Millisecond)
		}
	}
	want := []int64{100, 200, 150, 100, 200, 150, -1}
	if !cmp.Equal(want, delays) {
		t.Errorf("unexpected delays:\n--- want:\n+++ got:\n%s", cmp.Diff(want, delays))
	}
	if !tab.IsCompleted(h) {
		t.Error("expected completed animation")
	}
	if !tab.Reset(h) {
		t.Error("unexpected reset failure")
	}
	if tab.IsCompleted(h) || tab.CurrentLoop(h) != 0 {
		t.Error("unexpected state after reset")
	}

	err = tab.SetSpeedFactor(h, 2)
	if err != nil {
		t.Errorf("unexpected error setting speed: %v", err)
	}
	if err = tab.SetSpeedFactor(h, math.NaN()); !errors.Is(err, animation.ErrBadState) {
		t.Errorf("unexpected error setting NaN speed: got:%v want:%v", err, animation.ErrBadState)
	}
	if got := tab.SeekToFrame(h, 1, now, nil); got != 400 {
		t.Errorf("unexpected scaled seek delay: got:%d want:400", got)
	}
	tab.SaveRemainder(h, now.Add(100*time.Millisecond))
	saved, ok := tab.SavedState(h)
	if !ok {
		t.Fatal("unexpected failure getting saved state")
	}
	wantSaved := animation.Snapshot{FrameIndex: 1, Remainder: 300, SpeedBits: int64(math.Float64bits(2))}
	if saved != wantSaved {
		t.Errorf("unexpected saved state: got:%+v want:%+v", saved, wantSaved)
	}

	// Restore into a second handle onto a host surface.
	h2, err := tab.Open(bytes.NewReader(data), true, 1<<20)
	if err != nil {
		t.Fatalf("unexpected error opening second handle: %v", err)
	}
	if h2 == h {
		t.Fatal("handle reused")
	}
	if tab.Canvas(h2) != nil {
		t.Error("unexpected canvas for metadata only handle")
	}
	if got := tab.AllocationByteCount(h2); got != 0 {
		t.Errorf("unexpected allocation for metadata only handle: %d", got)
	}
	host := animation.NewBuffer(image.NewRGBA(image.Rect(0, 0, 8, 8)))
	if got := tab.RestoreSavedState(h2, saved, now, host); got != -1 {
		t.Errorf("unexpected restore result for paused state: got:%d want:-1", got)
	}
	got2, _ := tab.SavedState(h2)
	if got2 != saved {
		t.Errorf("unexpected restored state: got:%+v want:%+v", got2, saved)
	}
	if got := tab.RestoreRemainder(h2, now); got != 300 {
		t.Errorf("unexpected resumed remainder: got:%d want:300", got)
	}
	if !cmp.Equal(tab.Canvas(h).Image().Pix, host.Image().Pix) {
		t.Error("restored surface does not match source canvas")
	}
	if got := tab.NativeErrorCode(h2); got != animation.NoError {
		t.Errorf("unexpected error code after restore: %v", got)
	}

	for _, h := range []Handle{h, h2} {
		err = tab.Close(h)
		if err != nil {
			t.Errorf("unexpected error closing: %v", err)
		}
		err = tab.Close(h)
		if err != nil {
			t.Errorf("unexpected error on double close: %v", err)
		}
		if got := tab.CurrentFrameIndex(h); got != -1 {
			t.Errorf("unexpected frame index after close: %d", got)
		}
	}
	if tab.Len() != 0 {
		t.Errorf("unexpected table length: got:%d want:0", tab.Len())
	}
}

func TestRestoreLongDelay(t *testing.T) {
	tab := newTestTable(t)
	h, err := tab.Open(bytes.NewReader(testGIF(t, 0)), false, 1<<20)
	if err != nil {
		t.Fatalf("unexpected error opening: %v", err)
	}
	defer tab.Close(h)
	snap := animation.Snapshot{FrameIndex: 1, Remainder: -1, SpeedBits: int64(math.Float64bits(1e12))}
	if got := tab.RestoreSavedState(h, snap, epoch, nil); got != math.MaxInt32 {
		t.Errorf("unexpected restore delay: got:%d want:%d", got, math.MaxInt32)
	}
}

func TestOpenFailure(t *testing.T) {
	tab := newTestTable(t)
	_, err := tab.Open(bytes.NewReader(testGIF(t, 0)), false, 8*8*4-1)
	if !errors.Is(err, animation.ErrResourceExhausted) {
		t.Errorf("unexpected error: got:%v want:%v", err, animation.ErrResourceExhausted)
	}
	_, err = tab.Open(bytes.NewReader([]byte("GIF89a")), false, 1<<20)
	if animation.CodeOf(err) != animation.NoScrnDscr {
		t.Errorf("unexpected error code: got:%d want:%d", animation.CodeOf(err), animation.NoScrnDscr)
	}
	if tab.Len() != 0 {
		t.Errorf("unexpected table length: got:%d want:0", tab.Len())
	}
}

func TestConcurrent(t *testing.T) {
	tab := newTestTable(t)
	h, err := tab.Open(bytes.NewReader(testGIF(t, 0)), false, 1<<20)
	if err != nil {
		t.Fatalf("unexpected error opening: %v", err)
	}
	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := epoch
			for range 50 {
				if i%2 == 0 {
					tab.RenderFrame(h, now, nil)
				} else {
					tab.CurrentPosition(h, now)
					tab.SavedState(h)
				}
				now = now.Add(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()
	if got := tab.NativeErrorCode(h); got != animation.NoError {
		t.Errorf("unexpected error code: %v", got)
	}
	err = tab.Close(h)
	if err != nil {
		t.Errorf("unexpected error closing: %v", err)
	}
}
