// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kortschak/gifplay/internal/animation"
	"github.com/kortschak/gifplay/internal/config"
	"github.com/kortschak/gifplay/internal/handle"
	"github.com/kortschak/gifplay/internal/state"
)

// player drives playback of a single animation file held in a handle
// table. Unless realtime is set, time is simulated by advancing now by
// each frame's delay.
type player struct {
	table    *handle.Table
	h        handle.Handle
	path     string
	maxBytes uint32
	cfg      *config.Config

	// surface is the player's own drawing surface when the
	// animation is opened for metadata only.
	surface *animation.Buffer

	out      string
	limit    int
	written  int
	realtime bool

	now   time.Time
	delay int64 // ms until the next frame is due.

	log *slog.Logger
}

// open opens the player's file and applies the configured playback
// overrides.
func (p *player) open() error {
	f, err := os.Open(p.path)
	if err != nil {
		return err
	}
	h, err := p.table.Open(f, p.cfg.MetadataOnly, p.maxBytes)
	if err != nil {
		return fmt.Errorf("%s: %w", p.path, err)
	}
	p.surface = nil
	if p.cfg.MetadataOnly {
		p.surface = animation.NewBuffer(image.NewRGBA(image.Rect(0, 0, p.table.Width(h), p.table.Height(h))))
	}
	if p.cfg.Speed != nil {
		err = p.table.SetSpeedFactor(h, *p.cfg.Speed)
		if err != nil {
			return errors.Join(err, p.table.Close(h))
		}
	}
	if p.cfg.LoopCount != nil {
		p.table.SetLoopCount(h, uint16(*p.cfg.LoopCount))
	}
	p.h = h
	p.delay = 0
	return nil
}

func (p *player) close() error {
	return p.table.Close(p.h)
}

// dst returns the surface frames are drawn onto, nil for the
// animation's own canvas.
func (p *player) dst() animation.Surface {
	if p.surface == nil {
		return nil
	}
	return p.surface
}

// canvas returns the buffer holding the current frame.
func (p *player) canvas() *animation.Buffer {
	if p.surface != nil {
		return p.surface
	}
	return p.table.Canvas(p.h)
}

// resume restores the snapshot s and reports whether it was restored.
// When it was not, playback starts from the beginning.
func (p *player) resume(s animation.Snapshot) bool {
	d := int64(p.table.RestoreSavedState(p.h, s, p.now, p.dst()))
	if d < 0 {
		// Paused snapshots restore with their remainder held.
		d = p.table.RestoreRemainder(p.h, p.now)
	}
	if d < 0 {
		p.delay = 0
		return false
	}
	p.delay = d
	return true
}

// save stores the current playback position under key, or removes the
// stored position if the animation has completed.
func (p *player) save(store *state.DB, key state.Key) error {
	if p.table.IsCompleted(p.h) {
		return store.Delete(key)
	}
	p.table.SaveRemainder(p.h, p.now)
	s, ok := p.table.SavedState(p.h)
	if !ok {
		return errors.New("no animation to save")
	}
	_, _, err := store.Put(key, s, time.Now())
	return err
}

// run plays the animation until it completes, the frame limit is reached
// or ctx is cancelled. If watch is true, run then continues waiting for
// changes, reopening the file and restoring the playback position when
// its contents change, until ctx is cancelled.
func (p *player) run(ctx context.Context, changes <-chan config.Change, watch bool) error {
	for {
		c, err := p.play(ctx, changes)
		if err != nil {
			return err
		}
		if c == nil {
			if !watch {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ch := <-changes:
				c = &ch
			}
		}
		switch {
		case c.Err != nil:
			p.log.LogAttrs(ctx, slog.LevelWarn, "watch error", slog.Any("error", c.Err))
		case c.Sum == nil:
			p.log.LogAttrs(ctx, slog.LevelInfo, "animation removed", slog.String("path", p.path))
		default:
			p.log.LogAttrs(ctx, slog.LevelInfo, "animation changed", slog.String("path", p.path), slog.Any("sum", c.Sum))
			err = p.reload()
			if err != nil {
				p.log.LogAttrs(ctx, slog.LevelWarn, "reload", slog.Any("error", err))
			}
		}
	}
}

// reload reopens the player's file, restoring the playback position if
// the new contents allow it.
func (p *player) reload() error {
	p.table.SaveRemainder(p.h, p.now)
	s, ok := p.table.SavedState(p.h)
	err := p.close()
	if err != nil {
		p.log.LogAttrs(context.Background(), slog.LevelWarn, "close", slog.Any("error", err))
	}
	err = p.open()
	if err != nil {
		return err
	}
	if ok && p.resume(s) {
		return p.write()
	}
	return nil
}

// play renders frames until the animation stops scheduling frames, the
// frame limit is reached, ctx is cancelled or a change is received. A
// received change is returned.
func (p *player) play(ctx context.Context, changes <-chan config.Change) (*config.Change, error) {
	for p.limit == 0 || p.written < p.limit {
		if p.delay < 0 {
			return nil, nil
		}
		d := time.Duration(p.delay) * time.Millisecond
		if p.realtime {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case c := <-changes:
				timer.Stop()
				return &c, nil
			case <-timer.C:
			}
			p.now = time.Now()
		} else {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case c := <-changes:
				return &c, nil
			default:
			}
			p.now = p.now.Add(d)
		}

		p.delay = p.table.RenderFrame(p.h, p.now, p.dst())
		if p.delay < 0 {
			code := p.table.NativeErrorCode(p.h)
			if code != animation.NoError {
				return nil, fmt.Errorf("%s: render failed: %v", p.path, code)
			}
			return nil, nil
		}
		err := p.write()
		if err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// write writes the current canvas to the output directory if there is one.
func (p *player) write() error {
	defer func() { p.written++ }()
	if p.out == "" {
		return nil
	}
	canvas := p.canvas()
	if canvas == nil {
		return errors.New("no canvas to write")
	}
	f, err := os.Create(filepath.Join(p.out, fmt.Sprintf("frame-%04d.png", p.written)))
	if err != nil {
		return err
	}
	err = png.Encode(f, canvas.Image())
	return errors.Join(err, f.Close())
}
