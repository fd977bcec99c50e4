// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"fmt"
	"image"
	"sync"
)

// Surface is a pixel buffer owned by a display host.
type Surface interface {
	// Lock returns exclusive write access to the surface's pixels. The
	// returned image must have the bounds (0, 0)-(width, height). The
	// image must not be retained after Unlock is called.
	Lock(width, height int) (*image.RGBA, error)
	// Unlock releases the access obtained with Lock.
	Unlock()
}

// Allocator provides pixel buffers.
type Allocator interface {
	NewRGBA(r image.Rectangle) (*image.RGBA, error)
	Free(img *image.RGBA)
}

// Heap is the default Allocator. Allocations are made on the Go heap and
// Free is a no-op.
var Heap Allocator = heap{}

type heap struct{}

func (heap) NewRGBA(r image.Rectangle) (img *image.RGBA, err error) {
	// image.NewRGBA panics for sizes that cannot be allocated.
	defer func() {
		if p := recover(); p != nil {
			img, err = nil, fmt.Errorf("%v", p)
		}
	}()
	return image.NewRGBA(r), nil
}

func (heap) Free(*image.RGBA) {}

// Buffer is a Surface backed by an owned RGBA image.
type Buffer struct {
	mu  sync.Mutex
	img *image.RGBA
}

// NewBuffer returns a Buffer wrapping img.
func NewBuffer(img *image.RGBA) *Buffer {
	return &Buffer{img: img}
}

// Lock implements the Surface interface.
func (b *Buffer) Lock(width, height int) (*image.RGBA, error) {
	b.mu.Lock()
	if b.img == nil {
		b.mu.Unlock()
		return nil, ErrNoCanvas
	}
	if got := b.img.Bounds(); got != image.Rect(0, 0, width, height) {
		b.mu.Unlock()
		return nil, fmt.Errorf("surface size mismatch: %v != %dx%d", got, width, height)
	}
	return b.img, nil
}

// Unlock implements the Surface interface.
func (b *Buffer) Unlock() {
	b.mu.Unlock()
}

// Image returns the buffer's image. The returned image must not be
// modified while the buffer is in use as a Surface.
func (b *Buffer) Image() *image.RGBA {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.img
}

// release returns the buffer's image to alloc.
func (b *Buffer) release(alloc Allocator) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.img != nil {
		alloc.Free(b.img)
		b.img = nil
	}
}
