// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bufio"
	"errors"
	"fmt"
	"image/gif"
	"io"
)

// IsGIF returns whether the data held by r is a GIF image.
func IsGIF(r ReadPeeker) bool {
	return hasMagic("GIF8?a", r)
}

// ReadPeeker is an io.Reader that can also peek n bytes ahead.
type ReadPeeker interface {
	io.Reader
	Peek(n int) ([]byte, error)
}

// AsReadPeeker converts an io.Reader to a ReadPeeker.
func AsReadPeeker(r io.Reader) ReadPeeker {
	if r, ok := r.(ReadPeeker); ok {
		return r
	}
	return bufio.NewReader(r)
}

// hasMagic returns whether r starts with the provided magic bytes.
func hasMagic(magic string, r ReadPeeker) bool {
	b, err := r.Peek(len(magic))
	if err != nil || len(b) != len(magic) {
		return false
	}
	for i, c := range b {
		if magic[i] != c && magic[i] != '?' {
			return false
		}
	}
	return true
}

// OpenGIF opens the GIF data held by r as an Animation. The returned
// animation owns r. If r is an io.Closer it is closed when the animation
// is closed or opening fails.
func OpenGIF(r io.ReadSeeker, opts Options) (*Animation, error) {
	dec, err := NewGIFDecoder(r)
	if err != nil {
		if c, ok := r.(io.Closer); ok {
			err = errors.Join(err, c.Close())
		}
		return nil, err
	}
	return Open(dec, opts)
}

// GIFDecoder is a Decoder for GIF data.
//
// The block structure of the source is scanned when the decoder is
// created to collect the logical screen description and the frame control
// blocks. All rasters are decoded with image/gif on the first request for a
// decoded frame and are held until Close. The decoded rasters are not
// counted against an animation's MaxBytes budget.
type GIFDecoder struct {
	r      io.ReadSeeker
	start  int64
	length int64

	header   Header
	controls []ControlBlock

	g    *gif.GIF
	next int
}

// NewGIFDecoder returns a GIFDecoder reading from the current position of r.
func NewGIFDecoder(r io.ReadSeeker) (*GIFDecoder, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, &Error{Code: OpenFailed, Err: err}
	}
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, &Error{Code: OpenFailed, Err: err}
	}
	_, err = r.Seek(start, io.SeekStart)
	if err != nil {
		return nil, &Error{Code: OpenFailed, Err: err}
	}
	s := scanner{r: bufio.NewReader(r)}
	err = s.scan()
	if err != nil {
		return nil, err
	}
	return &GIFDecoder{
		r:        r,
		start:    start,
		length:   end - start,
		header:   s.header(),
		controls: s.controls,
	}, nil
}

// Header implements the Decoder interface.
func (d *GIFDecoder) Header() Header { return d.header }

// Len implements the Decoder interface.
func (d *GIFDecoder) Len() int64 { return d.length }

// Next implements the Decoder interface.
func (d *GIFDecoder) Next(decode bool) (*Frame, error) {
	if d.next >= len(d.controls) {
		return nil, io.EOF
	}
	f := &Frame{Control: d.controls[d.next]}
	if decode {
		if d.g == nil {
			err := d.decode()
			if err != nil {
				return nil, err
			}
		}
		f.Image = d.g.Image[d.next]
	}
	d.next++
	return f, nil
}

func (d *GIFDecoder) decode() error {
	_, err := d.r.Seek(d.start, io.SeekStart)
	if err != nil {
		return &Error{Code: ReadFailed, Err: err}
	}
	g, err := gif.DecodeAll(bufio.NewReader(d.r))
	if err != nil {
		return &Error{Code: ImageDefect, Err: err}
	}
	if len(g.Image) != len(d.controls) {
		return Errorf(ImageDefect, "mismatched frame count: %d != %d", len(g.Image), len(d.controls))
	}
	d.g = g
	return nil
}

// Rewind implements the Decoder interface.
func (d *GIFDecoder) Rewind() error {
	_, err := d.r.Seek(d.start, io.SeekStart)
	if err != nil {
		return fmt.Errorf("seek to start: %w", err)
	}
	d.next = 0
	return nil
}

// Close implements the Decoder interface. If the decoder's reader is an
// io.Closer it is closed.
func (d *GIFDecoder) Close() error {
	d.g = nil
	d.controls = nil
	if c, ok := d.r.(io.Closer); ok {
		err := c.Close()
		if err != nil {
			return &Error{Code: CloseFailed, Err: err}
		}
	}
	return nil
}
