// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bufio"
	"errors"
	"image/color"
	"io"
	"math"
	"strings"
)

// GIF block introducers.
const (
	blockExtension       = 0x21
	blockImageDescriptor = 0x2c
	blockTrailer         = 0x3b
)

// GIF extension labels.
const (
	extPlainText      = 0x01
	extGraphicControl = 0xf9
	extComment        = 0xfe
	extApplication    = 0xff
)

const (
	flagColorTable    = 1 << 7
	maskColorTableLen = 7
)

// minDelay is the shortest accepted frame delay in milliseconds. Shorter
// delays, including zero, are replaced with defaultDelay.
const (
	minDelay     = 20
	defaultDelay = 100
)

// scanner collects the logical screen description and frame control blocks
// of GIF data without decoding any raster.
type scanner struct {
	r *bufio.Reader

	width, height int
	global        color.Palette
	bgIndex       byte
	loopCount     int // -1 if there was no NETSCAPE2.0 block

	comment    strings.Builder
	hasComment bool

	control    ControlBlock
	hasControl bool
	controls   []ControlBlock

	tmp [3 * 256]byte
}

func (s *scanner) scan() error {
	s.loopCount = -1
	err := s.readHeader()
	if err != nil {
		return err
	}
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			return eofError(err, "reading block")
		}
		switch c {
		case blockExtension:
			err = s.readExtension()
		case blockImageDescriptor:
			err = s.readImageDescriptor()
		case blockTrailer:
			if len(s.controls) == 0 {
				return &Error{Code: NoFrames}
			}
			return nil
		default:
			err = Errorf(WrongRecord, "unknown block type: %#02x", c)
		}
		if err != nil {
			return err
		}
	}
}

// header returns the logical screen description. The NETSCAPE2.0 loop
// count is the number of repeats after the first pass, so it is converted
// to a pass count.
func (s *scanner) header() Header {
	h := Header{Width: s.width, Height: s.height}
	switch {
	case s.loopCount < 0:
		h.LoopCount = 1
	case s.loopCount == 0:
		h.LoopCount = 0
	default:
		h.LoopCount = uint16(min(s.loopCount+1, math.MaxUint16))
	}
	if int(s.bgIndex) < len(s.global) {
		h.Background = s.global[s.bgIndex]
	}
	if s.hasComment {
		c := s.comment.String()
		h.Comment = &c
	}
	return h
}

func (s *scanner) readHeader() error {
	err := s.readFull(s.tmp[:13])
	if err != nil {
		return &Error{Code: NoScrnDscr, Err: err}
	}
	version := string(s.tmp[:6])
	if version != "GIF87a" && version != "GIF89a" {
		return Errorf(NotGIFFile, "unrecognized format %q", version)
	}
	s.width = int(s.tmp[6]) | int(s.tmp[7])<<8
	s.height = int(s.tmp[8]) | int(s.tmp[9])<<8
	if s.width == 0 || s.height == 0 {
		return Errorf(InvalidScreenDims, "%dx%d", s.width, s.height)
	}
	fields := s.tmp[10]
	s.bgIndex = s.tmp[11]
	if fields&flagColorTable != 0 {
		s.global, err = s.readColorTable(fields)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *scanner) readColorTable(fields byte) (color.Palette, error) {
	n := 1 << (1 + uint(fields&maskColorTableLen))
	err := s.readFull(s.tmp[:3*n])
	if err != nil {
		return nil, &Error{Code: NoColorMap, Err: err}
	}
	p := make(color.Palette, n)
	for i := range p {
		p[i] = color.RGBA{R: s.tmp[3*i], G: s.tmp[3*i+1], B: s.tmp[3*i+2], A: 0xff}
	}
	return p, nil
}

func (s *scanner) readExtension() error {
	label, err := s.r.ReadByte()
	if err != nil {
		return eofError(err, "reading extension")
	}
	switch label {
	case extGraphicControl:
		return s.readGraphicControl()
	case extComment:
		return s.readComment()
	case extPlainText:
		err = s.readFull(s.tmp[:13])
		if err != nil {
			return eofError(err, "reading plain text extension")
		}
	case extApplication:
		n, err := s.readBlock()
		if err != nil {
			return eofError(err, "reading application extension")
		}
		if n == 0 {
			return nil
		}
		if string(s.tmp[:n]) == "NETSCAPE2.0" {
			n, err = s.readBlock()
			if err != nil {
				return eofError(err, "reading application extension")
			}
			if n == 0 {
				return nil
			}
			if n == 3 && s.tmp[0] == 1 {
				s.loopCount = int(s.tmp[1]) | int(s.tmp[2])<<8
			}
		}
	default:
		// Unknown extensions are skipped.
	}
	return s.skipBlocks()
}

func (s *scanner) readGraphicControl() error {
	err := s.readFull(s.tmp[:6])
	if err != nil {
		return eofError(err, "reading graphic control")
	}
	if s.tmp[0] != 4 {
		return Errorf(WrongRecord, "invalid graphic control extension block size: %d", s.tmp[0])
	}
	fields := s.tmp[1]
	delay := (uint32(s.tmp[2]) | uint32(s.tmp[3])<<8) * 10
	if delay < minDelay {
		delay = defaultDelay
	}
	s.control = ControlBlock{
		Delay:          delay,
		Disposal:       disposal(fields),
		Transparent:    s.tmp[4],
		HasTransparent: fields&1 != 0,
	}
	s.hasControl = true
	if s.tmp[5] != 0 {
		return s.skipBlocks()
	}
	return nil
}

// disposal returns the disposal mode held in graphic control fields.
// Reserved values are treated as unspecified.
func disposal(fields byte) Disposal {
	d := Disposal((fields >> 2) & 7)
	if d > RestorePrevious {
		return DisposalUnspecified
	}
	return d
}

func (s *scanner) readComment() error {
	for {
		n, err := s.readBlock()
		if err != nil {
			return eofError(err, "reading comment")
		}
		if n == 0 {
			return nil
		}
		s.hasComment = true
		s.comment.Write(s.tmp[:n])
	}
}

func (s *scanner) readImageDescriptor() error {
	err := s.readFull(s.tmp[:9])
	if err != nil {
		return &Error{Code: NoImagDscr, Err: err}
	}
	left := int(s.tmp[0]) | int(s.tmp[1])<<8
	top := int(s.tmp[2]) | int(s.tmp[3])<<8
	width := int(s.tmp[4]) | int(s.tmp[5])<<8
	height := int(s.tmp[6]) | int(s.tmp[7])<<8
	fields := s.tmp[8]
	if width == 0 || height == 0 {
		return Errorf(InvalidImageDims, "frame %d: %dx%d", len(s.controls), width, height)
	}
	if left+width > s.width || top+height > s.height {
		return Errorf(ImageNotConfined, "frame %d: bounds (%d,%d)-(%d,%d) outside %dx%d",
			len(s.controls), left, top, left+width, top+height, s.width, s.height)
	}
	if fields&flagColorTable != 0 {
		_, err = s.r.Discard(3 << (1 + uint(fields&maskColorTableLen)))
		if err != nil {
			return eofError(err, "reading local color table")
		}
	} else if s.global == nil {
		return Errorf(NoColorMap, "frame %d", len(s.controls))
	}
	litWidth, err := s.r.ReadByte()
	if err != nil {
		return eofError(err, "reading image data")
	}
	if litWidth < 2 || litWidth > 8 {
		return Errorf(ImageDefect, "frame %d: pixel size out of range: %d", len(s.controls), litWidth)
	}
	err = s.skipBlocks()
	if err != nil {
		return err
	}

	ctl := s.control
	if !s.hasControl {
		ctl = ControlBlock{Delay: defaultDelay}
	}
	s.controls = append(s.controls, ctl)
	s.hasControl = false
	return nil
}

// readBlock reads a data sub-block into tmp and returns its length.
func (s *scanner) readBlock() (int, error) {
	n, err := s.r.ReadByte()
	if n == 0 || err != nil {
		return 0, err
	}
	err = s.readFull(s.tmp[:n])
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// skipBlocks discards data sub-blocks up to and including the block
// terminator.
func (s *scanner) skipBlocks() error {
	for {
		n, err := s.r.ReadByte()
		if err != nil {
			return eofError(err, "reading data blocks")
		}
		if n == 0 {
			return nil
		}
		_, err = s.r.Discard(int(n))
		if err != nil {
			return eofError(err, "reading data blocks")
		}
	}
}

func (s *scanner) readFull(b []byte) error {
	_, err := io.ReadFull(s.r, b)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// eofError returns err as a coded error. Premature ends of data are
// reported as EOFTooSoon.
func eofError(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Errorf(EOFTooSoon, "%s: %w", what, err)
	}
	return Errorf(ReadFailed, "%s: %w", what, err)
}
