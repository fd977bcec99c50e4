// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"errors"
	"fmt"
)

// Error kinds. An *Error matches its kind with errors.Is.
var (
	ErrIO                = errors.New("source unreadable")
	ErrFormat            = errors.New("invalid format")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrRewindFailed      = errors.New("rewind failed")
	ErrInvalidHandle     = errors.New("invalid handle")
)

// Playback errors that do not carry a native code.
var (
	// ErrFaulted is returned by mutating operations on an animation
	// that holds a sticky decode error.
	ErrFaulted = errors.New("animation faulted")

	// ErrNoCanvas is returned when a drawing operation is requested
	// without a surface on an animation opened for metadata only.
	ErrNoCanvas = errors.New("no canvas")

	// ErrSingleFrame is returned when restoring state into a static image.
	ErrSingleFrame = errors.New("single frame image")

	// ErrBadState is returned when a snapshot or the receiver's state
	// is not consistent.
	ErrBadState = errors.New("invalid playback state")
)

// Code is a native error code. Values below 1000 follow giflib's decoder
// error numbering.
type Code int32

const (
	NoError Code = 0

	OpenFailed   Code = 101
	ReadFailed   Code = 102
	NotGIFFile   Code = 103
	NoScrnDscr   Code = 104
	NoImagDscr   Code = 105
	NoColorMap   Code = 106
	WrongRecord  Code = 107
	DataTooBig   Code = 108
	NotEnoughMem Code = 109
	CloseFailed  Code = 110
	NotReadable  Code = 111
	ImageDefect  Code = 112
	EOFTooSoon   Code = 113

	NoFrames          Code = 1000
	InvalidScreenDims Code = 1001
	InvalidImageDims  Code = 1002
	ImageNotConfined  Code = 1003
	RewindFailed      Code = 1004
	ExceedSizeLimit   Code = 1006
)

var codeText = map[Code]string{
	NoError:           "no error",
	OpenFailed:        "failed to open given input",
	ReadFailed:        "failed to read from given input",
	NotGIFFile:        "data is not in GIF format",
	NoScrnDscr:        "no screen descriptor detected",
	NoImagDscr:        "no image descriptor detected",
	NoColorMap:        "neither global nor local color map found",
	WrongRecord:       "wrong record type detected",
	DataTooBig:        "number of pixels bigger than width * height",
	NotEnoughMem:      "failed to allocate required memory",
	CloseFailed:       "failed to close given input",
	NotReadable:       "given file was not opened for read",
	ImageDefect:       "image is defective, decoding aborted",
	EOFTooSoon:        "image EOF detected before image complete",
	NoFrames:          "no frames found, at least one frame required",
	InvalidScreenDims: "invalid screen size, dimensions must be positive",
	InvalidImageDims:  "invalid image size, dimensions must be positive",
	ImageNotConfined:  "image size exceeds screen size",
	RewindFailed:      "input source rewind failed, animation stopped",
	ExceedSizeLimit:   "image size exceeds the allowed limit",
}

func (c Code) String() string {
	s, ok := codeText[c]
	if !ok {
		return fmt.Sprintf("unknown error %d", int32(c))
	}
	return s
}

// Kind returns the error kind corresponding to c or nil for NoError.
func (c Code) Kind() error {
	switch c {
	case NoError:
		return nil
	case OpenFailed, ReadFailed, NotReadable, CloseFailed, EOFTooSoon:
		return ErrIO
	case NotEnoughMem, ExceedSizeLimit:
		return ErrResourceExhausted
	case RewindFailed:
		return ErrRewindFailed
	default:
		return ErrFormat
	}
}

// Error is an error with a native code.
type Error struct {
	Code Code
	Err  error // underlying cause, may be nil
}

// Errorf returns an *Error with the given code and a formatted cause.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the kind of the receiver's code.
func (e *Error) Is(target error) bool {
	k := e.Code.Kind()
	return k != nil && k == target
}

// CodeOf returns the native code held by err, or ReadFailed if err is a
// non-nil error without a code.
func CodeOf(err error) Code {
	if err == nil {
		return NoError
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ReadFailed
}
