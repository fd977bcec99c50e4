// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

// bytesPerPixel is the size of a composited canvas pixel.
const bytesPerPixel = 4

// CheckSize returns an error if a canvas of the given dimensions is not valid
// or would require more than maxBytes bytes. It is called before any canvas
// or backup buffer is allocated.
func CheckSize(width, height int, maxBytes uint32) error {
	if width < 1 || height < 1 {
		return Errorf(InvalidScreenDims, "%dx%d", width, height)
	}
	// Do the arithmetic in uint64 so that large dims cannot overflow.
	need := uint64(width) * uint64(height) * bytesPerPixel
	if need > uint64(maxBytes) {
		return Errorf(ExceedSizeLimit, "%dx%d needs %d bytes, limit is %d", width, height, need, maxBytes)
	}
	return nil
}
