// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package animation provides incremental playback of animated raster images.
//
// An [Animation] pulls frames from a [Decoder] and composites them onto a
// persistent RGBA canvas, applying each frame's disposal immediately before
// the following frame is drawn. Playback is driven by the host: [Animation.Advance]
// draws the next frame and returns how long it should be displayed, and
// the position of playback can be captured with [Animation.Save] and later
// reapplied with [Animation.Restore].
//
// Animation values perform no locking. Frames are drawn either to the
// animation's own canvas or to a host [Surface] that is locked for the
// duration of each drawing call.
package animation
