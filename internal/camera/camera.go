// Package camera abstracts the device camera a capture session draws from.
//
// A Device hands out at most one live Handle at a time. Callers must give
// every Handle back with Release, on success and on error paths alike. The
// capture session calls Release explicitly on every way out of the camera
// step, Close included, and for handles that arrive after the step was left.
package camera

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrPermissionDenied means the user refused camera access.
	ErrPermissionDenied = errors.New("camera: permission denied")
	// ErrNotFound means there is no camera with the requested facing.
	ErrNotFound = errors.New("camera: device not found")
)

// Facing selects the front or the back camera.
type Facing string

const (
	FacingUser        Facing = "user"        // front, selfie
	FacingEnvironment Facing = "environment" // back
)

// Toggle returns the other facing.
func (f Facing) Toggle() Facing {
	if f == FacingUser {
		return FacingEnvironment
	}
	return FacingUser
}

// Mirrored reports whether frames from this facing are shown flipped.
func (f Facing) Mirrored() bool {
	return f == FacingUser
}

// Handle is an acquired camera stream.
type Handle interface {
	Facing() Facing
	// Frame returns the latest frame. ok is false until the stream produced
	// its first frame, and again after release.
	Frame() (img image.Image, ok bool)
}

// Device acquires and releases camera streams.
//
// Acquire may block while the user is asked for permission, so it is never
// called on a session's event loop.
type Device interface {
	Acquire(ctx context.Context, facing Facing) (Handle, error)
	Release(h Handle)
}
