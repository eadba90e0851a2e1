package call

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// NoCapture is the Media implementation used when no capture hardware
// collaborator is wired in. The session falls back to recvonly
// transceivers so the SDP exchange stays valid.
type NoCapture struct{}

func (NoCapture) Acquire(context.Context, bool) ([]webrtc.TrackLocal, func(), error) {
	return nil, func() {}, nil
}
