// Package call coordinates a single manually-signaled audio/video call:
// which role is active, the order descriptions are applied in, and the
// status mirrored to observers.
package call

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Handlers are the connection lifecycle observers. An Engine binds all of
// them before returning a Connection, so no event can be missed.
type Handlers struct {
	// OnICECandidate receives each gathered candidate; done is true once
	// gathering has finished and candidate is empty.
	OnICECandidate       func(candidate string, done bool)
	OnICEConnectionState func(state string)
	OnConnectionState    func(state string)
	OnICEGatheringState  func(state string)
	OnNegotiationNeeded  func()
	OnTrack              func(kind, streamID string)
}

// Connection is the engine-side handle owned by one Session.
type Connection interface {
	// AddTrack attaches a local track on a sendrecv transceiver.
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	// GatheringComplete is closed when ICE gathering finishes.
	GatheringComplete() <-chan struct{}
	// LocalDescription returns the current local description including
	// every candidate gathered so far.
	LocalDescription() *webrtc.SessionDescription
	// Receivers lists every receiving transceiver with its track state.
	Receivers() []Receiver
	Stats() webrtc.StatsReport
	Close() error
}

// Receiver states, named after a media track's readyState.
const (
	ReceiverLive  = "live"
	ReceiverEnded = "ended"
)

// Receiver describes one receiving side of a transceiver.
type Receiver struct {
	Kind  string
	State string
}

// Engine builds connections.
type Engine interface {
	NewConnection(h Handlers) (Connection, error)
}

// Constraints selects the media kinds to capture.
type Constraints struct {
	Audio bool
	Video bool
}

// LocalStream is a captured set of local tracks.
type LocalStream interface {
	ID() string
	Tracks() []webrtc.TrackLocal
	Close() error
}

// Capturer acquires local media.
type Capturer interface {
	Capture(ctx context.Context, c Constraints) (LocalStream, error)
}
