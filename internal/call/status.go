package call

import (
	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/protocol"
)

// Unknown is the placeholder shown for a state that has not been reported
// by the current connection yet.
const Unknown = "-"

// Status is the observer-visible view of the active call.
type Status struct {
	SessionID          string              `json:"sessionId"`
	Role               config.Role         `json:"role"`
	ICEConnectionState string              `json:"iceConnectionState"`
	ConnectionState    string              `json:"connectionState"`
	ICEGatheringState  string              `json:"iceGatheringState"`
	Directions         protocol.Directions `json:"directions"`
	Stats              StatsSnapshot       `json:"stats"`
}

func newStatus() Status {
	return Status{
		SessionID:          Unknown,
		Role:               Unknown,
		ICEConnectionState: Unknown,
		ConnectionState:    Unknown,
		ICEGatheringState:  Unknown,
		Directions: protocol.Directions{
			Audio: Unknown,
			Video: Unknown,
		},
	}
}

// Observer receives status updates and log lines. Calls are made outside
// the controller's lock, possibly from engine goroutines.
type Observer interface {
	OnStatus(st Status)
	OnLog(line string)
}

type nopObserver struct{}

func (nopObserver) OnStatus(Status) {}
func (nopObserver) OnLog(string)    {}

// Observers fans every update out to each member in order.
type Observers []Observer

func (obs Observers) OnStatus(st Status) {
	for _, o := range obs {
		o.OnStatus(st)
	}
}

func (obs Observers) OnLog(line string) {
	for _, o := range obs {
		o.OnLog(line)
	}
}
