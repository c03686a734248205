// Package transport adapts pion PeerConnections to the call package's
// engine interfaces.
package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duocall/internal/call"
	"github.com/1ureka/duocall/internal/util"
)

// Engine creates Transports against a fixed set of STUN servers.
type Engine struct {
	iceServers []string
}

// NewEngine returns an Engine using iceServers for every connection.
func NewEngine(iceServers []string) *Engine {
	return &Engine{iceServers: append([]string(nil), iceServers...)}
}

// NewConnection implements call.Engine.
func (e *Engine) NewConnection(h call.Handlers) (call.Connection, error) {
	return NewTransport(e.iceServers, h)
}

// Transport wraps a single PeerConnection carrying the call's audio and
// video. All lifecycle observers are bound at construction time.
//
// The PeerConnection state is recorded but does not drive any decision; the
// caller owns the Transport and closes it explicitly.
type Transport struct {
	pc       *webrtc.PeerConnection
	gathered <-chan struct{}
	sent     *senderStats

	done      chan struct{}
	closeOnce sync.Once

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

// NewTransport creates a Transport backed by a new PeerConnection with every
// handler in h bound. Nil handlers are skipped.
func NewTransport(iceServers []string, h call.Handlers) (*Transport, error) {
	pc, sent, err := newPeerConnection(iceServers)
	if err != nil {
		return nil, err
	}

	t := &Transport{
		pc:      pc,
		sent:    sent,
		done:    make(chan struct{}),
		pcState: webrtc.PeerConnectionStateNew,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if h.OnICECandidate == nil {
			return
		}
		if c == nil {
			h.OnICECandidate("", true)
			return
		}
		h.OnICECandidate(c.ToJSON().Candidate, false)
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if h.OnICEConnectionState != nil {
			h.OnICEConnectionState(state.String())
		}
	})

	// Record PC state (informational only).
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()
		if h.OnConnectionState != nil {
			h.OnConnectionState(state.String())
		}
	})

	pc.OnICEGatheringStateChange(func(state webrtc.ICEGatheringState) {
		if h.OnICEGatheringState != nil {
			h.OnICEGatheringState(state.String())
		}
	})

	pc.OnNegotiationNeeded(func() {
		if h.OnNegotiationNeeded != nil {
			h.OnNegotiationNeeded()
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if h.OnTrack != nil {
			h.OnTrack(track.Kind().String(), track.StreamID())
		}
		go t.drain(track)
	})

	t.gathered = webrtc.GatheringCompletePromise(pc)

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Close shuts down the PeerConnection. Calling it again is harmless.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.pc.Close()
	})
	return err
}

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// AddTrack attaches a local track on a sendrecv transceiver and starts
// draining its RTCP feedback.
func (t *Transport) AddTrack(track webrtc.TrackLocal) error {
	sender, err := addSendRecvTrack(t.pc, track)
	if err != nil {
		return err
	}
	go t.readRTCP(sender)
	return nil
}

// Receivers lists the receiving side of every transceiver. A receiver is
// ended once its transceiver no longer receives or its DTLS transport has
// shut down.
func (t *Transport) Receivers() []call.Receiver {
	var out []call.Receiver
	for _, tr := range t.pc.GetTransceivers() {
		r := tr.Receiver()
		if r == nil {
			continue
		}
		out = append(out, call.Receiver{Kind: tr.Kind().String(), State: receiverState(tr, r)})
	}
	return out
}

func receiverState(tr *webrtc.RTPTransceiver, r *webrtc.RTPReceiver) string {
	switch tr.Direction() {
	case webrtc.RTPTransceiverDirectionInactive, webrtc.RTPTransceiverDirectionSendonly:
		return call.ReceiverEnded
	}
	if dtls := r.Transport(); dtls != nil {
		switch dtls.State() {
		case webrtc.DTLSTransportStateClosed, webrtc.DTLSTransportStateFailed:
			return call.ReceiverEnded
		}
	}
	return call.ReceiverLive
}

// Stats returns the engine's statistics report. pion reports receivers
// only, so an outbound-rtp entry per local sender is added from the stats
// interceptor.
func (t *Transport) Stats() webrtc.StatsReport {
	report := t.pc.GetStats()
	if report == nil {
		report = webrtc.StatsReport{}
	}

	getter := t.sent.get()
	if getter == nil {
		return report
	}

	reported := map[webrtc.SSRC]bool{}
	for _, s := range report {
		switch r := s.(type) {
		case webrtc.OutboundRTPStreamStats:
			reported[r.SSRC] = true
		case *webrtc.OutboundRTPStreamStats:
			reported[r.SSRC] = true
		}
	}

	for _, sender := range t.pc.GetSenders() {
		track := sender.Track()
		if track == nil {
			continue
		}
		params := sender.GetParameters()
		if len(params.Encodings) == 0 {
			continue
		}
		ssrc := params.Encodings[0].SSRC
		if reported[ssrc] {
			continue
		}
		st := getter.Get(uint32(ssrc))
		if st == nil {
			continue
		}

		id := fmt.Sprintf("outbound-rtp-%d", ssrc)
		report[id] = webrtc.OutboundRTPStreamStats{
			ID:        id,
			Type:      webrtc.StatsTypeOutboundRTP,
			SSRC:      ssrc,
			Kind:      track.Kind().String(),
			BytesSent: st.OutboundRTPStreamStats.BytesSent,
		}
	}
	return report
}

// readRTCP consumes RTCP for sender so interceptors keep running.
func (t *Transport) readRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// drain reads a remote track until it ends. Nothing renders the media; the
// reads keep the inbound RTP counters moving.
func (t *Transport) drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			select {
			case <-t.done:
			default:
				if !errors.Is(err, io.EOF) {
					util.LogDebug("remote %s track read ended: %v", track.Kind(), err)
				}
			}
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// GatheringComplete is closed once ICE gathering has finished.
func (t *Transport) GatheringComplete() <-chan struct{} {
	return t.gathered
}

// LocalDescription returns the local SDP including the candidates gathered
// so far.
func (t *Transport) LocalDescription() *webrtc.SessionDescription {
	return t.pc.LocalDescription()
}
