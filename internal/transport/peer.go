package transport

import (
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/webrtc/v4"
)

// senderStats holds the stats interceptor getter of one PeerConnection. It
// is filled in while the PeerConnection is being built.
type senderStats struct {
	mu     sync.Mutex
	getter stats.Getter
}

func (s *senderStats) set(g stats.Getter) {
	s.mu.Lock()
	s.getter = g
	s.mu.Unlock()
}

func (s *senderStats) get() stats.Getter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getter
}

// newPeerConnection creates a PeerConnection configured with the given STUN
// servers, gathering host candidates only when none are given. No TURN
// server is ever added: calls rely on direct connectivity.
//
// The API carries pion's default codecs and interceptors plus a stats
// interceptor, which counts the bytes written by each local sender.
func newPeerConnection(iceServers []string) (*webrtc.PeerConnection, *senderStats, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, nil, err
	}

	ss := &senderStats{}
	statsFactory, err := stats.NewInterceptor()
	if err != nil {
		return nil, nil, err
	}
	statsFactory.OnNewPeerConnection(func(_ string, g stats.Getter) {
		ss.set(g)
	})
	registry.Add(statsFactory)

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(registry))

	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{
			{URLs: iceServers},
		}
	}
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, nil, err
	}
	return pc, ss, nil
}

// addSendRecvTrack attaches track on an explicit sendrecv transceiver so the
// call is full duplex regardless of negotiation defaults.
func addSendRecvTrack(pc *webrtc.PeerConnection, track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	tr, err := pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		return nil, err
	}
	return tr.Sender(), nil
}
