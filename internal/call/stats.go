package call

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
)

// StatsSnapshot holds cumulative RTP payload byte counts per direction and
// media kind.
type StatsSnapshot struct {
	InVideo  uint64 `json:"inVideo"`
	OutVideo uint64 `json:"outVideo"`
	InAudio  uint64 `json:"inAudio"`
	OutAudio uint64 `json:"outAudio"`
}

// FoldStats sums the inbound and outbound RTP stream reports of a stats
// report into a snapshot. Every other report type is ignored.
func FoldStats(report webrtc.StatsReport) StatsSnapshot {
	var snap StatsSnapshot
	for _, s := range report {
		switch r := s.(type) {
		case webrtc.InboundRTPStreamStats:
			snap.addInbound(r.Kind, r.BytesReceived)
		case *webrtc.InboundRTPStreamStats:
			snap.addInbound(r.Kind, r.BytesReceived)
		case webrtc.OutboundRTPStreamStats:
			snap.addOutbound(r.Kind, r.BytesSent)
		case *webrtc.OutboundRTPStreamStats:
			snap.addOutbound(r.Kind, r.BytesSent)
		}
	}
	return snap
}

func (s *StatsSnapshot) addInbound(kind string, n uint64) {
	switch kind {
	case "video":
		s.InVideo += n
	case "audio":
		s.InAudio += n
	}
}

func (s *StatsSnapshot) addOutbound(kind string, n uint64) {
	switch kind {
	case "video":
		s.OutVideo += n
	case "audio":
		s.OutAudio += n
	}
}

// sampleStats queries the connection once. A panic from a connection in the
// middle of teardown is reported as ok=false.
func sampleStats(conn Connection) (snap StatsSnapshot, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return FoldStats(conn.Stats()), true
}

// pollStats overwrites the session's counters every interval until ctx is
// cancelled. Failed ticks are skipped without resetting the counters.
func (c *Controller) pollStats(ctx context.Context, s *Session) {
	defer close(s.pollDone)
	defer c.pollers.Add(-1)

	ticker := time.NewTicker(c.opts.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snap, ok := sampleStats(s.conn)
			if !ok {
				continue
			}
			c.observe(s.generation, func(st *Status) { st.Stats = snap })

		case <-ctx.Done():
			return
		}
	}
}
