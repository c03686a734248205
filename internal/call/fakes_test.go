package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func fakeSDP(dir string) string {
	return "v=0\r\n" +
		"o=- 1 1 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=" + dir + "\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=" + dir + "\r\n"
}

var errAlreadySet = errors.New("remote description already set")

// fakeConn records every call made by the controller.
type fakeConn struct {
	h Handlers

	mu          sync.Mutex
	calls       []string
	tracks      []webrtc.TrackLocal
	local       *webrtc.SessionDescription
	remote      *webrtc.SessionDescription
	closed      int
	stats       webrtc.StatsReport
	statsPanics bool
	gathered    chan struct{}
}

func newFakeConn(h Handlers) *fakeConn {
	g := make(chan struct{})
	close(g)
	return &fakeConn{h: h, gathered: g}
}

func (f *fakeConn) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeConn) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeConn) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) AddTrack(track webrtc.TrackLocal) error {
	f.record("AddTrack:" + track.Kind().String())
	f.mu.Lock()
	f.tracks = append(f.tracks, track)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	f.record("CreateOffer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fakeSDP("sendrecv")}, nil
}

func (f *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	f.record("CreateAnswer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fakeSDP("sendrecv")}, nil
}

func (f *fakeConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.record("SetLocalDescription:" + desc.Type.String())
	f.mu.Lock()
	f.local = &desc
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.record("SetRemoteDescription:" + desc.Type.String())
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote != nil {
		return errAlreadySet
	}
	f.remote = &desc
	return nil
}

func (f *fakeConn) GatheringComplete() <-chan struct{} { return f.gathered }

func (f *fakeConn) LocalDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.local == nil {
		return nil
	}
	d := *f.local
	return &d
}

func (f *fakeConn) Receivers() []Receiver {
	return []Receiver{{Kind: "audio", State: ReceiverLive}, {Kind: "video", State: ReceiverLive}}
}

func (f *fakeConn) Stats() webrtc.StatsReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statsPanics {
		panic("connection is closed")
	}
	return f.stats
}

func (f *fakeConn) setStats(report webrtc.StatsReport, panics bool) {
	f.mu.Lock()
	f.stats = report
	f.statsPanics = panics
	f.mu.Unlock()
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	if f.closed > 1 {
		return errors.New("already closed")
	}
	return nil
}

// fakeEngine hands out fakeConns and keeps every one it created.
type fakeEngine struct {
	mu    sync.Mutex
	conns []*fakeConn

	// holdGathering leaves GatheringComplete open on new connections.
	holdGathering bool
}

func (e *fakeEngine) NewConnection(h Handlers) (Connection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := newFakeConn(h)
	if e.holdGathering {
		c.gathered = make(chan struct{})
	}
	e.conns = append(e.conns, c)
	return c, nil
}

func (e *fakeEngine) Conns() []*fakeConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*fakeConn(nil), e.conns...)
}

// fakeStream holds real pion sample tracks; nothing is ever written to them.
type fakeStream struct {
	tracks []webrtc.TrackLocal
	closed bool
}

func (s *fakeStream) ID() string                  { return "local" }
func (s *fakeStream) Tracks() []webrtc.TrackLocal { return s.tracks }
func (s *fakeStream) Close() error                { s.closed = true; return nil }

type fakeCapturer struct {
	err    error
	stream *fakeStream
}

func (f *fakeCapturer) Capture(_ context.Context, c Constraints) (LocalStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	var tracks []webrtc.TrackLocal
	if c.Audio {
		a, _ := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "local")
		tracks = append(tracks, a)
	}
	if c.Video {
		v, _ := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "local")
		tracks = append(tracks, v)
	}
	f.stream = &fakeStream{tracks: tracks}
	return f.stream, nil
}

// recordingObserver keeps every status and log line it receives.
type recordingObserver struct {
	mu       sync.Mutex
	statuses []Status
	lines    []string
}

func (o *recordingObserver) OnStatus(st Status) {
	o.mu.Lock()
	o.statuses = append(o.statuses, st)
	o.mu.Unlock()
}

func (o *recordingObserver) OnLog(line string) {
	o.mu.Lock()
	o.lines = append(o.lines, line)
	o.mu.Unlock()
}

func (o *recordingObserver) Statuses() []Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Status(nil), o.statuses...)
}

func (o *recordingObserver) Lines() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.lines...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
