package call

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/protocol"
)

func newTestController(t *testing.T) (*Controller, *fakeEngine, *recordingObserver) {
	t.Helper()
	engine := &fakeEngine{}
	obs := &recordingObserver{}
	c := NewController(engine, &fakeCapturer{}, obs, Options{
		StatsInterval: 10 * time.Millisecond,
		GatherTimeout: time.Second,
	})
	t.Cleanup(func() { c.Close() })
	return c, engine, obs
}

func startedController(t *testing.T) (*Controller, *fakeEngine, *recordingObserver) {
	t.Helper()
	c, engine, obs := newTestController(t)
	if err := c.StartMedia(context.Background()); err != nil {
		t.Fatalf("StartMedia failed: %v", err)
	}
	return c, engine, obs
}

func offerText(t *testing.T) string {
	t.Helper()
	text, err := protocol.EncodeDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fakeSDP("sendonly")})
	if err != nil {
		t.Fatal(err)
	}
	return text
}

func answerText(t *testing.T) string {
	t.Helper()
	text, err := protocol.EncodeDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fakeSDP("recvonly")})
	if err != nil {
		t.Fatal(err)
	}
	return text
}

// TestStartCallRequiresLocalMedia verifies no connection is built before
// local capture succeeded.
func TestStartCallRequiresLocalMedia(t *testing.T) {
	c, engine, _ := newTestController(t)

	if _, err := c.StartCall(config.RoleOfferer); !errors.Is(err, ErrNoLocalMedia) {
		t.Fatalf("StartCall: got %v, want ErrNoLocalMedia", err)
	}
	if _, err := c.CreateOffer(context.Background()); !errors.Is(err, ErrNoLocalMedia) {
		t.Fatalf("CreateOffer: got %v, want ErrNoLocalMedia", err)
	}
	if _, err := c.CreateAnswer(context.Background(), offerText(t)); !errors.Is(err, ErrNoLocalMedia) {
		t.Fatalf("CreateAnswer: got %v, want ErrNoLocalMedia", err)
	}
	if n := len(engine.Conns()); n != 0 {
		t.Fatalf("expected no connections, got %d", n)
	}
}

func TestStartMediaCaptureFailure(t *testing.T) {
	deviceErr := errors.New("NotFoundError")
	c := NewController(&fakeEngine{}, &fakeCapturer{err: deviceErr}, nil, Options{})

	err := c.StartMedia(context.Background())
	if !errors.Is(err, ErrCaptureFailed) || !errors.Is(err, deviceErr) {
		t.Fatalf("expected capture error wrapping the device error, got %v", err)
	}
	if _, err := c.StartCall(config.RoleOfferer); !errors.Is(err, ErrNoLocalMedia) {
		t.Fatalf("expected ErrNoLocalMedia after failed capture, got %v", err)
	}
}

// TestCreateOfferSequence verifies the offerer path order and the surfaced
// description.
func TestCreateOfferSequence(t *testing.T) {
	c, engine, _ := startedController(t)

	text, err := c.CreateOffer(context.Background())
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}

	conns := engine.Conns()
	if len(conns) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(conns))
	}
	want := []string{"AddTrack:audio", "AddTrack:video", "CreateOffer", "SetLocalDescription:offer"}
	if got := conns[0].Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("call order mismatch:\n got %v\nwant %v", got, want)
	}

	desc, err := protocol.DecodeDescription(text)
	if err != nil {
		t.Fatalf("surfaced text does not decode: %v", err)
	}
	if desc.Type != webrtc.SDPTypeOffer {
		t.Errorf("surfaced type %s, want offer", desc.Type)
	}
	if c.LocalDescription() != text {
		t.Errorf("LocalDescription does not match surfaced text")
	}

	st := c.Status()
	if st.Role != config.RoleOfferer {
		t.Errorf("role %q, want offerer", st.Role)
	}
	if st.Directions.Audio != protocol.DirectionSendRecv || st.Directions.Video != protocol.DirectionSendRecv {
		t.Errorf("directions not mirrored: %+v", st.Directions)
	}
}

// TestCreateAnswerSequence verifies the answerer path order.
func TestCreateAnswerSequence(t *testing.T) {
	c, engine, obs := startedController(t)

	text, err := c.CreateAnswer(context.Background(), offerText(t))
	if err != nil {
		t.Fatalf("CreateAnswer failed: %v", err)
	}

	want := []string{
		"AddTrack:audio",
		"AddTrack:video",
		"SetRemoteDescription:offer",
		"CreateAnswer",
		"SetLocalDescription:answer",
	}
	if got := engine.Conns()[0].Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("call order mismatch:\n got %v\nwant %v", got, want)
	}

	desc, err := protocol.DecodeDescription(text)
	if err != nil || desc.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("surfaced text is not an answer: %v %v", desc.Type, err)
	}

	// The remote offer advertised sendonly before the local answer replaced it.
	sawRemote := false
	for _, st := range obs.Statuses() {
		if st.Directions.Audio == protocol.DirectionSendOnly {
			sawRemote = true
		}
	}
	if !sawRemote {
		t.Errorf("remote offer directions were never mirrored")
	}
	if got := c.Status().Directions.Video; got != protocol.DirectionSendRecv {
		t.Errorf("final video direction %q, want sendrecv", got)
	}
}

// TestCreateAnswerRejectsInvalidPaste verifies invalid text never reaches
// the engine.
func TestCreateAnswerRejectsInvalidPaste(t *testing.T) {
	testCases := []struct {
		name string
		text string
		want error
	}{
		{"empty", "", protocol.ErrEmptyDescription},
		{"garbage", "hello", protocol.ErrMalformedDescription},
		{"answer instead of offer", answerText(t), ErrUnexpectedType},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, engine, _ := startedController(t)
			if _, err := c.CreateAnswer(context.Background(), tc.text); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
			if n := len(engine.Conns()); n != 0 {
				t.Fatalf("expected no connection, got %d", n)
			}
		})
	}
}

func TestApplyAnswer(t *testing.T) {
	t.Run("without session", func(t *testing.T) {
		c, _, _ := startedController(t)
		if err := c.ApplyAnswer(answerText(t)); !errors.Is(err, ErrNoSession) {
			t.Fatalf("got %v, want ErrNoSession", err)
		}
	})

	t.Run("as answerer", func(t *testing.T) {
		c, _, _ := startedController(t)
		if _, err := c.CreateAnswer(context.Background(), offerText(t)); err != nil {
			t.Fatal(err)
		}
		if err := c.ApplyAnswer(answerText(t)); !errors.Is(err, ErrWrongRole) {
			t.Fatalf("got %v, want ErrWrongRole", err)
		}
	})

	t.Run("offer pasted", func(t *testing.T) {
		c, engine, _ := startedController(t)
		if _, err := c.CreateOffer(context.Background()); err != nil {
			t.Fatal(err)
		}
		if err := c.ApplyAnswer(offerText(t)); !errors.Is(err, ErrUnexpectedType) {
			t.Fatalf("got %v, want ErrUnexpectedType", err)
		}
		for _, call := range engine.Conns()[0].Calls() {
			if strings.HasPrefix(call, "SetRemoteDescription") {
				t.Fatalf("rejected paste reached the engine")
			}
		}
	})

	t.Run("applied once then engine rejects", func(t *testing.T) {
		c, _, _ := startedController(t)
		if _, err := c.CreateOffer(context.Background()); err != nil {
			t.Fatal(err)
		}
		if err := c.ApplyAnswer(answerText(t)); err != nil {
			t.Fatalf("ApplyAnswer failed: %v", err)
		}
		if got := c.Status().Directions.Audio; got != protocol.DirectionRecvOnly {
			t.Errorf("audio direction %q, want recvonly", got)
		}
		if err := c.ApplyAnswer(answerText(t)); !errors.Is(err, errAlreadySet) {
			t.Fatalf("expected engine rejection to propagate, got %v", err)
		}
	})
}

// TestStaleEventsAreDiscarded verifies events from a superseded connection
// never alter the displayed state.
func TestStaleEventsAreDiscarded(t *testing.T) {
	c, engine, _ := startedController(t)

	if _, err := c.CreateOffer(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateOffer(context.Background()); err != nil {
		t.Fatal(err)
	}

	conns := engine.Conns()
	if len(conns) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(conns))
	}
	stale, live := conns[0], conns[1]
	if stale.Closed() != 1 {
		t.Fatalf("superseded connection closed %d times, want 1", stale.Closed())
	}

	stale.h.OnConnectionState("connected")
	stale.h.OnICEConnectionState("connected")
	stale.h.OnICEGatheringState("complete")
	stale.h.OnTrack("video", "stale-stream")

	st := c.Status()
	if st.ConnectionState != Unknown || st.ICEConnectionState != Unknown || st.ICEGatheringState != Unknown {
		t.Fatalf("stale events changed status: %+v", st)
	}
	if tracks := c.RemoteTracks(); len(tracks) != 0 {
		t.Fatalf("stale track recorded: %+v", tracks)
	}

	live.h.OnConnectionState("connecting")
	live.h.OnTrack("audio", "remote")
	if got := c.Status().ConnectionState; got != "connecting" {
		t.Fatalf("live event ignored: %q", got)
	}
	if tracks := c.RemoteTracks(); len(tracks) != 1 || tracks[0].StreamID != "remote" {
		t.Fatalf("live track not recorded: %+v", tracks)
	}
}

// TestHangupReleasesEverything verifies hangup leaves no poller and no
// connection.
func TestHangupReleasesEverything(t *testing.T) {
	c, engine, _ := startedController(t)

	conn, err := c.StartCall(config.RoleOfferer)
	if err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}
	if conn == nil || !c.Active() {
		t.Fatal("expected an active connection")
	}
	if c.pollers.Load() != 1 {
		t.Fatalf("expected 1 poller, got %d", c.pollers.Load())
	}

	c.Hangup()

	if c.Active() {
		t.Error("connection still active after hangup")
	}
	if n := c.pollers.Load(); n != 0 {
		t.Errorf("expected no pollers after hangup, got %d", n)
	}
	if engine.Conns()[0].Closed() != 1 {
		t.Errorf("connection was not closed")
	}
	if c.LocalDescription() != "" {
		t.Errorf("local description not cleared")
	}
	if st := c.Status(); st != newStatus() {
		t.Errorf("status not reset: %+v", st)
	}

	// Events after hangup are stale too.
	engine.Conns()[0].h.OnConnectionState("closed")
	if got := c.Status().ConnectionState; got != Unknown {
		t.Errorf("event after hangup changed status: %q", got)
	}

	// Hangup is idempotent.
	c.Hangup()
}

func TestStartCallResetsStatus(t *testing.T) {
	c, engine, _ := startedController(t)

	if _, err := c.StartCall(config.RoleOfferer); err != nil {
		t.Fatal(err)
	}
	engine.Conns()[0].h.OnConnectionState("connected")

	if _, err := c.StartCall(config.RoleAnswerer); err != nil {
		t.Fatal(err)
	}
	st := c.Status()
	if st.ConnectionState != Unknown {
		t.Errorf("connection state not reset: %q", st.ConnectionState)
	}
	if st.Role != config.RoleAnswerer || c.Role() != config.RoleAnswerer {
		t.Errorf("role not switched: %q", st.Role)
	}
	if c.pollers.Load() != 1 {
		t.Errorf("expected exactly one poller, got %d", c.pollers.Load())
	}
}

// TestStatsPolling verifies the poller overwrites counters and swallows
// failing ticks.
func TestStatsPolling(t *testing.T) {
	c, engine, _ := startedController(t)

	if _, err := c.StartCall(config.RoleOfferer); err != nil {
		t.Fatal(err)
	}
	conn := engine.Conns()[0]
	conn.setStats(webrtc.StatsReport{
		"in":  webrtc.InboundRTPStreamStats{Type: webrtc.StatsTypeInboundRTP, Kind: "video", BytesReceived: 500},
		"out": webrtc.OutboundRTPStreamStats{Type: webrtc.StatsTypeOutboundRTP, Kind: "audio", BytesSent: 70},
	}, false)

	want := StatsSnapshot{InVideo: 500, OutAudio: 70}
	waitFor(t, 2*time.Second, func() bool { return c.Status().Stats == want })

	conn.setStats(nil, true)
	time.Sleep(50 * time.Millisecond)
	if got := c.Status().Stats; got != want {
		t.Fatalf("failing tick changed counters: %+v", got)
	}
	if !c.Active() {
		t.Fatal("failing tick ended the session")
	}
}

// TestStartMediaKeepsAttachedStreamAlive verifies replacing local media
// mid-call leaves the attached stream running until the call ends.
func TestStartMediaKeepsAttachedStreamAlive(t *testing.T) {
	capturer := &fakeCapturer{}
	c := NewController(&fakeEngine{}, capturer, nil, Options{StatsInterval: 10 * time.Millisecond})
	defer c.Close()

	if err := c.StartMedia(context.Background()); err != nil {
		t.Fatalf("StartMedia failed: %v", err)
	}
	attached := capturer.stream

	if _, err := c.CreateOffer(context.Background()); err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}

	if err := c.StartMedia(context.Background()); err != nil {
		t.Fatalf("second StartMedia failed: %v", err)
	}
	replacement := capturer.stream

	if attached.closed {
		t.Fatal("stream attached to the live connection was closed by StartMedia")
	}

	c.Hangup()
	if !attached.closed {
		t.Error("replaced stream should be closed once its connection is torn down")
	}
	if replacement.closed {
		t.Error("current stream must survive hangup")
	}

	// Idle replacement closes the previous stream at once.
	if err := c.StartMedia(context.Background()); err != nil {
		t.Fatalf("third StartMedia failed: %v", err)
	}
	if !replacement.closed {
		t.Error("idle StartMedia should close the previous stream")
	}
}

// TestOfferDirectionsMirroredBeforeGathering verifies directions appear as
// soon as the local offer is set, not when gathering ends.
func TestOfferDirectionsMirroredBeforeGathering(t *testing.T) {
	engine := &fakeEngine{holdGathering: true}
	obs := &recordingObserver{}
	c := NewController(engine, &fakeCapturer{}, obs, Options{
		StatsInterval: 10 * time.Millisecond,
		GatherTimeout: time.Minute,
	})
	defer c.Close()

	if err := c.StartMedia(context.Background()); err != nil {
		t.Fatalf("StartMedia failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.CreateOffer(ctx)
		done <- err
	}()

	waitFor(t, 2*time.Second, func() bool {
		d := c.Status().Directions
		return d.Audio == protocol.DirectionSendRecv && d.Video == protocol.DirectionSendRecv
	})

	select {
	case err := <-done:
		t.Fatalf("CreateOffer returned before gathering finished: %v", err)
	default:
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReceiverListingLogsReadyState(t *testing.T) {
	c, _, obs := startedController(t)

	if _, err := c.CreateOffer(context.Background()); err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		for _, line := range obs.Lines() {
			if line == "Receiver: video readyState: live" {
				return true
			}
		}
		return false
	})
}
