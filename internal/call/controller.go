package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/protocol"
	"github.com/1ureka/duocall/internal/util"
)

var (
	ErrNoLocalMedia   = errors.New("local media has not been captured; start the camera first")
	ErrCaptureFailed  = errors.New("could not access camera/microphone")
	ErrNoSession      = errors.New("no active call; create an offer first")
	ErrWrongRole      = errors.New("only the offerer applies a remote answer")
	ErrUnexpectedType = errors.New("unexpected description type")
	ErrSuperseded     = errors.New("call was replaced by a newer role action")
)

const (
	receiverProbeDelay = 500 * time.Millisecond
	previewLength      = 160
)

// Options tune the controller. Zero values fall back to the defaults.
type Options struct {
	StatsInterval time.Duration
	GatherTimeout time.Duration
	Constraints   Constraints
}

// Controller sequences connection creation, local media attachment,
// description exchange and status reporting for one call at a time.
//
// Engine callbacks arrive on engine goroutines. Every connection is tagged
// with a generation at creation; events and suspended results carrying an
// older generation are discarded.
type Controller struct {
	engine   Engine
	capturer Capturer
	observer Observer
	opts     Options

	pollers atomic.Int32

	mu         sync.Mutex
	local      LocalStream
	session    *Session
	generation uint64
	status     Status
	localText  string
}

// NewController creates a controller. observer may be nil.
func NewController(engine Engine, capturer Capturer, observer Observer, opts Options) *Controller {
	if observer == nil {
		observer = nopObserver{}
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = 2 * time.Second
	}
	if opts.GatherTimeout <= 0 {
		opts.GatherTimeout = 10 * time.Second
	}
	if !opts.Constraints.Audio && !opts.Constraints.Video {
		opts.Constraints = Constraints{Audio: true, Video: true}
	}
	return &Controller{
		engine:   engine,
		capturer: capturer,
		observer: observer,
		opts:     opts,
		status:   newStatus(),
	}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Status returns a copy of the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Active reports whether a connection is currently owned by the controller.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Role returns the role of the active session, or "" when idle.
func (c *Controller) Role() config.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.Role
}

// LocalDescription returns the JSON text of the last surfaced local
// description, or "" when none is available.
func (c *Controller) LocalDescription() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localText
}

// RemoteTracks returns the tracks received so far by the active session.
func (c *Controller) RemoteTracks() []RemoteTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	return append([]RemoteTrack(nil), c.session.remoteTracks...)
}

// ---------------------------------------------------------------------------
// Local media
// ---------------------------------------------------------------------------

// StartMedia captures local media with the configured constraints,
// replacing any previously captured stream. Status is reset when idle. A
// replaced stream whose tracks are attached to the active connection stays
// alive until that connection is torn down.
func (c *Controller) StartMedia(ctx context.Context) error {
	c.logf("Requesting local media…")

	stream, err := c.capturer.Capture(ctx, c.opts.Constraints)
	if err != nil {
		util.LogError("capture error: %v", err)
		c.observer.OnLog("capture error: " + err.Error())
		return fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}

	c.mu.Lock()
	prev := c.local
	c.local = stream
	if c.session == nil {
		c.status = newStatus()
	} else if prev != nil && c.session.stream == prev {
		c.session.ownsStream = true
		prev = nil
	}
	c.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	kinds := make([]string, 0, len(stream.Tracks()))
	for _, t := range stream.Tracks() {
		kinds = append(kinds, t.Kind().String())
	}
	c.logf("Local media acquired: [%s]", strings.Join(kinds, ", "))
	return nil
}

// ---------------------------------------------------------------------------
// Role/Session control
// ---------------------------------------------------------------------------

// StartCall closes any existing connection and builds a new one for role
// with all lifecycle observers bound. It fails with ErrNoLocalMedia, before
// any connection is built, when StartMedia has not succeeded.
func (c *Controller) StartCall(role config.Role) (Connection, error) {
	s, err := c.startCall(role)
	if err != nil {
		return nil, err
	}
	return s.conn, nil
}

func (c *Controller) startCall(role config.Role) (*Session, error) {
	c.mu.Lock()
	if c.local == nil {
		c.mu.Unlock()
		return nil, ErrNoLocalMedia
	}
	old := c.session
	var owned LocalStream
	if old != nil {
		owned = old.release()
	}
	c.session = nil
	c.localText = ""
	c.generation++
	gen := c.generation
	c.status = newStatus()
	c.mu.Unlock()

	if old != nil {
		old.close(owned)
		c.logf("Previous connection (%s) closed.", old.Role)
	}

	conn, err := c.engine.NewConnection(c.handlers(gen))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:         uuid.NewString(),
		Role:       role,
		generation: gen,
		conn:       conn,
		cancel:     cancel,
		pollDone:   make(chan struct{}),
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return nil, ErrSuperseded
	}
	c.session = s
	c.status.SessionID = s.ID
	c.status.Role = role
	st := c.status
	c.pollers.Add(1)
	go c.pollStats(ctx, s)
	s.receiverTimer = time.AfterFunc(receiverProbeDelay, func() { c.logReceivers(s) })
	c.mu.Unlock()

	c.observer.OnStatus(st)
	c.logf("Connection created (%s).", role)
	util.Events().Info().Str("session", s.ID).Str("role", string(role)).Uint64("generation", gen).Msg("session started")
	return s, nil
}

// Hangup closes the active connection, stops its stats poller and resets
// the status. It is a no-op when idle apart from the reset.
func (c *Controller) Hangup() {
	c.mu.Lock()
	s := c.session
	var owned LocalStream
	if s != nil {
		owned = s.release()
	}
	c.session = nil
	c.localText = ""
	c.generation++
	c.status = newStatus()
	st := c.status
	c.mu.Unlock()

	if s != nil {
		s.close(owned)
		c.logf("Call ended / connection closed.")
		util.Events().Info().Str("session", s.ID).Msg("session closed")
	}
	c.observer.OnStatus(st)
}

// Close hangs up and releases the captured media.
func (c *Controller) Close() error {
	c.Hangup()

	c.mu.Lock()
	local := c.local
	c.local = nil
	c.mu.Unlock()

	if local != nil {
		return local.Close()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Description exchange
// ---------------------------------------------------------------------------

// CreateOffer starts an offerer session and returns the JSON text of its
// local description once ICE gathering completes.
func (c *Controller) CreateOffer(ctx context.Context) (string, error) {
	s, err := c.startCall(config.RoleOfferer)
	if err != nil {
		return "", err
	}

	if err := c.attachTracks(s); err != nil {
		return "", err
	}

	offer, err := s.conn.CreateOffer()
	if err != nil {
		return "", fmt.Errorf("CreateOffer: %w", err)
	}
	if err := s.conn.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("SetLocalDescription: %w", err)
	}
	c.mirrorDirections(s.generation, offer.SDP)

	return c.surfaceLocal(ctx, s)
}

// CreateAnswer decodes the pasted remote offer, starts an answerer session,
// applies the offer and returns the JSON text of the local answer. Invalid
// text is rejected before any connection is built.
func (c *Controller) CreateAnswer(ctx context.Context, remoteText string) (string, error) {
	remote, err := decodeExpecting(remoteText, webrtc.SDPTypeOffer)
	if err != nil {
		return "", err
	}

	s, err := c.startCall(config.RoleAnswerer)
	if err != nil {
		return "", err
	}

	if err := c.attachTracks(s); err != nil {
		return "", err
	}

	if err := s.conn.SetRemoteDescription(remote); err != nil {
		return "", fmt.Errorf("SetRemoteDescription: %w", err)
	}
	c.logf("Remote description set (offer).")
	c.mirrorDirections(s.generation, remote.SDP)

	answer, err := s.conn.CreateAnswer()
	if err != nil {
		return "", fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := s.conn.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("SetLocalDescription: %w", err)
	}
	c.mirrorDirections(s.generation, answer.SDP)

	return c.surfaceLocal(ctx, s)
}

// ApplyAnswer applies a pasted remote answer to the active offerer session.
// Engine rejections, e.g. a second answer, are returned unchanged in the
// error chain.
func (c *Controller) ApplyAnswer(remoteText string) error {
	remote, err := decodeExpecting(remoteText, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}

	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	if s == nil {
		return ErrNoSession
	}
	if s.Role != config.RoleOfferer {
		return ErrWrongRole
	}

	if err := s.conn.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("SetRemoteDescription: %w", err)
	}
	c.logf("Remote answer applied.")
	c.mirrorDirections(s.generation, remote.SDP)
	return nil
}

func decodeExpecting(text string, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	desc, err := protocol.DecodeDescription(text)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("paste a valid remote %s: %w", want, err)
	}
	if desc.Type != want {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedType, desc.Type, want)
	}
	return desc, nil
}

// attachTracks adds every local track to the session's connection.
func (c *Controller) attachTracks(s *Session) error {
	c.mu.Lock()
	local := c.local
	c.mu.Unlock()

	if local == nil {
		return ErrNoLocalMedia
	}

	for _, t := range local.Tracks() {
		if err := s.conn.AddTrack(t); err != nil {
			return fmt.Errorf("failed to add local %s track: %w", t.Kind(), err)
		}
		c.logf("Added local %s track", t.Kind())
	}
	return nil
}

// surfaceLocal waits for candidate gathering, then publishes and returns the
// final local description, which bundles every gathered candidate.
func (c *Controller) surfaceLocal(ctx context.Context, s *Session) (string, error) {
	select {
	case <-s.conn.GatheringComplete():
	case <-time.After(c.opts.GatherTimeout):
		util.LogWarning("ICE gathering did not finish within %s; using the candidates gathered so far", c.opts.GatherTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}

	local := s.conn.LocalDescription()
	if local == nil {
		return "", errors.New("connection has no local description")
	}

	text, err := protocol.EncodeDescription(*local)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.generation != s.generation {
		c.mu.Unlock()
		return "", ErrSuperseded
	}
	c.localText = text
	c.mu.Unlock()

	c.mirrorDirections(s.generation, local.SDP)
	c.logf("Local description set (%s). First %d chars:\n%s", local.Type, previewLength, protocol.Preview(local.SDP, previewLength))
	return text, nil
}

// ---------------------------------------------------------------------------
// Status mirror
// ---------------------------------------------------------------------------

// current reports whether gen is the latest generation.
func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation
}

// observe applies update to the status if gen is still current and
// publishes the result. Stale updates are dropped.
func (c *Controller) observe(gen uint64, update func(st *Status)) bool {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return false
	}
	update(&c.status)
	st := c.status
	c.mu.Unlock()

	c.observer.OnStatus(st)
	return true
}

func (c *Controller) mirrorDirections(gen uint64, sdp string) {
	if sdp == "" {
		return
	}
	dirs := protocol.ParseDirections(sdp)
	c.observe(gen, func(st *Status) { st.Directions = dirs })
}

func (c *Controller) handlers(gen uint64) Handlers {
	return Handlers{
		OnICECandidate: func(candidate string, done bool) {
			if !c.current(gen) {
				return
			}
			if done {
				c.logf("All ICE candidates gathered.")
				return
			}
			c.logf("ICE candidate: %s", candidate)
		},
		OnICEConnectionState: func(state string) {
			if c.observe(gen, func(st *Status) { st.ICEConnectionState = state }) {
				c.logf("ICE connection state: %s", state)
			}
		},
		OnConnectionState: func(state string) {
			if c.observe(gen, func(st *Status) { st.ConnectionState = state }) {
				c.logf("Peer connection state: %s", state)
				util.Events().Info().Uint64("generation", gen).Str("state", state).Msg("connection state")
			}
		},
		OnICEGatheringState: func(state string) {
			if c.observe(gen, func(st *Status) { st.ICEGatheringState = state }) {
				c.logf("ICE gathering state: %s", state)
			}
		},
		OnNegotiationNeeded: func() {
			if c.current(gen) {
				c.logf("Negotiation needed.")
			}
		},
		OnTrack: func(kind, streamID string) {
			c.mu.Lock()
			s := c.session
			if gen != c.generation || s == nil {
				c.mu.Unlock()
				return
			}
			s.remoteTracks = append(s.remoteTracks, RemoteTrack{Kind: kind, StreamID: streamID})
			first := s.remoteStreamID == ""
			if first {
				s.remoteStreamID = streamID
			}
			c.mu.Unlock()

			c.logf("Track received. kind: %s stream: %s", kind, streamID)
			if first {
				c.logf("Remote stream attached: %s", streamID)
			}
		},
	}
}

func (c *Controller) logReceivers(s *Session) {
	if !c.current(s.generation) {
		return
	}
	for _, r := range s.conn.Receivers() {
		c.logf("Receiver: %s readyState: %s", r.Kind, r.State)
	}
}

// logf logs through pterm and forwards the line to the observer's log pane.
func (c *Controller) logf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	util.LogInfo("%s", line)
	c.observer.OnLog(line)
}
