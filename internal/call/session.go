package call

import (
	"context"
	"time"

	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/util"
)

// RemoteTrack describes a track received from the peer.
type RemoteTrack struct {
	Kind     string
	StreamID string
}

// Session is the single active call attempt. It exclusively owns its
// connection; the controller replaces it wholesale on every role action.
type Session struct {
	ID   string
	Role config.Role

	generation uint64
	conn       Connection

	// Guarded by Controller.mu. stream is the local stream whose tracks were
	// attached; ownsStream is set once StartMedia has replaced it, and the
	// session then closes it on teardown.
	stream     LocalStream
	ownsStream bool

	// Guarded by Controller.mu.
	remoteStreamID string
	remoteTracks   []RemoteTrack

	cancel        context.CancelFunc
	pollDone      chan struct{}
	receiverTimer *time.Timer
}

// close releases the connection and waits for the stats poller to exit.
// Errors from a connection already in a terminal state are ignored. owned is
// the replaced local stream to release afterwards, if any.
func (s *Session) close(owned LocalStream) {
	s.cancel()
	if s.receiverTimer != nil {
		s.receiverTimer.Stop()
	}
	if err := s.conn.Close(); err != nil {
		util.LogDebug("ignoring close error for session %s: %v", s.ID, err)
	}
	<-s.pollDone

	if owned != nil {
		if err := owned.Close(); err != nil {
			util.LogDebug("ignoring close error for replaced stream %s: %v", owned.ID(), err)
		}
	}
}

// release detaches the session's stream ownership. Call with Controller.mu
// held; pass the result to close.
func (s *Session) release() LocalStream {
	if !s.ownsStream {
		return nil
	}
	s.ownsStream = false
	return s.stream
}
