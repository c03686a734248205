// Package signaling moves encoded session descriptions between the two peers:
// by hand through the console, or over a PIN-protected WebSocket.
package signaling

import (
	"context"
	"errors"
)

// ErrPeerLeft is returned by Receive when the other side said goodbye before
// sending a description.
var ErrPeerLeft = errors.New("peer left before sending a description")

// Exchanger carries one description in each direction.
type Exchanger interface {
	// Send publishes the local description text.
	Send(ctx context.Context, text string) error
	// Receive blocks until the remote description text arrives.
	Receive(ctx context.Context) (string, error)
	Close() error
}
