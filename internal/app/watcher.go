package app

import (
	"sync"

	"github.com/1ureka/duocall/internal/call"
)

// Watcher is a call.Observer that turns connection state changes into
// channels the runner can select on.
type Watcher struct {
	connected chan struct{}
	ended     chan struct{}

	connectedOnce sync.Once
	endedOnce     sync.Once
}

// NewWatcher returns a Watcher with nothing observed yet.
func NewWatcher() *Watcher {
	return &Watcher{
		connected: make(chan struct{}),
		ended:     make(chan struct{}),
	}
}

// Connected is closed the first time the connection reports connected.
func (w *Watcher) Connected() <-chan struct{} { return w.connected }

// Ended is closed the first time the connection reports failed or closed.
func (w *Watcher) Ended() <-chan struct{} { return w.ended }

func (w *Watcher) OnStatus(st call.Status) {
	switch st.ConnectionState {
	case "connected":
		w.connectedOnce.Do(func() { close(w.connected) })
	case "failed", "closed":
		w.endedOnce.Do(func() { close(w.ended) })
	}
}

func (w *Watcher) OnLog(string) {}
