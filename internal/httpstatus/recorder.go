package httpstatus

import (
	"sync"

	"github.com/1ureka/duocall/internal/call"
)

const maxLogLines = 200

// Recorder is a call.Observer that keeps the latest status and the most
// recent log lines for the HTTP handlers.
type Recorder struct {
	mu     sync.RWMutex
	status call.Status
	seen   bool
	lines  []string
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) OnStatus(st call.Status) {
	r.mu.Lock()
	r.status = st
	r.seen = true
	r.mu.Unlock()
}

func (r *Recorder) OnLog(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if over := len(r.lines) - maxLogLines; over > 0 {
		r.lines = append(r.lines[:0:0], r.lines[over:]...)
	}
}

// Status returns the last status received. ok is false before the first one.
func (r *Recorder) Status() (st call.Status, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status, r.seen
}

// Lines returns a copy of the retained log lines, oldest first.
func (r *Recorder) Lines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.lines...)
}
