// Package app contains the top-level orchestration for the offerer and
// answerer roles.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/duocall/internal/call"
	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/protocol"
	"github.com/1ureka/duocall/internal/signaling"
	"github.com/1ureka/duocall/internal/util"
)

// ErrConnectionFailed is returned by Run when the peer connection reaches
// the failed or closed state.
var ErrConnectionFailed = errors.New("peer connection failed")

// Runner drives one call from media capture to hangup.
type Runner struct {
	Controller *call.Controller
	Exchanger  signaling.Exchanger
	Watcher    *Watcher // must also be registered as an observer of Controller

	// Retry re-reads the remote description after an invalid one instead of
	// failing. Useful when a human is pasting.
	Retry bool

	// ReportInterval is how often the byte counters are logged.
	ReportInterval time.Duration
}

// Run executes the full lifecycle for role:
//  1. Capture local media
//  2. Exchange descriptions in the role's order
//  3. Report counters until ctx ends or the connection fails
//  4. Hang up
func (r *Runner) Run(ctx context.Context, role config.Role) error {
	if err := r.Controller.StartMedia(ctx); err != nil {
		return err
	}
	defer r.Controller.Hangup()

	switch role {
	case config.RoleOfferer:
		if err := r.offer(ctx); err != nil {
			return err
		}
	case config.RoleAnswerer:
		if err := r.answer(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid role %q", role)
	}

	return r.monitor(ctx)
}

// offer creates and publishes the local offer, then applies the answer.
func (r *Runner) offer(ctx context.Context) error {
	text, err := r.Controller.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := r.Exchanger.Send(ctx, text); err != nil {
		return err
	}
	util.LogSuccess("offer published, waiting for the answer")

	for {
		remote, err := r.Exchanger.Receive(ctx)
		if err != nil {
			return fmt.Errorf("failed to receive answer: %w", err)
		}

		err = r.Controller.ApplyAnswer(remote)
		if err == nil {
			return nil
		}
		if r.Retry && invalidDescription(err) {
			util.LogWarning("%v", err)
			continue
		}
		return fmt.Errorf("failed to apply answer: %w", err)
	}
}

// answer waits for the remote offer, then publishes the local answer.
func (r *Runner) answer(ctx context.Context) error {
	for {
		remote, err := r.Exchanger.Receive(ctx)
		if err != nil {
			return fmt.Errorf("failed to receive offer: %w", err)
		}

		text, err := r.Controller.CreateAnswer(ctx, remote)
		if err != nil {
			if r.Retry && invalidDescription(err) {
				util.LogWarning("%v", err)
				continue
			}
			return fmt.Errorf("failed to create answer: %w", err)
		}

		if err := r.Exchanger.Send(ctx, text); err != nil {
			return err
		}
		util.LogSuccess("answer published")
		return nil
	}
}

// monitor logs the byte counters whenever they change and returns when ctx
// ends or the connection fails.
func (r *Runner) monitor(ctx context.Context) error {
	interval := r.ReportInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	connected := r.Watcher.Connected()
	var last call.StatsSnapshot
	for {
		select {
		case <-ticker.C:
			s := r.Controller.Status().Stats
			if s != last {
				util.LogInfo("%s", util.FormatCounters(s.OutVideo, s.InVideo, s.OutAudio, s.InAudio))
				last = s
			}

		case <-connected:
			util.LogSuccess("call connected")
			connected = nil

		case <-r.Watcher.Ended():
			return ErrConnectionFailed

		case <-ctx.Done():
			return nil
		}
	}
}

// invalidDescription reports whether err was caused by the pasted text
// rather than by the engine.
func invalidDescription(err error) bool {
	return errors.Is(err, protocol.ErrEmptyDescription) ||
		errors.Is(err, protocol.ErrMalformedDescription) ||
		errors.Is(err, protocol.ErrUnknownType) ||
		errors.Is(err, protocol.ErrMissingSDP) ||
		errors.Is(err, call.ErrUnexpectedType)
}
