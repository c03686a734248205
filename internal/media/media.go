// Package media provides the local capture capability: sample tracks for
// audio and video, optionally fed in a loop from Ogg/Opus and IVF/VP8 files.
package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duocall/internal/call"
	"github.com/1ureka/duocall/internal/util"
)

var (
	ErrDeviceNotFound   = errors.New("NotFoundError: requested device not found")
	ErrPermissionDenied = errors.New("NotAllowedError: permission denied")
	ErrUnsupportedMedia = errors.New("NotReadableError: source is not in a supported format")
	ErrNothingRequested = errors.New("TypeError: at least one of audio and video must be requested")
)

// Device captures local media. A kind without a source file still yields a
// track; it negotiates normally but carries no samples.
type Device struct {
	AudioFile string // Ogg container with Opus pages
	VideoFile string // IVF container with VP8 frames
}

// Stream is a set of captured tracks sharing one stream id.
type Stream struct {
	id     string
	tracks []webrtc.TrackLocal

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *Stream) ID() string                  { return s.id }
func (s *Stream) Tracks() []webrtc.TrackLocal { return s.tracks }

// Close stops every sample pump and waits for them to exit.
func (s *Stream) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

// Capture implements call.Capturer. Source files are validated before any
// track is returned; the pumps run until the stream is closed.
func (d *Device) Capture(ctx context.Context, c call.Constraints) (call.LocalStream, error) {
	if !c.Audio && !c.Video {
		return nil, ErrNothingRequested
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.Audio && d.AudioFile != "" {
		if err := probe(d.AudioFile, probeOgg); err != nil {
			return nil, err
		}
	}
	if c.Video && d.VideoFile != "" {
		if err := probe(d.VideoFile, probeIVF); err != nil {
			return nil, err
		}
	}

	id := uuid.NewString()
	pumpCtx, cancel := context.WithCancel(context.Background())
	s := &Stream{id: id, cancel: cancel}

	if c.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", id)
		if err != nil {
			cancel()
			return nil, err
		}
		s.tracks = append(s.tracks, track)
		if d.AudioFile != "" {
			s.start(func() { pumpOgg(pumpCtx, d.AudioFile, track) })
		}
	}

	if c.Video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", id)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.tracks = append(s.tracks, track)
		if d.VideoFile != "" {
			s.start(func() { pumpIVF(pumpCtx, d.VideoFile, track) })
		}
	}

	return s, nil
}

func (s *Stream) start(pump func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		pump()
	}()
}

// probe opens path and checks its container header with check.
func probe(path string, check func(f *os.File) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, path)
		}
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if err := check(f); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnsupportedMedia, path, err)
	}
	util.LogDebug("capture source ready: %s", path)
	return nil
}
