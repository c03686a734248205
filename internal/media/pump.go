package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/1ureka/duocall/internal/util"
)

const (
	oggPageDuration = 20 * time.Millisecond
	opusClockRate   = 48000
)

func probeOgg(f *os.File) error {
	_, _, err := oggreader.NewWith(f)
	return err
}

func probeIVF(f *os.File) error {
	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return err
	}
	if header.FourCC != "VP80" {
		return fmt.Errorf("codec %q, want VP80", header.FourCC)
	}
	if header.TimebaseNumerator == 0 {
		return errors.New("zero timebase numerator")
	}
	return nil
}

// pumpOgg writes Opus pages from path into track, restarting at EOF, until
// ctx is cancelled.
func pumpOgg(ctx context.Context, path string, track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	for {
		f, err := os.Open(path)
		if err != nil {
			util.LogWarning("audio source unavailable: %v", err)
			return
		}
		ogg, _, err := oggreader.NewWith(f)
		if err != nil {
			f.Close()
			util.LogWarning("audio source unreadable: %v", err)
			return
		}

		sent, ok := pumpPages(ctx, ogg, ticker, track)
		f.Close()
		if !ok {
			return
		}
		if sent == 0 {
			util.LogWarning("audio source %s has no pages", path)
			return
		}
	}
}

// pumpPages sends pages until EOF. ok is false once ctx is done.
func pumpPages(ctx context.Context, ogg *oggreader.OggReader, ticker *time.Ticker, track *webrtc.TrackLocalStaticSample) (sent int, ok bool) {
	var lastGranule uint64
	for {
		page, header, err := ogg.ParseNextPage()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				util.LogDebug("audio source page error: %v", err)
			}
			return sent, true
		}

		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(samples) * time.Second / opusClockRate

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return sent, false
		}

		if err := track.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
			util.LogDebug("audio sample dropped: %v", err)
		}
		sent++
	}
}

// pumpIVF writes VP8 frames from path into track at the file's frame rate,
// restarting at EOF, until ctx is cancelled.
func pumpIVF(ctx context.Context, path string, track *webrtc.TrackLocalStaticSample) {
	for {
		f, err := os.Open(path)
		if err != nil {
			util.LogWarning("video source unavailable: %v", err)
			return
		}
		ivf, header, err := ivfreader.NewWith(f)
		if err != nil {
			f.Close()
			util.LogWarning("video source unreadable: %v", err)
			return
		}

		sent, ok := pumpFrames(ctx, ivf, track, frameDuration(header))
		f.Close()
		if !ok {
			return
		}
		if sent == 0 {
			util.LogWarning("video source %s has no frames", path)
			return
		}
	}
}

func frameDuration(h *ivfreader.IVFFileHeader) time.Duration {
	if h.TimebaseDenominator == 0 || h.TimebaseNumerator == 0 {
		return time.Second / 30
	}
	return time.Duration(float64(time.Second) * float64(h.TimebaseNumerator) / float64(h.TimebaseDenominator))
}

// pumpFrames sends frames until EOF. ok is false once ctx is done.
func pumpFrames(ctx context.Context, ivf *ivfreader.IVFReader, track *webrtc.TrackLocalStaticSample, d time.Duration) (sent int, ok bool) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for {
		frame, _, err := ivf.ParseNextFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				util.LogDebug("video source frame error: %v", err)
			}
			return sent, true
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return sent, false
		}

		if err := track.WriteSample(pionmedia.Sample{Data: frame, Duration: d}); err != nil {
			util.LogDebug("video sample dropped: %v", err)
		}
		sent++
	}
}
