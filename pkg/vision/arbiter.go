// Package vision owns the camera resources shared between the continuous
// detection stream and the exclusive robot-control session. The Arbiter is
// the only component that opens, reads, or releases capture handles: the
// stream borrows them, and a control session forces them released via
// Pause before it touches the same devices.
package vision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jakkii/scrapple/internal/log"
)

// Arbiter manages one or more camera channels. Pausing a channel releases
// its capture handle and freezes the last good frame; the stream keeps
// serving that frame with a "paused" banner so downstream consumers never
// see the feed terminate.
type Arbiter struct {
	cfg      Config
	opener   Opener
	detector Detector

	channels map[string]*channel

	// Latest detection snapshot: stream loop is the sole writer.
	detMu  sync.RWMutex
	latest DetectionSet
}

type channel struct {
	cfg ChannelConfig

	mu       sync.Mutex
	dev      Device
	paused   bool
	lastGood Frame
	failures int
}

// NewArbiter creates an arbiter for the configured channels.
// detector may be nil, in which case streams run without overlays.
func NewArbiter(cfg Config, opener Opener, detector Detector) *Arbiter {
	a := &Arbiter{
		cfg:      cfg,
		opener:   opener,
		detector: detector,
		channels: make(map[string]*channel, len(cfg.Channels)),
	}
	for _, cc := range cfg.Channels {
		a.channels[cc.Name] = &channel{cfg: cc}
	}
	return a
}

// Pause releases the channel's capture handle and marks it paused.
// Idempotent: pausing a paused channel is a no-op success. A failed
// handle release is swallowed; the pause transition must not block on it.
func (a *Arbiter) Pause(name string) error {
	ch, ok := a.channels[name]
	if !ok {
		return fmt.Errorf("pause %q: %w", name, ErrUnknownChannel)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.paused {
		return nil
	}
	if ch.dev != nil {
		if err := ch.dev.Close(); err != nil {
			log.Warn("camera release failed", "channel", name, "error", err)
		}
		ch.dev = nil
	}
	ch.paused = true
	ch.failures = 0
	log.Info("camera paused", "channel", name)
	return nil
}

// Resume clears the paused flag. The handle is not reopened eagerly; the
// next stream read reopens it lazily. Idempotent.
func (a *Arbiter) Resume(name string) error {
	ch, ok := a.channels[name]
	if !ok {
		return fmt.Errorf("resume %q: %w", name, ErrUnknownChannel)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if !ch.paused {
		return nil
	}
	ch.paused = false
	log.Info("camera resumed", "channel", name)
	return nil
}

// Paused reports whether the channel is paused.
func (a *Arbiter) Paused(name string) bool {
	ch, ok := a.channels[name]
	if !ok {
		return false
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.paused
}

// PauseAll pauses every channel. Used before handing the devices to the
// control process; returns the first lookup error (release errors are
// swallowed per-channel).
func (a *Arbiter) PauseAll() error {
	for name := range a.channels {
		if err := a.Pause(name); err != nil {
			return err
		}
	}
	return nil
}

// ResumeAll resumes every channel.
func (a *Arbiter) ResumeAll() error {
	for name := range a.channels {
		if err := a.Resume(name); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame captures one frame from the channel and returns it as JPEG,
// with detection overlays when the channel has detection enabled. When
// the channel is paused or unreadable a placeholder frame is returned
// instead of an error, so MJPEG consumers never see the stream die.
func (a *Arbiter) ReadFrame(name string) ([]byte, error) {
	ch, ok := a.channels[name]
	if !ok {
		return nil, fmt.Errorf("read %q: %w", name, ErrUnknownChannel)
	}
	frame, _ := a.capture(ch)
	if frame == nil {
		return nil, ErrNoFrame
	}
	defer frame.Close()
	if ch.cfg.Detect {
		frame.DrawDetections(a.Snapshot().Objects)
	}
	return frame.EncodeJPEG(a.cfg.JPEGQuality)
}

// Stream runs the channel's frame loop, calling emit for every encoded
// JPEG frame until ctx is cancelled or emit returns an error (client
// gone). Detection runs every DetectEvery frames on detection-enabled
// channels; intermediate frames reuse the last snapshot.
func (a *Arbiter) Stream(ctx context.Context, name string, emit func(jpeg []byte) error) error {
	ch, ok := a.channels[name]
	if !ok {
		return fmt.Errorf("stream %q: %w", name, ErrUnknownChannel)
	}

	delay := a.cfg.frameDelay()
	every := a.cfg.DetectEvery
	if every <= 0 {
		every = 1
	}

	log.Info("stream started", "channel", name, "fps", a.cfg.StreamFPS)
	defer log.Info("stream stopped", "channel", name)

	for frameCount := 0; ; frameCount++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()

		frame, live := a.capture(ch)
		if frame == nil {
			sleepCtx(ctx, delay)
			continue
		}

		if live && ch.cfg.Detect && a.detector != nil && frameCount%every == 0 {
			dets, err := a.detector.Infer(frame, a.cfg.Confidence)
			if err != nil {
				log.Warn("detector failed", "channel", name, "error", err)
			} else {
				a.setDetections(dets)
			}
		}
		if ch.cfg.Detect {
			frame.DrawDetections(a.Snapshot().Objects)
		}

		jpeg, err := frame.EncodeJPEG(a.cfg.JPEGQuality)
		frame.Close()
		if err != nil {
			log.Warn("jpeg encode failed", "channel", name, "error", err)
		} else if err := emit(jpeg); err != nil {
			return err
		}

		if rest := delay - time.Since(start); rest > 0 {
			sleepCtx(ctx, rest)
		}
	}
}

// Snapshot returns a copy of the latest detection set.
func (a *Arbiter) Snapshot() DetectionSet {
	a.detMu.RLock()
	defer a.detMu.RUnlock()
	out := DetectionSet{At: a.latest.At}
	out.Objects = append(out.Objects, a.latest.Objects...)
	return out
}

// Close releases every capture handle and the detector.
func (a *Arbiter) Close() {
	for _, ch := range a.channels {
		ch.mu.Lock()
		if ch.dev != nil {
			ch.dev.Close()
			ch.dev = nil
		}
		if ch.lastGood != nil {
			ch.lastGood.Close()
			ch.lastGood = nil
		}
		ch.mu.Unlock()
	}
	if a.detector != nil {
		a.detector.Close()
	}
}

// capture grabs the next frame for the channel. The returned frame is
// owned by the caller. live is false for placeholder frames (paused,
// open failure, read failure).
func (a *Arbiter) capture(ch *channel) (frame Frame, live bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.paused {
		return a.placeholderLocked(ch, "FEED PAUSED"), false
	}

	if ch.dev == nil {
		dev, err := a.opener.Open(ch.cfg.Index)
		if err != nil {
			// Leave the handle unset; the next cycle retries the open.
			log.Warn("camera open failed", "channel", ch.cfg.Name, "index", ch.cfg.Index, "error", err)
			return a.placeholderLocked(ch, "NO SIGNAL"), false
		}
		log.Info("camera opened", "channel", ch.cfg.Name, "index", ch.cfg.Index)
		ch.dev = dev
	}

	f, err := ch.dev.Read()
	if err != nil {
		ch.failures++
		if ch.failures >= a.cfg.FailThreshold {
			// Self-heal: force-close and reopen on the next cycle.
			log.Warn("camera read failing, recycling handle",
				"channel", ch.cfg.Name, "failures", ch.failures)
			ch.dev.Close()
			ch.dev = nil
			ch.failures = 0
		}
		return a.placeholderLocked(ch, "NO SIGNAL"), false
	}

	ch.failures = 0
	if ch.lastGood != nil {
		ch.lastGood.Close()
	}
	ch.lastGood = f.Clone()
	return f, true
}

// placeholderLocked builds a banner frame from the last good frame, or a
// blank frame when nothing was ever captured. Caller holds ch.mu.
func (a *Arbiter) placeholderLocked(ch *channel, banner string) Frame {
	var f Frame
	if ch.lastGood != nil {
		f = ch.lastGood.Clone()
	} else {
		f = a.opener.Blank()
	}
	if f == nil {
		return nil
	}
	f.DrawBanner(banner)
	return f
}

func (a *Arbiter) setDetections(dets []Detection) {
	a.detMu.Lock()
	a.latest = DetectionSet{Objects: dets, At: time.Now()}
	a.detMu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
