// Package speech provides the operator voice interface: spoken prompts
// via ElevenLabs and command capture via microphone transcription.
//
// All backends sit behind small interfaces so the orchestrator can run
// against mocks in tests and degrade to text entry on machines without
// audio hardware.
package speech

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/jakkii/scrapple/internal/log"
)

// Sentinel errors for speech operations.
var (
	// ErrNoAPIKey is returned when the synthesis API key is missing.
	ErrNoAPIKey = errors.New("speech: API key required")

	// ErrEmptyAudio is returned when synthesis yields zero audio bytes,
	// usually a sign of an invalid or expired key.
	ErrEmptyAudio = errors.New("speech: synthesis returned empty audio")

	// ErrNoMicrophone is returned when audio capture is unavailable.
	ErrNoMicrophone = errors.New("speech: no capture device available")
)

// Speaker voices a line of text to the operator.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Listener captures one operator command and returns its transcript.
// An empty transcript with a nil error means nothing intelligible was
// heard; callers treat that as "no command".
type Listener interface {
	Listen(ctx context.Context, duration time.Duration) (string, error)
}

// Player plays raw 16-bit mono PCM at the given sample rate.
type Player interface {
	Play(ctx context.Context, pcm []byte, sampleRate int) error
}

// Recorder captures microphone audio for the given duration and
// returns it as WAV bytes.
type Recorder interface {
	Record(ctx context.Context, duration time.Duration) ([]byte, error)
}

// Transcriber converts WAV audio to text. Unintelligible audio returns
// an empty string, not an error.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// MicListener records from the microphone and transcribes the result.
type MicListener struct {
	Recorder    Recorder
	Transcriber Transcriber
}

// Listen captures and transcribes one command window.
func (l *MicListener) Listen(ctx context.Context, duration time.Duration) (string, error) {
	wav, err := l.Recorder.Record(ctx, duration)
	if err != nil {
		return "", err
	}
	text, err := l.Transcriber.Transcribe(ctx, wav)
	if err != nil {
		return "", err
	}
	if text == "" {
		log.Debug("transcription empty, treating as no command")
	}
	return text, nil
}

// TextListener reads one typed line instead of recording audio. Used
// as the fallback on machines without a microphone.
type TextListener struct {
	r *bufio.Reader
}

// NewTextListener wraps the given input source, typically os.Stdin.
func NewTextListener(r io.Reader) *TextListener {
	return &TextListener{r: bufio.NewReader(r)}
}

// Listen reads a single line and trims surrounding whitespace. The
// duration is ignored; typed entry has no capture window.
func (l *TextListener) Listen(ctx context.Context, _ time.Duration) (string, error) {
	type lineResult struct {
		text string
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		line, err := l.r.ReadString('\n')
		if err != nil && line == "" {
			ch <- lineResult{"", err}
			return
		}
		ch <- lineResult{strings.TrimSpace(line), nil}
	}()

	select {
	case res := <-ch:
		if errors.Is(res.err, io.EOF) {
			return "", nil
		}
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
