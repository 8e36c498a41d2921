package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// recordSampleRate is what the transcription backend expects.
const recordSampleRate = 16000

// AlsaPlayer plays PCM through aplay.
type AlsaPlayer struct {
	// Binary overrides the player executable, used in tests.
	Binary string
}

// Play pipes raw PCM16 mono audio into aplay and waits for playback.
func (p *AlsaPlayer) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	bin := p.Binary
	if bin == "" {
		bin = "aplay"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-q", "-t", "raw", "-f", "S16_LE",
		"-r", strconv.Itoa(sampleRate), "-c", "1")
	cmd.Stdin = bytes.NewReader(pcm)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("speech: playback: %w", err)
	}
	return nil
}

// AlsaRecorder captures microphone audio through arecord.
type AlsaRecorder struct {
	// Binary overrides the recorder executable, used in tests.
	Binary string
}

// Record captures a WAV clip of the given duration from the default
// capture device.
func (r *AlsaRecorder) Record(ctx context.Context, duration time.Duration) ([]byte, error) {
	bin := r.Binary
	if bin == "" {
		bin = "arecord"
	}
	seconds := int(duration / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	cmd := exec.CommandContext(ctx, bin,
		"-q", "-t", "wav", "-f", "S16_LE",
		"-r", strconv.Itoa(recordSampleRate), "-c", "1",
		"-d", strconv.Itoa(seconds), "-")

	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, fmt.Errorf("%w: %v", ErrNoMicrophone, err)
		}
		return nil, fmt.Errorf("speech: capture: %w", err)
	}
	return out.Bytes(), nil
}
