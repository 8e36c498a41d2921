package vision

import (
	"errors"
	"time"
)

// Sentinel errors for capture operations.
var (
	// ErrUnknownChannel is returned for a channel name that was never configured.
	ErrUnknownChannel = errors.New("vision: unknown channel")

	// ErrNoFrame is returned when a channel has no frame to serve yet.
	ErrNoFrame = errors.New("vision: no frame available")
)

// Frame is one captured image. Implementations own the underlying pixel
// buffer; callers must Close frames they are handed unless documented
// otherwise.
type Frame interface {
	// Clone returns an independent copy of the frame.
	Clone() Frame

	// DrawDetections overlays labelled detection circles.
	DrawDetections(dets []Detection)

	// DrawBanner overlays a status banner (e.g. "FEED PAUSED").
	DrawBanner(text string)

	// EncodeJPEG returns the frame as JPEG bytes.
	EncodeJPEG(quality int) ([]byte, error)

	// Close releases the pixel buffer.
	Close()
}

// Device is an open capture handle to one physical camera.
type Device interface {
	// Read grabs the next frame. The caller owns the returned frame.
	Read() (Frame, error)

	// Close releases the hardware handle.
	Close() error
}

// Opener opens capture devices and synthesizes blank frames. It is the
// seam between the arbiter and the hardware layer (gocv in production).
type Opener interface {
	// Open acquires the device at the given index with fixed
	// resolution/buffering settings applied.
	Open(index int) (Device, error)

	// Blank returns a black frame used as a placeholder before any
	// real frame has been captured.
	Blank() Frame
}

// ChannelConfig describes one logical camera channel.
type ChannelConfig struct {
	// Name is the logical channel name (e.g. "front", "handeye").
	Name string

	// Index is the capture device index.
	Index int

	// Detect enables object detection on this channel's stream.
	Detect bool
}

// Config holds arbiter tuning.
type Config struct {
	// Channels lists the camera channels to manage.
	Channels []ChannelConfig

	// Confidence is the detector confidence threshold.
	Confidence float64

	// StreamFPS caps the stream frame rate.
	StreamFPS int

	// JPEGQuality is the MJPEG encode quality (1-100).
	JPEGQuality int

	// DetectEvery runs the detector every Nth streamed frame;
	// intermediate frames reuse the last detection set.
	DetectEvery int

	// FailThreshold is the number of consecutive read failures before
	// the handle is force-closed and reopened on the next cycle.
	FailThreshold int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Confidence:    0.5,
		StreamFPS:     20,
		JPEGQuality:   80,
		DetectEvery:   3,
		FailThreshold: 5,
	}
}

func (c *Config) frameDelay() time.Duration {
	fps := c.StreamFPS
	if fps <= 0 {
		fps = 20
	}
	return time.Second / time.Duration(fps)
}
