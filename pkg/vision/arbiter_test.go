package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// fakeFrame records overlay calls and encodes to a marker string.
type fakeFrame struct {
	id     string
	banner string
	dets   []Detection
	closed bool
}

func (f *fakeFrame) Clone() Frame                   { return &fakeFrame{id: f.id} }
func (f *fakeFrame) DrawDetections(dets []Detection) { f.dets = dets }
func (f *fakeFrame) DrawBanner(text string)          { f.banner = text }
func (f *fakeFrame) Close()                          { f.closed = true }

func (f *fakeFrame) EncodeJPEG(quality int) ([]byte, error) {
	return []byte(f.id + "|" + f.banner), nil
}

// fakeDevice serves frames or errors from a script.
type fakeDevice struct {
	mu     sync.Mutex
	reads  int
	closes int
	fail   func(read int) bool
}

func (d *fakeDevice) Read() (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	if d.fail != nil && d.fail(d.reads) {
		return nil, errors.New("read failed")
	}
	return &fakeFrame{id: fmt.Sprintf("frame%d", d.reads)}, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

type fakeOpener struct {
	mu      sync.Mutex
	opens   int
	failing bool
	devices []*fakeDevice
	fail    func(read int) bool
}

func (o *fakeOpener) Open(index int) (Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.failing {
		return nil, errors.New("open failed")
	}
	dev := &fakeDevice{fail: o.fail}
	o.devices = append(o.devices, dev)
	return dev, nil
}

func (o *fakeOpener) Blank() Frame { return &fakeFrame{id: "blank"} }

// fakeDetector returns a fixed detection list and counts runs.
type fakeDetector struct {
	mu   sync.Mutex
	runs int
	dets []Detection
}

func (d *fakeDetector) Infer(frame Frame, confidence float64) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runs++
	return d.dets, nil
}

func (d *fakeDetector) Close() error { return nil }

func (d *fakeDetector) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Channels = []ChannelConfig{
		{Name: "front", Index: 2, Detect: true},
		{Name: "handeye", Index: 3},
	}
	cfg.StreamFPS = 1000
	cfg.FailThreshold = 3
	return cfg
}

func TestPauseResumeFold(t *testing.T) {
	a := NewArbiter(testConfig(), &fakeOpener{}, nil)

	// The observable paused flag must equal the fold of the call sequence,
	// and repeated calls must be no-op successes.
	steps := []struct {
		op   func(string) error
		want bool
	}{
		{a.Pause, true},
		{a.Pause, true},
		{a.Resume, false},
		{a.Resume, false},
		{a.Pause, true},
		{a.Resume, false},
	}
	for i, s := range steps {
		if err := s.op("front"); err != nil {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
		if got := a.Paused("front"); got != s.want {
			t.Fatalf("step %d: paused = %v, want %v", i, got, s.want)
		}
	}
}

func TestPauseUnknownChannel(t *testing.T) {
	a := NewArbiter(testConfig(), &fakeOpener{}, nil)
	if err := a.Pause("rear"); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
	if err := a.Resume("rear"); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestPauseReleasesHandle(t *testing.T) {
	opener := &fakeOpener{}
	a := NewArbiter(testConfig(), opener, nil)

	// First read lazily opens the handle.
	if _, err := a.ReadFrame("front"); err != nil {
		t.Fatalf("read: %v", err)
	}
	if opener.opens != 1 {
		t.Fatalf("expected 1 open, got %d", opener.opens)
	}

	if err := a.Pause("front"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if opener.devices[0].closes != 1 {
		t.Errorf("expected handle released on pause, closes = %d", opener.devices[0].closes)
	}
	if a.channels["front"].dev != nil {
		t.Error("expected handle cleared on pause")
	}
}

func TestPausedReadServesPlaceholder(t *testing.T) {
	opener := &fakeOpener{}
	a := NewArbiter(testConfig(), opener, nil)

	// Capture one good frame, then pause.
	if _, err := a.ReadFrame("front"); err != nil {
		t.Fatalf("read: %v", err)
	}
	a.Pause("front")

	jpeg, err := a.ReadFrame("front")
	if err != nil {
		t.Fatalf("paused read should not fail: %v", err)
	}
	if !strings.Contains(string(jpeg), "FEED PAUSED") {
		t.Errorf("expected paused banner, got %q", jpeg)
	}
	if !strings.HasPrefix(string(jpeg), "frame1") {
		t.Errorf("expected last good frame retained, got %q", jpeg)
	}

	// No reopen while paused.
	if opens := opener.opens; opens != 1 {
		t.Errorf("expected no reopen while paused, opens = %d", opens)
	}
}

func TestResumeReopensLazily(t *testing.T) {
	opener := &fakeOpener{}
	a := NewArbiter(testConfig(), opener, nil)

	a.ReadFrame("front")
	a.Pause("front")
	a.Resume("front")

	// Resume itself must not touch hardware.
	if opener.opens != 1 {
		t.Fatalf("resume should not reopen eagerly, opens = %d", opener.opens)
	}

	if _, err := a.ReadFrame("front"); err != nil {
		t.Fatalf("read after resume: %v", err)
	}
	if opener.opens != 2 {
		t.Errorf("expected lazy reopen on first read, opens = %d", opener.opens)
	}
}

func TestOpenFailureServesPlaceholderAndRetries(t *testing.T) {
	opener := &fakeOpener{failing: true}
	a := NewArbiter(testConfig(), opener, nil)

	jpeg, err := a.ReadFrame("front")
	if err != nil {
		t.Fatalf("open failure must degrade, not error: %v", err)
	}
	if !strings.Contains(string(jpeg), "NO SIGNAL") {
		t.Errorf("expected error placeholder, got %q", jpeg)
	}

	// Device comes back: the next read opens it.
	opener.failing = false
	jpeg, err = a.ReadFrame("front")
	if err != nil {
		t.Fatalf("read after recovery: %v", err)
	}
	if strings.Contains(string(jpeg), "NO SIGNAL") {
		t.Errorf("expected live frame after recovery, got %q", jpeg)
	}
}

func TestReadFailureSelfHeals(t *testing.T) {
	// Device fails every read after the first.
	opener := &fakeOpener{fail: func(read int) bool { return read > 1 }}
	a := NewArbiter(testConfig(), opener, nil)

	if _, err := a.ReadFrame("front"); err != nil {
		t.Fatalf("first read: %v", err)
	}

	// FailThreshold consecutive failures force-close the handle.
	for i := 0; i < 3; i++ {
		jpeg, err := a.ReadFrame("front")
		if err != nil {
			t.Fatalf("failing read %d must degrade: %v", i, err)
		}
		if !strings.Contains(string(jpeg), "NO SIGNAL") {
			t.Errorf("read %d: expected placeholder, got %q", i, jpeg)
		}
	}
	if opener.devices[0].closes != 1 {
		t.Errorf("expected handle recycled after threshold, closes = %d", opener.devices[0].closes)
	}
	if a.channels["front"].dev != nil {
		t.Error("expected handle cleared for reopen")
	}

	// Next read reopens.
	a.ReadFrame("front")
	if opener.opens != 2 {
		t.Errorf("expected reopen after self-heal, opens = %d", opener.opens)
	}
}

func TestStreamDetectionCadence(t *testing.T) {
	opener := &fakeOpener{}
	det := &fakeDetector{dets: []Detection{{Label: "nut", CX: 0.5, CY: 0.5, Radius: 0.1, Confidence: 0.9}}}
	a := NewArbiter(testConfig(), opener, det)

	frames := 0
	done := errors.New("done")
	err := a.Stream(context.Background(), "front", func(jpeg []byte) error {
		frames++
		if frames >= 7 {
			return done
		}
		return nil
	})
	if !errors.Is(err, done) {
		t.Fatalf("unexpected stream error: %v", err)
	}

	// DetectEvery=3 over 7 frames: detector ran on frames 0, 3, 6.
	if got := det.count(); got != 3 {
		t.Errorf("expected 3 detector runs, got %d", got)
	}

	snap := a.Snapshot()
	if len(snap.Objects) != 1 || snap.Objects[0].Label != "nut" {
		t.Errorf("expected refreshed snapshot, got %+v", snap.Objects)
	}
	if snap.At.IsZero() {
		t.Error("expected snapshot timestamp")
	}
}

func TestStreamPausedNeverTerminates(t *testing.T) {
	opener := &fakeOpener{}
	a := NewArbiter(testConfig(), opener, nil)
	a.Pause("front")

	frames := 0
	done := errors.New("done")
	err := a.Stream(context.Background(), "front", func(jpeg []byte) error {
		if !strings.Contains(string(jpeg), "FEED PAUSED") {
			t.Errorf("expected placeholder while paused, got %q", jpeg)
		}
		frames++
		if frames >= 3 {
			return done
		}
		return nil
	})
	if !errors.Is(err, done) {
		t.Fatalf("stream ended early: %v", err)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	a := NewArbiter(testConfig(), &fakeOpener{}, nil)
	a.setDetections([]Detection{{Label: "gear"}})

	snap := a.Snapshot()
	snap.Objects[0].Label = "mutated"

	if got := a.Snapshot().Objects[0].Label; got != "gear" {
		t.Errorf("snapshot must be isolated, got %q", got)
	}
}

func TestLabels(t *testing.T) {
	s := DetectionSet{Objects: []Detection{
		{Label: "gear"}, {Label: "nut"}, {Label: "gear"},
	}}
	labels := s.Labels()
	if len(labels) != 2 || labels[0] != "gear" || labels[1] != "nut" {
		t.Errorf("unexpected labels: %v", labels)
	}
}
