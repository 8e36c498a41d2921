package vision

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Capture resolution applied to every opened device. The control process
// opens the same devices with matching settings, so keep these in sync
// with the robot camera config.
const (
	captureWidth  = 640
	captureHeight = 480
	captureBuffer = 1
)

// Overlay palette (cyan theme, BGR order like the rest of gocv).
var (
	overlayCyan  = color.RGBA{R: 0, G: 229, B: 255, A: 0}
	overlayWhite = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// CV is the gocv-backed Opener used in production.
type CV struct{}

// NewCV returns the hardware capture opener.
func NewCV() *CV {
	return &CV{}
}

// Open acquires the device and applies fixed resolution and buffering so
// frames are never served from a stale driver queue.
func (c *CV) Open(index int) (Device, error) {
	cap, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("open device %d: %w", index, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("open device %d: not opened", index)
	}
	cap.Set(gocv.VideoCaptureFrameWidth, captureWidth)
	cap.Set(gocv.VideoCaptureFrameHeight, captureHeight)
	cap.Set(gocv.VideoCaptureBufferSize, captureBuffer)
	return &cvDevice{cap: cap}, nil
}

// Blank returns a black frame at capture resolution.
func (c *CV) Blank() Frame {
	mat := gocv.NewMatWithSize(captureHeight, captureWidth, gocv.MatTypeCV8UC3)
	return &matFrame{mat: mat}
}

type cvDevice struct {
	cap *gocv.VideoCapture
}

func (d *cvDevice) Read() (Frame, error) {
	mat := gocv.NewMat()
	if ok := d.cap.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("capture read failed")
	}
	return &matFrame{mat: mat}, nil
}

func (d *cvDevice) Close() error {
	return d.cap.Close()
}

// matFrame wraps a gocv.Mat as a Frame.
type matFrame struct {
	mat gocv.Mat
}

func (f *matFrame) Clone() Frame {
	return &matFrame{mat: f.mat.Clone()}
}

// DrawDetections renders each detection as a labelled circle, the
// denormalized counterpart of the stored center/radius geometry.
func (f *matFrame) DrawDetections(dets []Detection) {
	w := f.mat.Cols()
	h := f.mat.Rows()
	long := w
	if h > long {
		long = h
	}
	for _, d := range dets {
		center := image.Pt(int(d.CX*float64(w)), int(d.CY*float64(h)))
		radius := int(d.Radius * float64(long))
		if radius < 4 {
			radius = 4
		}
		gocv.Circle(&f.mat, center, radius, overlayCyan, 2)
		gocv.Circle(&f.mat, center, radius+4, overlayCyan, 1)

		org := image.Pt(center.X-radius, center.Y-radius-10)
		if org.Y < 14 {
			org.Y = 14
		}
		gocv.PutText(&f.mat, d.Label, org, gocv.FontHersheySimplex, 0.6, overlayWhite, 2)
	}
}

// DrawBanner overlays a status banner across the top of the frame.
func (f *matFrame) DrawBanner(text string) {
	w := f.mat.Cols()
	bar := image.Rect(0, 0, w, 36)
	gocv.Rectangle(&f.mat, bar, color.RGBA{}, -1)
	gocv.PutText(&f.mat, text, image.Pt(12, 26), gocv.FontHersheySimplex, 0.8, overlayCyan, 2)
}

func (f *matFrame) EncodeJPEG(quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, f.mat,
		[]int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

func (f *matFrame) Close() {
	f.mat.Close()
}
