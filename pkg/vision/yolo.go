package vision

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// YOLODetector runs a YOLOv8 ONNX model through the gocv DNN module.
type YOLODetector struct {
	net       gocv.Net
	cfg       YOLOConfig
	mu        sync.Mutex
	inputSize image.Point
}

// YOLOConfig holds YOLO detector configuration.
type YOLOConfig struct {
	ModelPath   string
	ClassNames  []string
	NMSThresh   float32
	InputWidth  int
	InputHeight int
}

// SalvageClasses are the bench objects the demo model was trained on.
var SalvageClasses = []string{"gear", "heart", "hotdog", "nut", "skull"}

// DefaultYOLOConfig returns production defaults for the salvage model.
func DefaultYOLOConfig(modelPath string) YOLOConfig {
	return YOLOConfig{
		ModelPath:   modelPath,
		ClassNames:  SalvageClasses,
		NMSThresh:   0.45,
		InputWidth:  640,
		InputHeight: 640,
	}
}

// NewYOLO creates a new YOLO object detector.
func NewYOLO(cfg YOLOConfig) (*YOLODetector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLODetector{
		net:       net,
		cfg:       cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Infer finds objects in the frame. The frame must come from the gocv
// capture path.
func (d *YOLODetector) Infer(frame Frame, confidence float64) ([]Detection, error) {
	mf, ok := frame.(*matFrame)
	if !ok {
		return nil, fmt.Errorf("yolo: unsupported frame type %T", frame)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	img := mf.mat
	if img.Empty() {
		return nil, fmt.Errorf("yolo: empty frame")
	}
	imgW := float32(img.Cols())
	imgH := float32(img.Rows())

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	return d.parseOutput(output, imgW, imgH, float32(confidence)), nil
}

// parseOutput parses the YOLOv8 output tensor.
// Shape is [1, 4+C, 8400]: 4 bbox values followed by C class scores.
func (d *YOLODetector) parseOutput(output gocv.Mat, imgW, imgH, confThresh float32) []Detection {
	var boxes []image.Rectangle
	var confidences []float32
	var classIDs []int

	rows := output.Cols() // 8400 candidate detections
	cols := output.Rows() // 4 + number of classes

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil
	}

	for i := 0; i < rows; i++ {
		maxScore := float32(0)
		maxClassID := 0
		for c := 4; c < cols; c++ {
			if score := data[c*rows+i]; score > maxScore {
				maxScore = score
				maxClassID = c - 4
			}
		}
		if maxScore < confThresh {
			continue
		}

		cx := data[0*rows+i]
		cy := data[1*rows+i]
		w := data[2*rows+i]
		h := data[3*rows+i]

		x1 := int((cx - w/2) * imgW / float32(d.cfg.InputWidth))
		y1 := int((cy - h/2) * imgH / float32(d.cfg.InputHeight))
		x2 := int((cx + w/2) * imgW / float32(d.cfg.InputWidth))
		y2 := int((cy + h/2) * imgH / float32(d.cfg.InputHeight))

		boxes = append(boxes, image.Rect(x1, y1, x2, y2))
		confidences = append(confidences, maxScore)
		classIDs = append(classIDs, maxClassID)
	}

	if len(boxes) == 0 {
		return nil
	}

	long := imgW
	if imgH > long {
		long = imgH
	}

	var dets []Detection
	indices := gocv.NMSBoxes(boxes, confidences, confThresh, d.cfg.NMSThresh)
	for _, idx := range indices {
		box := boxes[idx]
		cx := float64(box.Min.X+box.Max.X) / 2
		cy := float64(box.Min.Y+box.Max.Y) / 2
		radius := float64(max(box.Dx(), box.Dy())) / 2

		dets = append(dets, Detection{
			Label:      d.className(classIDs[idx]),
			CX:         cx / float64(imgW),
			CY:         cy / float64(imgH),
			Radius:     radius / float64(long),
			Confidence: float64(confidences[idx]),
		})
	}
	return dets
}

func (d *YOLODetector) className(id int) string {
	if id >= 0 && id < len(d.cfg.ClassNames) {
		return d.cfg.ClassNames[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// Close releases the detector resources.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
