package vision

import "time"

// Detection is one detected object. Coordinates are normalized to 0-1:
// CX/CY are the circle center relative to frame width/height and Radius
// is relative to the longer frame edge, matching the overlay geometry.
type Detection struct {
	Label      string  `json:"label"`
	CX         float64 `json:"cx"`
	CY         float64 `json:"cy"`
	Radius     float64 `json:"radius"`
	Confidence float64 `json:"confidence"`
}

// DetectionSet is the snapshot produced by one detector run. It is shared
// by value: the stream loop replaces it atomically, readers copy it.
type DetectionSet struct {
	Objects []Detection `json:"objects"`
	At      time.Time   `json:"at"`
}

// Labels returns the distinct object labels in detection order.
func (s DetectionSet) Labels() []string {
	seen := make(map[string]bool, len(s.Objects))
	var labels []string
	for _, d := range s.Objects {
		if !seen[d.Label] {
			seen[d.Label] = true
			labels = append(labels, d.Label)
		}
	}
	return labels
}

// Detector finds objects in a frame.
type Detector interface {
	// Infer runs detection on the frame with the given confidence threshold.
	Infer(frame Frame, confidence float64) ([]Detection, error)

	// Close releases detector resources.
	Close() error
}
