package models

import (
	"encoding/json"
	"fmt"
)

// Doodle is the vector payload of a drawing: a list of strokes in a fixed
// canvas coordinate space. It is JSON-encoded on the wire so recipients can
// decode and re-render it offline at any output size.
type Doodle struct {
	Width   float64  `json:"w"`
	Height  float64  `json:"h"`
	Strokes []Stroke `json:"strokes"`
}

// Stroke is one continuous pen stroke.
type Stroke struct {
	Color  string       `json:"color"`
	Width  float64      `json:"width"`
	Points [][2]float64 `json:"points"`
}

// Encode serializes the doodle for storage in a DrawingRecord.
func (d *Doodle) Encode() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode doodle: %w", err)
	}
	return data, nil
}

// DecodeDoodle parses vector bytes back into a doodle. It rejects payloads
// with no renderable strokes so callers can fall through to other sources.
func DecodeDoodle(data []byte) (*Doodle, error) {
	var d Doodle
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode doodle: %w", err)
	}
	if len(d.Strokes) == 0 {
		return nil, fmt.Errorf("doodle has no strokes")
	}
	for i, s := range d.Strokes {
		if len(s.Points) == 0 {
			return nil, fmt.Errorf("stroke %d has no points", i)
		}
	}
	return &d, nil
}

// Bounds returns the bounding box of all stroke points. ok is false for an
// empty doodle.
func (d *Doodle) Bounds() (minX, minY, maxX, maxY float64, ok bool) {
	first := true
	for _, s := range d.Strokes {
		for _, p := range s.Points {
			if first {
				minX, maxX = p[0], p[0]
				minY, maxY = p[1], p[1]
				first = false
				continue
			}
			if p[0] < minX {
				minX = p[0]
			}
			if p[0] > maxX {
				maxX = p[0]
			}
			if p[1] < minY {
				minY = p[1]
			}
			if p[1] > maxY {
				maxY = p[1]
			}
		}
	}
	return minX, minY, maxX, maxY, !first
}
