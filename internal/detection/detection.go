// Package detection holds the domain types exchanged with the tomato freshness backend and the
// contracts the upload session depends on.
package detection

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
)

// Label is the freshness category the backend assigns to a detected tomato.
type Label string

const (
	LabelDamaged Label = "Damaged"
	LabelOld     Label = "Old"
	LabelRipe    Label = "Ripe"
	LabelUnripe  Label = "Unripe"
)

// Labels lists the categories produced by the backend model, in model output order.
var Labels = []Label{LabelDamaged, LabelOld, LabelRipe, LabelUnripe}

// Known reports whether l is one of the model's categories. Unknown labels are kept verbatim.
func (l Label) Known() bool {
	for _, known := range Labels {
		if l == known {
			return true
		}
	}
	return false
}

// Detection is one classified region of interest.
type Detection struct {
	Label      Label     `json:"label"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
}

// Position returns the first two bbox coordinates. ok is false when the backend sent fewer.
func (d Detection) Position() (x, y float64, ok bool) {
	if len(d.BBox) < 2 {
		return 0, 0, false
	}
	return d.BBox[0], d.BBox[1], true
}

// Result is the decoded /analyze_image payload.
type Result struct {
	Success        bool        `json:"success"`
	Error          string      `json:"error,omitempty"`
	ProcessedImage string      `json:"processed_image,omitempty"`
	Detections     []Detection `json:"detections"`
}

// ProcessedJPEG decodes the re-encoded image the backend annotated with bounding boxes.
func (r *Result) ProcessedJPEG() ([]byte, error) {
	if r == nil || r.ProcessedImage == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(r.ProcessedImage)
	if err != nil {
		return nil, fmt.Errorf("decode processed image: %w", err)
	}
	return data, nil
}

// CameraStatus is the decoded /camera_status payload.
type CameraStatus struct {
	Available bool `json:"available"`
}

// Image is a selected image: the raw bytes and the declared media type.
type Image struct {
	Name      string
	MediaType string
	Data      []byte
}

// Clone returns a deep copy so callers never share the payload buffer.
func (img Image) Clone() Image {
	out := img
	if img.Data != nil {
		out.Data = append([]byte(nil), img.Data...)
	}
	return out
}

// FileName returns the image name, or "upload" plus an extension derived from the media type.
func (img Image) FileName() string {
	if img.Name != "" {
		return img.Name
	}
	if exts, err := mime.ExtensionsByType(img.MediaType); err == nil && len(exts) > 0 {
		return "upload" + exts[0]
	}
	return "upload"
}

// IsImageMediaType reports whether mediaType declares an image (image/*). Parameters and case
// are ignored.
func IsImageMediaType(mediaType string) bool {
	base, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		base = strings.ToLower(strings.TrimSpace(mediaType))
	}
	return strings.HasPrefix(base, "image/") && len(base) > len("image/")
}

// RejectedError is returned when the backend answered with success=false.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return "analysis rejected: " + e.Message
}

// Analyzer sends one image to the backend and returns its decoded response.
type Analyzer interface {
	Analyze(ctx context.Context, img Image) (*Result, error)
}

// CameraProber reports whether the backend has a live camera.
type CameraProber interface {
	CameraStatus(ctx context.Context) (*CameraStatus, error)
}

// Client is the full backend surface.
type Client interface {
	Analyzer
	CameraProber
}
