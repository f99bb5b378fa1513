// Package preview produces the preview shown while an image is selected but not yet analysed.
package preview

import (
	"bytes"
	"encoding/base64"

	"github.com/disintegration/imaging"

	"github.com/example/tomato-check/internal/detection"
)

// DefaultMaxSide bounds the thumbnail's longer side in pixels.
const DefaultMaxSide = 480

// DataURL returns a data URL for img. Decodable images larger than maxSide are downscaled to a JPEG
// thumbnail; anything imaging cannot decode is embedded as-is under its declared media type.
func DataURL(img detection.Image, maxSide int) string {
	if len(img.Data) == 0 {
		return ""
	}
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	if thumb, ok := thumbnail(img.Data, maxSide); ok {
		return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(thumb)
	}
	return "data:" + img.MediaType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

func thumbnail(data []byte, maxSide int) ([]byte, bool) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, false
	}
	bounds := src.Bounds()
	if bounds.Dx() <= maxSide && bounds.Dy() <= maxSide {
		return nil, false
	}
	fitted := imaging.Fit(src, maxSide, maxSide, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}
