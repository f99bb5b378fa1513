package preview

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/tomato-check/internal/detection"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDataURLDownscalesLargeImages(t *testing.T) {
	url := DataURL(detection.Image{MediaType: "image/png", Data: pngBytes(t, 200, 100)}, 50)
	require.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/jpeg;base64,"))
	require.NoError(t, err)
	thumb, err := imaging.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 50, thumb.Bounds().Dx())
	assert.Equal(t, 25, thumb.Bounds().Dy())
}

func TestDataURLKeepsSmallImages(t *testing.T) {
	data := pngBytes(t, 10, 10)
	url := DataURL(detection.Image{MediaType: "image/png", Data: data}, 50)
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(data), url)
}

func TestDataURLFallsBackForUndecodableData(t *testing.T) {
	url := DataURL(detection.Image{MediaType: "image/heic", Data: []byte("not really heic")}, 0)
	assert.True(t, strings.HasPrefix(url, "data:image/heic;base64,"))
}

func TestDataURLEmpty(t *testing.T) {
	assert.Empty(t, DataURL(detection.Image{MediaType: "image/png"}, 0))
}
