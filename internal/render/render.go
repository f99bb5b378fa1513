// Package render turns analysis results into what the user sees: per-tomato cards with a
// confidence percentage and position, or a placeholder when nothing was detected.
package render

import (
	"fmt"
	"strconv"

	"github.com/example/tomato-check/internal/detection"
)

// Placeholder replaces the card list when the backend found no tomatoes.
const Placeholder = "No tomatoes detected in the image."

// Card is the display form of one detection.
type Card struct {
	Index      int    `json:"index"`
	Title      string `json:"title"`
	Label      string `json:"label"`
	Confidence string `json:"confidence"`
	Position   string `json:"position"`
	Color      string `json:"color"`
}

// labelColors follows the backend's bounding box colours.
var labelColors = map[detection.Label]string{
	detection.LabelRipe:    "#22c55e",
	detection.LabelUnripe:  "#ffa500",
	detection.LabelOld:     "#ff8c00",
	detection.LabelDamaged: "#ef4444",
}

const neutralColor = "#9ca3af"

// Color returns the display colour for a label.
func Color(label detection.Label) string {
	if c, ok := labelColors[label]; ok {
		return c
	}
	return neutralColor
}

// FormatConfidence renders a [0,1] confidence as a percentage with one decimal: 0.873 -> "87.3%".
func FormatConfidence(confidence float64) string {
	return strconv.FormatFloat(confidence*100, 'f', 1, 64) + "%"
}

// FormatPosition renders the first two bbox coordinates as "(x, y)".
func FormatPosition(d detection.Detection) string {
	x, y, ok := d.Position()
	if !ok {
		return "(unknown)"
	}
	return fmt.Sprintf("(%s, %s)", formatCoord(x), formatCoord(y))
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Cards builds one card per detection, in backend order. It returns nil for a nil result.
func Cards(result *detection.Result) []Card {
	if result == nil {
		return nil
	}
	cards := make([]Card, 0, len(result.Detections))
	for i, d := range result.Detections {
		cards = append(cards, Card{
			Index:      i + 1,
			Title:      fmt.Sprintf("Tomato #%d", i+1),
			Label:      string(d.Label),
			Confidence: FormatConfidence(d.Confidence),
			Position:   FormatPosition(d),
			Color:      Color(d.Label),
		})
	}
	return cards
}

// Empty reports whether the placeholder should be shown instead of cards.
func Empty(result *detection.Result) bool {
	return result == nil || len(result.Detections) == 0
}
