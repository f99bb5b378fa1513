package render

import (
	"html/template"
	"strings"

	"github.com/example/tomato-check/internal/detection"
)

// ResultsTemplate is the name of the results fragment in Templates.
const ResultsTemplate = "results.html"

const resultsHTML = `{{define "results.html"}}<section class="results" data-state="{{.State}}">
{{- if .Error}}
  <p class="error" role="alert">{{.Error}}</p>
{{- end}}
{{- if .Preview}}
  <img class="preview" alt="Selected image" src="{{.Preview}}">
{{- end}}
{{- if .Processed}}
  <img class="processed" alt="Analyzed image" src="{{.Processed}}">
{{- end}}
{{- if .Shown}}
  <div class="detections">
  {{- if .Cards}}
  {{- range .Cards}}
    <div class="detection-card {{.Label}}" data-color="{{.Color}}">
      <div class="detection-label">🍅 {{.Title}}</div>
      <div><strong>Status:</strong> {{.Label}}</div>
      <div class="detection-confidence"><strong>Confidence:</strong> {{.Confidence}}</div>
      <div class="detection-position">Position: {{.Position}}</div>
    </div>
  {{- end}}
  {{- else}}
    <p class="placeholder">{{.Placeholder}}</p>
  {{- end}}
  </div>
{{- end}}
</section>{{end}}`

// View is the data behind the results fragment.
type View struct {
	State       string
	Error       string
	Preview     template.URL
	Processed   template.URL
	Shown       bool
	Cards       []Card
	Placeholder string
}

// NewView prepares a fragment view. result is only rendered when shown is true; preview is a data
// URL of the selected image.
func NewView(state string, shown bool, result *detection.Result, preview, userError string) View {
	v := View{
		State:       state,
		Error:       userError,
		Shown:       shown,
		Placeholder: Placeholder,
	}
	if strings.HasPrefix(preview, "data:image/") {
		v.Preview = template.URL(preview)
	}
	if shown && result != nil {
		v.Cards = Cards(result)
		if result.ProcessedImage != "" {
			v.Processed = template.URL("data:image/jpeg;base64," + result.ProcessedImage)
		}
	}
	return v
}

// Templates parses the HTML fragments. gin serves them through SetHTMLTemplate.
func Templates() *template.Template {
	return template.Must(template.New("render").Parse(resultsHTML))
}
