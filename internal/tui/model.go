// Package tui is the interactive terminal front-end: pick an image by path, analyse it and read
// the per-tomato cards.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/example/tomato-check/internal/detection"
	"github.com/example/tomato-check/internal/render"
	"github.com/example/tomato-check/internal/session"
)

// Mode is the active tab.
type Mode int

const (
	ModeUpload Mode = iota
	ModeCamera
)

func (m Mode) String() string {
	if m == ModeCamera {
		return "Camera"
	}
	return "Upload"
}

// Loader reads the file at path into an Image with a sniffed media type.
type Loader func(path string) (detection.Image, error)

type analyzeDoneMsg struct {
	result *detection.Result
	err    error
}

type cameraMsg struct {
	status *detection.CameraStatus
	err    error
}

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ef4444"))
	activeTab     = lipgloss.NewStyle().Bold(true).Underline(true)
	inactiveTab   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	statusOKStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e"))
)

// Model implements tea.Model around one upload session.
type Model struct {
	ctx     context.Context
	sess    *session.Session
	camera  detection.CameraProber
	load    Loader
	input   textinput.Model
	spinner spinner.Model

	mode      Mode
	analyzing bool
	message   string
	camStatus *detection.CameraStatus
	camErr    error
}

// New builds the model. camera may be nil when no backend probe is wanted.
func New(ctx context.Context, sess *session.Session, camera detection.CameraProber, load Loader) Model {
	input := textinput.New()
	input.Placeholder = "path/to/tomato.jpg"
	input.Prompt = "Image: "
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		ctx:     ctx,
		sess:    sess,
		camera:  camera,
		load:    load,
		input:   input,
		spinner: sp,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.checkCamera())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.updateKey(msg)

	case analyzeDoneMsg:
		m.analyzing = false
		m.message = session.UserMessage(msg.err)
		if m.sess.State() == session.StateIdle {
			cmd := m.input.Focus()
			return m, cmd
		}
		return m, nil

	case cameraMsg:
		m.camErr = msg.err
		if msg.err == nil {
			m.camStatus = msg.status
		}
		return m, nil

	case spinner.TickMsg:
		if !m.analyzing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyTab:
		if m.mode == ModeUpload {
			m.mode = ModeCamera
			m.input.Blur()
			return m, m.checkCamera()
		}
		m.mode = ModeUpload
		if m.sess.State() == session.StateIdle {
			cmd := m.input.Focus()
			return m, cmd
		}
		return m, nil
	}

	if m.mode == ModeUpload && m.input.Focused() {
		switch msg.Type {
		case tea.KeyEnter:
			return m.selectPath()
		case tea.KeyEsc:
			if m.sess.State() != session.StateIdle {
				m.input.Blur()
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "r":
		if m.mode == ModeCamera {
			return m, m.checkCamera()
		}
	case "/":
		if m.mode == ModeUpload && !m.analyzing {
			cmd := m.input.Focus()
			return m, cmd
		}
	case "a":
		if m.mode == ModeUpload {
			return m.analyze()
		}
	case "c":
		if m.mode == ModeUpload {
			m.sess.Clear()
			m.message = ""
			m.input.SetValue("")
			cmd := m.input.Focus()
			return m, cmd
		}
	}
	return m, nil
}

func (m Model) selectPath() (tea.Model, tea.Cmd) {
	path := strings.TrimSpace(m.input.Value())
	if path == "" {
		return m, nil
	}
	img, err := m.load(path)
	if err != nil {
		m.message = fmt.Sprintf("Error: %v", err)
		return m, nil
	}
	if !m.sess.SelectFile(img.Name, img.Data, img.MediaType) {
		m.message = fmt.Sprintf("%s is not an image (%s)", img.Name, img.MediaType)
		return m, nil
	}
	m.message = ""
	m.input.Blur()
	return m, nil
}

func (m Model) analyze() (tea.Model, tea.Cmd) {
	if m.analyzing || m.sess.State() != session.StatePreviewing {
		return m, nil
	}
	m.analyzing = true
	m.message = ""
	sess, ctx := m.sess, m.ctx
	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		result, err := sess.Analyze(ctx)
		return analyzeDoneMsg{result: result, err: err}
	})
}

func (m Model) checkCamera() tea.Cmd {
	if m.camera == nil {
		return nil
	}
	camera, ctx := m.camera, m.ctx
	return func() tea.Msg {
		status, err := camera.CameraStatus(ctx)
		return cameraMsg{status: status, err: err}
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("🍅 Tomato Freshness Check"))
	b.WriteString("\n")
	b.WriteString(m.tabs())
	b.WriteString("\n\n")

	if m.mode == ModeCamera {
		b.WriteString(m.cameraView())
	} else {
		b.WriteString(m.uploadView())
	}

	if m.message != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.message))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help()))
	return b.String()
}

func (m Model) tabs() string {
	tabs := make([]string, 0, 2)
	for _, mode := range []Mode{ModeUpload, ModeCamera} {
		style := inactiveTab
		if mode == m.mode {
			style = activeTab
		}
		tabs = append(tabs, style.Render(mode.String()))
	}
	return strings.Join(tabs, "  ")
}

func (m Model) uploadView() string {
	snap := m.sess.Snapshot()
	var b strings.Builder
	b.WriteString(m.input.View())
	b.WriteString("\n")

	if snap.Image != nil {
		fmt.Fprintf(&b, "Selected: %s (%s, %d bytes)\n", snap.Image.FileName(), snap.Image.MediaType, len(snap.Image.Data))
	}

	switch {
	case m.analyzing || snap.State == session.StateAnalyzing:
		b.WriteString(m.spinner.View())
		b.WriteString(" Analyzing...\n")
	case snap.State == session.StateResultsShown:
		b.WriteString("\n")
		b.WriteString(render.Text(snap.Result))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) cameraView() string {
	switch {
	case m.camErr != nil && m.camStatus == nil:
		return errorStyle.Render("Camera status unknown: backend unreachable") + "\n"
	case m.camStatus == nil:
		return "Checking camera...\n"
	case m.camStatus.Available:
		return statusOKStyle.Render("Camera available") + "\n"
	default:
		return errorStyle.Render("Camera not available") + "\n"
	}
}

func (m Model) help() string {
	if m.mode == ModeCamera {
		return "r: recheck • tab: upload • q: quit"
	}
	if m.input.Focused() {
		return "enter: select • esc: done • tab: camera • ctrl+c: quit"
	}
	return "a: analyze • c: clear • /: choose file • tab: camera • q: quit"
}
