// Package session implements the upload session: the selected image and its
// Idle -> Previewing -> Analyzing -> ResultsShown lifecycle.
package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/example/tomato-check/internal/detection"
)

// Session owns one selected image and the result of analysing it. It is safe for concurrent use;
// the backend request runs without the lock held.
type Session struct {
	id       string
	analyzer detection.Analyzer
	logger   *zap.Logger

	mu         sync.Mutex
	state      State
	image      *detection.Image
	result     *detection.Result
	lastErr    error
	generation uint64
	listeners  []Listener
}

// Snapshot is a consistent copy of the session's observable state.
type Snapshot struct {
	ID        string
	State     State
	Image     *detection.Image
	Result    *detection.Result
	LastError error
}

// New creates an idle session.
func New(id string, analyzer detection.Analyzer, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		id:       id,
		analyzer: analyzer,
		logger:   logger.Named("session").With(zap.String("session_id", id)),
		state:    StateIdle,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// AddListener registers l for all future transitions.
func (s *Session) AddListener(l Listener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns copies of the image and result alongside the state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{ID: s.id, State: s.state, Result: s.result, LastError: s.lastErr}
	if s.image != nil {
		img := s.image.Clone()
		snap.Image = &img
	}
	return snap
}

// SelectImage replaces the selected image and moves to Previewing. Input whose media type is not
// image/* is ignored: it returns false and nothing changes.
func (s *Session) SelectImage(data []byte, mediaType string) bool {
	return s.SelectFile("", data, mediaType)
}

// SelectFile is SelectImage with a file name kept for the upload.
func (s *Session) SelectFile(name string, data []byte, mediaType string) bool {
	if !detection.IsImageMediaType(mediaType) {
		s.logger.Debug("ignoring non-image selection", zap.String("media_type", mediaType))
		return false
	}
	img := detection.Image{Name: name, MediaType: mediaType, Data: data}.Clone()

	s.mu.Lock()
	s.image = &img
	s.result = nil
	s.lastErr = nil
	s.generation++
	notify := s.transitionLocked(StatePreviewing)
	s.mu.Unlock()

	notify()
	s.logger.Debug("image selected", zap.String("media_type", mediaType), zap.Int("bytes", len(data)))
	return true
}

// Clear discards the image and any result and returns to Idle. Valid from any state.
func (s *Session) Clear() {
	s.mu.Lock()
	s.image = nil
	s.result = nil
	s.lastErr = nil
	s.generation++
	notify := s.transitionLocked(StateIdle)
	s.mu.Unlock()

	notify()
}

// Analyze sends the selected image to the backend. It is a no-op returning ErrNotReady unless the
// session is Previewing, and ErrAnalysisInFlight while Analyzing. On a success=true answer the
// result is stored and the session shows it; on a rejection (*detection.RejectedError) or a
// transport/parse failure (*AnalysisError) the session returns to Previewing with the image kept.
func (s *Session) Analyze(ctx context.Context) (*detection.Result, error) {
	_, result, err := s.AnalyzeImage(ctx)
	return result, err
}

// AnalyzeImage is Analyze that also returns the image the request carried. The image is empty
// when no request was made.
func (s *Session) AnalyzeImage(ctx context.Context) (detection.Image, *detection.Result, error) {
	return s.AnalyzeImageStarted(ctx, nil)
}

// AnalyzeImageStarted is AnalyzeImage calling started once the session has entered Analyzing and
// before the request is sent. started is not called for the no-op cases.
func (s *Session) AnalyzeImageStarted(ctx context.Context, started func()) (detection.Image, *detection.Result, error) {
	s.mu.Lock()
	switch {
	case s.state == StateAnalyzing:
		s.mu.Unlock()
		return detection.Image{}, nil, ErrAnalysisInFlight
	case s.state != StatePreviewing || s.image == nil:
		s.mu.Unlock()
		return detection.Image{}, nil, ErrNotReady
	}
	img := *s.image
	generation := s.generation
	s.lastErr = nil
	notify := s.transitionLocked(StateAnalyzing)
	s.mu.Unlock()
	notify()
	if started != nil {
		started()
	}

	result, err := s.analyzer.Analyze(ctx, img)

	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		s.logger.Info("dropping analysis response for a replaced selection")
		return img, nil, ErrSuperseded
	}
	switch {
	case err != nil:
		err = &AnalysisError{Err: err}
		s.lastErr = err
		notify = s.transitionLocked(StatePreviewing)
	case result == nil || !result.Success:
		msg := "unknown error"
		if result != nil && result.Error != "" {
			msg = result.Error
		}
		err = &detection.RejectedError{Message: msg}
		s.lastErr = err
		notify = s.transitionLocked(StatePreviewing)
	default:
		s.result = result
		notify = s.transitionLocked(StateResultsShown)
	}
	s.mu.Unlock()
	notify()

	if err != nil {
		s.logger.Warn("analysis failed", zap.Error(err))
		return img, nil, err
	}
	s.logger.Info("analysis complete", zap.Int("detections", len(result.Detections)))
	return img, result, nil
}

// transitionLocked sets the state and returns a func that notifies listeners. Call the func after
// releasing the lock.
func (s *Session) transitionLocked(next State) func() {
	prev := s.state
	s.state = next
	if prev == next || len(s.listeners) == 0 {
		return func() {}
	}
	listeners := append([]Listener(nil), s.listeners...)
	return func() {
		for _, l := range listeners {
			l(prev, next)
		}
	}
}
