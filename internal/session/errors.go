package session

import (
	"errors"
	"fmt"

	"github.com/example/tomato-check/internal/detection"
)

var (
	// ErrNotReady is returned by Analyze when there is no image in preview. Nothing happens.
	ErrNotReady = errors.New("session: no image selected for analysis")
	// ErrAnalysisInFlight is returned by Analyze while a previous analysis is outstanding.
	ErrAnalysisInFlight = errors.New("session: analysis already in progress")
	// ErrSuperseded is returned when the session was cleared or given a new image while the
	// request was outstanding. The response is dropped.
	ErrSuperseded = errors.New("session: analysis superseded by a newer selection")
	// ErrNotFound is returned by Store lookups for unknown or foreign sessions.
	ErrNotFound = errors.New("session: not found")
)

const (
	failedMessage = "Failed to analyze image. Please try again."
	errorPrefix   = "Error: "
)

// AnalysisError is a network or parse failure during analysis.
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed: %v", e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// UserMessage turns an Analyze error into the text shown to the user. It returns "" for the
// no-op sentinels, which are not shown.
func UserMessage(err error) string {
	if err == nil || errors.Is(err, ErrNotReady) || errors.Is(err, ErrAnalysisInFlight) || errors.Is(err, ErrSuperseded) {
		return ""
	}
	var rejected *detection.RejectedError
	if errors.As(err, &rejected) {
		return errorPrefix + rejected.Message
	}
	return failedMessage
}
