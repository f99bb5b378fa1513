package backend

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/example/tomato-check/internal/detection"
	"github.com/example/tomato-check/internal/metrics"
)

// Breaker names, as used in metrics labels and OnStateChange.
const (
	AnalyzeBreaker = "backend_analyze"
	CameraBreaker  = "backend_camera"
)

// BreakerSettings configures the circuit breaker around backend calls.
type BreakerSettings struct {
	// MaxFailures is the number of consecutive transport failures that opens the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before letting a probe through.
	OpenTimeout time.Duration
	// OnStateChange, if set, is called after every transition with the breaker name.
	OnStateChange func(name string, to gobreaker.State)
}

// Breaker guards a detection.Client with a circuit breaker. Only transport and decode failures
// count against it; a success=false payload is a valid answer and passes through untouched.
type Breaker struct {
	next    detection.Client
	analyze *gobreaker.CircuitBreaker
	camera  *gobreaker.CircuitBreaker
}

// NewBreaker wraps next. Analysis and camera probes trip independently.
func NewBreaker(next detection.Client, settings BreakerSettings, logger *zap.Logger) *Breaker {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	logger = logger.Named("breaker")

	newCB := func(name string) *gobreaker.CircuitBreaker {
		metrics.BreakerState.WithLabelValues(name).Set(0)
		return gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     settings.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= settings.MaxFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					zap.String("component", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
				metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
				if settings.OnStateChange != nil {
					settings.OnStateChange(name, to)
				}
			},
		})
	}

	return &Breaker{
		next:    next,
		analyze: newCB(AnalyzeBreaker),
		camera:  newCB(CameraBreaker),
	}
}

// Analyze runs the wrapped Analyze unless the breaker is open.
func (b *Breaker) Analyze(ctx context.Context, img detection.Image) (*detection.Result, error) {
	out, err := b.analyze.Execute(func() (interface{}, error) {
		return b.next.Analyze(ctx, img)
	})
	if err != nil {
		return nil, err
	}
	return out.(*detection.Result), nil
}

// CameraStatus runs the wrapped CameraStatus unless the breaker is open.
func (b *Breaker) CameraStatus(ctx context.Context) (*detection.CameraStatus, error) {
	out, err := b.camera.Execute(func() (interface{}, error) {
		return b.next.CameraStatus(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.(*detection.CameraStatus), nil
}

// State reports the analysis breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.analyze.State()
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

var _ detection.Client = (*Breaker)(nil)
