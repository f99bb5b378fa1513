package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/tomato-check/internal/detection"
)

type stubClient struct {
	result     *detection.Result
	err        error
	calls      int
	cameraErr  error
	cameraHits int
}

func (s *stubClient) Analyze(ctx context.Context, img detection.Image) (*detection.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubClient) CameraStatus(ctx context.Context) (*detection.CameraStatus, error) {
	s.cameraHits++
	if s.cameraErr != nil {
		return nil, s.cameraErr
	}
	return &detection.CameraStatus{Available: true}, nil
}

func TestBreakerOpensAfterConsecutiveTransportFailures(t *testing.T) {
	stub := &stubClient{err: errors.New("connection refused")}
	b := NewBreaker(stub, BreakerSettings{MaxFailures: 2, OpenTimeout: time.Minute}, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := b.Analyze(context.Background(), detection.Image{})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Analyze(context.Background(), detection.Image{})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, stub.calls, "open breaker must not reach the backend")
}

func TestBreakerIgnoresRejections(t *testing.T) {
	stub := &stubClient{result: &detection.Result{Success: false, Error: "bad image"}}
	b := NewBreaker(stub, BreakerSettings{MaxFailures: 1}, zap.NewNop())

	for i := 0; i < 3; i++ {
		result, err := b.Analyze(context.Background(), detection.Image{})
		require.NoError(t, err)
		assert.Equal(t, "bad image", result.Error)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, 3, stub.calls)
}

func TestBreakerCameraTripsIndependently(t *testing.T) {
	stub := &stubClient{cameraErr: errors.New("down"), result: &detection.Result{Success: true}}
	b := NewBreaker(stub, BreakerSettings{MaxFailures: 1, OpenTimeout: time.Minute}, zap.NewNop())

	_, err := b.CameraStatus(context.Background())
	require.Error(t, err)
	_, err = b.CameraStatus(context.Background())
	require.ErrorIs(t, err, gobreaker.ErrOpenState)

	_, err = b.Analyze(context.Background(), detection.Image{})
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
