package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/tomato-check/internal/detection"
	"github.com/example/tomato-check/internal/metrics"
)

// OnCameraStatus registers a callback run after every successful probe.
func (uc *AnalysisUseCase) OnCameraStatus(fn func(available bool)) {
	uc.cameraMu.Lock()
	uc.cameraListeners = append(uc.cameraListeners, fn)
	uc.cameraMu.Unlock()
}

// CheckCamera probes the backend's camera. A failed probe is logged and leaves the last known
// status untouched.
func (uc *AnalysisUseCase) CheckCamera(ctx context.Context) (*detection.CameraStatus, error) {
	status, err := uc.camera.CameraStatus(ctx)
	if err != nil {
		metrics.CameraProbeFailures.Inc()
		uc.logger.Warn("failed to check camera status", zap.Error(err))
		return nil, err
	}

	uc.cameraMu.Lock()
	uc.cameraStatus = status
	uc.cameraCheckedAt = uc.clock.Now()
	listeners := append([]func(bool){}, uc.cameraListeners...)
	uc.cameraMu.Unlock()

	if status.Available {
		metrics.CameraAvailable.Set(1)
	} else {
		metrics.CameraAvailable.Set(0)
		uc.logger.Info("camera unavailable")
	}
	for _, fn := range listeners {
		fn(status.Available)
	}
	return status, nil
}

// CameraStatus returns the last known status and when it was taken. status is nil until a probe
// has succeeded.
func (uc *AnalysisUseCase) CameraStatus() (status *detection.CameraStatus, checkedAt time.Time) {
	uc.cameraMu.RLock()
	defer uc.cameraMu.RUnlock()
	return uc.cameraStatus, uc.cameraCheckedAt
}

// WatchCamera probes once, then every interval until ctx is done. A non-positive interval probes
// only once.
func (uc *AnalysisUseCase) WatchCamera(ctx context.Context, interval time.Duration) {
	_, _ = uc.CheckCamera(ctx)
	if interval <= 0 {
		return
	}
	ticker := uc.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			_, _ = uc.CheckCamera(ctx)
		}
	}
}
