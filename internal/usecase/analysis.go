package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/example/tomato-check/internal/detection"
	"github.com/example/tomato-check/internal/logging"
	"github.com/example/tomato-check/internal/metrics"
	"github.com/example/tomato-check/internal/repository"
	"github.com/example/tomato-check/internal/session"
)

const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"

	processingTTL = time.Minute
	resultTTL     = 5 * time.Minute
)

// AnalysisRepository defines the persistence operations needed by the use case.
type AnalysisRepository interface {
	SaveLog(ctx context.Context, log *repository.AnalysisLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.AnalysisLog, error)
	FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.AnalysisLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// SessionStore is the subset of session.Store the use case needs.
type SessionStore interface {
	Create(owner string) *session.Session
	Get(owner, id string) (*session.Session, error)
	Delete(owner, id string) error
	Len() int
	Sweep() int
}

// AnalysisUseCase runs upload sessions for the gateway and keeps the analysis log.
type AnalysisUseCase struct {
	repo           AnalysisRepository
	cache          Cache
	sessions       SessionStore
	camera         detection.CameraProber
	clock          clockwork.Clock
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	cameraMu        sync.RWMutex
	cameraStatus    *detection.CameraStatus
	cameraCheckedAt time.Time
	cameraListeners []func(available bool)
}

type cachedAnalysis struct {
	RequestID      string    `json:"request_id"`
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	Success        bool      `json:"success"`
	DetectionCount int       `json:"detection_count"`
	Labels         string    `json:"labels"`
	Error          string    `json:"error,omitempty"`
	Hash           string    `json:"sha1_hash"`
	MediaType      string    `json:"media_type"`
	LatencyMs      int64     `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// DuplicateReport lists earlier analyses of the same image bytes.
type DuplicateReport struct {
	Request    *repository.AnalysisLog
	Duplicates []*repository.AnalysisLog
}

// NewAnalysisUseCase constructs a new use case instance.
func NewAnalysisUseCase(repo AnalysisRepository, cache Cache, sessions SessionStore, camera detection.CameraProber, clock clockwork.Clock, logger *zap.Logger) *AnalysisUseCase {
	return &AnalysisUseCase{
		repo:           repo,
		cache:          cache,
		sessions:       sessions,
		camera:         camera,
		clock:          clock,
		logger:         logger.Named("analysis_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// CreateSession opens a new idle session for owner.
func (uc *AnalysisUseCase) CreateSession(owner string) *session.Session {
	return uc.sessions.Create(owner)
}

// Session returns owner's session.
func (uc *AnalysisUseCase) Session(owner, sessionID string) (*session.Session, error) {
	return uc.sessions.Get(owner, sessionID)
}

// DeleteSession drops owner's session.
func (uc *AnalysisUseCase) DeleteSession(owner, sessionID string) error {
	return uc.sessions.Delete(owner, sessionID)
}

// AnalyzeSession analyses the image previewed in owner's session. Every attempt that reaches the
// backend is logged and cached under a fresh request id, including rejected and failed ones; the
// returned error is the session's (RejectedError / AnalysisError) so callers can show it.
func (uc *AnalysisUseCase) AnalyzeSession(ctx context.Context, owner, sessionID string) (string, *detection.Result, error) {
	sess, err := uc.sessions.Get(owner, sessionID)
	if err != nil {
		return "", nil, err
	}
	switch sess.State() {
	case session.StateAnalyzing:
		return "", nil, session.ErrAnalysisInFlight
	case session.StatePreviewing:
	default:
		return "", nil, session.ErrNotReady
	}

	requestID := uuid.NewString()
	opLogger := logging.WithSession(logging.WithOperation(uc.logger, "usecase.analyze_session", requestID), sessionID)

	cacheKey := resultKey(requestID)
	var started time.Time
	img, result, analyzeErr := sess.AnalyzeImageStarted(ctx, func() {
		if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
			return uc.cache.Set(ctx, cacheKey, "processing", processingTTL)
		}); err != nil {
			opLogger.Warn("failed to set processing flag", zap.Error(err))
		}
		started = uc.clock.Now()
	})
	latency := uc.clock.Since(started)

	if errors.Is(analyzeErr, session.ErrNotReady) || errors.Is(analyzeErr, session.ErrAnalysisInFlight) {
		return "", nil, analyzeErr
	}
	if errors.Is(analyzeErr, session.ErrSuperseded) {
		opLogger.Info("analysis superseded before completion")
		return requestID, nil, analyzeErr
	}

	outcome := outcomeSuccess
	var rejected *detection.RejectedError
	switch {
	case errors.As(analyzeErr, &rejected):
		outcome = outcomeRejected
	case analyzeErr != nil:
		outcome = outcomeFailed
	}
	metrics.AnalysesTotal.WithLabelValues(outcome).Inc()
	metrics.AnalysisDuration.WithLabelValues(outcome).Observe(latency.Seconds())

	hash := sha1.Sum(img.Data)
	log := &repository.AnalysisLog{
		RequestID: requestID,
		SessionID: sessionID,
		UserID:    owner,
		SHA1Hash:  hex.EncodeToString(hash[:]),
		MediaType: img.MediaType,
		Success:   outcome == outcomeSuccess,
		LatencyMs: latency.Milliseconds(),
		CreatedAt: uc.clock.Now().UTC(),
	}
	if result != nil {
		log.DetectionCount = len(result.Detections)
		log.Labels = joinLabels(result.Detections)
		for _, d := range result.Detections {
			metrics.DetectionsTotal.WithLabelValues(string(d.Label)).Inc()
		}
	}
	if analyzeErr != nil {
		log.Error = analyzeErr.Error()
	}

	if err := uc.repo.SaveLog(ctx, log); err != nil {
		opLogger.Error("failed to persist analysis log", zap.Error(err))
	} else {
		uc.cacheLog(ctx, opLogger, log)
	}

	opLogger.Info("analysis finished",
		zap.String("outcome", outcome),
		zap.Int("detections", log.DetectionCount),
		zap.Duration("latency", latency),
	)
	return requestID, result, analyzeErr
}

func (uc *AnalysisUseCase) cacheLog(ctx context.Context, opLogger *zap.Logger, log *repository.AnalysisLog) {
	serialized, err := json.Marshal(cachedAnalysis{
		RequestID:      log.RequestID,
		SessionID:      log.SessionID,
		UserID:         log.UserID,
		Success:        log.Success,
		DetectionCount: log.DetectionCount,
		Labels:         log.Labels,
		Error:          log.Error,
		Hash:           log.SHA1Hash,
		MediaType:      log.MediaType,
		LatencyMs:      log.LatencyMs,
		CreatedAt:      log.CreatedAt,
	})
	if err != nil {
		opLogger.Error("failed to serialize analysis log", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, log.RequestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, resultKey(log.RequestID), string(serialized), resultTTL)
	}); err != nil {
		opLogger.Warn("failed to cache analysis log", zap.Error(err))
	}
}

// GetResult retrieves a logged analysis from the cache, falling back to persistence.
func (uc *AnalysisUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.AnalysisLog, error) {
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultKey(requestID)); err == nil {
		var payload cachedAnalysis
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Debug("cached value is not a result", zap.Error(err))
		} else if payload.UserID == userID {
			return &repository.AnalysisLog{
				RequestID:      payload.RequestID,
				SessionID:      payload.SessionID,
				UserID:         payload.UserID,
				SHA1Hash:       payload.Hash,
				MediaType:      payload.MediaType,
				Success:        payload.Success,
				DetectionCount: payload.DetectionCount,
				Labels:         payload.Labels,
				Error:          payload.Error,
				LatencyMs:      payload.LatencyMs,
				CreatedAt:      payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
}

// GetDuplicateReport builds a duplicate detection report for an analysis request.
func (uc *AnalysisUseCase) GetDuplicateReport(ctx context.Context, userID, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, userID, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

// SweepSessions evicts idle sessions every interval until ctx is done.
func (uc *AnalysisUseCase) SweepSessions(ctx context.Context, interval time.Duration) {
	ticker := uc.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			uc.sessions.Sweep()
		}
	}
}

func (uc *AnalysisUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-uc.clock.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !repository.IsTransientError(err) || attempt == uc.retryAttempts-1 {
			if !errors.Is(err, redis.Nil) {
				opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *AnalysisUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func resultKey(requestID string) string {
	return fmt.Sprintf("analysis:%s", requestID)
}

func joinLabels(detections []detection.Detection) string {
	labels := make([]string, 0, len(detections))
	for _, d := range detections {
		labels = append(labels, string(d.Label))
	}
	return strings.Join(labels, ",")
}
