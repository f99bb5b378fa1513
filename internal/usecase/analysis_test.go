package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/example/tomato-check/internal/detection"
	"github.com/example/tomato-check/internal/logging"
	"github.com/example/tomato-check/internal/repository"
	"github.com/example/tomato-check/internal/session"
)

type stubRepository struct {
	mu         sync.Mutex
	savedLogs  []*repository.AnalysisLog
	saveErr    error
	findLog    *repository.AnalysisLog
	findErr    error
	findCalls  int
	duplicates []*repository.AnalysisLog
	dupHash    string
	aggregate  *repository.MetricsAggregation
}

func (s *stubRepository) SaveLog(ctx context.Context, log *repository.AnalysisLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedLogs = append(s.savedLogs, log)
	return s.saveErr
}

func (s *stubRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.AnalysisLog, error) {
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findLog != nil {
		return s.findLog, nil
	}
	return nil, errors.New("not found")
}

func (s *stubRepository) FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.AnalysisLog, error) {
	s.dupHash = hash
	return s.duplicates, nil
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	if s.aggregate == nil {
		return &repository.MetricsAggregation{}, nil
	}
	return s.aggregate, nil
}

type stubCache struct {
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	setValues []interface{}
	getKeys   []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	s.setValues = append(s.setValues, value)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

type stubBackend struct {
	result *detection.Result
	err    error
	camera *detection.CameraStatus
	camErr error
	images []detection.Image
}

func (s *stubBackend) Analyze(ctx context.Context, img detection.Image) (*detection.Result, error) {
	s.images = append(s.images, img)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubBackend) CameraStatus(ctx context.Context) (*detection.CameraStatus, error) {
	if s.camErr != nil {
		return nil, s.camErr
	}
	return s.camera, nil
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func newTestUseCase(repo AnalysisRepository, cache Cache, backend *stubBackend) (*AnalysisUseCase, *session.Store) {
	clock := clockwork.NewRealClock()
	store := session.NewStore(backend, clock, 0, zap.NewNop())
	uc := NewAnalysisUseCase(repo, cache, store, backend, clock, zap.NewNop())
	uc.initialBackoff = time.Millisecond
	uc.maxBackoff = 2 * time.Millisecond
	return uc, store
}

func ripeResult() *detection.Result {
	return &detection.Result{
		Success: true,
		Detections: []detection.Detection{
			{Label: detection.LabelRipe, Confidence: 0.9, BBox: []float64{1, 2, 3, 4}},
			{Label: detection.LabelDamaged, Confidence: 0.4, BBox: []float64{5, 6, 7, 8}},
		},
	}
}

func TestAnalyzeSessionLogsAndCachesResult(t *testing.T) {
	cache := &stubCache{}
	repo := &stubRepository{}
	backend := &stubBackend{result: ripeResult()}
	uc, _ := newTestUseCase(repo, cache, backend)

	sess := uc.CreateSession("user-1")
	if !sess.SelectImage([]byte("jpeg"), "image/jpeg") {
		t.Fatal("expected image to be accepted")
	}

	requestID, result, err := uc.AnalyzeSession(context.Background(), "user-1", sess.ID())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if requestID == "" {
		t.Fatal("expected request id")
	}
	if len(result.Detections) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(result.Detections))
	}
	if sess.State() != session.StateResultsShown {
		t.Fatalf("expected results state, got %s", sess.State())
	}
	if len(backend.images) != 1 || string(backend.images[0].Data) != "jpeg" {
		t.Fatalf("expected exactly one backend call with the image bytes, got %v", backend.images)
	}

	if len(repo.savedLogs) != 1 {
		t.Fatalf("expected log to be saved, got %d entries", len(repo.savedLogs))
	}
	saved := repo.savedLogs[0]
	sum := sha1.Sum([]byte("jpeg"))
	if saved.SHA1Hash != hex.EncodeToString(sum[:]) {
		t.Fatalf("unexpected hash: %s", saved.SHA1Hash)
	}
	if !saved.Success || saved.DetectionCount != 2 || saved.Labels != "Ripe,Damaged" {
		t.Fatalf("unexpected log: %+v", saved)
	}
	if saved.SessionID != sess.ID() || saved.UserID != "user-1" {
		t.Fatalf("unexpected ownership: %+v", saved)
	}

	if len(cache.setKeys) != 2 {
		t.Fatalf("expected processing flag and result to be cached, got %v", cache.setKeys)
	}
	if cache.setKeys[0] != cache.setKeys[1] || cache.setKeys[1] != "analysis:"+requestID {
		t.Fatalf("unexpected cache keys: %v", cache.setKeys)
	}
}

func TestAnalyzeSessionRetriesRedisSet(t *testing.T) {
	cache := &stubCache{setErrs: []error{transientRedisError{}}}
	repo := &stubRepository{}
	uc, _ := newTestUseCase(repo, cache, &stubBackend{result: ripeResult()})

	sess := uc.CreateSession("user-1")
	sess.SelectImage([]byte("jpeg"), "image/jpeg")

	if _, _, err := uc.AnalyzeSession(context.Background(), "user-1", sess.ID()); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(cache.setKeys) < 3 {
		t.Fatalf("expected at least 3 cache set calls (retry + result), got %d", len(cache.setKeys))
	}
	if cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("expected retry to target same key, got %s and %s", cache.setKeys[0], cache.setKeys[1])
	}
}

func TestAnalyzeSessionSurvivesCacheAndRepositoryFailures(t *testing.T) {
	cache := &stubCache{setErrs: []error{errors.New("boom")}}
	repo := &stubRepository{saveErr: errors.New("db down")}
	uc, _ := newTestUseCase(repo, cache, &stubBackend{result: ripeResult()})

	sess := uc.CreateSession("user-1")
	sess.SelectImage([]byte("jpeg"), "image/jpeg")

	_, result, err := uc.AnalyzeSession(context.Background(), "user-1", sess.ID())
	if err != nil {
		t.Fatalf("expected analysis to succeed despite storage failures, got %v", err)
	}
	if result == nil || !result.Success {
		t.Fatal("expected a successful result")
	}
	if len(cache.setKeys) != 1 {
		t.Fatalf("expected no result caching after failed save, got %v", cache.setKeys)
	}
}

func TestAnalyzeSessionLogsRejection(t *testing.T) {
	repo := &stubRepository{}
	uc, _ := newTestUseCase(repo, &stubCache{}, &stubBackend{result: &detection.Result{Success: false, Error: "Invalid image"}})

	sess := uc.CreateSession("user-1")
	sess.SelectImage([]byte("jpeg"), "image/jpeg")

	_, _, err := uc.AnalyzeSession(context.Background(), "user-1", sess.ID())
	var rejected *detection.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if got := session.UserMessage(err); got != "Error: Invalid image" {
		t.Fatalf("unexpected user message: %q", got)
	}
	if sess.State() != session.StatePreviewing {
		t.Fatalf("expected previewing after rejection, got %s", sess.State())
	}
	if len(repo.savedLogs) != 1 || repo.savedLogs[0].Success || repo.savedLogs[0].Error == "" {
		t.Fatalf("expected failed attempt to be logged, got %+v", repo.savedLogs)
	}
}

func TestAnalyzeSessionNotReady(t *testing.T) {
	repo := &stubRepository{}
	backend := &stubBackend{result: ripeResult()}
	uc, _ := newTestUseCase(repo, &stubCache{}, backend)

	sess := uc.CreateSession("user-1")
	_, _, err := uc.AnalyzeSession(context.Background(), "user-1", sess.ID())
	if !errors.Is(err, session.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if len(backend.images) != 0 || len(repo.savedLogs) != 0 {
		t.Fatal("expected no backend call and no log")
	}
}

// stateCache records the session state observed at each Set.
type stateCache struct {
	stubCache
	sess   *session.Session
	states []session.State
}

func (s *stateCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.states = append(s.states, s.sess.State())
	return s.stubCache.Set(ctx, key, value, expiration)
}

func TestAnalyzeSessionSetsProcessingFlagOnceAnalyzing(t *testing.T) {
	backend := &stubBackend{result: ripeResult()}
	cache := &stateCache{}
	uc, _ := newTestUseCase(&stubRepository{}, cache, backend)

	sess := uc.CreateSession("user-1")
	cache.sess = sess
	sess.SelectImage([]byte("jpeg"), "image/jpeg")

	requestID, _, err := uc.AnalyzeSession(context.Background(), "user-1", sess.ID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cache.setKeys) == 0 || cache.setKeys[0] != resultKey(requestID) || cache.setValues[0] != "processing" {
		t.Fatalf("expected processing flag first, got keys %v values %v", cache.setKeys, cache.setValues)
	}
	if cache.states[0] != session.StateAnalyzing {
		t.Fatalf("expected flag written while analyzing, got %s", cache.states[0])
	}
}

func TestAnalyzeSessionNoOpWritesNoFlag(t *testing.T) {
	backend := &stubBackend{result: ripeResult()}
	cache := &stubCache{}
	uc, _ := newTestUseCase(&stubRepository{}, cache, backend)

	sess := uc.CreateSession("user-1")
	if _, _, err := uc.AnalyzeSession(context.Background(), "user-1", sess.ID()); !errors.Is(err, session.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if len(cache.setKeys) != 0 {
		t.Fatalf("expected no cache writes, got %v", cache.setKeys)
	}
}

func TestAnalyzeSessionUnknownOwner(t *testing.T) {
	uc, _ := newTestUseCase(&stubRepository{}, &stubCache{}, &stubBackend{result: ripeResult()})

	sess := uc.CreateSession("user-1")
	sess.SelectImage([]byte("jpeg"), "image/jpeg")

	if _, _, err := uc.AnalyzeSession(context.Background(), "user-2", sess.ID()); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetResultFallsBackToRepositoryWhenCacheMiss(t *testing.T) {
	cache := &stubCache{getErrs: []error{redis.Nil}}
	expected := &repository.AnalysisLog{RequestID: "req", UserID: "user", Labels: "Ripe"}
	repo := &stubRepository{findLog: expected}
	uc, _ := newTestUseCase(repo, cache, &stubBackend{})

	log, err := uc.GetResult(context.Background(), "user", "req")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if log != expected {
		t.Fatalf("expected repository log, got %+v", log)
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repository lookup, got %d", repo.findCalls)
	}
}

func TestGetResultUsesCacheForOwner(t *testing.T) {
	payload, _ := json.Marshal(cachedAnalysis{RequestID: "req", UserID: "user", Success: true, DetectionCount: 3})
	cache := &stubCache{getValues: []string{string(payload)}}
	repo := &stubRepository{}
	uc, _ := newTestUseCase(repo, cache, &stubBackend{})

	log, err := uc.GetResult(context.Background(), "user", "req")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if log.DetectionCount != 3 || !log.Success {
		t.Fatalf("unexpected cached log: %+v", log)
	}
	if repo.findCalls != 0 {
		t.Fatalf("expected no repository lookup, got %d", repo.findCalls)
	}
}

func TestGetResultIgnoresCacheOfOtherOwner(t *testing.T) {
	payload, _ := json.Marshal(cachedAnalysis{RequestID: "req", UserID: "someone-else"})
	cache := &stubCache{getValues: []string{string(payload)}}
	repo := &stubRepository{findErr: errors.New("not found")}
	uc, _ := newTestUseCase(repo, cache, &stubBackend{})

	if _, err := uc.GetResult(context.Background(), "user", "req"); err == nil {
		t.Fatal("expected error for foreign result")
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repository lookup, got %d", repo.findCalls)
	}
}

func TestGetDuplicateReport(t *testing.T) {
	repo := &stubRepository{
		findLog:    &repository.AnalysisLog{RequestID: "req", UserID: "user", SHA1Hash: "abc"},
		duplicates: []*repository.AnalysisLog{{RequestID: "older", SHA1Hash: "abc"}},
	}
	uc, _ := newTestUseCase(repo, &stubCache{}, &stubBackend{})

	report, err := uc.GetDuplicateReport(context.Background(), "user", "req")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.dupHash != "abc" {
		t.Fatalf("expected lookup by hash, got %q", repo.dupHash)
	}
	if len(report.Duplicates) != 1 || report.Duplicates[0].RequestID != "older" {
		t.Fatalf("unexpected duplicates: %+v", report.Duplicates)
	}
}

func TestGetMetricsSummary(t *testing.T) {
	repo := &stubRepository{aggregate: &repository.MetricsAggregation{TotalCount: 4, SuccessCount: 3, AverageDetections: 2.5}}
	uc, _ := newTestUseCase(repo, &stubCache{}, &stubBackend{})
	uc.CreateSession("user")

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.SuccessRate != 0.75 {
		t.Fatalf("unexpected success rate: %v", summary.SuccessRate)
	}
	if summary.ActiveSessions != 1 {
		t.Fatalf("expected one active session, got %d", summary.ActiveSessions)
	}
}

func TestWithRedisRetryReturnsOperationError(t *testing.T) {
	uc, _ := newTestUseCase(&stubRepository{}, &stubCache{}, &stubBackend{})

	err := uc.withRedisRetry(context.Background(), "req", "cache.set.processing", func() error {
		return errors.New("boom")
	})
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "cache.set.processing" || opErr.RequestID != "req" {
		t.Fatalf("unexpected operation error: %+v", opErr)
	}
}

func TestCheckCameraRemembersLastStatus(t *testing.T) {
	backend := &stubBackend{camera: &detection.CameraStatus{Available: true}}
	uc, _ := newTestUseCase(&stubRepository{}, &stubCache{}, backend)

	if status, _ := uc.CameraStatus(); status != nil {
		t.Fatal("expected unknown status before first probe")
	}

	var notified []bool
	uc.OnCameraStatus(func(available bool) { notified = append(notified, available) })

	if _, err := uc.CheckCamera(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	backend.camErr = errors.New("unreachable")
	if _, err := uc.CheckCamera(context.Background()); err == nil {
		t.Fatal("expected probe error")
	}

	status, checkedAt := uc.CameraStatus()
	if status == nil || !status.Available {
		t.Fatalf("expected last good status to be kept, got %+v", status)
	}
	if checkedAt.IsZero() {
		t.Fatal("expected check time")
	}
	if len(notified) != 1 || !notified[0] {
		t.Fatalf("expected one notification, got %v", notified)
	}
}
