package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/tomato-check/internal/auth"
	"github.com/example/tomato-check/internal/detection"
	"github.com/example/tomato-check/internal/hub"
	"github.com/example/tomato-check/internal/metrics"
	"github.com/example/tomato-check/internal/preview"
	"github.com/example/tomato-check/internal/render"
	"github.com/example/tomato-check/internal/session"
	"github.com/example/tomato-check/internal/usecase"
)

// MaxUploadSize is the default limit for a selected image.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for the multipart envelope around the image.
const multipartOverhead = 64 << 10

// Options tune the API. Zero values fall back to defaults.
type Options struct {
	MaxUploadBytes       int64
	AnalyzeRatePerMinute int
	Logger               *zap.Logger
}

type api struct {
	uc        *usecase.AnalysisUseCase
	hub       *hub.Hub
	limiter   *AnalyzeLimiter
	maxUpload int64
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.AnalysisUseCase, events *hub.Hub, authMiddleware gin.HandlerFunc, opts Options) {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = MaxUploadSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	a := &api{
		uc:        uc,
		hub:       events,
		limiter:   NewAnalyzeLimiter(opts.AnalyzeRatePerMinute),
		maxUpload: opts.MaxUploadBytes,
		logger:    opts.Logger.Named("handlers"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	router.SetHTMLTemplate(render.Templates())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	group := router.Group("/api", authMiddleware)
	group.POST("/sessions", a.createSession)
	group.GET("/sessions/:id", a.getSession)
	group.DELETE("/sessions/:id", a.deleteSession)
	group.PUT("/sessions/:id/image", a.selectImage)
	group.DELETE("/sessions/:id/image", a.clearImage)
	group.POST("/sessions/:id/analyze", a.analyze)
	group.GET("/sessions/:id/view", a.view)
	group.GET("/sessions/:id/events", a.events)

	group.GET("/results/:id", a.getResult)
	group.GET("/results/:id/duplicates", a.getDuplicates)
	group.GET("/metrics/summary", a.metricsSummary)
	group.GET("/camera_status", a.cameraStatus)
}

func owner(c *gin.Context) (string, bool) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
	}
	return userID, ok
}

// lookup resolves the :id session of the caller, answering 404 itself when it is missing.
func (a *api) lookup(c *gin.Context) (string, *session.Session, bool) {
	userID, ok := owner(c)
	if !ok {
		return "", nil, false
	}
	sess, err := a.uc.Session(userID, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return "", nil, false
	}
	return userID, sess, true
}

func (a *api) createSession(c *gin.Context) {
	userID, ok := owner(c)
	if !ok {
		return
	}
	sess := a.uc.CreateSession(userID)
	c.JSON(http.StatusCreated, gin.H{
		"session_id": sess.ID(),
		"state":      sess.State(),
	})
}

func (a *api) getSession(c *gin.Context) {
	_, sess, ok := a.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, snapshotResponse(sess.Snapshot()))
}

func (a *api) deleteSession(c *gin.Context) {
	userID, ok := owner(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := a.uc.DeleteSession(userID, id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	a.hub.CloseSession(id)
	c.Status(http.StatusNoContent)
}

func (a *api) selectImage(c *gin.Context) {
	_, sess, ok := a.lookup(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxUpload+multipartOverhead)
	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	if file.Size > a.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}

	mediaType := file.Header.Get("Content-Type")
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = mimetype.Detect(data).String()
	}

	accepted := sess.SelectFile(file.Filename, data, mediaType)
	c.JSON(http.StatusOK, gin.H{
		"accepted": accepted,
		"state":    sess.State(),
	})
}

func (a *api) clearImage(c *gin.Context) {
	_, sess, ok := a.lookup(c)
	if !ok {
		return
	}
	sess.Clear()
	c.JSON(http.StatusOK, gin.H{"state": sess.State()})
}

func (a *api) analyze(c *gin.Context) {
	userID, sess, ok := a.lookup(c)
	if !ok {
		return
	}
	switch sess.State() {
	case session.StatePreviewing:
	case session.StateAnalyzing:
		c.JSON(http.StatusConflict, gin.H{"error": "analysis already in progress", "state": sess.State()})
		return
	default:
		c.JSON(http.StatusConflict, gin.H{"error": "no image to analyze", "state": sess.State()})
		return
	}
	if !a.limiter.Allow(userID) {
		metrics.AnalyzeRateLimited.Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many analysis requests"})
		return
	}

	requestID, result, err := a.uc.AnalyzeSession(c.Request.Context(), userID, sess.ID())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"request_id":      requestID,
			"state":           sess.State(),
			"detections":      result.Detections,
			"processed_image": result.ProcessedImage,
			"cards":           render.Cards(result),
		})
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, session.ErrNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": "no image to analyze", "state": sess.State()})
	case errors.Is(err, session.ErrAnalysisInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "analysis already in progress", "state": sess.State()})
	case errors.Is(err, session.ErrSuperseded):
		c.JSON(http.StatusConflict, gin.H{"error": "image changed during analysis", "state": sess.State()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{
			"request_id": requestID,
			"error":      session.UserMessage(err),
			"state":      sess.State(),
		})
	}
}

func (a *api) view(c *gin.Context) {
	_, sess, ok := a.lookup(c)
	if !ok {
		return
	}
	snap := sess.Snapshot()
	var previewURL string
	if snap.Image != nil {
		previewURL = preview.DataURL(*snap.Image, preview.DefaultMaxSide)
	}
	shown := snap.State == session.StateResultsShown
	c.HTML(http.StatusOK, render.ResultsTemplate, render.NewView(snap.State.String(), shown, snap.Result, previewURL, session.UserMessage(snap.LastError)))
}

func (a *api) events(c *gin.Context) {
	_, sess, ok := a.lookup(c)
	if !ok {
		return
	}
	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	if err := a.hub.Serve(sess.ID(), conn); err != nil {
		a.logger.Warn("event subscription rejected", zap.String("session_id", sess.ID()), zap.Error(err))
	}
}

func (a *api) getResult(c *gin.Context) {
	userID, ok := owner(c)
	if !ok {
		return
	}
	log, err := a.uc.GetResult(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id":      log.RequestID,
		"session_id":      log.SessionID,
		"user_id":         log.UserID,
		"success":         log.Success,
		"detection_count": log.DetectionCount,
		"labels":          log.Labels,
		"error":           log.Error,
		"sha1_hash":       log.SHA1Hash,
		"latency_ms":      log.LatencyMs,
		"created_at":      log.CreatedAt,
	})
}

func (a *api) getDuplicates(c *gin.Context) {
	userID, ok := owner(c)
	if !ok {
		return
	}
	report, err := a.uc.GetDuplicateReport(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}

	duplicates := make([]gin.H, 0, len(report.Duplicates))
	for _, d := range report.Duplicates {
		duplicates = append(duplicates, gin.H{
			"request_id": d.RequestID,
			"session_id": d.SessionID,
			"success":    d.Success,
			"created_at": d.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"request_id": report.Request.RequestID,
		"sha1_hash":  report.Request.SHA1Hash,
		"duplicates": duplicates,
	})
}

func (a *api) metricsSummary(c *gin.Context) {
	summary, err := a.uc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		a.logger.Error("failed to aggregate metrics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (a *api) cameraStatus(c *gin.Context) {
	status, checkedAt := a.uc.CameraStatus()
	if status == nil {
		c.JSON(http.StatusOK, gin.H{"available": false, "checked": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": status.Available, "checked": checkedAt.UTC().Format(time.RFC3339)})
}

func snapshotResponse(snap session.Snapshot) gin.H {
	resp := gin.H{
		"session_id": snap.ID,
		"state":      snap.State,
		"error":      session.UserMessage(snap.LastError),
	}
	if snap.Image != nil {
		resp["image"] = imageResponse(*snap.Image)
	}
	if snap.State == session.StateResultsShown && snap.Result != nil {
		cards := render.Cards(snap.Result)
		resp["result"] = gin.H{
			"detections":      snap.Result.Detections,
			"processed_image": snap.Result.ProcessedImage,
			"cards":           cards,
			"placeholder":     placeholderFor(snap.Result),
		}
	}
	return resp
}

func imageResponse(img detection.Image) gin.H {
	return gin.H{
		"name":       img.Name,
		"media_type": img.MediaType,
		"size":       len(img.Data),
		"preview":    preview.DataURL(img, preview.DefaultMaxSide),
	}
}

func placeholderFor(result *detection.Result) string {
	if render.Empty(result) {
		return render.Placeholder
	}
	return ""
}
