// Package backend talks to the tomato freshness inference service over HTTP.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/tomato-check/internal/detection"
	"github.com/example/tomato-check/internal/logging"
)

const (
	analyzePath      = "/analyze_image"
	cameraStatusPath = "/camera_status"
	imageField       = "image"

	// maxResponseBytes bounds the decoded payload; processed images are base64 JPEGs.
	maxResponseBytes = 64 << 20
)

var (
	// ErrUnexpectedStatus is returned when /camera_status answers with a non-200 status.
	ErrUnexpectedStatus = errors.New("unexpected status code")
	// ErrMalformedResponse is returned for an analysis payload that is not an object carrying
	// either "success" or "error".
	ErrMalformedResponse = errors.New("malformed analysis response")
)

// analysisPayload tells an absent "success" apart from false.
type analysisPayload struct {
	detection.Result
	Success *bool `json:"success"`
}

// Client is an HTTP implementation of detection.Client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a client for the service at baseURL. A zero timeout means no client-side
// timeout; the caller's context still applies.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("backend"),
	}
}

// Analyze posts the image as the multipart field "image" and decodes the response. Any response
// body that decodes as the analysis payload is returned, whatever the status code: the service
// reports bad input as {"error": ...} with a 4xx/5xx status.
func (c *Client) Analyze(ctx context.Context, img detection.Image) (*detection.Result, error) {
	body, contentType, err := encodeImage(img)
	if err != nil {
		return nil, logging.NewOperationError("backend.encode_image", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+analyzePath, body)
	if err != nil {
		return nil, logging.NewOperationError("backend.analyze_image", "", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError("backend.analyze_image", "", err)
		c.logger.Warn("analyze request failed", zap.Error(wrapped))
		return nil, wrapped
	}
	defer resp.Body.Close()

	var payload analysisPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		wrapped := logging.NewOperationError("backend.decode_analysis", "", fmt.Errorf("status %d: %w", resp.StatusCode, err))
		c.logger.Warn("analyze response undecodable", zap.Error(wrapped))
		return nil, wrapped
	}
	if payload.Success == nil && payload.Error == "" {
		wrapped := logging.NewOperationError("backend.decode_analysis", "", fmt.Errorf("status %d: %w", resp.StatusCode, ErrMalformedResponse))
		c.logger.Warn("analyze response malformed", zap.Error(wrapped))
		return nil, wrapped
	}
	result := payload.Result
	result.Success = payload.Success != nil && *payload.Success
	if !result.Success && result.Error == "" {
		result.Error = "unknown error"
	}

	c.logger.Debug("analyze response",
		zap.Int("status", resp.StatusCode),
		zap.Bool("success", result.Success),
		zap.Int("detections", len(result.Detections)),
	)
	return &result, nil
}

// CameraStatus fetches {"available": bool} from the service.
func (c *Client) CameraStatus(ctx context.Context) (*detection.CameraStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+cameraStatusPath, nil)
	if err != nil {
		return nil, logging.NewOperationError("backend.camera_status", "", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, logging.NewOperationError("backend.camera_status", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, logging.NewOperationError("backend.camera_status", "", fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode))
	}

	var status detection.CameraStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&status); err != nil {
		return nil, logging.NewOperationError("backend.decode_camera_status", "", err)
	}
	return &status, nil
}

func encodeImage(img detection.Image) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, imageField, img.FileName()))
	header.Set("Content-Type", img.MediaType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

var _ detection.Client = (*Client)(nil)
