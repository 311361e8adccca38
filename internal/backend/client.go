package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"emotion-relay/internal/types"
)

// Типизированные ошибки бэкенда
var (
	ErrBackendTimeout     = errors.New("backend timeout")
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Client — HTTP клиент внешнего сервиса распознавания эмоций.
// Тот же сервис выступает справочником камер.
type Client struct {
	apiURL     string
	httpClient *http.Client
	// Отдельный клиент для обработки кадров: срок задает контекст запроса,
	// а не общий таймаут клиента
	processClient  *http.Client
	processTimeout time.Duration
	logger         *zap.Logger
}

// ProcessFrameRequest — тело запроса POST /process_frame
type ProcessFrameRequest struct {
	ClientID   string  `json:"client_id"`
	CameraID   string  `json:"camera_id"`
	CameraName string  `json:"camera_name"`
	Timestamp  float64 `json:"timestamp"`
	Frame      string  `json:"frame"`
}

// ProcessFrameResponse — ответ бэкенда на обработку кадра
type ProcessFrameResponse struct {
	Timestamp      float64           `json:"timestamp"`
	CameraID       string            `json:"camera_id"`
	Results        []types.Detection `json:"results"`
	ProcessingTime float64           `json:"processing_time"`
	Error          string            `json:"error,omitempty"`
}

// AddCameraResponse — ответ на регистрацию камеры
type AddCameraResponse struct {
	Success  bool   `json:"success"`
	CameraID string `json:"camera_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DetectionsQuery — параметры выборки истории детекций
type DetectionsQuery struct {
	CameraID string
	FromTime string
	ToTime   string
	Limit    string
}

// NewClient создает клиента бэкенда
func NewClient(apiURL string, processTimeout, requestTimeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		processClient:  &http.Client{},
		processTimeout: processTimeout,
		logger:         logger,
	}
}

// ProcessFrame отправляет кадр на распознавание. Таймаут обработки
// не зависит от других кадров в полете.
func (c *Client) ProcessFrame(ctx context.Context, req *ProcessFrameRequest) (*ProcessFrameResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.processTimeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiURL+"/process_frame", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build frame request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.processClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: process_frame exceeded %s", ErrBackendTimeout, c.processTimeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: process_frame returned status %d", ErrBackendUnavailable, resp.StatusCode)
	}

	var result ProcessFrameResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: invalid process_frame response: %v", ErrBackendUnavailable, err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, result.Error)
	}

	return &result, nil
}

// GetCameras запрашивает текущий список камер из справочника
func (c *Client) GetCameras(ctx context.Context) ([]types.Camera, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/cameras", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build cameras request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: cameras returned status %d", ErrBackendUnavailable, resp.StatusCode)
	}

	var cameras []types.Camera
	if err := json.NewDecoder(resp.Body).Decode(&cameras); err != nil {
		return nil, fmt.Errorf("%w: invalid cameras response: %v", ErrBackendUnavailable, err)
	}

	return cameras, nil
}

// AddCamera регистрирует или перезаписывает камеру в справочнике
func (c *Client) AddCamera(ctx context.Context, cam types.Camera) (*AddCameraResponse, error) {
	body, err := json.Marshal(cam)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal camera: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiURL+"/cameras", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build add camera request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: add camera returned status %d", ErrBackendUnavailable, resp.StatusCode)
	}

	var result AddCameraResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: invalid add camera response: %v", ErrBackendUnavailable, err)
	}

	return &result, nil
}

// GetDetections проксирует выборку истории детекций без изменения тела
func (c *Client) GetDetections(ctx context.Context, q DetectionsQuery) (json.RawMessage, error) {
	params := url.Values{}
	if q.CameraID != "" {
		params.Set("camera_id", q.CameraID)
	}
	if q.FromTime != "" {
		params.Set("from_time", q.FromTime)
	}
	if q.ToTime != "" {
		params.Set("to_time", q.ToTime)
	}
	if q.Limit != "" {
		params.Set("limit", q.Limit)
	}

	detectionsURL := c.apiURL + "/detections"
	if encoded := params.Encode(); encoded != "" {
		detectionsURL += "?" + encoded
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, detectionsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build detections request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: detections returned status %d", ErrBackendUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read detections response: %v", ErrBackendUnavailable, err)
	}

	return json.RawMessage(data), nil
}
