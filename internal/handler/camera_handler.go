package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"emotion-relay/internal/backend"
	"emotion-relay/internal/relay"
	"emotion-relay/internal/types"
)

// CameraHandler обрабатывает HTTP запросы справочника камер и истории
// детекций; все запросы проксируются на бэкенд
type CameraHandler struct {
	logger      *zap.Logger
	client      *backend.Client
	broadcaster *relay.Broadcaster
}

// NewCameraHandler создает новый хендлер
func NewCameraHandler(
	logger *zap.Logger,
	client *backend.Client,
	broadcaster *relay.Broadcaster,
) *CameraHandler {
	return &CameraHandler{
		logger:      logger,
		client:      client,
		broadcaster: broadcaster,
	}
}

// RegisterRoutes регистрирует маршруты
func (h *CameraHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/cameras", h.GetCameras)
	router.POST("/cameras", h.AddCamera)
	router.POST("/update-camera", h.UpdateCamera)
	router.GET("/detections", h.GetDetections)
}

// GetCameras возвращает список камер из справочника
func (h *CameraHandler) GetCameras(c *gin.Context) {
	cameras, err := h.client.GetCameras(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to fetch cameras", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch cameras",
		})
		return
	}

	c.JSON(http.StatusOK, cameras)
}

// AddCamera регистрирует камеру и рассылает обновленный список всем
// подключенным клиентам
func (h *CameraHandler) AddCamera(c *gin.Context) {
	var cam types.Camera
	if err := c.ShouldBindJSON(&cam); err != nil {
		h.logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request",
		})
		return
	}

	result, err := h.client.AddCamera(c.Request.Context(), cam)
	if err != nil {
		h.logger.Error("Failed to add camera", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to add camera",
		})
		return
	}

	if result.Success {
		h.refreshAndBroadcast(c)
	}

	c.JSON(http.StatusOK, result)
}

// UpdateCamera перезаписывает описание камеры. Отдельного update у
// справочника нет, используется регистрация с тем же идентификатором.
func (h *CameraHandler) UpdateCamera(c *gin.Context) {
	var cam types.Camera
	if err := c.ShouldBindJSON(&cam); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request",
		})
		return
	}

	if cam.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Camera ID is required",
		})
		return
	}

	result, err := h.client.AddCamera(c.Request.Context(), cam)
	if err != nil || !result.Success {
		h.logger.Error("Failed to update camera",
			zap.String("camera_id", cam.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to update camera information",
		})
		return
	}

	h.refreshAndBroadcast(c)

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"camera_id": cam.ID,
	})
}

// GetDetections проксирует выборку истории детекций
func (h *CameraHandler) GetDetections(c *gin.Context) {
	data, err := h.client.GetDetections(c.Request.Context(), backend.DetectionsQuery{
		CameraID: c.Query("camera_id"),
		FromTime: c.Query("from_time"),
		ToTime:   c.Query("to_time"),
		Limit:    c.Query("limit"),
	})
	if err != nil {
		h.logger.Error("Failed to fetch detections", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch detections",
		})
		return
	}

	c.Data(http.StatusOK, "application/json", data)
}

// refreshAndBroadcast обновляет снимок справочника и уведомляет клиентов;
// недоступность справочника не считается ошибкой мутации
func (h *CameraHandler) refreshAndBroadcast(c *gin.Context) {
	if err := h.broadcaster.RefreshAndNotify(c.Request.Context()); err != nil {
		if !errors.Is(err, relay.ErrDirectoryUnavailable) {
			h.logger.Error("Camera list broadcast failed", zap.Error(err))
			return
		}
		h.logger.Warn("Camera list broadcast skipped", zap.Error(err))
	}
}
