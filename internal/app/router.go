package app

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"emotion-relay/internal/config"
	"emotion-relay/internal/handler"
)

// NewRouter создает новый роутер с настройкой маршрутов
func NewRouter(
	cfg *config.Config,
	cameraHandler *handler.CameraHandler,
	streamHandler *handler.StreamHandler,
	logger *zap.Logger,
) *gin.Engine {

	// Режим Gin
	if gin.Mode() == gin.DebugMode && cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			logger.Info("HTTP Request",
				zap.String("method", param.Method),
				zap.String("path", param.Path),
				zap.Int("status", param.StatusCode),
				zap.Duration("latency", param.Latency),
				zap.String("client_ip", param.ClientIP),
			)
			return ""
		},
	}))

	router.Use(gin.Recovery())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "emotion-relay",
			"time":    time.Now().Unix(),
		})
	})

	// REST API для браузера
	api := router.Group("/api")
	{
		cameraHandler.RegisterRoutes(api)
	}

	// WebSocket сессии клиентов
	streamHandler.RegisterWebSocket(router)

	// Прокси потоков IP-камер
	streamHandler.RegisterProxy(router)

	// Статические файлы единой страницы
	if _, err := os.Stat(cfg.Static.Dir); err == nil {
		router.Static("/static", cfg.Static.Dir)
	}

	// Catch-all: любой несопоставленный путь отдает страницу UI
	router.NoRoute(func(c *gin.Context) {
		if _, err := os.Stat(cfg.Static.Index); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.File(cfg.Static.Index)
	})

	return router
}
