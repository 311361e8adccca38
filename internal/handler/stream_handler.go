package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"emotion-relay/internal/proxy"
	"emotion-relay/internal/relay"
)

// StreamHandler связывает WebSocket сессии и прокси потоков камер
// с HTTP маршрутами
type StreamHandler struct {
	logger   *zap.Logger
	sessions *relay.SessionManager
	proxy    *proxy.Manager
}

// NewStreamHandler создает новый хендлер
func NewStreamHandler(
	logger *zap.Logger,
	sessions *relay.SessionManager,
	proxyMgr *proxy.Manager,
) *StreamHandler {
	return &StreamHandler{
		logger:   logger,
		sessions: sessions,
		proxy:    proxyMgr,
	}
}

// RegisterWebSocket регистрирует маршрут клиентских сессий
func (h *StreamHandler) RegisterWebSocket(router *gin.Engine) {
	router.GET("/ws/:clientId", h.HandleWebSocket)
}

// RegisterProxy регистрирует фиксированный маршрут прокси; диспетчеризация
// по камерам идет через таблицу сессий, без мутации таблицы маршрутов
func (h *StreamHandler) RegisterProxy(router *gin.Engine) {
	router.GET(h.proxy.PathPrefix()+"/:cameraId", h.HandleProxyFrame)
}

// HandleWebSocket апгрейдит соединение и передает его менеджеру сессий
func (h *StreamHandler) HandleWebSocket(c *gin.Context) {
	clientID := c.Param("clientId")
	h.sessions.HandleConnection(c.Writer, c.Request, clientID)
}

// HandleProxyFrame отдает очередной кадр проксируемой камеры
func (h *StreamHandler) HandleProxyFrame(c *gin.Context) {
	cameraID := c.Param("cameraId")
	h.proxy.ServeFrame(c.Writer, c.Request, cameraID)
}
