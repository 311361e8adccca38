package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"emotion-relay/internal/backend"
	"emotion-relay/internal/config"
	"emotion-relay/internal/types"
)

// StreamProxy — интерфейс менеджера проксируемых потоков, нужный сессии
type StreamProxy interface {
	EnsureProxy(cameraID, upstreamURL string) (string, error)
	Release(cameraID string)
}

// SessionManager принимает WebSocket соединения браузерных и мобильных
// клиентов и связывает их с реестром, ретранслятором и прокси.
type SessionManager struct {
	cfg         *config.Config
	registry    *Registry
	frameRelay  *FrameRelay
	broadcaster *Broadcaster
	client      *backend.Client
	proxy       StreamProxy
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// session — одно живое WebSocket соединение
type session struct {
	clientID string
	ws       *websocket.Conn
	conn     *Connection
	done     chan struct{}
}

// NewSessionManager создает менеджер сессий
func NewSessionManager(
	cfg *config.Config,
	registry *Registry,
	frameRelay *FrameRelay,
	broadcaster *Broadcaster,
	client *backend.Client,
	proxy StreamProxy,
	logger *zap.Logger,
) *SessionManager {
	return &SessionManager{
		cfg:         cfg,
		registry:    registry,
		frameRelay:  frameRelay,
		broadcaster: broadcaster,
		client:      client,
		proxy:       proxy,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.WebSocket.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				if !cfg.Security.EnableCORS {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range cfg.Security.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
		logger: logger,
	}
}

// HandleConnection апгрейдит HTTP запрос до WebSocket и обслуживает сессию.
// Идентификатор клиента берется из пути; при отсутствии генерируется.
func (sm *SessionManager) HandleConnection(w http.ResponseWriter, r *http.Request, clientID string) {
	ws, err := sm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sm.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn := sm.registry.Register(clientID)
	s := &session{
		clientID: clientID,
		ws:       ws,
		conn:     conn,
		done:     make(chan struct{}),
	}

	sm.logger.Info("Client connected", zap.String("client_id", clientID))

	go sm.writePump(s)
	go sm.readPump(s)

	// Новое соединение сразу получает текущий снимок справочника
	sm.broadcaster.NotifyConn(clientID)
}

// readPump читает входящие сообщения до закрытия соединения
func (sm *SessionManager) readPump(s *session) {
	defer func() {
		close(s.done)
		s.ws.Close()
		sm.registry.Unregister(s.clientID, s.conn)
		sm.logger.Info("Client disconnected", zap.String("client_id", s.clientID))
	}()

	for {
		messageType, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				sm.logger.Warn("WebSocket read error",
					zap.String("client_id", s.clientID), zap.Error(err))
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		sm.dispatch(s, data)
	}
}

// writePump доставляет сообщения из очереди соединения и держит
// соединение живым пингами
func (sm *SessionManager) writePump(s *session) {
	ticker := time.NewTicker(sm.cfg.WebSocket.PingInterval)
	defer func() {
		ticker.Stop()
		s.ws.Close()
	}()

	for {
		select {
		case message, ok := <-s.conn.SendChan:
			if !ok {
				s.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			s.ws.SetWriteDeadline(time.Now().Add(sm.cfg.WebSocket.WriteTimeout))
			if err := s.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				sm.logger.Warn("WebSocket write error",
					zap.String("client_id", s.clientID), zap.Error(err))
				return
			}

		case <-ticker.C:
			s.ws.SetWriteDeadline(time.Now().Add(sm.cfg.WebSocket.WriteTimeout))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			return
		}
	}
}

// dispatch разбирает входящее сообщение и выполняет команду
func (sm *SessionManager) dispatch(s *session, data []byte) {
	var msg types.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		sm.logger.Warn("Failed to unmarshal message",
			zap.String("client_id", s.clientID), zap.Error(err))
		sm.sendTo(s.clientID, types.NewError("", "Error processing message"))
		return
	}

	switch msg.Type {
	case types.MsgTypeFrame:
		frame := &types.FrameMessage{
			ClientID:   s.clientID,
			CameraID:   msg.CameraID,
			CameraName: msg.CameraName,
			Timestamp:  msg.Timestamp,
			Frame:      msg.Frame,
		}
		sm.frameRelay.RelayAsync(context.Background(), frame, true)

	case types.MsgTypeMobileFrame:
		// Кадр с мобильной страницы захвата: результаты на отправителя
		// не возвращаются
		frame := &types.FrameMessage{
			ClientID:   s.clientID,
			CameraID:   msg.ID,
			CameraName: "Mobile Camera",
			Timestamp:  msg.Timestamp,
			Frame:      msg.Frame,
		}
		sm.frameRelay.RelayAsync(context.Background(), frame, false)

	case types.MsgTypeRegisterMobile:
		sm.registerMobileCamera(s, &msg)

	case types.MsgTypeStartStream:
		sm.startStream(s, &msg)

	case types.MsgTypeStopStream:
		sm.proxy.Release(msg.CameraID)
		sm.logger.Info("Stream stopped",
			zap.String("client_id", s.clientID),
			zap.String("camera_id", msg.CameraID))

	case types.MsgTypePing:
		sm.sendTo(s.clientID, &types.PongMessage{
			Type: types.MsgTypePong,
			Time: time.Now().Unix(),
		})

	default:
		sm.logger.Debug("Unknown message type",
			zap.String("client_id", s.clientID),
			zap.String("type", msg.Type))
	}
}

// registerMobileCamera добавляет мобильную камеру в справочник и рассылает
// обновленный список всем клиентам
func (sm *SessionManager) registerMobileCamera(s *session, msg *types.InboundMessage) {
	if msg.ID == "" {
		sm.sendTo(s.clientID, types.NewError("", "Camera ID is required"))
		return
	}

	name := msg.Name
	if name == "" {
		name = "Mobile Camera"
	}

	ctx, cancel := context.WithTimeout(context.Background(), sm.cfg.Backend.RequestTimeout)
	defer cancel()

	result, err := sm.client.AddCamera(ctx, types.Camera{
		ID:   msg.ID,
		Name: name,
		Type: types.CameraTypeMobile,
		URL:  "",
	})
	if err != nil || !result.Success {
		sm.logger.Warn("Failed to register mobile camera",
			zap.String("camera_id", msg.ID), zap.Error(err))
		sm.sendTo(s.clientID, types.NewError(msg.ID, "Failed to register mobile camera"))
		return
	}

	sm.logger.Info("Mobile camera registered",
		zap.String("camera_id", msg.ID), zap.String("name", name))

	if err := sm.broadcaster.RefreshAndNotify(ctx); err != nil {
		sm.logger.Warn("Camera list broadcast failed", zap.Error(err))
	}
}

// startStream создает прокси-сессию для камеры и сообщает клиенту путь
func (sm *SessionManager) startStream(s *session, msg *types.InboundMessage) {
	if msg.CameraID == "" || msg.URL == "" {
		sm.sendTo(s.clientID, types.NewError(msg.CameraID, "Camera ID and URL are required"))
		return
	}

	path, err := sm.proxy.EnsureProxy(msg.CameraID, msg.URL)
	if err != nil {
		sm.logger.Warn("Failed to start stream proxy",
			zap.String("camera_id", msg.CameraID), zap.Error(err))
		sm.sendTo(s.clientID, types.NewError(msg.CameraID, "Failed to start stream"))
		return
	}

	sm.logger.Info("Stream started",
		zap.String("client_id", s.clientID),
		zap.String("camera_id", msg.CameraID),
		zap.String("proxy_path", path))

	sm.sendTo(s.clientID, &types.StreamReadyMessage{
		Type:      types.MsgTypeStreamReady,
		CameraID:  msg.CameraID,
		ProxyPath: path,
	})
}

// sendTo сериализует и ставит сообщение в очередь клиента
func (sm *SessionManager) sendTo(clientID string, v interface{}) {
	data, err := types.Marshal(v)
	if err != nil {
		sm.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	if err := sm.registry.Send(clientID, data); err != nil {
		sm.logger.Debug("Message dropped, client disconnected",
			zap.String("client_id", clientID))
	}
}
