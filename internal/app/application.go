package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"emotion-relay/internal/backend"
	"emotion-relay/internal/config"
	"emotion-relay/internal/handler"
	"emotion-relay/internal/proxy"
	"emotion-relay/internal/relay"
)

// Application — основное приложение: ретранслятор между браузерными
// клиентами и бэкендом распознавания эмоций
type Application struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server

	registry    *relay.Registry
	frameRelay  *relay.FrameRelay
	broadcaster *relay.Broadcaster
	sessions    *relay.SessionManager
	proxyMgr    *proxy.Manager
	client      *backend.Client
}

// NewApplication создает приложение и связывает компоненты; все
// зависимости передаются явно, глобального состояния нет
func NewApplication(cfg *config.Config, logger *zap.Logger) *Application {
	// Клиент бэкенда и справочника камер
	client := backend.NewClient(
		cfg.Backend.APIURL,
		cfg.Backend.ProcessTimeout,
		cfg.Backend.RequestTimeout,
		logger,
	)

	// Реестр соединений — единственный владелец их жизненного цикла
	registry := relay.NewRegistry(cfg.WebSocket.SendQueueSize, logger)

	// Ретранслятор кадров и рассыльщик справочника
	frameRelay := relay.NewFrameRelay(client, registry, logger)
	broadcaster := relay.NewBroadcaster(client, registry, logger)

	// Менеджер прокси потоков камер
	proxyMgr := proxy.NewManager(
		cfg.Proxy.PathPrefix,
		cfg.Proxy.FreshnessWindow,
		cfg.Proxy.IdleTimeout,
		cfg.Proxy.UpstreamTimeout,
		cfg.Proxy.GCInterval,
		logger,
	)

	// Менеджер WebSocket сессий
	sessions := relay.NewSessionManager(
		cfg, registry, frameRelay, broadcaster, client, proxyMgr, logger)

	// Хендлеры
	cameraHandler := handler.NewCameraHandler(logger, client, broadcaster)
	streamHandler := handler.NewStreamHandler(logger, sessions, proxyMgr)

	// Роутер
	router := NewRouter(cfg, cameraHandler, streamHandler, logger)

	// CORS поверх роутера
	var httpHandler http.Handler = router
	if cfg.Security.EnableCORS {
		corsHandler := cors.New(cors.Options{
			AllowedOrigins:   cfg.Security.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           86400,
		})
		httpHandler = corsHandler.Handler(router)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: httpHandler,
	}

	return &Application{
		config:      cfg,
		logger:      logger,
		server:      server,
		registry:    registry,
		frameRelay:  frameRelay,
		broadcaster: broadcaster,
		sessions:    sessions,
		proxyMgr:    proxyMgr,
		client:      client,
	}
}

// Start запускает приложение. Начальный снимок справочника подгружается
// с допуском на недоступность: клиенты получат список после первого
// успешного обновления.
func (app *Application) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), app.config.Backend.RequestTimeout)
	defer cancel()

	if _, err := app.broadcaster.Refresh(ctx); err != nil {
		app.logger.Warn("Initial camera directory fetch failed", zap.Error(err))
	}

	app.logger.Info("Starting emotion relay",
		zap.String("address", app.server.Addr),
		zap.String("backend", app.config.Backend.APIURL))

	return app.server.ListenAndServe()
}

// Stop корректно останавливает приложение
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("Stopping emotion relay")

	err := app.server.Shutdown(ctx)

	app.registry.CloseAll()
	app.proxyMgr.Stop()

	return err
}
