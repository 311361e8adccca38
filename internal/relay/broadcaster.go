package relay

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"emotion-relay/internal/backend"
	"emotion-relay/internal/types"
)

// Broadcaster хранит кэшированный снимок справочника камер и рассылает
// обновления зарегистрированным соединениям.
//
// Снимок заменяется целиком (copy-on-write): читатели всегда видят
// согласованный список, даже во время обновления.
type Broadcaster struct {
	client   *backend.Client
	registry *Registry
	logger   *zap.Logger

	mu       sync.RWMutex
	snapshot []types.Camera
}

// NewBroadcaster создает рассыльщика справочника камер
func NewBroadcaster(client *backend.Client, registry *Registry, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		client:   client,
		registry: registry,
		logger:   logger,
	}
}

// Refresh перечитывает справочник. При недоступности справочника
// предыдущий снимок остается действующим.
func (b *Broadcaster) Refresh(ctx context.Context) ([]types.Camera, error) {
	cameras, err := b.client.GetCameras(ctx)
	if err != nil {
		b.logger.Warn("Camera directory refresh failed, keeping cached snapshot",
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	b.mu.Lock()
	b.snapshot = cameras
	b.mu.Unlock()

	return cameras, nil
}

// Snapshot возвращает текущий кэшированный список камер
func (b *Broadcaster) Snapshot() []types.Camera {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.snapshot
}

// NotifyAll рассылает текущий снимок всем соединениям
func (b *Broadcaster) NotifyAll() {
	message, err := types.Marshal(types.NewCameraList(b.Snapshot()))
	if err != nil {
		b.logger.Error("Failed to marshal camera list", zap.Error(err))
		return
	}

	b.registry.Broadcast(message)
}

// NotifyConn отправляет текущий снимок одному соединению; вызывается
// при установке сессии
func (b *Broadcaster) NotifyConn(id string) {
	message, err := types.Marshal(types.NewCameraList(b.Snapshot()))
	if err != nil {
		b.logger.Error("Failed to marshal camera list", zap.Error(err))
		return
	}

	if err := b.registry.Send(id, message); err != nil {
		b.logger.Debug("Camera list not delivered",
			zap.String("client_id", id), zap.Error(err))
	}
}

// RefreshAndNotify перечитывает справочник и при успехе рассылает
// обновление всем; вызывается после мутаций набора камер
func (b *Broadcaster) RefreshAndNotify(ctx context.Context) error {
	if _, err := b.Refresh(ctx); err != nil {
		return err
	}

	b.NotifyAll()
	return nil
}
