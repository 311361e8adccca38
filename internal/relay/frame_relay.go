package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"emotion-relay/internal/backend"
	"emotion-relay/internal/types"
)

// FrameRelay пересылает кадры на бэкенд и маршрутизирует результаты
// обратно исходному клиенту через Registry.
//
// Для каждой пары (клиент, камера) допускается не более одного кадра
// в полете: новый кадр при занятой камере отбрасывается, а не ставится
// в очередь. Захват кадров на клиенте идет с периодом в секунды, так что
// отбрасывание не приводит к заметным потерям, а доставка результатов
// по одной камере остается упорядоченной сама по себе.
type FrameRelay struct {
	client   *backend.Client
	registry *Registry
	logger   *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{} // ключ clientID|cameraID
}

// NewFrameRelay создает ретранслятор кадров
func NewFrameRelay(client *backend.Client, registry *Registry, logger *zap.Logger) *FrameRelay {
	return &FrameRelay{
		client:   client,
		registry: registry,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
}

func flightKey(clientID, cameraID string) string {
	return clientID + "|" + cameraID
}

// tryAcquire помечает пару (клиент, камера) занятой
func (fr *FrameRelay) tryAcquire(key string) bool {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if _, busy := fr.inFlight[key]; busy {
		return false
	}
	fr.inFlight[key] = struct{}{}
	return true
}

func (fr *FrameRelay) release(key string) {
	fr.mu.Lock()
	delete(fr.inFlight, key)
	fr.mu.Unlock()
}

// Relay обрабатывает один кадр: валидация, вызов бэкенда, доставка
// результата или ошибки исходному клиенту. Для каждого принятого кадра
// производится ровно один исход.
//
// Если deliver == false, результат не маршрутизируется обратно
// (кадры с мобильной страницы захвата).
func (fr *FrameRelay) Relay(ctx context.Context, frame *types.FrameMessage, deliver bool) error {
	if strings.TrimSpace(frame.Frame) == "" {
		return fmt.Errorf("%w: empty payload from camera %s", ErrInvalidFrame, frame.CameraID)
	}
	if frame.CameraID == "" {
		return fmt.Errorf("%w: missing camera id", ErrInvalidFrame)
	}

	key := flightKey(frame.ClientID, frame.CameraID)
	if !fr.tryAcquire(key) {
		// Политика отбрасывания: кадр при занятой камере не обрабатывается
		fr.logger.Debug("Frame dropped, camera busy",
			zap.String("client_id", frame.ClientID),
			zap.String("camera_id", frame.CameraID))
		return ErrFrameInFlight
	}
	defer fr.release(key)

	cameraName := frame.CameraName
	if cameraName == "" {
		cameraName = "Unknown Camera"
	}

	result, err := fr.client.ProcessFrame(ctx, &backend.ProcessFrameRequest{
		ClientID:   frame.ClientID,
		CameraID:   frame.CameraID,
		CameraName: cameraName,
		Timestamp:  frame.Timestamp,
		Frame:      frame.Frame,
	})
	if err != nil {
		fr.logger.Warn("Frame processing failed",
			zap.String("client_id", frame.ClientID),
			zap.String("camera_id", frame.CameraID),
			zap.Error(err))

		if deliver {
			fr.sendError(frame.ClientID, frame.CameraID,
				fmt.Sprintf("Failed to process frame: %v", err))
		}
		return err
	}

	fr.logger.Debug("Frame processed",
		zap.String("camera_id", frame.CameraID),
		zap.Int("faces", len(result.Results)))

	if !deliver {
		return nil
	}

	fr.sendResults(frame, result)
	return nil
}

// RelayAsync запускает обработку кадра в отдельной горутине; кадры разных
// камер и клиентов обрабатываются полностью параллельно
func (fr *FrameRelay) RelayAsync(ctx context.Context, frame *types.FrameMessage, deliver bool) {
	go func() {
		err := fr.Relay(ctx, frame, deliver)
		if err != nil && errors.Is(err, ErrInvalidFrame) && deliver {
			fr.sendError(frame.ClientID, frame.CameraID, "Invalid frame payload")
		}
	}()
}

// sendResults доставляет результаты исходному клиенту; исчезновение
// клиента логируется и проглатывается
func (fr *FrameRelay) sendResults(frame *types.FrameMessage, result *backend.ProcessFrameResponse) {
	results := result.Results
	if results == nil {
		results = []types.Detection{}
	}

	message, err := types.Marshal(&types.EmotionResultsMessage{
		Type:           types.MsgTypeEmotionResults,
		CameraID:       frame.CameraID,
		Timestamp:      frame.Timestamp,
		Results:        results,
		ProcessingTime: result.ProcessingTime,
	})
	if err != nil {
		fr.logger.Error("Failed to marshal emotion results", zap.Error(err))
		return
	}

	if err := fr.registry.Send(frame.ClientID, message); err != nil {
		fr.logger.Info("Result dropped, client disconnected",
			zap.String("client_id", frame.ClientID),
			zap.String("camera_id", frame.CameraID))
	}
}

func (fr *FrameRelay) sendError(clientID, cameraID, message string) {
	data, err := types.Marshal(types.NewError(cameraID, message))
	if err != nil {
		fr.logger.Error("Failed to marshal error message", zap.Error(err))
		return
	}

	if err := fr.registry.Send(clientID, data); err != nil {
		fr.logger.Debug("Error message dropped, client disconnected",
			zap.String("client_id", clientID))
	}
}
