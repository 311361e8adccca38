package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"emotion-relay/internal/backend"
	"emotion-relay/internal/types"
)

// backendStub поднимает тестовый бэкенд, отвечающий канированными
// детекциями на /process_frame
func backendStub(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *backend.Client) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := backend.NewClient(srv.URL, 10*time.Second, 5*time.Second, zap.NewNop())
	return srv, client
}

func happyDetectionHandler(calls *int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt64(calls, 1)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"camera_id": "cam1",
			"timestamp": 123.0,
			"results": []map[string]interface{}{
				{
					"emotion":    "happy",
					"confidence": 0.9,
					"face_location": map[string]int{
						"x": 10, "y": 10, "width": 50, "height": 50,
					},
				},
			},
			"processing_time": 0.05,
		})
	}
}

func TestFrameRelayDeliversResults(t *testing.T) {
	_, client := backendStub(t, happyDetectionHandler(nil))

	registry := NewRegistry(10, zap.NewNop())
	conn := registry.Register("c1")
	fr := NewFrameRelay(client, registry, zap.NewNop())

	frame := &types.FrameMessage{
		ClientID:  "c1",
		CameraID:  "cam1",
		Timestamp: 123,
		Frame:     "dGVzdCBqcGVnIGJ5dGVz",
	}

	if err := fr.Relay(context.Background(), frame, true); err != nil {
		t.Fatalf("Relay failed: %v", err)
	}

	msg, ok := receive(t, conn)
	if !ok {
		t.Fatal("no result delivered to originating client")
	}

	var result types.EmotionResultsMessage
	if err := json.Unmarshal(msg, &result); err != nil {
		t.Fatalf("invalid result message: %v", err)
	}
	if result.Type != types.MsgTypeEmotionResults {
		t.Errorf("type = %q, want %q", result.Type, types.MsgTypeEmotionResults)
	}
	if result.CameraID != "cam1" {
		t.Errorf("camera_id = %q, want cam1", result.CameraID)
	}
	if len(result.Results) != 1 || result.Results[0].Emotion != "happy" {
		t.Errorf("unexpected results: %+v", result.Results)
	}
	if result.Results[0].Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", result.Results[0].Confidence)
	}

	// Ровно один исход на принятый кадр
	if extra, ok := receive(t, conn); ok {
		t.Errorf("unexpected second outcome: %s", extra)
	}
}

func TestFrameRelayRejectsInvalidFrame(t *testing.T) {
	var calls int64
	_, client := backendStub(t, happyDetectionHandler(&calls))

	registry := NewRegistry(10, zap.NewNop())
	registry.Register("c1")
	fr := NewFrameRelay(client, registry, zap.NewNop())

	tests := []struct {
		name  string
		frame *types.FrameMessage
	}{
		{"empty payload", &types.FrameMessage{ClientID: "c1", CameraID: "cam1", Frame: ""}},
		{"whitespace payload", &types.FrameMessage{ClientID: "c1", CameraID: "cam1", Frame: "   "}},
		{"missing camera", &types.FrameMessage{ClientID: "c1", Frame: "aGk="}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fr.Relay(context.Background(), tt.frame, true)
			if !errors.Is(err, ErrInvalidFrame) {
				t.Fatalf("got %v, want ErrInvalidFrame", err)
			}
		})
	}

	// Невалидные кадры отклоняются до обращения к бэкенду
	if got := atomic.LoadInt64(&calls); got != 0 {
		t.Errorf("backend called %d times for invalid frames, want 0", got)
	}
}

func TestFrameRelayDropsWhileBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var firstCall sync.Once

	_, client := backendStub(t, func(w http.ResponseWriter, r *http.Request) {
		var isFirst bool
		firstCall.Do(func() { isFirst = true })
		if isFirst {
			close(started)
			<-release
		}
		happyDetectionHandler(nil)(w, r)
	})

	registry := NewRegistry(10, zap.NewNop())
	conn := registry.Register("c1")
	fr := NewFrameRelay(client, registry, zap.NewNop())

	first := &types.FrameMessage{ClientID: "c1", CameraID: "cam1", Frame: "Zmlyc3Q="}
	second := &types.FrameMessage{ClientID: "c1", CameraID: "cam1", Frame: "c2Vjb25k"}
	otherCamera := &types.FrameMessage{ClientID: "c1", CameraID: "cam2", Frame: "b3RoZXI="}

	done := make(chan error, 1)
	go func() {
		done <- fr.Relay(context.Background(), first, true)
	}()

	<-started

	// Второй кадр той же камеры отбрасывается, не встает в очередь
	if err := fr.Relay(context.Background(), second, true); !errors.Is(err, ErrFrameInFlight) {
		t.Fatalf("got %v, want ErrFrameInFlight", err)
	}

	close(release)

	if err := <-done; err != nil {
		t.Fatalf("first relay failed: %v", err)
	}

	// Исход есть только у первого кадра
	if _, ok := receive(t, conn); !ok {
		t.Fatal("first frame outcome missing")
	}
	if msg, ok := receive(t, conn); ok {
		t.Errorf("dropped frame produced an outcome: %s", msg)
	}

	// Кадры других камер не блокируются занятой камерой:
	// гейт свободен и после завершения relay камера снова доступна
	if err := fr.Relay(context.Background(), otherCamera, true); err != nil {
		t.Fatalf("other camera relay failed: %v", err)
	}
	if err := fr.Relay(context.Background(), first, true); err != nil {
		t.Fatalf("camera not accepting frames after completion: %v", err)
	}
}

func TestFrameRelayBackendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	// Короткий таймаут обработки, чтобы не ждать настоящие 10 секунд
	client := backend.NewClient(srv.URL, 200*time.Millisecond, 5*time.Second, zap.NewNop())

	registry := NewRegistry(10, zap.NewNop())
	conn := registry.Register("c1")
	fr := NewFrameRelay(client, registry, zap.NewNop())

	frame := &types.FrameMessage{ClientID: "c1", CameraID: "cam1", Frame: "ZGF0YQ=="}

	err := fr.Relay(context.Background(), frame, true)
	if !errors.Is(err, backend.ErrBackendTimeout) {
		t.Fatalf("got %v, want ErrBackendTimeout", err)
	}

	// Клиент получает типизированную ошибку с упоминанием таймаута
	msg, ok := receive(t, conn)
	if !ok {
		t.Fatal("no error message delivered to client")
	}

	var errMsg types.ErrorMessage
	if err := json.Unmarshal(msg, &errMsg); err != nil {
		t.Fatalf("invalid error message: %v", err)
	}
	if errMsg.Type != types.MsgTypeError {
		t.Errorf("type = %q, want error", errMsg.Type)
	}
	if errMsg.CameraID != "cam1" {
		t.Errorf("camera_id = %q, want cam1", errMsg.CameraID)
	}
	if !strings.Contains(errMsg.Message, "timeout") {
		t.Errorf("message %q does not mention timeout", errMsg.Message)
	}

	// Сразу после таймаута камера принимает новый кадр
	if err := fr.Relay(context.Background(), frame, true); errors.Is(err, ErrFrameInFlight) {
		t.Fatal("camera still busy after timed out relay")
	}
}

func TestFrameRelayClientGoneDuringProcessing(t *testing.T) {
	_, client := backendStub(t, happyDetectionHandler(nil))

	registry := NewRegistry(10, zap.NewNop())
	conn := registry.Register("c1")
	fr := NewFrameRelay(client, registry, zap.NewNop())

	// Клиент отключился до завершения обработки: доставка становится
	// no-op, ошибок наружу нет
	registry.Unregister("c1", conn)

	frame := &types.FrameMessage{ClientID: "c1", CameraID: "cam1", Frame: "ZGF0YQ=="}
	if err := fr.Relay(context.Background(), frame, true); err != nil {
		t.Fatalf("relay must not fail when client is gone: %v", err)
	}
}

func TestFrameRelayMobileFrameNotDeliveredBack(t *testing.T) {
	_, client := backendStub(t, happyDetectionHandler(nil))

	registry := NewRegistry(10, zap.NewNop())
	conn := registry.Register("mobile1")
	fr := NewFrameRelay(client, registry, zap.NewNop())

	frame := &types.FrameMessage{ClientID: "mobile1", CameraID: "mob-cam", Frame: "ZGF0YQ=="}
	if err := fr.Relay(context.Background(), frame, false); err != nil {
		t.Fatalf("Relay failed: %v", err)
	}

	if msg, ok := receive(t, conn); ok {
		t.Errorf("mobile sender unexpectedly received results: %s", msg)
	}
}
