package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"emotion-relay/internal/backend"
	"emotion-relay/internal/relay"
	"emotion-relay/internal/types"
)

// newAPIUnderTest поднимает REST API поверх стаба бэкенда
func newAPIUnderTest(t *testing.T, backendHandler http.Handler) (*gin.Engine, *relay.Registry) {
	t.Helper()

	srv := httptest.NewServer(backendHandler)
	t.Cleanup(srv.Close)

	logger := zap.NewNop()
	client := backend.NewClient(srv.URL, 2*time.Second, 2*time.Second, logger)
	registry := relay.NewRegistry(10, logger)
	broadcaster := relay.NewBroadcaster(client, registry, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewCameraHandler(logger, client, broadcaster)
	h.RegisterRoutes(router.Group("/api"))

	return router, registry
}

func TestGetCamerasPassthrough(t *testing.T) {
	router, _ := newAPIUnderTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cameras" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode([]types.Camera{
			{ID: "cam1", Name: "Webcam", Type: types.CameraTypeWebcam},
		})
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cameras", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var cameras []types.Camera
	if err := json.Unmarshal(rec.Body.Bytes(), &cameras); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if len(cameras) != 1 || cameras[0].ID != "cam1" {
		t.Errorf("unexpected cameras: %+v", cameras)
	}
}

func TestGetCamerasBackendDown(t *testing.T) {
	router, _ := newAPIUnderTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cameras", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestAddCameraBroadcastsUpdate(t *testing.T) {
	router, registry := newAPIUnderTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			json.NewEncoder(w).Encode(backend.AddCameraResponse{Success: true, CameraID: "ipcam"})
		default:
			json.NewEncoder(w).Encode([]types.Camera{
				{ID: "cam1"}, {ID: "ipcam", Type: types.CameraTypeIP},
			})
		}
	}))

	conn := registry.Register("c1")

	body, _ := json.Marshal(types.Camera{
		ID: "ipcam", Name: "Street", Type: types.CameraTypeIP, URL: "http://cam/snap.jpg",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/cameras", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var result backend.AddCameraResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil || !result.Success {
		t.Fatalf("unexpected result: %s", rec.Body.String())
	}

	// После успешной мутации зарегистрированное соединение получает
	// обновленный список
	select {
	case msg := <-conn.SendChan:
		var list types.CameraListMessage
		if err := json.Unmarshal(msg, &list); err != nil || list.Type != types.MsgTypeCameraList {
			t.Fatalf("unexpected broadcast: %s", msg)
		}
		if len(list.Cameras) != 2 {
			t.Errorf("got %d cameras, want 2", len(list.Cameras))
		}
	default:
		t.Fatal("no camera_list broadcast after camera mutation")
	}
}

func TestUpdateCameraRequiresID(t *testing.T) {
	router, _ := newAPIUnderTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(backend.AddCameraResponse{Success: true})
	}))

	body, _ := json.Marshal(types.Camera{Name: "No ID"})
	req := httptest.NewRequest(http.MethodPost, "/api/update-camera", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetDetectionsPassthrough(t *testing.T) {
	var gotQuery string
	router, _ := newAPIUnderTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detections" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[{"camera_id":"cam1"}]`))
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/detections?camera_id=cam1&limit=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotQuery == "" {
		t.Error("query parameters were not forwarded")
	}
	if rec.Body.String() != `[{"camera_id":"cam1"}]` {
		t.Errorf("body not passed through verbatim: %s", rec.Body.String())
	}
}
