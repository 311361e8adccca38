package types

import "encoding/json"

// Типы камер, принятые справочником
const (
	CameraTypeWebcam = "webcam"
	CameraTypeIP     = "ip_camera"
	CameraTypeMobile = "mobile_camera"
)

// Camera описывает один источник видео из справочника камер
type Camera struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// FrameMessage — кадр от клиента для распознавания эмоций
type FrameMessage struct {
	ClientID   string  `json:"client_id"`
	CameraID   string  `json:"camera_id"`
	CameraName string  `json:"camera_name"`
	Timestamp  float64 `json:"timestamp"`
	Frame      string  `json:"frame"` // base64
}

// FaceLocation — область лица на кадре
type FaceLocation struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Detection — результат по одному лицу
type Detection struct {
	Emotion      string             `json:"emotion"`
	Confidence   float64            `json:"confidence"`
	AllEmotions  map[string]float64 `json:"all_emotions,omitempty"`
	FaceLocation FaceLocation       `json:"face_location"`
}

// Типы входящих WebSocket сообщений
const (
	MsgTypeFrame          = "frame"
	MsgTypeMobileFrame    = "mobile_frame"
	MsgTypeRegisterMobile = "register_mobile_camera"
	MsgTypeStartStream    = "start_stream"
	MsgTypeStopStream     = "stop_stream"
	MsgTypePing           = "ping"
)

// Типы исходящих WebSocket сообщений
const (
	MsgTypeCameraList     = "camera_list"
	MsgTypeEmotionResults = "emotion_results"
	MsgTypeError          = "error"
	MsgTypeStreamReady    = "stream_ready"
	MsgTypePong           = "pong"
)

// InboundMessage — конверт входящего сообщения; поля заполняются
// в зависимости от Type
type InboundMessage struct {
	Type       string  `json:"type"`
	ID         string  `json:"id,omitempty"`
	Name       string  `json:"name,omitempty"`
	CameraID   string  `json:"cameraId,omitempty"`
	CameraName string  `json:"cameraName,omitempty"`
	URL        string  `json:"url,omitempty"`
	Timestamp  float64 `json:"timestamp,omitempty"`
	Frame      string  `json:"frame,omitempty"`
}

// CameraListMessage отправляется при подключении и при изменении справочника
type CameraListMessage struct {
	Type    string   `json:"type"`
	Cameras []Camera `json:"cameras"`
}

// EmotionResultsMessage — результаты распознавания для одного кадра
type EmotionResultsMessage struct {
	Type           string      `json:"type"`
	CameraID       string      `json:"camera_id"`
	Timestamp      float64     `json:"timestamp"`
	Results        []Detection `json:"results"`
	ProcessingTime float64     `json:"processing_time"`
}

// ErrorMessage — ошибка, изолированная на уровне одной камеры/клиента
type ErrorMessage struct {
	Type     string `json:"type"`
	CameraID string `json:"camera_id,omitempty"`
	Message  string `json:"message"`
}

// StreamReadyMessage — ответ на start_stream с путем прокси
type StreamReadyMessage struct {
	Type      string `json:"type"`
	CameraID  string `json:"camera_id"`
	ProxyPath string `json:"proxy_path"`
}

// PongMessage — ответ на ping
type PongMessage struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
}

// NewCameraList собирает сообщение camera_list
func NewCameraList(cameras []Camera) *CameraListMessage {
	if cameras == nil {
		cameras = []Camera{}
	}
	return &CameraListMessage{Type: MsgTypeCameraList, Cameras: cameras}
}

// NewError собирает сообщение об ошибке для камеры
func NewError(cameraID, message string) *ErrorMessage {
	return &ErrorMessage{Type: MsgTypeError, CameraID: cameraID, Message: message}
}

// Marshal сериализует произвольное исходящее сообщение
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
