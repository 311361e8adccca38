package relay

import "errors"

// Типизированные ошибки ретранслятора
var (
	// ErrInvalidFrame — кадр отброшен до обращения к бэкенду
	ErrInvalidFrame = errors.New("invalid frame payload")

	// ErrConnectionNotFound — целевое соединение исчезло; не фатально
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrFrameInFlight — для пары (клиент, камера) уже есть кадр в обработке
	ErrFrameInFlight = errors.New("frame already in flight for camera")

	// ErrDirectoryUnavailable — справочник камер недоступен, действует
	// предыдущий снимок
	ErrDirectoryUnavailable = errors.New("camera directory unavailable")
)
