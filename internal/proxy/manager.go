package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUpstreamCamera — запрос к камере не удался; сессия сохраняется
var ErrUpstreamCamera = errors.New("upstream camera error")

// ErrSessionNotFound — для камеры нет активной прокси-сессии
var ErrSessionNotFound = errors.New("proxy session not found")

// Session — прокси одной удаленной камеры. Менеджер — единственный
// владелец соединения с камерой; клиенты опрашивают стабильный путь.
type Session struct {
	ID          string
	CameraID    string
	UpstreamURL string

	// lastAccess хранится атомарно (UnixNano): сборщику не нужен
	// мьютекс сессии, занятый на время запроса к камере
	lastAccess int64

	// mu сериализует запросы к одной камере: зависшая камера
	// задерживает только собственные запросы
	mu          sync.Mutex
	lastBody    []byte
	contentType string
	fetchedAt   time.Time
}

func (s *Session) touch() {
	atomic.StoreInt64(&s.lastAccess, time.Now().UnixNano())
}

func (s *Session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, atomic.LoadInt64(&s.lastAccess)))
}

// Manager владеет прокси-сессиями камер и обслуживает запросы байтовых
// потоков по фиксированному пути {prefix}/{cameraId}.
type Manager struct {
	pathPrefix      string
	freshnessWindow time.Duration
	idleTimeout     time.Duration
	gcInterval      time.Duration

	httpClient *http.Client
	logger     *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager создает менеджер прокси и запускает сборку простаивающих
// сессий
func NewManager(
	pathPrefix string,
	freshnessWindow, idleTimeout, upstreamTimeout, gcInterval time.Duration,
	logger *zap.Logger,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		pathPrefix:      pathPrefix,
		freshnessWindow: freshnessWindow,
		idleTimeout:     idleTimeout,
		gcInterval:      gcInterval,
		httpClient: &http.Client{
			Timeout: upstreamTimeout,
		},
		logger:   logger,
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
	}

	m.wg.Add(1)
	go m.gcLoop()

	return m
}

// EnsureProxy создает прокси-сессию для камеры или возвращает путь
// существующей; идемпотентна.
func (m *Manager) EnsureProxy(cameraID, upstreamURL string) (string, error) {
	if cameraID == "" || upstreamURL == "" {
		return "", fmt.Errorf("camera id and upstream url are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[cameraID]; !exists {
		s := &Session{
			ID:          uuid.NewString(),
			CameraID:    cameraID,
			UpstreamURL: upstreamURL,
		}
		s.touch()
		m.sessions[cameraID] = s
		m.logger.Info("Proxy session created",
			zap.String("camera_id", cameraID),
			zap.String("upstream_url", upstreamURL))
	}

	return m.pathPrefix + "/" + cameraID, nil
}

// Release явно останавливает прокси-сессию камеры; идемпотентна
func (m *Manager) Release(cameraID string) {
	m.mu.Lock()
	_, exists := m.sessions[cameraID]
	delete(m.sessions, cameraID)
	m.mu.Unlock()

	if exists {
		m.logger.Info("Proxy session released", zap.String("camera_id", cameraID))
	}
}

// lookup возвращает сессию камеры
func (m *Manager) lookup(cameraID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[cameraID]
	return s, ok
}

// ServeFrame обслуживает один запрос байтов камеры: в пределах окна
// свежести отдается закэшированный снимок, иначе выполняется запрос к
// камере с заголовками, отключающими кэширование.
func (m *Manager) ServeFrame(w http.ResponseWriter, r *http.Request, cameraID string) {
	s, ok := m.lookup(cameraID)
	if !ok {
		http.Error(w, ErrSessionNotFound.Error(), http.StatusNotFound)
		return
	}

	s.touch()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastBody != nil && time.Since(s.fetchedAt) < m.freshnessWindow {
		m.writeFrame(w, s.contentType, s.lastBody)
		return
	}

	body, contentType, err := m.fetchUpstream(r.Context(), s.UpstreamURL)
	if err != nil {
		m.logger.Warn("Upstream camera fetch failed",
			zap.String("camera_id", cameraID), zap.Error(err))
		// Сбой камеры не разрушает сессию
		http.Error(w, fmt.Sprintf("upstream camera error: %v", err), http.StatusBadGateway)
		return
	}

	s.lastBody = body
	s.contentType = contentType
	s.fetchedAt = time.Now()

	m.writeFrame(w, contentType, body)
}

// fetchUpstream запрашивает камеру, обходя промежуточные кэши
func (m *Manager) fetchUpstream(ctx context.Context, upstreamURL string) ([]byte, string, error) {
	// Антикэш параметр для камер, игнорирующих заголовки
	sep := "?"
	if strings.Contains(upstreamURL, "?") {
		sep = "&"
	}
	requestURL := upstreamURL + sep + fmt.Sprintf("t=%d", time.Now().UnixNano())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUpstreamCamera, err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUpstreamCamera, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: status %d", ErrUpstreamCamera, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUpstreamCamera, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}

	return body, contentType, nil
}

// writeFrame отдает байты клиенту как есть, запрещая кэширование ответа
func (m *Manager) writeFrame(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// SessionCount возвращает число активных прокси-сессий
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}

// PathPrefix возвращает префикс путей прокси
func (m *Manager) PathPrefix() string {
	return m.pathPrefix
}

// gcLoop удаляет сессии без запросов дольше idle-таймаута
func (m *Manager) gcLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.collect()
		case <-m.ctx.Done():
			return
		}
	}
}

// collect выполняет один проход сборки простаивающих сессий.
// Время доступа читается атомарно, без мьютекса сессии: проход сборки
// не встает за камерой, занятой медленным запросом, и не задерживает
// запросы к остальным камерам.
func (m *Manager) collect() {
	now := time.Now()

	m.mu.RLock()
	sessions := make(map[string]*Session, len(m.sessions))
	for cameraID, s := range m.sessions {
		sessions[cameraID] = s
	}
	m.mu.RUnlock()

	for cameraID, s := range sessions {
		idle := s.idleSince(now)
		if idle <= m.idleTimeout {
			continue
		}

		m.mu.Lock()
		// Между снимком и удалением сессия могла получить запрос
		// или быть пересоздана
		if cur, ok := m.sessions[cameraID]; ok && cur == s &&
			cur.idleSince(now) > m.idleTimeout {
			delete(m.sessions, cameraID)
			m.logger.Info("Idle proxy session collected",
				zap.String("camera_id", cameraID),
				zap.Duration("idle", idle))
		}
		m.mu.Unlock()
	}
}

// Stop останавливает менеджер и освобождает все сессии
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
}
