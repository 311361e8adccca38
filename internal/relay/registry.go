package relay

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Connection — одно зарегистрированное клиентское соединение.
// Владельцем жизненного цикла является Registry.
type Connection struct {
	ID          string
	SendChan    chan []byte
	ConnectedAt time.Time

	mu     sync.Mutex
	closed bool
}

// enqueue кладет сообщение в исходящую очередь без блокировки.
// Возвращает false если соединение закрыто или очередь переполнена.
func (c *Connection) enqueue(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.SendChan <- message:
		return true
	default:
		// Очередь полна: медленный клиент теряет сообщение,
		// остальные не ждут
		return false
	}
}

// close закрывает исходящий канал ровно один раз
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.SendChan)
	}
}

// Registry отображает идентификатор клиента на его живое соединение.
// Единственная структура с конкурентным доступом из независимых сессий.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection

	queueSize int
	logger    *zap.Logger
}

// NewRegistry создает новый реестр соединений
func NewRegistry(queueSize int, logger *zap.Logger) *Registry {
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Registry{
		connections: make(map[string]*Connection),
		queueSize:   queueSize,
		logger:      logger,
	}
}

// Register устанавливает соединение для идентификатора. Существующее
// соединение с тем же идентификатором закрывается: на один идентификатор
// приходится не более одного живого канала.
func (r *Registry) Register(id string) *Connection {
	conn := &Connection{
		ID:          id,
		SendChan:    make(chan []byte, r.queueSize),
		ConnectedAt: time.Now(),
	}

	r.mu.Lock()
	old, exists := r.connections[id]
	r.connections[id] = conn
	r.mu.Unlock()

	if exists {
		old.close()
		r.logger.Info("Replaced existing connection", zap.String("client_id", id))
	} else {
		r.logger.Info("Client registered", zap.String("client_id", id))
	}

	return conn
}

// Unregister удаляет соединение; идемпотентна. Если под идентификатором
// уже зарегистрировано другое соединение, оно не трогается.
func (r *Registry) Unregister(id string, conn *Connection) {
	r.mu.Lock()
	current, exists := r.connections[id]
	if exists && (conn == nil || current == conn) {
		delete(r.connections, id)
	} else {
		exists = false
	}
	r.mu.Unlock()

	if exists {
		current.close()
		r.logger.Info("Client unregistered", zap.String("client_id", id))
	}
	if conn != nil {
		conn.close()
	}
}

// Send ставит сообщение в очередь соединения. ErrConnectionNotFound
// означает, что клиент отключился; вызывающий не считает это фатальным.
func (r *Registry) Send(id string, message []byte) error {
	r.mu.RLock()
	conn, exists := r.connections[id]
	r.mu.RUnlock()

	if !exists {
		return ErrConnectionNotFound
	}

	if !conn.enqueue(message) {
		return ErrConnectionNotFound
	}

	return nil
}

// Broadcast доставляет сообщение каждому зарегистрированному соединению.
// Сбой одного соединения не мешает доставке остальным.
func (r *Registry) Broadcast(message []byte) {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if !conn.enqueue(message) {
			r.logger.Warn("Broadcast dropped for client",
				zap.String("client_id", conn.ID))
		}
	}
}

// Count возвращает количество зарегистрированных соединений
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.connections)
}

// CloseAll закрывает все соединения при остановке сервиса
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.connections
	r.connections = make(map[string]*Connection)
	r.mu.Unlock()

	for id, conn := range conns {
		conn.close()
		r.logger.Info("Client disconnected on shutdown", zap.String("client_id", id))
	}
}
