package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"multileg/internal/models"
	"multileg/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Пул JSON буферов: Broadcast вызывается на каждый dirty-тик,
// аллокации на каждое сообщение дают заметный мусор
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями.
//
// Один broadcast-канал на всех клиентов: сообщения о задачах и
// событиях исполнения рассылаются каждому подключенному оператору.
// Медленные клиенты отключаются вместо блокировки рассылки.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}

	// dropped - сообщения, отброшенные из-за переполненного канала
	dropped atomic.Int64

	logger *utils.Logger

	mu sync.RWMutex
}

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		logger:     utils.L().WithComponent("websocket"),
	}
}

// Run запускает главный цикл Hub.
// Должен запускаться в отдельной горутине: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", utils.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", utils.Int("total", total))

		case message := <-h.broadcast:
			// Снимок клиентов под коротким RLock, отправка без блокировки
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				h.logger.Warn("removed slow clients",
					utils.Int("removed", len(toRemove)),
					utils.Int("total", total))
			}
		}
	}
}

// Broadcast сериализует сообщение и рассылает его всем клиентам
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.logger.Error("failed to marshal broadcast message", utils.Err(err))
		jsonBufferPool.Put(buf)
		return
	}

	// Encode добавляет trailing newline
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	h.BroadcastRaw(msgCopy)
}

// BroadcastRaw рассылает уже сериализованное сообщение.
// Не блокируется: при переполненном канале сообщение отбрасывается.
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
	}
}

// Stop останавливает главный цикл и отключает всех клиентов
func (h *Hub) Stop() {
	close(h.stop)
}

// DroppedMessages возвращает количество отброшенных сообщений
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}

// BroadcastTaskUpdate отправляет снимок контекста задачи.
// Вызывается планировщиком после каждого dirty-тика.
func (h *Hub) BroadcastTaskUpdate(tc models.TaskContext) {
	h.Broadcast(NewTaskUpdateMessage(tc))
}

// BroadcastNotification отправляет событие исполнения
func (h *Hub) BroadcastNotification(n models.Notification) {
	h.Broadcast(NewNotificationMessage(n))
}

// ConsumeNotifications пересылает события из канала уведомлений
// всем клиентам. Запускается в горутине; завершается когда канал
// закрыт.
func (h *Hub) ConsumeNotifications(notify <-chan models.Notification) {
	for n := range notify {
		h.BroadcastNotification(n)
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
