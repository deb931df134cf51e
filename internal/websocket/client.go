package websocket

import (
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"multileg/pkg/utils"
)

const (
	// Время ожидания записи сообщения
	writeWait = 10 * time.Second

	// Время ожидания между pong сообщениями
	pongWait = 60 * time.Second

	// Интервал отправки ping сообщений (должен быть меньше pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящего сообщения
	maxMessageSize = 65536

	// Размер буфера отправки клиента
	clientSendBufferSize = 512
)

// OriginChecker проверяет Origin по карте разрешённых доменов
type OriginChecker struct {
	allowedOrigins map[string]struct{}
	allowAll       bool
}

var originChecker = initOriginChecker()

func initOriginChecker() *OriginChecker {
	checker := &OriginChecker{
		allowedOrigins: make(map[string]struct{}),
	}

	// ALLOWED_ORIGINS=http://localhost:3000,https://panel.example.com
	envOrigins := os.Getenv("ALLOWED_ORIGINS")

	if envOrigins == "" || envOrigins == "*" {
		checker.allowAll = true
	} else {
		for _, origin := range strings.Split(envOrigins, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				checker.allowedOrigins[origin] = struct{}{}
			}
		}
	}

	return checker
}

// Check проверяет origin
func (oc *OriginChecker) Check(origin string) bool {
	if origin == "" {
		return true // не-браузерные клиенты
	}
	if oc.allowAll {
		return true
	}
	_, ok := oc.allowedOrigins[origin]
	return ok
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return originChecker.Check(r.Header.Get("Origin"))
	},
	EnableCompression: true,
}

// clientPool переиспользует Client структуры между подключениями
var clientPool = sync.Pool{
	New: func() interface{} {
		return &Client{
			send: make(chan []byte, clientSendBufferSize),
		}
	},
}

// Client представляет одно WebSocket соединение.
//
// Две горутины на клиента: readPump контролирует живость
// соединения, writePump рассылает сообщения из канала send.
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	send chan []byte
}

// readPump читает сообщения от клиента и следит за pong
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		c.returnToPool()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Панель только слушает; входящие сообщения игнорируются
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				utils.L().WithComponent("websocket").Warn("read error", utils.Err(err))
			}
			break
		}
	}
}

// writePump отправляет сообщения клиенту и шлёт периодический ping
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub закрыл канал
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Досылаем накопившиеся сообщения одним фреймом
		drainLoop:
			for {
				select {
				case msg, ok := <-c.send:
					if !ok {
						break drainLoop
					}
					w.Write([]byte{'\n'})
					w.Write(msg)
				default:
					break drainLoop
				}
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS апгрейдит HTTP соединение до WebSocket и регистрирует
// клиента в hub
//
// Использование в routes:
//
//	router.HandleFunc("/ws/stream", func(w, r) { websocket.ServeWS(hub, w, r) })
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		utils.L().WithComponent("websocket").Warn("upgrade failed", utils.Err(err))
		return
	}

	client := clientPool.Get().(*Client)
	client.conn = conn
	client.hub = hub
	for len(client.send) > 0 {
		<-client.send
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// returnToPool возвращает клиента в пул после отключения.
// Канал send к этому моменту закрыт hub'ом, пересоздаём.
func (c *Client) returnToPool() {
	c.conn = nil
	c.hub = nil
	c.send = make(chan []byte, clientSendBufferSize)
	clientPool.Put(c)
}
