// Package ws реализует ленту оповещений об аномалиях по WebSocket
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"aquaflow-service/internal/metrics"
)

// Alert оповещение об аномальном показании расходомера
type Alert struct {
	ID          string    `json:"id"`
	MeterCode   string    `json:"meter_code"`
	TS          time.Time `json:"ts"`
	FlowLPM     float64   `json:"flow_lpm"`
	ZScore      *float64  `json:"zscore,omitempty"`
	RollingLow  *float64  `json:"rolling_low,omitempty"`
	RollingHigh *float64  `json:"rolling_high,omitempty"`
	Method      string    `json:"method"`
	DetectedAt  time.Time `json:"detected_at"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client одно подключение ленты; мьютекс сериализует записи в сокет
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Hub рассылает оповещения всем подключенным клиентам
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub создает пустой хаб оповещений
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
	}
}

// HandleAlerts обрабатывает GET /ws/alerts: апгрейд соединения
// и удержание клиента до закрытия с его стороны
func (h *Hub) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.WSClients.Set(float64(h.ClientCount()))
	log.Printf("WebSocket alert client connected: %s", conn.RemoteAddr())

	// Читаем только для обнаружения закрытия; входящие данные не обрабатываем
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}
	}

	h.remove(c)
	log.Printf("WebSocket alert client disconnected: %s", conn.RemoteAddr())
}

// Broadcast рассылает оповещение всем клиентам.
// Клиенты с ошибкой записи отключаются.
func (h *Hub) Broadcast(a Alert) {
	data, err := json.Marshal(a)
	if err != nil {
		log.Printf("Failed to marshal alert: %v", err)
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			h.remove(c)
		}
	}
}

// ClientCount возвращает число подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close закрывает все подключения
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
	h.mu.Unlock()
	metrics.WSClients.Set(0)
}

// remove удаляет клиента и закрывает его соединение
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.conn.Close()
	}
	h.mu.Unlock()
	metrics.WSClients.Set(float64(h.ClientCount()))
}
