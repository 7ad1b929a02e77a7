package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Akshita1414/Taarini/internal/consumer"
	"github.com/Akshita1414/Taarini/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	hubPendingLimit  = 256
	clientSendBuffer = 32
	pongWait         = 60 * time.Second
	pingPeriod       = 54 * time.Second
	writeWait        = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 展示端与服务同源部署或经反向代理转发
	CheckOrigin: func(r *http.Request) bool { return true },
}

// liveMessage WebSocket 推送消息
type liveMessage struct {
	Type      string                `json:"type"`
	Data      consumer.LiveSnapshot `json:"data"`
	Timestamp time.Time             `json:"timestamp"`
}

// hubMessage 已编码的推送消息
type hubMessage struct {
	revision   uint64
	transition bool // 报警级别变化
	data       []byte
}

// Hub WebSocket 连接管理与实时状态广播
//
// 待发送队列中相邻的普通状态会合并为最新一条；报警级别变化的消息不合并、不丢弃。
// 新连接加入时先收到 hub 已知的最新状态。
type Hub struct {
	clients    map[*hubClient]bool
	register   chan *hubClient
	unregister chan *hubClient
	notify     chan struct{}
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *zap.Logger

	pendingMu sync.Mutex
	pending   []hubMessage
	latest    *hubMessage
	lastLevel models.AlertLevel
}

type hubClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	initial      hubMessage
	lastRevision uint64 // 仅在 Run 协程中访问
}

// NewHub 创建 hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*hubClient]bool),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run 主循环，阻塞直到 ctx 取消
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			first := h.newest(client.initial)
			if first.data != nil {
				client.send <- first.data
			}
			client.lastRevision = first.revision

			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("WebSocket client connected", zap.Int("clients", count))

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("WebSocket client disconnected", zap.Int("clients", count))

		case <-h.notify:
			for _, message := range h.takePending() {
				h.fanOut(message)
			}
		}
	}
}

func (h *Hub) fanOut(message hubMessage) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		// 加入时已收到同一或更新的状态
		if message.revision <= client.lastRevision {
			continue
		}
		select {
		case client.send <- message.data:
			client.lastRevision = message.revision
		default:
			// 客户端消费过慢，断开；重连后会先收到最新状态
			close(client.send)
			delete(h.clients, client)
			h.logger.Warn("Dropping slow WebSocket client",
				zap.Uint64("revision", message.revision),
				zap.Bool("transition", message.transition),
			)
		}
	}
}

// newest 返回 initial 与 hub 最新状态中较新的一条
func (h *Hub) newest(initial hubMessage) hubMessage {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	if h.latest != nil && (initial.data == nil || h.latest.revision >= initial.revision) {
		return *h.latest
	}
	return initial
}

func (h *Hub) takePending() []hubMessage {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	pending := h.pending
	h.pending = nil
	return pending
}

// Broadcast 推送实时视图，不阻塞调用方
func (h *Hub) Broadcast(snapshot consumer.LiveSnapshot) {
	data, err := encodeLiveMessage(snapshot)
	if err != nil {
		h.logger.Warn("Failed to marshal live message", zap.Error(err))
		return
	}

	h.pendingMu.Lock()
	message := hubMessage{
		revision:   snapshot.State.Revision,
		transition: snapshot.Assessment.Level != h.lastLevel,
		data:       data,
	}
	h.lastLevel = snapshot.Assessment.Level
	latest := message
	h.latest = &latest

	if n := len(h.pending); n > 0 && !h.pending[n-1].transition && !message.transition {
		h.pending[n-1] = message
	} else {
		h.pending = append(h.pending, message)
	}
	if overflow := len(h.pending) - hubPendingLimit; overflow > 0 {
		// hub 未运行；只保留最近的消息
		h.pending = append([]hubMessage{}, h.pending[overflow:]...)
	}
	h.pendingMu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeWS 升级连接并加入广播；加入时先发送 initial 与 hub 最新状态中较新的一条
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, initial consumer.LiveSnapshot) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection to WebSocket", zap.Error(err))
		return
	}

	client := &hubClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}
	if data, err := encodeLiveMessage(initial); err == nil {
		client.initial = hubMessage{revision: initial.State.Revision, data: data}
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func encodeLiveMessage(snapshot consumer.LiveSnapshot) ([]byte, error) {
	return json.Marshal(liveMessage{
		Type:      "state",
		Data:      snapshot,
		Timestamp: time.Now(),
	})
}

// readPump 只处理控制帧；连接关闭后注销
func (c *hubClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *hubClient) writePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
