package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"shopline/internal/pkg/logger"
	"shopline/internal/service/order/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 后台和 API 不同源，鉴权由网关完成
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StockFeedMessage 是推送给后台的一次库存变化
type StockFeedMessage struct {
	WebshopID string              `json:"webshopId"`
	Deltas    []domain.StockDelta `json:"deltas"`
	At        time.Time           `json:"at"`
}

// StockFeedHub 维护按 webshop 分组的 websocket 连接，实现 port.StockFeed。
// 推送不阻塞账本：客户端的发送缓冲满了就断开它。
type StockFeedHub struct {
	lock    sync.RWMutex
	clients map[string]map[*feedClient]struct{}
	closed  bool
}

type feedClient struct {
	hub       *StockFeedHub
	conn      *websocket.Conn
	send      chan []byte
	webshopID string
	once      sync.Once
}

func NewStockFeedHub() *StockFeedHub {
	return &StockFeedHub{clients: make(map[string]map[*feedClient]struct{})}
}

// Publish 把增量广播给订阅了该 webshop 的所有连接
func (h *StockFeedHub) Publish(ctx context.Context, webshopID string, deltas []domain.StockDelta) {
	payload, err := json.Marshal(StockFeedMessage{WebshopID: webshopID, Deltas: deltas, At: time.Now()})
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("encode stock feed message")
		return
	}

	h.lock.RLock()
	var slow []*feedClient
	for c := range h.clients[webshopID] {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.lock.RUnlock()

	for _, c := range slow {
		logger.Ctx(ctx).Warn().Str("webshop", webshopID).Msg("stock feed client too slow, disconnecting")
		h.unregister(c)
	}
}

// Subscribers 返回某个 webshop 当前的连接数
func (h *StockFeedHub) Subscribers(webshopID string) int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients[webshopID])
}

// ServeWebshop 把请求升级为 websocket 并订阅路径中的 webshop
func (h *StockFeedHub) ServeWebshop(w http.ResponseWriter, r *http.Request) {
	webshopID := r.PathValue("id")
	if webshopID == "" {
		http.Error(w, "webshop id is required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &feedClient{hub: h, conn: conn, send: make(chan []byte, sendBuffer), webshopID: webshopID}
	if !h.register(c) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// Close 断开所有连接，之后的订阅直接拒绝
func (h *StockFeedHub) Close() {
	h.lock.Lock()
	h.closed = true
	var all []*feedClient
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.lock.Unlock()
	for _, c := range all {
		h.unregister(c)
	}
}

func (h *StockFeedHub) register(c *feedClient) bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[c.webshopID]
	if !ok {
		set = make(map[*feedClient]struct{})
		h.clients[c.webshopID] = set
	}
	set[c] = struct{}{}
	return true
}

func (h *StockFeedHub) unregister(c *feedClient) {
	c.once.Do(func() {
		h.lock.Lock()
		if set, ok := h.clients[c.webshopID]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.clients, c.webshopID)
			}
		}
		close(c.send)
		h.lock.Unlock()
	})
}

// writePump 把 send 中的消息写入连接，并定期发送 ping
func (c *feedClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister(c)
				return
			}
		}
	}
}

// readPump 只处理 pong 和关闭，客户端不会发送业务消息
func (c *feedClient) readPump() {
	defer c.hub.unregister(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
