package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// ClientConn 负责发送（写）数据到客户端的轻量包装
type ClientConn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func NewClientConn(ws *websocket.Conn, buffer int) *ClientConn {
	if buffer <= 0 {
		buffer = 64
	}
	return &ClientConn{
		ws:   ws,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// Enqueue 将要发送的消息压入队列（非阻塞）。
// 返回 false 只表示队列已满；已关闭的连接直接丢弃。
func (c *ClientConn) Enqueue(b []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- b:
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close 关闭底层连接，读写协程随之退出；可重复调用
func (c *ClientConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// shutdown 服务退出时先发关闭帧再断开
func (c *ClientConn) shutdown() {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(writeWait))
	c.Close()
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定时发 ping
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取客户端消息，解码后交给会话处理；退出时会话离开房间
func (c *ClientConn) readPump(sess *Session, rt *Router, metrics *Metrics, log *zap.SugaredLogger) {
	defer func() {
		sess.Close()
		c.Close()
	}()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debugw("read error", "conn", sess.ID, "err", err)
			}
			return
		}
		msg, err := DecodeClientMessage(payload)
		if err != nil {
			metrics.IncBadMessage()
			rt.SendError(sess, err)
			continue
		}
		sess.Handle(msg)
	}
}

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// 允许所有来源（部署时按需收紧）
		CheckOrigin: func(r *http.Request) bool { return true },
	}
}

// handleWS WebSocket 接入：/ws?room=ABC123&name=alice，room 可省略（连上后再 join-game）
func (s *Server) handleWS(c *gin.Context) {
	ip := c.ClientIP()
	if !s.limiter.Allow(ip) {
		s.metrics.IncRateLimited()
		c.String(http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	roomID, err := normalizeRoomID(c.Query("room"), false)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnw("upgrade failed", "ip", ip, "err", err)
		return
	}

	conn := NewClientConn(ws, s.cfg.SendBuffer)
	sess := NewSession("", conn, s.registry, s.router, newLimiter(s.cfg.ActionsPerSecond))
	s.track(conn)
	s.metrics.ConnOpened()
	s.log.Debugw("connected", "conn", sess.ID, "ip", ip)

	if b, err := encodeEvent(EventWelcome, Welcome{ConnectionID: sess.ID}); err == nil {
		conn.Enqueue(b)
	}
	go conn.writePump()

	if roomID != "" {
		if err := sess.Join(roomID, normalizeName(c.Query("name"))); err != nil {
			s.router.SendError(sess, err)
		}
	}

	go func() {
		conn.readPump(sess, s.router, s.metrics, s.log)
		s.untrack(conn)
		s.metrics.ConnClosed()
		s.log.Debugw("disconnected", "conn", sess.ID)
	}()
}

func (s *Server) track(c *ClientConn) {
	s.connMu.Lock()
	s.conns[c] = struct{}{}
	s.connMu.Unlock()
}

func (s *Server) untrack(c *ClientConn) {
	s.connMu.Lock()
	delete(s.conns, c)
	s.connMu.Unlock()
}

func (s *Server) closeConns() {
	s.connMu.Lock()
	conns := make([]*ClientConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connMu.Unlock()
	for _, c := range conns {
		c.shutdown()
	}
}
