package hub

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端。
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	spaceID string
	connID  string
	send    chan []byte // 向此客户端发送消息的缓冲通道
}

// NewClient 创建 Client 实例。
func NewClient(hub *Hub, conn *websocket.Conn, spaceID, connID string) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		spaceID: spaceID,
		connID:  connID,
		send:    make(chan []byte, 256),
	}
}

func (c *Client) SpaceID() string { return c.spaceID }
func (c *Client) ConnID() string  { return c.connID }

// CloseConn 关闭底层连接，触发读写泵退出。
func (c *Client) CloseConn() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Run 启动客户端的读写 goroutine。
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

// ReadPump 把消息从 WebSocket 连接泵送到所属空间的有序队列。
// 它在自己的 goroutine 中运行；退出时触发注销。
func (c *Client) ReadPump() {
	logCtx := logrus.WithFields(logrus.Fields{"conn_id": c.connID, "space_id": c.spaceID})
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		logCtx.Info("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed")
			}
			break
		}
		if messageType != websocket.TextMessage {
			logCtx.Debugf("Ignoring non-text message type: %d", messageType)
			continue
		}
		c.hub.Route(c, message)
	}
}

// WritePump 把消息从 send 通道泵送到 WebSocket 连接，并周期发送 Ping。
func (c *Client) WritePump() {
	logCtx := logrus.WithFields(logrus.Fields{"conn_id": c.connID, "space_id": c.spaceID})
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		logCtx.Info("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// send 通道被 Hub 关闭（注销时）。
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logCtx.WithError(err).Warn("Failed to write message to websocket")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logCtx.WithError(err).Warn("Failed to send ping message")
				return
			}
		}
	}
}

// enqueueSend 非阻塞地把已序列化的消息放入发送队列。
// 慢客户端不能拖住整个空间的投递：队列满时丢弃并告警。
func (c *Client) enqueueSend(message []byte) {
	select {
	case c.send <- message:
	default:
		logrus.WithFields(logrus.Fields{"conn_id": c.connID, "space_id": c.spaceID}).
			Warn("Client send channel full, message dropped")
	}
}
