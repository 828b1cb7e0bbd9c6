// Package websocket 负责把 HTTP 请求升级为 WebSocket 连接并接入 Hub。
package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"my-room-spaces/internal/hub"
	"my-room-spaces/internal/service"
)

// DefaultSpaceID 是未指定 space 参数时加入的空间。
const DefaultSpaceID = "main"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 跨域由部署前置层（反向代理）控制，这里放行。
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler 处理 WebSocket 升级请求。
type Handler struct {
	hub *hub.Hub
	log *logrus.Entry
}

// NewHandler 创建实例。
func NewHandler(h *hub.Hub) *Handler {
	if h == nil {
		panic("Hub must be non-nil for websocket Handler")
	}
	return &Handler{hub: h, log: logrus.WithField("component", "ws_handler")}
}

// Serve 升级连接并注册到 Hub。路由：GET /ws?space=<space_id>。
func (h *Handler) Serve(c *gin.Context) {
	spaceID := c.DefaultQuery("space", DefaultSpaceID)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	connID := service.NewConnID()
	client := hub.NewClient(h.hub, conn, spaceID, connID)
	h.log.WithFields(logrus.Fields{"space_id": spaceID, "conn_id": connID, "remote": c.ClientIP()}).
		Info("WebSocket connection established")

	h.hub.Register(client)
	client.Run()
}
