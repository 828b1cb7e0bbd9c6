package http

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"my-room-spaces/internal/domain"
	"my-room-spaces/internal/service"
)

// DefaultSpaceID 是未指定 space 参数时查询的空间。
const DefaultSpaceID = "main"

// WorldHandler 提供世界状态的只读 HTTP 投影。
// 读路径与加入一致：内存 → 缓存 → Durable Store，不会打开空间。
type WorldHandler struct {
	svc *service.SpaceService
	log *logrus.Entry
}

// NewWorldHandler 创建实例。
func NewWorldHandler(svc *service.SpaceService) *WorldHandler {
	if svc == nil {
		panic("SpaceService must be non-nil for WorldHandler")
	}
	return &WorldHandler{svc: svc, log: logrus.WithField("component", "world_handler")}
}

// GetWorldState 返回整个空间快照。路由：GET /api/world-state?space=<id>。
func (h *WorldHandler) GetWorldState(c *gin.Context) {
	spaceID := c.DefaultQuery("space", DefaultSpaceID)
	snap, err := h.svc.SnapshotFor(c.Request.Context(), spaceID)
	if err != nil {
		h.log.WithError(err).WithField("space_id", spaceID).Error("Failed to load world state")
		handleServiceError(c, err)
		return
	}
	respondOK(c, snap)
}

// GetUsers 返回空间内的在线形象列表。路由：GET /api/users?space=<id>。
func (h *WorldHandler) GetUsers(c *gin.Context) {
	spaceID := c.DefaultQuery("space", DefaultSpaceID)
	snap, err := h.svc.SnapshotFor(c.Request.Context(), spaceID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	users := make([]domain.AvatarState, 0, len(snap.Users))
	for _, u := range snap.Users {
		users = append(users, u)
	}
	respondOK(c, gin.H{"spaceId": spaceID, "count": len(users), "users": users})
}

// GetObjects 返回空间内的对象列表。路由：GET /api/objects?space=<id>。
func (h *WorldHandler) GetObjects(c *gin.Context) {
	spaceID := c.DefaultQuery("space", DefaultSpaceID)
	snap, err := h.svc.SnapshotFor(c.Request.Context(), spaceID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	objects := make([]domain.ObjectState, 0, len(snap.Objects))
	for _, o := range snap.Objects {
		objects = append(objects, o)
	}
	respondOK(c, gin.H{"spaceId": spaceID, "count": len(objects), "objects": objects})
}
