package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"my-room-spaces/internal/domain"
	"my-room-spaces/internal/service"
)

// ModelHandler 管理上传模型的元数据。文件本体由外部对象存储承载，
// 这里只登记引用（StorageKey/PublicURL）。
type ModelHandler struct {
	svc *service.SpaceService
	log *logrus.Entry
}

// NewModelHandler 创建实例。
func NewModelHandler(svc *service.SpaceService) *ModelHandler {
	if svc == nil {
		panic("SpaceService must be non-nil for ModelHandler")
	}
	return &ModelHandler{svc: svc, log: logrus.WithField("component", "model_handler")}
}

// registerModelRequest 是 POST /api/models 的请求体。
type registerModelRequest struct {
	ModelID    string `json:"modelId"`
	Name       string `json:"name" binding:"required"`
	StorageKey string `json:"storageKey" binding:"required"`
	PublicURL  string `json:"publicUrl"`
	FileSize   int64  `json:"fileSize"`
	Format     string `json:"format"`
	UploadedBy string `json:"uploadedBy"`
}

// Register 登记模型元数据。路由：POST /api/models。
func (h *ModelHandler) Register(c *gin.Context) {
	var req registerModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	model := &domain.UploadedModel{
		ModelID:    req.ModelID,
		Name:       req.Name,
		StorageKey: req.StorageKey,
		PublicURL:  req.PublicURL,
		FileSize:   req.FileSize,
		Format:     req.Format,
		UploadedBy: req.UploadedBy,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.svc.RegisterModel(c.Request.Context(), model); err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": model})
}

// List 返回全部模型元数据。路由：GET /api/models。
func (h *ModelHandler) List(c *gin.Context) {
	models, err := h.svc.ListModels(c.Request.Context())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"count": len(models), "models": models})
}

// Delete 级联删除模型及其放置的对象。路由：DELETE /api/models/:modelId。
func (h *ModelHandler) Delete(c *gin.Context) {
	modelID := c.Param("modelId")
	if modelID == "" {
		respondError(c, http.StatusBadRequest, "model id is required")
		return
	}
	if err := h.svc.DeleteModel(c.Request.Context(), modelID); err != nil {
		handleServiceError(c, err)
		return
	}
	h.log.WithField("model_id", modelID).Info("Model deleted via API")
	respondOK(c, gin.H{"modelId": modelID, "deleted": true})
}
