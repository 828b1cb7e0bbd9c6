// Package http 暴露世界状态的只读投影与模型管理的 REST 接口。
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"my-room-spaces/internal/service"
)

// respondOK 统一成功响应：{"success": true, "data": ...}。
func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// respondError 统一错误响应：{"success": false, "error": "..."}。
func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

// handleServiceError 把服务层错误映射到 HTTP 状态码。
func handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrModelNotFound):
		respondError(c, http.StatusNotFound, "model not found")
	case errors.Is(err, service.ErrValidation):
		respondError(c, http.StatusBadRequest, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "internal server error")
	}
}
