// Package middleware 提供 HTTP 层的横切组件。
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"my-room-spaces/internal/repository"
)

// RateLimit 基于缓存层的固定窗口限流，按客户端 IP 计数。
// 限流器故障时放行：保护措施不能成为可用性单点。
func RateLimit(cache repository.CacheRepository, action string, limit int, window time.Duration) gin.HandlerFunc {
	log := logrus.WithField("component", "ratelimit_middleware")
	return func(c *gin.Context) {
		result, err := cache.CheckRateLimit(c.Request.Context(), c.ClientIP(), action, limit, window)
		if err != nil {
			log.WithError(err).Warn("Rate limit check failed, allowing request")
			c.Next()
			return
		}
		if !result.Allowed {
			log.WithFields(logrus.Fields{"ip": c.ClientIP(), "action": action}).Info("Request rate limited")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "too many requests",
			})
			return
		}
		c.Next()
	}
}
