package http

import (
	"github.com/gin-gonic/gin"

	"my-room-spaces/internal/batch"
)

// BatchStatsSource 提供写后队列的运行统计。
type BatchStatsSource interface {
	Stats() map[string]batch.QueueStats
}

// ConnCounter 提供当前在线连接数。
type ConnCounter interface {
	ConnectionCount() int
}

// StatsHandler 暴露运维统计。
type StatsHandler struct {
	batch BatchStatsSource
	conns ConnCounter
}

// NewStatsHandler 创建实例。
func NewStatsHandler(b BatchStatsSource, conns ConnCounter) *StatsHandler {
	if b == nil {
		panic("BatchStatsSource must be non-nil for StatsHandler")
	}
	return &StatsHandler{batch: b, conns: conns}
}

// BatchStats 返回各写后队列的统计。路由：GET /api/batch/stats。
func (h *StatsHandler) BatchStats(c *gin.Context) {
	respondOK(c, h.batch.Stats())
}

// Overview 返回服务概览。路由：GET /api/stats。
func (h *StatsHandler) Overview(c *gin.Context) {
	out := gin.H{"queues": h.batch.Stats()}
	if h.conns != nil {
		out["connections"] = h.conns.ConnectionCount()
	}
	respondOK(c, out)
}
