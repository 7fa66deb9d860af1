package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kevin-chat/internal/bootstrap"
)

type HealthHandler struct {
	app *bootstrap.App
}

type checkResult struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

func NewHealthHandler(app *bootstrap.App) *HealthHandler {
	return &HealthHandler{app: app}
}

// Check pings the three backing stores the chat path depends on: MySQL for
// transcripts, Redis for the history cache, RabbitMQ for the save queue.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]checkResult{
		"mysql":    h.checkMySQL(ctx),
		"redis":    h.checkRedis(ctx),
		"rabbitmq": h.checkQueue(),
	}

	healthy := true
	for _, result := range checks {
		healthy = healthy && result.Healthy
	}
	statusCode := http.StatusOK
	if !healthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"app":          h.app.Config.App.Name,
		"env":          h.app.Config.App.Env,
		"uptime_sec":   int(time.Since(h.app.StartedAt).Seconds()),
		"dependencies": checks,
	})
}

func (h *HealthHandler) checkMySQL(ctx context.Context) checkResult {
	sqlDB, err := h.app.MySQL.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return checkResult{Detail: err.Error()}
	}
	return checkResult{Healthy: true}
}

func (h *HealthHandler) checkRedis(ctx context.Context) checkResult {
	if err := h.app.Redis.Ping(ctx).Err(); err != nil {
		return checkResult{Detail: err.Error()}
	}
	return checkResult{Healthy: true}
}

func (h *HealthHandler) checkQueue() checkResult {
	if h.app.MQConn == nil || h.app.MQConn.IsClosed() {
		return checkResult{Detail: "connection closed"}
	}
	return checkResult{Healthy: true}
}
