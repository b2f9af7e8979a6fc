package handler

import (
	"net/http"
	"time"

	"github.com/openclaw/wa-session-broker/internal/model"
)

type SessionCounter interface {
	Counts() map[model.SessionState]int
}

type DriverStatus interface {
	Connected() bool
}

type HealthHandler struct {
	sessions SessionCounter
	driver   DriverStatus
}

func NewHealthHandler(sessions SessionCounter, driver DriverStatus) *HealthHandler {
	return &HealthHandler{sessions: sessions, driver: driver}
}

// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connected := h.driver.Connected()
	status := "ok"
	if !connected {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          status,
		"driverConnected": connected,
		"sessions":        h.sessions.Counts(),
		"timestamp":       time.Now().UnixMilli(),
	})
}
