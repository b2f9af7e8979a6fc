package handler

import (
	"context"
	"net/http"

	"github.com/openclaw/wa-session-broker/internal/audit"
	"github.com/openclaw/wa-session-broker/internal/jobs"
	"github.com/openclaw/wa-session-broker/internal/middleware"
)

type Cleaner interface {
	RunOnce(ctx context.Context) jobs.Summary
}

type CleanupHandler struct {
	cleaner Cleaner
}

func NewCleanupHandler(cleaner Cleaner) *CleanupHandler {
	return &CleanupHandler{cleaner: cleaner}
}

// POST /v1/cleanup
func (h *CleanupHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sum := h.cleaner.RunOnce(r.Context())

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventCleanupRun,
		OwnerID: middleware.GetOwner(r.Context()),
		Details: map[string]any{
			"expiredQr":       sum.ExpiredQR,
			"evictedSessions": sum.EvictedSessions,
			"failedMedia":     sum.FailedMedia,
		},
	})
	writeJSON(w, http.StatusOK, sum)
}
