package httpapi

import (
	"context"
	"net/http"

	"github.com/Akshita1414/Taarini/internal/models"

	"go.uber.org/zap"
)

// AlertEventLister 报警历史查询（repository.AlertEventRepository 实现）
type AlertEventLister interface {
	ListRecentAlertEvents(ctx context.Context, level models.AlertLevel, limit int) ([]*models.AlertEvent, error)
}

// AlertHandler 报警历史接口
type AlertHandler struct {
	repo   AlertEventLister
	logger *zap.Logger
}

func NewAlertHandler(repo AlertEventLister, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{repo: repo, logger: logger}
}

// ListAlerts GET /api/v1/alerts?level=critical&limit=50
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	level := models.AlertLevel(r.URL.Query().Get("level"))
	if level != "" && !level.Valid() {
		writeJSON(w, http.StatusBadRequest, Fail("invalid level"))
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), 50)

	events, err := h.repo.ListRecentAlertEvents(r.Context(), level, limit)
	if err != nil {
		h.logger.Error("Failed to list alert events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list alert events"))
		return
	}
	if events == nil {
		events = []*models.AlertEvent{}
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": events,
		"total": len(events),
	}))
}
