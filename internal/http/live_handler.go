package httpapi

import (
	"net/http"

	"github.com/Akshita1414/Taarini/internal/consumer"
	"github.com/Akshita1414/Taarini/internal/models"

	"go.uber.org/zap"
)

// LiveSource 实时视图来源（consumer.LiveConsumer 实现）
type LiveSource interface {
	Current() consumer.LiveSnapshot
}

// LiveHandler 实时状态接口
type LiveHandler struct {
	live   LiveSource
	hub    *Hub
	logger *zap.Logger
}

func NewLiveHandler(live LiveSource, hub *Hub, logger *zap.Logger) *LiveHandler {
	return &LiveHandler{live: live, hub: hub, logger: logger}
}

type healthView struct {
	Status           string                  `json:"status"`
	SensorStatus     models.ConnectionStatus `json:"sensor_status"`
	DetectionStatus  models.ConnectionStatus `json:"detection_status"`
	AlertLevel       models.AlertLevel       `json:"alert_level"`
	WebSocketClients int                     `json:"websocket_clients"`
}

// Health 服务健康状态；数据流异常时 status 为 degraded，HTTP 状态仍为 200
func (h *LiveHandler) Health(w http.ResponseWriter, r *http.Request) {
	current := h.live.Current()
	view := healthView{
		Status:          "ok",
		SensorStatus:    current.State.SensorStatus,
		DetectionStatus: current.State.DetectionStatus,
		AlertLevel:      current.Assessment.Level,
	}
	if current.State.AnyErrored() {
		view.Status = "degraded"
	}
	if h.hub != nil {
		view.WebSocketClients = h.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, Ok(view))
}

// GetState 当前运行状态与分级
func (h *LiveHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.live.Current()))
}

// ServeWS 实时状态推送
func (h *LiveHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeJSON(w, http.StatusServiceUnavailable, Fail("live feed is not enabled"))
		return
	}
	h.hub.ServeWS(w, r, h.live.Current())
}
