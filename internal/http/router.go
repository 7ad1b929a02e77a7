package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 /metrics 等）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterLiveRoutes 实时状态
func (r *Router) RegisterLiveRoutes(h *LiveHandler) {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if !allowMethod(w, req, http.MethodGet) {
			return
		}
		h.Health(w, req)
	})

	r.Handle("/api/v1/live/state", func(w http.ResponseWriter, req *http.Request) {
		if !allowMethod(w, req, http.MethodGet) {
			return
		}
		h.GetState(w, req)
	})

	r.Handle("/api/v1/live/ws", func(w http.ResponseWriter, req *http.Request) {
		if !allowMethod(w, req, http.MethodGet) {
			return
		}
		h.ServeWS(w, req)
	})
}

// RegisterAnalysisRoutes 视频分析
func (r *Router) RegisterAnalysisRoutes(h *AnalysisHandler) {
	r.Handle("/api/v1/analysis/job", func(w http.ResponseWriter, req *http.Request) {
		if !allowMethod(w, req, http.MethodGet) {
			return
		}
		h.GetJob(w, req)
	})

	r.Handle("/api/v1/analysis/jobs", func(w http.ResponseWriter, req *http.Request) {
		if !allowMethod(w, req, http.MethodPost) {
			return
		}
		h.SubmitJob(w, req)
	})

	r.Handle("/api/v1/analysis/result", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			h.GetResult(w, req)
		case http.MethodDelete:
			h.ClearResult(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	r.Handle("/api/v1/analysis/timeline", func(w http.ResponseWriter, req *http.Request) {
		if !allowMethod(w, req, http.MethodGet) {
			return
		}
		h.GetTimeline(w, req)
	})

	r.Handle("/api/v1/analysis/detect-image", func(w http.ResponseWriter, req *http.Request) {
		if !allowMethod(w, req, http.MethodPost) {
			return
		}
		h.DetectImage(w, req)
	})
}

// RegisterAlertRoutes 报警历史
func (r *Router) RegisterAlertRoutes(h *AlertHandler) {
	r.Handle("/api/v1/alerts", func(w http.ResponseWriter, req *http.Request) {
		if !allowMethod(w, req, http.MethodGet) {
			return
		}
		h.ListAlerts(w, req)
	})
}

// RegisterMetricsRoute Prometheus 指标
func (r *Router) RegisterMetricsRoute(h http.Handler) {
	r.HandleHandler("/metrics", h)
}
