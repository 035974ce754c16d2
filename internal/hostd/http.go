package hostd

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"orgrender/internal/invoker"
	"orgrender/internal/ipc"
	"orgrender/internal/logging"
	"orgrender/internal/services"
)

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	Daemon        string `json:"daemon"`
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the HTTP API router.
func (h *Host) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(h.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealthz)
	r.Get("/status", h.handleStatus)
	r.Post("/render", h.handleRender)

	return r
}

func (h *Host) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Int64("duration_ms", time.Since(start).Milliseconds()),
			logging.String("http_request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// handleHealthz answers 200 while the engine daemon is alive and 503 once it
// is dead.
func (h *Host) handleHealthz(w http.ResponseWriter, r *http.Request) {
	live := h.sup.Liveness()
	resp := HealthzResponse{
		Status: "ok",
		Daemon: h.sup.Name(),
		State:  live.State().String(),
	}
	if !h.startedAt.IsZero() {
		resp.UptimeSeconds = int64(time.Since(h.startedAt).Seconds())
	}
	code := http.StatusOK
	if live.Dead() {
		resp.Status = "dead"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (h *Host) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Status(r.Context()))
}

// handleRender renders one document. The body is an ipc.RenderRequest; its
// output path is ignored and the HTML is returned in the response only.
func (h *Host) handleRender(w http.ResponseWriter, r *http.Request) {
	var req ipc.RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "source is required"})
		return
	}
	res := h.Render(r.Context(), invoker.Request{Source: req.Source, Debug: req.Debug})
	writeJSON(w, renderStatusCode(res.Err), RenderResponse(res))
}

func renderStatusCode(err error) int {
	switch services.Outcome(err) {
	case services.OutcomeSucceeded:
		return http.StatusOK
	case services.OutcomeDead:
		return http.StatusServiceUnavailable
	case services.OutcomeUnreachable, services.OutcomeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
