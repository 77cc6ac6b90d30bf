package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/krobus00/market-collector/internal/entity"
	"github.com/krobus00/market-collector/internal/service/collector"
	"github.com/sirupsen/logrus"
)

type linkController interface {
	Health() []collector.LinkHealth
	Restart(exchange entity.ExchangeName) error
}

type LinksResponse struct {
	Links []collector.LinkHealth `json:"links"`
}

type RestartResponse struct {
	Exchange string `json:"exchange"`
	Status   string `json:"status"`
}

type Handler struct {
	supervisor linkController
}

func NewCollectorHTTPHandler(supervisor linkController) *Handler {
	return &Handler{supervisor: supervisor}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/collector/v1/links", h.ListLinks)
	mux.HandleFunc("/collector/v1/links/restart", h.RestartLink)
}

func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	links := h.supervisor.Health()
	if links == nil {
		links = []collector.LinkHealth{}
	}

	writeJSON(w, http.StatusOK, LinksResponse{Links: links})
}

// RestartLink relaunches a link that has already failed.
func (h *Handler) RestartLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	exchange := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("exchange")))
	if exchange == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "exchange is required"})
		return
	}

	err := h.supervisor.Restart(entity.ExchangeName(exchange))
	switch {
	case err == nil:
	case errors.Is(err, entity.ErrLinkNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	case errors.Is(err, entity.ErrLinkNotFailed):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		return
	case errors.Is(err, collector.ErrSupervisorStopped):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	default:
		logrus.WithError(err).WithField("exchange", exchange).Error("failed to restart link")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusAccepted, RestartResponse{Exchange: exchange, Status: "restarting"})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
