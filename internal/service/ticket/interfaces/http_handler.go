package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"eventix/internal/pkg/logger"
	"eventix/internal/service/ticket/application"
	"eventix/internal/service/ticket/domain"
)

// 幂等键通过请求头传递，缺省表示请求方放弃幂等保护。
const idempotencyKeyHeader = "Idempotency-Key"

// TicketHandler 封装了 ticket 服务的 HTTP 处理器
type TicketHandler struct {
	service *application.TicketService
}

// NewTicketHandler 创建一个新的 HTTP 处理器实例
func NewTicketHandler(service *application.TicketService) *TicketHandler {
	return &TicketHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *TicketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/tickets/reserve", h.reserveHandler)
	mux.HandleFunc("/tickets/confirm", h.confirmHandler)
	mux.HandleFunc("/tickets/release", h.releaseHandler)
	mux.HandleFunc("/tickets/availability/", h.availabilityHandler)
	mux.HandleFunc("/tickets/user/", h.userReservationsHandler)
}

func (h *TicketHandler) reserveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := extractTraceContext(r)

	var req application.ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.service.Reserve(ctx, &req, r.Header.Get(idempotencyKeyHeader))
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *TicketHandler) confirmHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := extractTraceContext(r)

	var req application.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReservationID == "" {
		writeError(w, http.StatusBadRequest, "reservationId is required")
		return
	}

	resp, err := h.service.Confirm(ctx, req.ReservationID)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *TicketHandler) releaseHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := extractTraceContext(r)

	var req application.ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReservationID == "" {
		writeError(w, http.StatusBadRequest, "reservationId is required")
		return
	}

	resp, err := h.service.Release(ctx, req.ReservationID)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *TicketHandler) availabilityHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := extractTraceContext(r)

	eventID := strings.TrimPrefix(r.URL.Path, "/tickets/availability/")
	if eventID == "" || strings.Contains(eventID, "/") {
		writeError(w, http.StatusBadRequest, "eventId is required")
		return
	}

	resp, err := h.service.GetAvailability(ctx, eventID)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *TicketHandler) userReservationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := extractTraceContext(r)

	userID := strings.TrimPrefix(r.URL.Path, "/tickets/user/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	resp, err := h.service.GetUserReservations(ctx, userID)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func extractTraceContext(r *http.Request) context.Context {
	propagator := otel.GetTextMapPropagator()
	return propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError 把领域错误映射到 HTTP 状态码。
// 预期内的业务拒绝原样透出错误信息；未知错误只回一个笼统的 500，
// 细节留在服务端日志里。
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrReservationNotFound), errors.Is(err, domain.ErrInventoryNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrIdempotencyConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrReservationExpired), errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		logger.Ctx(ctx).Error().Err(err).Msg("Unhandled error in HTTP layer")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
