package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"shopline/internal/pkg/logger"
	"shopline/internal/service/order/application"
	"shopline/internal/service/order/domain"
)

const serviceName = "order-service"

// OrderHandler 封装了 order 服务的 HTTP 处理器
type OrderHandler struct {
	service *application.OrderApplicationService
	feed    *StockFeedHub
	tracer  trace.Tracer
}

// NewOrderHandler 创建 HTTP 处理器，feed 为 nil 时不注册库存推送路由
func NewOrderHandler(service *application.OrderApplicationService, feed *StockFeedHub) *OrderHandler {
	return &OrderHandler{service: service, feed: feed, tracer: otel.Tracer(serviceName)}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /webshops/{id}/orders", h.placeOrder)
	mux.HandleFunc("POST /webshops/{id}/renumber", h.renumber)
	mux.HandleFunc("GET /webshops/{id}/domain-check", h.domainCheck)
	mux.HandleFunc("PUT /orders/{id}/cart", h.replaceCart)
	mux.HandleFunc("POST /orders/{id}/paid", h.markPaid)
	mux.HandleFunc("POST /orders/{id}/failed", h.paymentFailed)
	mux.HandleFunc("POST /orders/{id}/undo-failed", h.undoPaymentFailed)
	mux.HandleFunc("POST /orders/{id}/valid", h.markValid)
	mux.HandleFunc("POST /orders/{id}/status", h.setStatus)
	mux.HandleFunc("POST /tickets/scan", h.scanTicket)
	if h.feed != nil {
		mux.HandleFunc("GET /webshops/{id}/stock-feed", h.feed.ServeWebshop)
	}
}

func (h *OrderHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.PlaceOrder")
	defer span.End()

	var data domain.OrderData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, r, errors.Wrap(errBadRequest, err.Error()))
		return
	}
	req := &application.PlaceOrderRequest{
		WebshopID: r.PathValue("id"),
		PaymentID: r.URL.Query().Get("paymentId"),
		Data:      data,
	}
	order, err := h.service.PlaceOrder(ctx, req)
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderResponse(order))
}

func (h *OrderHandler) replaceCart(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.ReplaceCart")
	defer span.End()

	var data domain.OrderData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, r, errors.Wrap(errBadRequest, err.Error()))
		return
	}
	order, err := h.service.ReplaceCart(ctx, r.PathValue("id"), data)
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *OrderHandler) markPaid(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.MarkPaid")
	defer span.End()
	h.writeOrder(w, r.WithContext(ctx))(h.service.MarkPaid(ctx, r.PathValue("id")))
}

func (h *OrderHandler) paymentFailed(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.PaymentFailed")
	defer span.End()
	h.writeOrder(w, r.WithContext(ctx))(h.service.OnPaymentFailed(ctx, r.PathValue("id")))
}

func (h *OrderHandler) undoPaymentFailed(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.UndoPaymentFailed")
	defer span.End()
	h.writeOrder(w, r.WithContext(ctx))(h.service.UndoPaymentFailed(ctx, r.PathValue("id")))
}

func (h *OrderHandler) markValid(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.MarkValid")
	defer span.End()
	h.writeOrder(w, r.WithContext(ctx))(h.service.MarkValid(ctx, r.PathValue("id"), nil))
}

func (h *OrderHandler) setStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.SetStatus")
	defer span.End()

	var req application.SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errors.Wrap(errBadRequest, err.Error()))
		return
	}
	h.writeOrder(w, r.WithContext(ctx))(h.service.SetStatus(ctx, r.PathValue("id"), req.Status))
}

func (h *OrderHandler) scanTicket(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.ScanTicket")
	defer span.End()

	var req application.ScanTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Secret == "" {
		writeError(w, r, errors.Wrap(errBadRequest, "secret is required"))
		return
	}
	ticket, err := h.service.ScanTicket(ctx, req.Secret, req.ScannedBy)
	if errors.Is(err, domain.ErrTicketAlreadyScanned) && ticket != nil {
		// 重复检票返回第一次检票的信息
		writeJSON(w, http.StatusConflict, newTicketResponse(ticket))
		return
	}
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	writeJSON(w, http.StatusOK, newTicketResponse(ticket))
}

func (h *OrderHandler) renumber(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.RenumberOrders")
	defer span.End()

	changed, err := h.service.RenumberOrders(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"changed": changed})
}

func (h *OrderHandler) domainCheck(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.CheckDomain")
	defer span.End()

	result, err := h.service.CheckDomain(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// start 从请求头恢复上游的追踪上下文并开启 server span
func (h *OrderHandler) start(r *http.Request, name string) (context.Context, trace.Span) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := h.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
	if id := r.PathValue("id"); id != "" {
		span.SetAttributes(attribute.String("http.path_id", id))
	}
	return ctx, span
}

func (h *OrderHandler) writeOrder(w http.ResponseWriter, r *http.Request) func(*domain.Order, error) {
	return func(order *domain.Order, err error) {
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newOrderResponse(order))
	}
}

var errBadRequest = errors.New("bad request")

// statusFor 把领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	var cfgErr *domain.ConfigurationError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrUnknownStatus):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrWebshopNotFound),
		errors.Is(err, domain.ErrTicketNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrTimeSlotNotFound),
		errors.As(err, &cfgErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrProductSoldOut),
		errors.Is(err, domain.ErrTimeSlotFull),
		errors.Is(err, domain.ErrSeatTaken),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyValid),
		errors.Is(err, domain.ErrTicketAlreadyScanned),
		errors.Is(err, domain.ErrOrderCanceled),
		errors.Is(err, domain.ErrDuplicateTicket):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	var cfgErr *domain.ConfigurationError
	if errors.As(err, &cfgErr) {
		resp.Code, resp.Field = cfgErr.Code, cfgErr.Field
	}
	if status >= http.StatusInternalServerError {
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type orderResponse struct {
	ID        string           `json:"id"`
	WebshopID string           `json:"webshopId"`
	PaymentID string           `json:"paymentId,omitempty"`
	Status    domain.Status    `json:"status"`
	Number    *int64           `json:"number,omitempty"`
	ValidAt   *time.Time       `json:"validAt,omitempty"`
	Data      domain.OrderData `json:"data"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func newOrderResponse(o *domain.Order) orderResponse {
	return orderResponse{
		ID:        o.ID,
		WebshopID: o.WebshopID,
		PaymentID: o.PaymentID,
		Status:    o.Status,
		Number:    o.Number,
		ValidAt:   o.ValidAt,
		Data:      o.Data,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

type ticketResponse struct {
	ID        string       `json:"id"`
	OrderID   string       `json:"orderId"`
	ItemID    *string      `json:"itemId,omitempty"`
	Index     int          `json:"index"`
	Total     int          `json:"total"`
	Seat      *domain.Seat `json:"seat,omitempty"`
	ScannedAt *time.Time   `json:"scannedAt,omitempty"`
	ScannedBy string       `json:"scannedBy,omitempty"`
}

func newTicketResponse(t *domain.Ticket) ticketResponse {
	return ticketResponse{
		ID:        t.ID,
		OrderID:   t.OrderID,
		ItemID:    t.ItemID,
		Index:     t.Index,
		Total:     t.Total,
		Seat:      t.Seat,
		ScannedAt: t.ScannedAt,
		ScannedBy: t.ScannedBy,
	}
}
