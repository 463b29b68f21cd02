package payments

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/openshelf/openshelf/internal/platform/httpx"
	"github.com/openshelf/openshelf/internal/shared"
)

// Handler manages payment endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	events    shared.EventSink
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, events shared.EventSink) *Handler {
	return &Handler{logger: logger, service: service, events: events, validator: validator.New()}
}

// MountRoutes registers the authenticated payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/payments/mine", h.mine)
	r.Get("/payments/{id}", h.show)
	r.Post("/payments/initiate", h.initiate)
	r.Post("/payments/{orderID}/cancel", h.cancel)
	r.Post("/payments/{id}/refund", h.refund)
}

// MountWebhook registers the unauthenticated gateway callback. It lives
// outside the session-guarded group because the gateway posts anonymously.
func (h *Handler) MountWebhook(r chi.Router) {
	r.Post("/payments/notify", h.notify)
}

type initiateRequest struct {
	FineID int64 `json:"fine_id" validate:"required,gt=0"`
}

func (h *Handler) mine(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.RequireActor(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.ListByUser(r.Context(), actor.ID)
	if err != nil {
		h.logger.Error("list payments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.RequireActor(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", shared.ErrValidation))
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !actor.IsStaff() && p.UserID != actor.ID {
		httpx.RespondError(w, fmt.Errorf("%w: payment belongs to another user", shared.ErrForbidden))
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.RequireActor(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	var req initiateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", shared.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err.Error()))
		return
	}

	session, err := h.service.Initiate(r.Context(), req.FineID, *actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, session)
}

// notify receives the gateway's server-to-server callback. PayHere retries
// anything but 200, so the response is always 200; failures only get
// logged.
func (h *Handler) notify(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("payment notify: bad form", slog.Any("error", err))
		w.WriteHeader(http.StatusOK)
		return
	}

	n := Notification{
		MerchantID: r.PostFormValue("merchant_id"),
		OrderID:    r.PostFormValue("order_id"),
		PaymentID:  r.PostFormValue("payment_id"),
		Amount:     r.PostFormValue("payhere_amount"),
		Currency:   r.PostFormValue("payhere_currency"),
		StatusCode: r.PostFormValue("status_code"),
		Signature:  r.PostFormValue("md5sig"),
	}

	events, err := h.service.HandleNotification(r.Context(), n)
	if err != nil {
		h.logger.Warn("payment notify",
			slog.String("order_id", n.OrderID),
			slog.Any("error", err))
	}
	h.events.Dispatch(r.Context(), events...)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.RequireActor(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		httpx.RespondError(w, fmt.Errorf("%w: order id required", shared.ErrValidation))
		return
	}
	p, err := h.service.Cancel(r.Context(), orderID, *actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	if _, err := shared.RequireStaff(r.Context()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", shared.ErrValidation))
		return
	}
	p, err := h.service.Refund(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}
