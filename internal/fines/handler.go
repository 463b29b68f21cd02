package fines

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

// Handler manages fine ledger endpoints.
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

// MountRoutes registers fine ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/fines/mine", h.mine)
	r.Get("/fines/mine/outstanding", h.outstanding)
	r.Get("/fines/{id}", h.show)
	r.Get("/users/{userID}/fines", h.listForUser)
	r.Post("/fines", h.create)
	r.Post("/fines/{id}/pay", h.pay)
	r.Post("/fines/{id}/waive", h.waive)
}

type createFineRequest struct {
	UserID int64   `json:"user_id" validate:"required,gt=0"`
	Amount float64 `json:"amount" validate:"required,gt=0"`
	Reason string  `json:"reason" validate:"required,max=255"`
}

type payFineRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

type waiveFineRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

func (h *Handler) mine(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.RequireActor(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.ListByUser(r.Context(), actor.ID)
	if err != nil {
		h.logger.Error("list fines", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) outstanding(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.RequireActor(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	total, err := h.service.Outstanding(r.Context(), actor.ID)
	if err != nil {
		h.logger.Error("sum fines", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]float64{"outstanding": total})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.RequireActor(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := parseFineID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	f, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !actor.IsStaff() && f.UserID != actor.ID {
		httpx.RespondError(w, fmt.Errorf("%w: fine belongs to another user", shared.ErrForbidden))
		return
	}
	httpx.JSON(w, http.StatusOK, f)
}

func (h *Handler) listForUser(w http.ResponseWriter, r *http.Request) {
	if _, err := shared.RequireStaff(r.Context()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid user id", shared.ErrValidation))
		return
	}
	list, err := h.service.ListByUser(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.RequireStaff(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	var req createFineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", shared.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err.Error()))
		return
	}

	created, events, err := h.service.CreateCustom(r.Context(), req.UserID, req.Amount, req.Reason, actor.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.events.Dispatch(r.Context(), events...)
	httpx.JSON(w, http.StatusCreated, created)
}

// pay records a desk payment taken in cash. Online payments flow through
// the payment reconciler instead.
func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	if _, err := shared.RequireStaff(r.Context()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := parseFineID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	var req payFineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", shared.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err.Error()))
		return
	}

	f, err := h.service.Pay(r.Context(), id, req.Amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, f)
}

func (h *Handler) waive(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.RequireStaff(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := parseFineID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	var req waiveFineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", shared.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err.Error()))
		return
	}

	f, err := h.service.Waive(r.Context(), id, actor.ID, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, f)
}

func parseFineID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", shared.ErrValidation)
	}
	return id, nil
}
