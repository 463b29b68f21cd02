package policy

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

// Handler manages policy endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers policy routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/policies", h.list)
	r.Get("/policies/active", h.active)
	r.Get("/policies/{id}", h.show)
	r.Post("/policies", h.create)
	r.Put("/policies/{id}", h.update)
	r.Post("/policies/{id}/activate", h.activate)
	r.Delete("/policies/{id}", h.delete)
}

type policyRequest struct {
	Name                string  `json:"name" validate:"required,max=120"`
	Description         string  `json:"description"`
	MaxBooksPerUser     int     `json:"max_books_per_user" validate:"required,gt=0"`
	BorrowingPeriodDays int     `json:"borrowing_period_days" validate:"required,gt=0"`
	RenewalLimit        int     `json:"renewal_limit" validate:"gte=0"`
	GracePeriodDays     int     `json:"grace_period_days" validate:"gte=0"`
	FinePerDayOverdue   float64 `json:"fine_per_day_overdue" validate:"gte=0"`
	MaxFineAmount       float64 `json:"max_fine_amount" validate:"gte=0"`
	DamagedFinePct      float64 `json:"damaged_fine_pct" validate:"gte=0,lte=100"`
	LostFinePct         float64 `json:"lost_fine_pct" validate:"gte=0,lte=200"`
	MaxRequestsPerUser  int     `json:"max_requests_per_user" validate:"gte=0"`
	RequestExpiryDays   int     `json:"request_expiry_days" validate:"gte=0"`
	AllowRenewal        bool    `json:"allow_renewal"`
	AllowRequests       bool    `json:"allow_requests"`
}

func (req policyRequest) toPolicy() Policy {
	return Policy{
		Name:                req.Name,
		Description:         req.Description,
		MaxBooksPerUser:     req.MaxBooksPerUser,
		BorrowingPeriodDays: req.BorrowingPeriodDays,
		RenewalLimit:        req.RenewalLimit,
		GracePeriodDays:     req.GracePeriodDays,
		FinePerDayOverdue:   req.FinePerDayOverdue,
		MaxFineAmount:       req.MaxFineAmount,
		DamagedFinePct:      req.DamagedFinePct,
		LostFinePct:         req.LostFinePct,
		MaxRequestsPerUser:  req.MaxRequestsPerUser,
		RequestExpiryDays:   req.RequestExpiryDays,
		AllowRenewal:        req.AllowRenewal,
		AllowRequests:       req.AllowRequests,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	policies, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list policies", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, policies)
}

func (h *Handler) active(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Active(r.Context())
	if err != nil {
		h.logger.Error("active policy", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.RequireStaff(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	var req policyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", shared.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err.Error()))
		return
	}

	created, err := h.service.Create(r.Context(), req.toPolicy(), actor.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	if _, err := shared.RequireStaff(r.Context()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	var req policyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", shared.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err.Error()))
		return
	}

	updated, err := h.service.Update(r.Context(), id, req.toPolicy())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	if _, err := shared.RequireStaff(r.Context()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Activate(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "activated"})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if _, err := shared.RequireStaff(r.Context()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", shared.ErrValidation)
	}
	return id, nil
}
