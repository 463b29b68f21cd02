package loans

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/openshelf/openshelf/internal/platform/httpx"
	"github.com/openshelf/openshelf/internal/shared"
)

// Handler manages loan ledger endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	events    shared.EventSink
	audit     *shared.ActivityLogger
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, events shared.EventSink, audit *shared.ActivityLogger) *Handler {
	return &Handler{logger: logger, service: service, events: events, audit: audit, validator: validator.New()}
}

// MountRoutes registers loan ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/loans/mine", h.mine)
	r.Get("/loans/overdue", h.overdue)
	r.Get("/loans/{id}", h.show)
	r.Get("/users/{userID}/loans", h.listForUser)
	r.Post("/loans", h.issue)
	r.Post("/returns", h.returnCopy)
	r.Post("/loans/{id}/renew", h.renew)
	r.Post("/loans/{id}/lost", h.markLost)
}

type issueRequest struct {
	CopyID int64 `json:"copy_id" validate:"required,gt=0"`
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

type returnRequest struct {
	CopyID    int64  `json:"copy_id" validate:"required,gt=0"`
	Condition string `json:"condition" validate:"omitempty,oneof=good fair poor damaged"`
	Notes     string `json:"notes" validate:"omitempty,max=500"`
}

func (h *Handler) mine(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.RequireActor(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.ListByUser(r.Context(), actor.ID)
	if err != nil {
		h.logger.Error("list loans", slog.Any("error", err))
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
	id, err := parseLoanID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	loan, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !actor.IsStaff() && loan.UserID != actor.ID {
		httpx.RespondError(w, fmt.Errorf("%w: loan belongs to another user", shared.ErrForbidden))
		return
	}
	httpx.JSON(w, http.StatusOK, loan)
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

func (h *Handler) overdue(w http.ResponseWriter, r *http.Request) {
	if _, err := shared.RequireStaff(r.Context()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.ListOverdue(r.Context())
	if err != nil {
		h.logger.Error("list overdue loans", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.RequireStaff(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", shared.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err.Error()))
		return
	}

	loan, events, err := h.service.Issue(r.Context(), req.CopyID, req.UserID, actor.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.events.Dispatch(r.Context(), events...)
	h.recordActivity(r.Context(), actor.ID, "loan.issue", "", loan)
	httpx.JSON(w, http.StatusCreated, loan)
}

func (h *Handler) returnCopy(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.RequireStaff(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	var req returnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", shared.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err.Error()))
		return
	}

	condition := ConditionGood
	if req.Condition != "" {
		condition = ReturnCondition(req.Condition)
	}

	loan, events, err := h.service.ReturnCopy(r.Context(), req.CopyID, condition)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.events.Dispatch(r.Context(), events...)
	h.recordActivity(r.Context(), actor.ID, "loan.return", req.Notes, loan)
	httpx.JSON(w, http.StatusOK, loan)
}

func (h *Handler) renew(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.RequireActor(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := parseLoanID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	loan, events, err := h.service.Renew(r.Context(), id, *actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.events.Dispatch(r.Context(), events...)
	httpx.JSON(w, http.StatusOK, loan)
}

func (h *Handler) markLost(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.RequireStaff(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := parseLoanID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	loan, events, err := h.service.MarkLost(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.events.Dispatch(r.Context(), events...)
	h.recordActivity(r.Context(), actor.ID, "loan.lost", "", loan)
	httpx.JSON(w, http.StatusOK, loan)
}

func (h *Handler) recordActivity(ctx context.Context, actorID int64, action, message string, loan *Loan) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(ctx, shared.Activity{
		ActorID: actorID,
		Action:  action,
		Message: message,
		BookID:  &loan.BookID,
		LoanID:  &loan.ID,
	}); err != nil {
		h.logger.Warn("record activity", slog.Any("error", err))
	}
}

func parseLoanID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", shared.ErrValidation)
	}
	return id, nil
}
