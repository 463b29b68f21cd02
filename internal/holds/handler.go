package holds

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

// Handler manages hold queue endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers hold queue routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/holds", h.request)
	r.Get("/holds/mine", h.mine)
	r.Get("/books/{bookID}/holds", h.queue)
	r.Post("/holds/{id}/cancel", h.cancel)
}

type holdRequest struct {
	BookID int64 `json:"book_id" validate:"required,gt=0"`
}

func (h *Handler) request(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.RequireActor(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	var req holdRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", shared.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err.Error()))
		return
	}

	created, err := h.service.Request(r.Context(), req.BookID, actor.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) mine(w http.ResponseWriter, r *http.Request) {
	actor, err := shared.RequireActor(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.ListByUser(r.Context(), actor.ID)
	if err != nil {
		h.logger.Error("list holds", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) queue(w http.ResponseWriter, r *http.Request) {
	if _, err := shared.RequireStaff(r.Context()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	bookID, err := strconv.ParseInt(chi.URLParam(r, "bookID"), 10, 64)
	if err != nil || bookID <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid book id", shared.ErrValidation))
		return
	}
	list, err := h.service.Queue(r.Context(), bookID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
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
	if err := h.service.Cancel(r.Context(), id, *actor); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
