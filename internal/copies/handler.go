package copies

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/openshelf/openshelf/internal/platform/httpx"
	"github.com/openshelf/openshelf/internal/shared"
)

// Handler manages copy registry endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers copy registry routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/books/{bookID}/copies", h.listByBook)
	r.Get("/books/{bookID}/copies/available", h.listAvailable)
	r.Get("/copies/{id}", h.show)
	r.Get("/copies/barcode/{barcode}", h.showByBarcode)
	r.Post("/copies", h.register)
	r.Put("/copies/{id}", h.update)
	r.Post("/copies/{id}/withdraw", h.withdraw)
	r.Delete("/copies/{id}", h.delete)
}

type registerCopyRequest struct {
	BookID          int64      `json:"book_id" validate:"required,gt=0"`
	Barcode         string     `json:"barcode" validate:"required,max=64"`
	Location        string     `json:"location" validate:"max=120"`
	Condition       string     `json:"condition" validate:"max=120"`
	IsReferenceOnly bool       `json:"is_reference_only"`
	AcquiredAt      *time.Time `json:"acquired_at"`
}

type updateCopyRequest struct {
	Location  string `json:"location" validate:"max=120"`
	Condition string `json:"condition" validate:"max=120"`
}

func (h *Handler) listByBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := parsePathID(r, "bookID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.ListByBook(r.Context(), bookID)
	if err != nil {
		h.logger.Error("list copies", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) listAvailable(w http.ResponseWriter, r *http.Request) {
	bookID, err := parsePathID(r, "bookID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.ListAvailable(r.Context(), bookID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) showByBarcode(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.GetByBarcode(r.Context(), chi.URLParam(r, "barcode"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	if _, err := shared.RequireStaff(r.Context()); err != nil {
		httpx.RespondError(w, err)
		return
	}

	var req registerCopyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", shared.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err.Error()))
		return
	}

	c := Copy{
		BookID:          req.BookID,
		Barcode:         req.Barcode,
		Location:        req.Location,
		Condition:       req.Condition,
		IsReferenceOnly: req.IsReferenceOnly,
	}
	if req.AcquiredAt != nil {
		c.AcquiredAt = *req.AcquiredAt
	}

	created, err := h.service.Register(r.Context(), c)
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
	id, err := parsePathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	var req updateCopyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid body", shared.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err.Error()))
		return
	}

	updated, err := h.service.Update(r.Context(), id, req.Location, req.Condition)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	if _, err := shared.RequireStaff(r.Context()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := parsePathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Withdraw(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if _, err := shared.RequireStaff(r.Context()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := parsePathID(r, "id")
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

func parsePathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", shared.ErrValidation, name)
	}
	return id, nil
}
