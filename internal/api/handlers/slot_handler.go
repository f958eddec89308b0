package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/zatekoja/therapybooking/internal/api/middleware"
	"github.com/zatekoja/therapybooking/internal/domain/entities"
)

// SlotService defines the slot operations exposed over HTTP
type SlotService interface {
	CreateSlot(ctx context.Context, providerID string, start, end time.Time) (*entities.Slot, error)
	ListAvailable(ctx context.Context, providerID string, from, to time.Time, limit int) ([]*entities.Slot, error)
}

// SlotWithdrawer cancels a provider's slot together with any live booking
type SlotWithdrawer interface {
	WithdrawSlot(ctx context.Context, providerID, slotID string) (*entities.Slot, error)
}

// CreateSlotRequest is the body of POST /api/slots
type CreateSlotRequest struct {
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end" validate:"required"`
}

// SlotHandler handles slot requests
type SlotHandler struct {
	responder
	slots     SlotService
	withdrawn SlotWithdrawer
}

// NewSlotHandler creates a new slot handler
func NewSlotHandler(slots SlotService, withdrawer SlotWithdrawer, logger zerolog.Logger) *SlotHandler {
	return &SlotHandler{
		responder: responder{logger: logger.With().Str("component", "slot_handler").Logger()},
		slots:     slots,
		withdrawn: withdrawer,
	}
}

// CreateSlot handles POST /api/slots
func (h *SlotHandler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	requester, _ := middleware.RequesterFromContext(r.Context())

	var req CreateSlotRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	slot, err := h.slots.CreateSlot(r.Context(), requester.ID, req.Start, req.End)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, slot)
}

// ListProviderSlots handles GET /api/providers/{id}/slots
func (h *SlotHandler) ListProviderSlots(w http.ResponseWriter, r *http.Request) {
	providerID := r.PathValue("id")
	if providerID == "" {
		h.respondWithError(w, http.StatusBadRequest, "provider ID is required")
		return
	}

	from, ok := h.parseTimeParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := h.parseTimeParam(w, r, "to")
	if !ok {
		return
	}
	limit, ok := h.parseIntParam(w, r, "limit", 50)
	if !ok {
		return
	}

	slots, err := h.slots.ListAvailable(r.Context(), providerID, from, to, limit)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"slots": slots,
	})
}

// WithdrawSlot handles DELETE /api/slots/{id}
func (h *SlotHandler) WithdrawSlot(w http.ResponseWriter, r *http.Request) {
	requester, _ := middleware.RequesterFromContext(r.Context())

	slot, err := h.withdrawn.WithdrawSlot(r.Context(), requester.ID, r.PathValue("id"))
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, slot)
}

func (rs responder) parseTimeParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		rs.respondWithError(w, http.StatusBadRequest, "invalid "+name+" date format (use RFC3339)")
		return time.Time{}, false
	}
	return t, true
}

func (rs responder) parseIntParam(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		rs.respondWithError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}
