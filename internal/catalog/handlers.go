package catalog

import (
	"net/http"

	"github.com/mpowerio/checkout-api/internal/common"
)

// Handler exposes public catalog endpoints.
type Handler struct {
	registry *Registry
}

// NewHandler constructs a Handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// offeringView is the storefront-facing projection of an Offering. Provider
// price references stay server-side.
type offeringView struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	UnitAmount    int64    `json:"unitAmount"`
	Currency      string   `json:"currency"`
	Mode          Mode     `json:"mode"`
	BillingPeriod string   `json:"billingPeriod,omitempty"`
	Features      []string `json:"features,omitempty"`
}

// Offerings handles GET /api/v1/offerings.
func (h *Handler) Offerings(w http.ResponseWriter, _ *http.Request) {
	if h == nil || h.registry == nil {
		common.JSONError(w, http.StatusInternalServerError, "catalog not configured")
		return
	}
	offerings := h.registry.List()
	views := make([]offeringView, 0, len(offerings))
	for _, off := range offerings {
		views = append(views, offeringView{
			ID:            off.ID,
			Name:          off.Name,
			UnitAmount:    off.UnitAmount,
			Currency:      off.Currency,
			Mode:          off.Mode,
			BillingPeriod: off.BillingPeriod,
			Features:      off.Features,
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": views})
}
