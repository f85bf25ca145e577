package checkout

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mpowerio/checkout-api/internal/common"
)

// Handler exposes the checkout session endpoint consumed by the storefront.
type Handler struct {
	Svc *Service
}

type sessionResp struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// CreateSession handles POST /api/v1/checkout/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "checkout handler unavailable")
		return
	}
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// The Idempotency-Key header takes precedence over the body field.
	if header := strings.TrimSpace(r.Header.Get("Idempotency-Key")); header != "" {
		req.IdempotencyKey = header
	}

	session, err := h.Svc.CreateSession(r.Context(), req)
	if err != nil {
		common.JSONGatewayError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, sessionResp{URL: session.URL, SessionID: session.ID})
}
