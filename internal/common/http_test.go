package common_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpowerio/checkout-api/internal/common"
)

func TestClientIPPrefersFirstForwardedHop(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/sessions", nil)
	req.RemoteAddr = "10.0.0.1:52100"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	require.Equal(t, "203.0.113.7", common.ClientIP(req))
}

func TestClientIPFallbacks(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:52100"
	req.Header.Set("X-Real-IP", "198.51.100.4")
	require.Equal(t, "198.51.100.4", common.ClientIP(req))

	req.Header.Del("X-Real-IP")
	require.Equal(t, "10.0.0.1", common.ClientIP(req))

	req.RemoteAddr = "10.0.0.2"
	require.Equal(t, "10.0.0.2", common.ClientIP(req))

	require.Empty(t, common.ClientIP(nil))
}
