package common_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpowerio/checkout-api/internal/common"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		kind   common.Kind
		status int
	}{
		{common.KindInvalidRequest, http.StatusBadRequest},
		{common.KindConfiguration, http.StatusBadRequest},
		{common.KindProviderRejected, http.StatusPaymentRequired},
		{common.KindUpstreamUnavailable, http.StatusBadGateway},
		{common.Kind("UNKNOWN"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		ge := common.NewGatewayError(tc.kind, "msg", nil)
		require.Equal(t, tc.status, ge.HTTPStatus(), "kind %s", tc.kind)
	}
}

func TestAsGatewayErrorUnwrapsChains(t *testing.T) {
	inner := errors.New("dial tcp: connection refused")
	ge := common.NewGatewayError(common.KindUpstreamUnavailable, "payment service is temporarily unavailable, please try again", inner)
	wrapped := fmt.Errorf("create session: %w", ge)

	found, ok := common.AsGatewayError(wrapped)
	require.True(t, ok)
	require.Equal(t, common.KindUpstreamUnavailable, found.Kind)
	require.ErrorIs(t, found, inner)

	_, ok = common.AsGatewayError(errors.New("plain"))
	require.False(t, ok)
}

func TestErrorMessagePrecedence(t *testing.T) {
	require.Equal(t, "friendly", common.NewGatewayError(common.KindInvalidRequest, "friendly", errors.New("internal")).Error())
	require.Equal(t, "internal", common.NewGatewayError(common.KindInvalidRequest, "", errors.New("internal")).Error())
	require.Equal(t, "INVALID_REQUEST", common.NewGatewayError(common.KindInvalidRequest, "", nil).Error())
}
