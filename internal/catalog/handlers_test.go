package catalog_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpowerio/checkout-api/internal/catalog"
)

func TestOfferingsEndpointHidesPriceRefs(t *testing.T) {
	reg, err := catalog.NewRegistry([]catalog.Offering{
		{ID: "starter", Name: "Starter Package", UnitAmount: 75000, Currency: "usd", Mode: catalog.ModeOneTime, Features: []string{"10 hours of consulting"}, PriceRef: "price_secret"},
		{ID: "retainer", Name: "Monthly Retainer", UnitAmount: 200000, Currency: "usd", Mode: catalog.ModeRecurring, BillingPeriod: "month", PriceRef: "price_hidden"},
	})
	require.NoError(t, err)

	handler := catalog.NewHandler(reg)
	rr := httptest.NewRecorder()
	handler.Offerings(rr, httptest.NewRequest(http.MethodGet, "/api/v1/offerings", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotContains(t, rr.Body.String(), "price_secret")
	require.NotContains(t, rr.Body.String(), "price_hidden")

	var resp struct {
		Data []struct {
			ID            string   `json:"id"`
			Name          string   `json:"name"`
			UnitAmount    int64    `json:"unitAmount"`
			Currency      string   `json:"currency"`
			Mode          string   `json:"mode"`
			BillingPeriod string   `json:"billingPeriod"`
			Features      []string `json:"features"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	require.Equal(t, "retainer", resp.Data[0].ID)
	require.Equal(t, "month", resp.Data[0].BillingPeriod)
	require.Equal(t, "starter", resp.Data[1].ID)
	require.EqualValues(t, 75000, resp.Data[1].UnitAmount)
}

func TestOfferingsEndpointEmptyCatalog(t *testing.T) {
	reg, err := catalog.NewRegistry(nil)
	require.NoError(t, err)

	handler := catalog.NewHandler(reg)
	rr := httptest.NewRecorder()
	handler.Offerings(rr, httptest.NewRequest(http.MethodGet, "/api/v1/offerings", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"data":[]}`, rr.Body.String())
}
