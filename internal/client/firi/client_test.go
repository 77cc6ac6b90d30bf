package firi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *APIClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := NewConfiguration()
	cfg.BaseURL = srv.URL + "/v2"
	return NewAPIClient(cfg)
}

func TestMarketAPI_GetMarketDepth(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/markets/BTCNOK/depth", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"bids":[["650000.5","0.1"]],"asks":[["651000","0.25"]]}`))
	})

	depth, resp, err := client.MarketAPI.GetMarketDepth(context.Background(), "BTCNOK").Execute()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, [][]string{{"650000.5", "0.1"}}, depth.Bids)
	assert.Equal(t, [][]string{{"651000", "0.25"}}, depth.Asks)
}

func TestMarketAPI_GetMarket(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/markets/BTCNOK", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"BTCNOK","last":"650500","high":"660000","low":"640000","change":"1.2","volume":"12.5"}`))
	})

	market, _, err := client.MarketAPI.GetMarket(context.Background(), "BTCNOK").Execute()
	require.NoError(t, err)
	assert.Equal(t, "BTCNOK", market.ID)
	assert.Equal(t, "650500", market.Last)
	assert.Equal(t, "12.5", market.Volume)
}

func TestMarketAPI_Errors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"name":"Unavailable"}`))
	})

	_, resp, err := client.MarketAPI.GetMarket(context.Background(), "BTCNOK").Execute()
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var apiErr GenericOpenAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.JSONEq(t, `{"name":"Unavailable"}`, string(apiErr.Body()))

	_, _, err = client.MarketAPI.GetMarketDepth(context.Background(), " ").Execute()
	assert.Error(t, err)
}
