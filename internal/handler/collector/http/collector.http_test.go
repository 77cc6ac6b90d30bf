package http

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/krobus00/market-collector/internal/entity"
	"github.com/krobus00/market-collector/internal/service/collector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSupervisor struct {
	health    []collector.LinkHealth
	restarted []entity.ExchangeName
	err       error
}

func (f *fakeSupervisor) Health() []collector.LinkHealth {
	return f.health
}

func (f *fakeSupervisor) Restart(exchange entity.ExchangeName) error {
	f.restarted = append(f.restarted, exchange)
	return f.err
}

func newTestMux(sup *fakeSupervisor) *http.ServeMux {
	mux := http.NewServeMux()
	NewCollectorHTTPHandler(sup).Register(mux)
	return mux
}

func TestHandler_ListLinks(t *testing.T) {
	sup := &fakeSupervisor{health: []collector.LinkHealth{
		{Exchange: entity.ExchangeCoinbase, State: entity.SessionStateSubscribed, Generation: 2},
		{Exchange: entity.ExchangeFiri, State: entity.SessionStateClosed, Failed: true, LastError: "reconnect attempts exhausted"},
	}}
	mux := newTestMux(sup)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/collector/v1/links", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp LinksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Links, 2)
	assert.Equal(t, entity.SessionStateSubscribed, resp.Links[0].State)
	assert.True(t, resp.Links[1].Failed)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/collector/v1/links", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_ListLinksEmpty(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestMux(&fakeSupervisor{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/collector/v1/links", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"links":[]}`, rec.Body.String())
}

func TestHandler_RestartLink(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		err    error
		code   int
	}{
		{name: "accepted", method: http.MethodPost, target: "/collector/v1/links/restart?exchange=Firi", code: http.StatusAccepted},
		{name: "missing exchange", method: http.MethodPost, target: "/collector/v1/links/restart", code: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, target: "/collector/v1/links/restart?exchange=firi", code: http.StatusMethodNotAllowed},
		{name: "unknown link", method: http.MethodPost, target: "/collector/v1/links/restart?exchange=kraken", err: fmt.Errorf("%w: kraken", entity.ErrLinkNotFound), code: http.StatusNotFound},
		{name: "healthy link", method: http.MethodPost, target: "/collector/v1/links/restart?exchange=firi", err: fmt.Errorf("%w: firi", entity.ErrLinkNotFailed), code: http.StatusConflict},
		{name: "stopped", method: http.MethodPost, target: "/collector/v1/links/restart?exchange=firi", err: collector.ErrSupervisorStopped, code: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sup := &fakeSupervisor{err: tt.err}
			rec := httptest.NewRecorder()
			newTestMux(sup).ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))
			assert.Equal(t, tt.code, rec.Code)
		})
	}

	sup := &fakeSupervisor{}
	rec := httptest.NewRecorder()
	newTestMux(sup).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/collector/v1/links/restart?exchange=Firi", nil))
	assert.Equal(t, []entity.ExchangeName{entity.ExchangeFiri}, sup.restarted)
	assert.JSONEq(t, `{"exchange":"firi","status":"restarting"}`, rec.Body.String())
}
