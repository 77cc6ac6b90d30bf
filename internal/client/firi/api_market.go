package firi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

type MarketAPIService service

type ApiGetMarketDepthRequest struct {
	ctx        context.Context
	ApiService *MarketAPIService
	market     string
}

func (r ApiGetMarketDepthRequest) Execute() (*Depth, *http.Response, error) {
	return r.ApiService.GetMarketDepthExecute(r)
}

// GetMarketDepth returns the order book of a market such as BTCNOK.
func (a *MarketAPIService) GetMarketDepth(ctx context.Context, market string) ApiGetMarketDepthRequest {
	return ApiGetMarketDepthRequest{
		ctx:        ctx,
		ApiService: a,
		market:     market,
	}
}

func (a *MarketAPIService) GetMarketDepthExecute(r ApiGetMarketDepthRequest) (*Depth, *http.Response, error) {
	if strings.TrimSpace(r.market) == "" {
		return nil, nil, errors.New("market is required and must be specified")
	}

	req, err := a.client.prepareRequest(r.ctx, "/markets/"+url.PathEscape(r.market)+"/depth")
	if err != nil {
		return nil, nil, err
	}

	var out Depth
	_, resp, err := a.client.callAPI(req, &out)
	if err != nil {
		return nil, resp, err
	}

	return &out, resp, nil
}

type ApiGetMarketRequest struct {
	ctx        context.Context
	ApiService *MarketAPIService
	market     string
}

func (r ApiGetMarketRequest) Execute() (*Market, *http.Response, error) {
	return r.ApiService.GetMarketExecute(r)
}

// GetMarket returns last price, 24h change and volume of a market.
func (a *MarketAPIService) GetMarket(ctx context.Context, market string) ApiGetMarketRequest {
	return ApiGetMarketRequest{
		ctx:        ctx,
		ApiService: a,
		market:     market,
	}
}

func (a *MarketAPIService) GetMarketExecute(r ApiGetMarketRequest) (*Market, *http.Response, error) {
	if strings.TrimSpace(r.market) == "" {
		return nil, nil, errors.New("market is required and must be specified")
	}

	req, err := a.client.prepareRequest(r.ctx, "/markets/"+url.PathEscape(r.market))
	if err != nil {
		return nil, nil, err
	}

	var out Market
	_, resp, err := a.client.callAPI(req, &out)
	if err != nil {
		return nil, resp, err
	}

	return &out, resp, nil
}
