package firi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const DefaultBaseURL = "https://api.firi.com/v2"

// Configuration stores the settings of an APIClient.
type Configuration struct {
	BaseURL       string
	UserAgent     string
	DefaultHeader map[string]string
	HTTPClient    *http.Client
}

func NewConfiguration() *Configuration {
	return &Configuration{
		BaseURL:       DefaultBaseURL,
		UserAgent:     "market-collector/firi-client",
		DefaultHeader: make(map[string]string),
	}
}

// APIClient manages communication with the Firi API v2.
type APIClient struct {
	cfg *Configuration

	MarketAPI *MarketAPIService
}

type service struct {
	client *APIClient
}

func NewAPIClient(cfg *Configuration) *APIClient {
	if cfg == nil {
		cfg = NewConfiguration()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	c := &APIClient{cfg: cfg}
	c.MarketAPI = &MarketAPIService{client: c}

	return c
}

func (c *APIClient) GetConfig() *Configuration {
	return c.cfg
}

// GenericOpenAPIError carries the raw body of a non 2xx response.
type GenericOpenAPIError struct {
	body       []byte
	error      string
	StatusCode int
}

func (e GenericOpenAPIError) Error() string {
	return e.error
}

func (e GenericOpenAPIError) Body() []byte {
	return e.body
}

func (c *APIClient) prepareRequest(ctx context.Context, path string) (*http.Request, error) {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for k, v := range c.cfg.DefaultHeader {
		req.Header.Set(k, v)
	}

	return req, nil
}

func (c *APIClient) callAPI(req *http.Request, v any) ([]byte, *http.Response, error) {
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, resp, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp, err
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return body, resp, GenericOpenAPIError{
			body:       body,
			error:      fmt.Sprintf("%s %s: %s", req.Method, req.URL.Path, resp.Status),
			StatusCode: resp.StatusCode,
		}
	}

	if err := json.Unmarshal(body, v); err != nil {
		return body, resp, GenericOpenAPIError{
			body:       body,
			error:      fmt.Sprintf("decode %s: %v", req.URL.Path, err),
			StatusCode: resp.StatusCode,
		}
	}

	return body, resp, nil
}
