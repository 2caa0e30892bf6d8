package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/supervisor"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/usb"
)

// Client talks to a running bridge's REST surface
type Client struct {
	Resty *resty.Client
}

// RetryConfig defines retry behavior
type RetryConfig struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
	// RetryUnavailable also retries 503 answers, used to wait for the
	// backend to become ready.
	RetryUnavailable bool
}

// DefaultRetryConfig suits a local probe
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		MinWait:    200 * time.Millisecond,
		MaxWait:    2 * time.Second,
	}
}

// APIError is a non-2xx answer
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bridge answered %d", e.StatusCode)
	}
	return fmt.Sprintf("bridge answered %d: %s", e.StatusCode, e.Message)
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status  string            `json:"status"`
	Backend supervisor.Status `json:"backend"`
}

type devicesBody struct {
	Devices []usb.Device `json:"devices"`
}

// New creates a client for baseURL, e.g. http://127.0.0.1:8000
func New(baseURL string, retry RetryConfig) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retry.MaxRetries
	retryClient.RetryWaitMin = retry.MinWait
	retryClient.RetryWaitMax = retry.MaxWait
	retryClient.Logger = nil

	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(retry.MaxRetries).
		SetRetryWaitTime(retry.MinWait).
		SetRetryMaxWaitTime(retry.MaxWait).
		SetHeader("User-Agent", "smart-card-connector-client/1.0").
		SetJSONMarshaler(sonic.ConfigStd.Marshal).
		SetJSONUnmarshaler(sonic.ConfigStd.Unmarshal).
		SetTransport(retryClient.HTTPClient.Transport)

	if retry.RetryUnavailable {
		r.AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err == nil && resp.StatusCode() == http.StatusServiceUnavailable
		})
	}
	return &Client{Resty: r}
}

// Health fetches the health report. A 503 is returned as the report with
// an *APIError so callers can still inspect the backend state.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	resp, err := c.Resty.R().SetContext(ctx).SetResult(&out).SetError(&out).Get("/health")
	if err != nil {
		return out, fmt.Errorf("health request: %w", err)
	}
	if resp.IsError() {
		return out, &APIError{StatusCode: resp.StatusCode(), Message: out.Status}
	}
	return out, nil
}

// Module fetches the backend module status
func (c *Client) Module(ctx context.Context) (supervisor.Status, error) {
	var out supervisor.Status
	return out, c.do(ctx, http.MethodGet, "/v1/module", nil, &out)
}

// Devices lists the simulated devices
func (c *Client) Devices(ctx context.Context) ([]usb.Device, error) {
	var out devicesBody
	if err := c.do(ctx, http.MethodGet, "/v1/simulation/devices", nil, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

// SetDevices replaces the simulated devices
func (c *Client) SetDevices(ctx context.Context, devices []usb.Device) error {
	if devices == nil {
		devices = []usb.Device{}
	}
	return c.do(ctx, http.MethodPut, "/v1/simulation/devices", devicesBody{Devices: devices}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	apiErr := &APIError{}
	req := c.Resty.R().SetContext(ctx).SetError(apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		return apiErr
	}
	return nil
}
