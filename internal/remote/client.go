// Package remote talks to the campaign backend: config, ping, display permission,
// impressions and image fetches.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNoEndpoint is returned when a call is attempted before the endpoint is known.
var ErrNoEndpoint = errors.New("endpoint not configured")

// Client is a thin JSON client over resty. It performs no retries; callers own
// the retry policy.
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

// WithHTTPClient swaps the underlying transport client, e.g. for httptest servers.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		timeout := c.http.GetClient().Timeout
		c.http = resty.NewWithClient(hc).
			SetHeader("Content-Type", "application/json").
			SetTimeout(timeout)
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func New(opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetHeader("Content-Type", "application/json").
			SetTimeout(20 * time.Second),
		log: log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchConfig calls the config endpoint (GET).
func (c *Client) FetchConfig(ctx context.Context, url string, creds Credentials, req ConfigRequest) (*ConfigResponse, error) {
	const op = "fetch config"
	if url == "" {
		return nil, &ClassifiedError{Op: op, Category: Irrecoverable, Underlying: ErrNoEndpoint}
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(creds.headers()).
		SetQueryParams(map[string]string{
			"platform":   strconv.Itoa(req.Platform),
			"appId":      req.AppID,
			"sdkVersion": req.SDKVersion,
			"appVersion": req.AppVersion,
			"locale":     req.Locale,
		}).
		Get(url)
	var out ConfigResponse
	if err := c.decode(op, resp, err, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ping fetches the campaign catalog.
func (c *Client) Ping(ctx context.Context, url string, creds Credentials, req PingRequest) (*PingResponse, error) {
	var out PingResponse
	if err := c.post(ctx, "ping", url, creds, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckDisplayPermission asks whether a campaign may be shown now.
func (c *Client) CheckDisplayPermission(ctx context.Context, url string, creds Credentials, req DisplayPermissionRequest) (*DisplayPermissionResponse, error) {
	var out DisplayPermissionResponse
	if err := c.post(ctx, "display permission", url, creds, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReportImpressions delivers interaction telemetry. The response body is ignored.
func (c *Client) ReportImpressions(ctx context.Context, url string, creds Credentials, req ImpressionRequest) error {
	return c.post(ctx, "impression", url, creds, req, nil)
}

// FetchImage downloads url and returns the body with its content type.
func (c *Client) FetchImage(ctx context.Context, url string) ([]byte, string, error) {
	const op = "fetch image"
	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, "", newNetworkError(op, err)
	}
	if !resp.IsSuccess() {
		return nil, "", newHTTPError(op, resp.StatusCode(), "")
	}
	return resp.Body(), resp.Header().Get("Content-Type"), nil
}

func (c *Client) post(ctx context.Context, op, url string, creds Credentials, body, out any) error {
	if url == "" {
		return &ClassifiedError{Op: op, Category: Irrecoverable, Underlying: ErrNoEndpoint}
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(creds.headers()).
		SetBody(body).
		Post(url)
	return c.decode(op, resp, err, out)
}

func (c *Client) decode(op string, resp *resty.Response, err error, out any) error {
	if err != nil {
		return newNetworkError(op, err)
	}
	if !resp.IsSuccess() {
		c.log.Debug().Str("op", op).Int("status", resp.StatusCode()).Msg("backend rejected request")
		return newHTTPError(op, resp.StatusCode(), resp.String())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return newDecodeError(op, err)
	}
	return nil
}
