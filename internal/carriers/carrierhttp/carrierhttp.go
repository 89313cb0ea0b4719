// Package carrierhttp is the shared HTTP plumbing for carrier adapters:
// request building, timeout enforcement and mapping of transport/HTTP
// failures onto the carriers.APIError taxonomy.
package carrierhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/LaneWise/ShipSync/internal/carriers"
	"github.com/LaneWise/ShipSync/internal/models"
	"github.com/pkg/errors"
)

const DefaultTimeout = 30 * time.Second

type Client struct {
	carrier models.Carrier
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(carrier models.Carrier, baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		carrier: carrier,
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: timeout},
	}
}

func (c *Client) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// GetJSON performs a GET against path with query params and decodes the
// 2xx body into out. Non-2xx statuses and transport errors come back as
// *carriers.APIError.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, header http.Header, out any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	u.Path = path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		code := carriers.CodeUnavailable
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			code = carriers.CodeTimeout
		}
		return &carriers.APIError{Carrier: c.carrier, Code: code, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return c.statusError(resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &carriers.APIError{
			Carrier: c.carrier,
			Code:    carriers.CodeUnavailable,
			Message: fmt.Sprintf("decode response: %v", err),
		}
	}
	return nil
}

func (c *Client) statusError(statusCode int) *carriers.APIError {
	e := &carriers.APIError{Carrier: c.carrier, StatusCode: statusCode}
	switch {
	case statusCode == 404:
		e.Code = carriers.CodeInvalidTrackingNumber
		e.Message = "tracking number not found"
	case statusCode == 429:
		e.Code = carriers.CodeRateLimited
		e.Message = "carrier rate limit"
	default:
		e.Code = carriers.CodeUnavailable
		e.Message = fmt.Sprintf("carrier http %d", statusCode)
	}
	return e
}

// InvalidNumber is the shared pre-flight failure for a tracking number
// that does not match the carrier's format. No network call is made.
func InvalidNumber(carrier models.Carrier, trackingNumber string) *carriers.APIError {
	return &carriers.APIError{
		Carrier: carrier,
		Code:    carriers.CodeInvalidTrackingNumber,
		Message: fmt.Sprintf("malformed tracking number %q", trackingNumber),
	}
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	var t timeout
	return errors.As(err, &t) && t.Timeout()
}
