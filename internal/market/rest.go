package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// ClientOptions parameterise an exchange REST client.
type ClientOptions struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	RetryCount        int
	UserAgent         string
}

type restClient struct {
	name    string
	http    *resty.Client
	limiter *rate.Limiter
}

func newRESTClient(name, defaultBaseURL string, opts ClientOptions) *restClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "cryptoalerts/1.0"
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", ua)
	client.AddRetryCondition(func(resp *resty.Response, err error) bool {
		return err != nil || resp.StatusCode() == 429 || resp.StatusCode() >= 500
	})

	return &restClient{
		name:    name,
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(rps), 5),
	}
}

// get issues a rate-limited GET and decodes a 2xx body into out.
func (c *restClient) get(ctx context.Context, path string, params map[string]string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s rate limiter: %w", ErrUnavailable, c.name, err)
	}

	resp, err := c.http.R().SetContext(ctx).SetQueryParams(params).Get(path)
	if err != nil {
		return fmt.Errorf("%w: %s request %s: %w", ErrUnavailable, c.name, path, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: %s api error (%d): %s", ErrUnavailable, c.name, resp.StatusCode(), errorMessage(resp.Body()))
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", ErrUnavailable, c.name, err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var apiErr struct {
		Msg     string `json:"msg"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil {
		if apiErr.Msg != "" {
			return apiErr.Msg
		}
		if apiErr.Message != "" {
			return apiErr.Message
		}
	}
	return strings.TrimSpace(string(body))
}
