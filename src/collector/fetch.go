package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultFetchTimeout    = 15 * time.Second
	defaultRetryAttempts   = 3
	defaultRetryBaseDelay  = 5 * time.Second
	defaultRetryMaxBackoff = 20 * time.Second
)

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

// Fetcher is the shared outbound HTTP helper for collector strategies.
// Every call is paced through a rate limiter and retried on transient
// failures.
type Fetcher struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// NewFetcher builds a fetcher with the given per-request timeout and
// outbound pacing in requests per second. Zero values fall back to the
// defaults (15s timeout, 2 req/s).
func NewFetcher(timeout time.Duration, reqPerSec float64) *Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if reqPerSec <= 0 {
		reqPerSec = 2
	}

	httpClient := resty.New().
		SetTimeout(timeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &Fetcher{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(reqPerSec), 1),
	}
}

func (f *Fetcher) wait(ctx context.Context) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("fetch pacing aborted: %w", err)
	}
	return nil
}

func checkStatus(resp *resty.Response) error {
	if resp.IsError() {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode(), resp.Request.URL)
	}
	return nil
}

// GetJSON performs a paced GET and decodes the JSON body into out.
func (f *Fetcher) GetJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	if err := f.wait(ctx); err != nil {
		return err
	}

	resp, err := f.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader("Accept", "application/json").
		SetResult(out).
		Get(url)
	if err != nil {
		logger.WithField("url", url).WithError(err).Warn("GET failed")
		return err
	}

	return checkStatus(resp)
}

// PostJSON performs a paced POST with a JSON body and decodes the JSON
// response into out. Used by RPC-style sources.
func (f *Fetcher) PostJSON(ctx context.Context, url string, headers map[string]string, body, out interface{}) error {
	if err := f.wait(ctx); err != nil {
		return err
	}

	resp, err := f.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(out).
		Post(url)
	if err != nil {
		logger.WithField("url", url).WithError(err).Warn("POST failed")
		return err
	}

	return checkStatus(resp)
}

// GetText performs a paced GET and returns the raw body. Used by the
// HTML-scrape and RSS paths.
func (f *Fetcher) GetText(ctx context.Context, url string, headers map[string]string) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}

	resp, err := f.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		Get(url)
	if err != nil {
		logger.WithField("url", url).WithError(err).Warn("GET failed")
		return "", err
	}

	if err := checkStatus(resp); err != nil {
		return "", err
	}
	return string(resp.Body()), nil
}
