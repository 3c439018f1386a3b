package fetcher

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultRetryMax     = 3
	defaultRetryWaitMin = 500 * time.Millisecond
	defaultRetryWaitMax = 5 * time.Second
)

// NewRetryableClient creates the HTTP client used for asset and manifest
// fetches. Retries cover connection and timeout errors only; an HTTP error
// status is a definitive answer from the update server and is returned
// as-is.
func NewRetryableClient(retryMax int, retryWaitMin, retryWaitMax time.Duration) *retryablehttp.Client {
	if retryMax <= 0 {
		retryMax = defaultRetryMax
	}
	if retryWaitMin <= 0 {
		retryWaitMin = defaultRetryWaitMin
	}
	if retryWaitMax <= 0 {
		retryWaitMax = defaultRetryWaitMax
	}

	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = retryWaitMin
	client.RetryWaitMax = retryWaitMax
	client.Logger = nil // Disable retryablehttp logging
	client.CheckRetry = connectionErrorRetryPolicy
	return client
}

// connectionErrorRetryPolicy retries only when no response was received.
// Responses, including 4xx and 5xx, are forwarded to the caller so hash
// bookkeeping can treat them as ordinary per-asset failures.
func connectionErrorRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if resp != nil {
		return false, nil
	}

	if err != nil {
		return true, nil //nolint:nilerr // retryablehttp reports the final error itself
	}

	return false, nil
}
