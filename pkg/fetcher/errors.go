package fetcher

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoSource is returned when an asset has neither a local copy, an
	// embedded copy, nor a URL to fetch from.
	ErrNoSource = errors.New("asset has no source")
)

// HashMismatchError is returned when fetched bytes do not hash to the
// value the manifest declared. This is a hard per-asset failure.
type HashMismatchError struct {
	Expected string
	Actual   string
}

func (e HashMismatchError) Error() string {
	return fmt.Sprintf("asset hash mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// StatusError is returned when the asset server responds with a non-200
// status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("asset fetch failed: %s returned %s", e.URL, http.StatusText(e.StatusCode))
}
