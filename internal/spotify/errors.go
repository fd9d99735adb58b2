package spotify

import (
	"errors"
	"fmt"
	"net/http"

	api "github.com/zmb3/spotify/v2"
)

// ProviderError is a non-success response from the provider API.
type ProviderError struct {
	Status   int
	Endpoint string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("spotify %s: status %d", e.Endpoint, e.Status)
}

// IsRateLimited reports whether err is a provider 429.
func IsRateLimited(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Status == http.StatusTooManyRequests
}

// wrapAPIError converts library client failures into ProviderError where a
// status code is available, so callers can classify without importing the
// library's error type.
func wrapAPIError(endpoint string, err error) error {
	var se api.Error
	if errors.As(err, &se) && se.Status != 0 {
		return &ProviderError{Status: se.Status, Endpoint: endpoint}
	}
	return fmt.Errorf("%s: %w", endpoint, err)
}
