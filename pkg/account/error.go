package account

import (
	"fmt"
	"net/http"
)

// Directory error codes that indicate a transient condition.
const (
	codeSystemError    = 500
	codeRequestTimeout = 1001
	codeTooFrequent    = 40000309
)

// APIError is returned when the directory processes a request but reports failure in the response
// envelope, for example because the password is wrong.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("directory error %d: %s", e.Code, e.Message)
}

func (e *APIError) Temporary() bool {
	return e.Code == codeSystemError ||
		e.Code == codeRequestTimeout ||
		e.Code == codeTooFrequent
}

// HTTPError is returned when the directory responds with a non-200 HTTP status.
type HTTPError struct {
	Code    int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Code)
	}
	return e.Message
}

func (e *HTTPError) Temporary() bool {
	return e.Code == http.StatusServiceUnavailable ||
		e.Code == http.StatusGatewayTimeout ||
		e.Code == http.StatusBadGateway ||
		e.Code == http.StatusRequestTimeout ||
		e.Code == http.StatusTooManyRequests
}
