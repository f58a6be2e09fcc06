package ezmail

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error kinds returned by the API
const (
	KindValidation    = "validation"
	KindQuotaExceeded = "quota_exceeded"
	KindNotFound      = "not_found"
	KindConflict      = "conflict"
	KindForbidden     = "forbidden"
)

// ErrWaitTimeout is returned by WaitForOutcome when the session is still in
// flight after the wait deadline
var ErrWaitTimeout = errors.New("ezmail: session still in flight")

// APIError represents an error response from the ezmail API.
type APIError struct {
	StatusCode int                    `json:"-"`
	Code       string                 `json:"code"`
	Kind       string                 `json:"kind,omitempty"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ezmail: API error %d [%s]: %s", e.StatusCode, e.Code, e.Message)
}

// apiErrorWrapper matches the ezmail API error envelope.
type apiErrorWrapper struct {
	Error APIError `json:"error"`
}

func parseAPIError(statusCode int, body []byte) error {
	var wrapper apiErrorWrapper
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Code != "" {
		wrapper.Error.StatusCode = statusCode
		return &wrapper.Error
	}

	return &APIError{
		StatusCode: statusCode,
		Code:       "unknown",
		Message:    string(body),
	}
}

// IsAPIError checks whether err is an APIError and returns it.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsQuotaExceeded reports whether err is a quota rejection
func IsQuotaExceeded(err error) bool {
	apiErr, ok := IsAPIError(err)
	return ok && apiErr.Kind == KindQuotaExceeded
}
