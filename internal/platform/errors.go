package platform

import (
	"fmt"
	"net/http"
	"time"
)

// FetchError reports a failed read of a listing or detail endpoint. A listing
// that fails on any page is never used for planning.
type FetchError struct {
	URL        string
	StatusCode int // 0 when the request never produced a response
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("GET %s: HTTP %d: %s", e.URL, e.StatusCode, truncate(e.Body, 200))
	}
	return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NotFoundError reports a named lookup that matched nothing.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// AmbiguousError reports a named lookup that matched more than one resource.
type AmbiguousError struct {
	Kind  string
	Name  string
	Count int
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%s %q is ambiguous: %d matches", e.Kind, e.Name, e.Count)
}

// AuthError reports invalid credentials or insufficient privileges. It is never retried.
type AuthError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("authorization failed: %s", e.Body)
	}
	return fmt.Sprintf("%s %s: HTTP %d (authentication failed): %s", e.Method, e.URL, e.StatusCode, truncate(e.Body, 200))
}

// MutationError is a non-2xx response to a create, update or delete call.
type MutationError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	Attempts   int
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d after %d attempt(s): %s", e.Method, e.URL, e.StatusCode, e.Attempts, truncate(e.Body, 200))
}

// ConflictError reports a mutation that kept returning 409 until the retry
// ceiling was reached.
type ConflictError struct {
	*MutationError
}

func (e *ConflictError) Error() string {
	return "dependency conflict not resolved: " + e.MutationError.Error()
}

func (e *ConflictError) Unwrap() error { return e.MutationError }

// TimeoutError reports that a mutation's effect was not observed before the
// confirmation ceiling. The mutation itself succeeded.
type TimeoutError struct {
	Target string
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no confirmation for %s after %s; later operations may hit stale state", e.Target, e.Waited)
}

// statusError maps a non-2xx response to the typed error for its class.
func statusError(method, url string, status int, body []byte, attempts int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Method: method, URL: url, StatusCode: status, Body: string(body)}
	case http.StatusConflict:
		if attempts > 1 {
			return &ConflictError{&MutationError{Method: method, URL: url, StatusCode: status, Body: string(body), Attempts: attempts}}
		}
	}
	return &MutationError{Method: method, URL: url, StatusCode: status, Body: string(body), Attempts: attempts}
}
