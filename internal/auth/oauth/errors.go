package oauth

import "fmt"

// maxBodyInError bounds how much of a vendor error body is kept for logs.
const maxBodyInError = 2048

// ExchangeError reports a failed authorization-code exchange. Status is zero
// when the vendor could not be reached at all.
type ExchangeError struct {
	Status int
	Code   string
	Body   string
	Err    error
}

func (e *ExchangeError) Error() string {
	return describe("oauth code exchange failed", e.Status, e.Body, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// RefreshError reports a failed refresh-token exchange.
type RefreshError struct {
	Status int
	Code   string
	Body   string
	Err    error
}

func (e *RefreshError) Error() string {
	return describe("oauth token refresh failed", e.Status, e.Body, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Permanent reports whether retrying with the same refresh token is pointless:
// the vendor answered with an OAuth error code (the vendor sometimes does so
// with a 200 status) or a 4xx client error.
func (e *RefreshError) Permanent() bool {
	return e.Code != "" || (e.Status >= 400 && e.Status < 500)
}

// UserFetchError reports a failed profile lookup.
type UserFetchError struct {
	Status int
	Body   string
	Err    error
}

func (e *UserFetchError) Error() string {
	return describe("fetch current user failed", e.Status, e.Body, e.Err)
}

func (e *UserFetchError) Unwrap() error { return e.Err }

func describe(prefix string, status int, body string, err error) string {
	msg := prefix
	if status != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, status)
	}
	if body != "" {
		msg = fmt.Sprintf("%s: %s", msg, body)
	}
	if err != nil && body == "" {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return msg
}

func truncate(b []byte) string {
	if len(b) > maxBodyInError {
		return string(b[:maxBodyInError])
	}
	return string(b)
}
