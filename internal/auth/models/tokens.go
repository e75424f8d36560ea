package models

import "time"

// TokenSet is what the vendor token endpoint returns, in seconds-based form.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// CallbackResult is returned after a successful OAuth callback.
type CallbackResult struct {
	SessionID string
	ReturnTo  string
}

// RefreshStatus is the body of the refresh-check endpoint.
type RefreshStatus struct {
	Success          bool      `json:"success"`
	ExpiresAt        time.Time `json:"expires_at"`
	ExpiresInSeconds int64     `json:"expires_in_seconds"`
	Refreshed        bool      `json:"refreshed"`
}
