package models

import (
	"time"
)

// User is the vendor profile cached on the session at login.
type User struct {
	ID             string `json:"user_id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	RoleID         string `json:"role_id,omitempty"`
	RoleName       string `json:"role_name,omitempty"`
	IsAccountant   bool   `json:"is_accountant,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// Session binds an opaque identifier to a vendor token pair and a cached
// user profile. ExpiresAt always belongs to the stored AccessToken.
type Session struct {
	ID           string     `json:"id"`
	User         User       `json:"user"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	TokenType    string     `json:"token_type,omitempty"`
	ExpiresAt    time.Time  `json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	RefreshedAt  *time.Time `json:"refreshed_at,omitempty"`
	RefreshCount int        `json:"refresh_count"`
	LastActivity time.Time  `json:"last_activity"`
	Device       string     `json:"device,omitempty"`
}

// HasRefreshToken reports whether the vendor granted offline access.
func (s *Session) HasRefreshToken() bool {
	return s.RefreshToken != ""
}

// NeedsRefresh is true once the access token is within buffer of expiring.
func (s *Session) NeedsRefresh(now time.Time, buffer time.Duration) bool {
	return s.ExpiresAt.Sub(now) < buffer
}

// IsExpired is true once the access token can no longer be used.
func (s *Session) IsExpired(now time.Time) bool {
	return s.ExpiresAt.Sub(now) <= 0
}

// ExpiresIn returns the remaining token lifetime, never negative.
func (s *Session) ExpiresIn(now time.Time) time.Duration {
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Touch records activity without changing tokens.
func (s *Session) Touch(now time.Time) {
	s.LastActivity = now
}

// ApplyTokens installs a freshly refreshed token set. The access token and
// its expiry are always replaced together. The refresh token is kept when the
// vendor does not rotate it.
func (s *Session) ApplyTokens(tokens *TokenSet, now time.Time) {
	s.AccessToken = tokens.AccessToken
	s.ExpiresAt = now.Add(time.Duration(tokens.ExpiresIn) * time.Second)
	if tokens.RefreshToken != "" {
		s.RefreshToken = tokens.RefreshToken
	}
	if tokens.TokenType != "" {
		s.TokenType = tokens.TokenType
	}
	refreshedAt := now
	s.RefreshedAt = &refreshedAt
	s.RefreshCount++
	s.LastActivity = now
}

// Clone returns a copy that shares no pointers with s.
func (s *Session) Clone() *Session {
	c := *s
	if s.RefreshedAt != nil {
		t := *s.RefreshedAt
		c.RefreshedAt = &t
	}
	return &c
}

// Summary is the token-free view used by operational tooling.
func (s *Session) Summary(now time.Time) SessionSummary {
	return SessionSummary{
		SessionID:    s.ID,
		UserID:       s.User.ID,
		Email:        s.User.Email,
		Device:       s.Device,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		ExpiresAt:    s.ExpiresAt,
		RefreshCount: s.RefreshCount,
		Expired:      s.IsExpired(now),
		CanRefresh:   s.HasRefreshToken(),
	}
}

type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Device       string    `json:"device,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshCount int       `json:"refresh_count"`
	Expired      bool      `json:"expired"`
	CanRefresh   bool      `json:"can_refresh"`
}
