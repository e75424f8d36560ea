// Package oauth talks to the vendor's OAuth token endpoint and user-info
// endpoint. It never retries: authorization codes are single-use and refresh
// retries are the caller's decision.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"stockroom/internal/auth/models"
	"stockroom/internal/platform/config"
)

const (
	// DefaultAuthScheme is the Authorization header scheme the vendor API expects.
	DefaultAuthScheme = "Zoho-oauthtoken"

	// defaultExpiresIn applies when the token endpoint omits expires_in.
	defaultExpiresIn int64 = 3600

	tokenPath     = "/oauth/v2/token"
	authorizePath = "/oauth/v2/auth"
)

var tracer = otel.Tracer("stockroom/internal/auth/oauth")

// Client performs the authorization-code and refresh-token exchanges and
// fetches the authenticated user's profile.
type Client struct {
	cfg            *oauth2.Config
	httpClient     *http.Client
	tokenClient    *http.Client
	apiURL         string
	organizationID string
	authScheme     string
	timeout        time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport used for every vendor call.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithAuthScheme overrides the Authorization header scheme.
func WithAuthScheme(scheme string) Option {
	return func(c *Client) {
		if scheme != "" {
			c.authScheme = scheme
		}
	}
}

// New builds a Client from the vendor OAuth configuration.
func New(cfg config.OAuthConfig, opts ...Option) *Client {
	accounts := strings.TrimRight(cfg.AccountsURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultOAuthTimeout
	}
	c := &Client{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   accounts + authorizePath,
				TokenURL:  accounts + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient:     &http.Client{Timeout: timeout},
		apiURL:         strings.TrimRight(cfg.APIURL, "/"),
		organizationID: cfg.OrganizationID,
		authScheme:     DefaultAuthScheme,
		timeout:        timeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.tokenClient = tokenClient(c.httpClient, cfg.RedirectURI)
	return c
}

// AuthScheme returns the Authorization header scheme used for API calls.
func (c *Client) AuthScheme() string {
	return c.authScheme
}

// AuthorizationURL returns the vendor consent URL. state is round-tripped
// untouched to the callback.
func (c *Client) AuthorizationURL(state string) string {
	return c.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// ExchangeCode trades a single-use authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*models.TokenSet, error) {
	ctx, span := tracer.Start(ctx, "oauth.exchange_code", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	ctx, cancel := c.bound(ctx)
	defer cancel()

	tok, err := c.cfg.Exchange(ctx, code)
	if err != nil {
		status, errCode, body := retrieveDetails(err)
		span.SetStatus(codes.Error, "exchange failed")
		span.SetAttributes(attribute.Int("http.status_code", status))
		return nil, &ExchangeError{Status: status, Code: errCode, Body: body, Err: err}
	}
	return toTokenSet(tok), nil
}

// Refresh trades a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*models.TokenSet, error) {
	ctx, span := tracer.Start(ctx, "oauth.refresh", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	ctx, cancel := c.bound(ctx)
	defer cancel()

	// An empty access token forces the source to hit the token endpoint.
	tok, err := c.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		status, errCode, body := retrieveDetails(err)
		span.SetStatus(codes.Error, "refresh failed")
		span.SetAttributes(attribute.Int("http.status_code", status))
		return nil, &RefreshError{Status: status, Code: errCode, Body: body, Err: err}
	}
	return toTokenSet(tok), nil
}

type currentUserResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	User    struct {
		UserID       string `json:"user_id"`
		Name         string `json:"name"`
		Email        string `json:"email"`
		RoleID       string `json:"role_id"`
		UserRole     string `json:"user_role"`
		RoleName     string `json:"role_name"`
		IsAccountant bool   `json:"is_accountant"`
	} `json:"user"`
}

// FetchCurrentUser loads the profile of the user the access token belongs to.
func (c *Client) FetchCurrentUser(ctx context.Context, accessToken string) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "oauth.fetch_current_user", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	ctx, cancel := c.bound(ctx)
	defer cancel()

	endpoint := c.apiURL + "/users/me?" + url.Values{"organization_id": {c.organizationID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &UserFetchError{Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := AuthorizedClient(c.httpClient, c.authScheme, accessToken).Do(req)
	if err != nil {
		span.SetStatus(codes.Error, "request failed")
		return nil, &UserFetchError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &UserFetchError{Status: resp.StatusCode, Err: err}
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, "non-2xx")
		return nil, &UserFetchError{Status: resp.StatusCode, Body: truncate(body)}
	}

	var parsed currentUserResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &UserFetchError{Status: resp.StatusCode, Body: truncate(body), Err: err}
	}
	if parsed.Code != 0 || parsed.User.UserID == "" {
		return nil, &UserFetchError{Status: resp.StatusCode, Body: truncate(body)}
	}

	role := parsed.User.RoleName
	if role == "" {
		role = parsed.User.UserRole
	}
	return &models.User{
		ID:             parsed.User.UserID,
		Name:           parsed.User.Name,
		Email:          parsed.User.Email,
		RoleID:         parsed.User.RoleID,
		RoleName:       role,
		IsAccountant:   parsed.User.IsAccountant,
		OrganizationID: c.organizationID,
	}, nil
}

// bound applies the per-call timeout and hands the token client to oauth2.
func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	return context.WithValue(ctx, oauth2.HTTPClient, c.tokenClient), cancel
}

// AuthorizedClient returns a client that sends "Authorization: <scheme> <token>"
// on every request.
func AuthorizedClient(base *http.Client, scheme, accessToken string) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: scheme})
	return &http.Client{
		Transport:     &oauth2.Transport{Source: src, Base: base.Transport},
		Timeout:       base.Timeout,
		CheckRedirect: base.CheckRedirect,
	}
}

func retrieveDetails(err error) (status int, code string, body string) {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return status, re.ErrorCode, truncate(re.Body)
	}
	return 0, "", ""
}

func toTokenSet(tok *oauth2.Token) *models.TokenSet {
	ts := &models.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    expiresIn(tok),
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	return ts
}

// expiresIn prefers the raw expires_in field, then the computed expiry.
func expiresIn(tok *oauth2.Token) int64 {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		if v > 0 {
			return int64(v)
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	if !tok.Expiry.IsZero() {
		if secs := math.Round(time.Until(tok.Expiry).Seconds()); secs > 0 {
			return int64(secs)
		}
	}
	return defaultExpiresIn
}

// String hides secrets if a Client is ever logged.
func (c *Client) String() string {
	return fmt.Sprintf("oauth.Client{client_id=%s, token_url=%s}", c.cfg.ClientID, c.cfg.Endpoint.TokenURL)
}
