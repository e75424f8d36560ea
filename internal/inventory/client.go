// Package inventory proxies read-only listings from the vendor inventory API
// and caches them in Redis.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockroom/internal/auth/oauth"
	"stockroom/internal/platform/config"
)

var tracer = otel.Tracer("stockroom/internal/inventory")

// Resources the dashboard may list.
var Resources = []string{"warehouses", "items", "packages", "purchasereceives"}

// IsAllowed reports whether resource can be proxied.
func IsAllowed(resource string) bool {
	return slices.Contains(Resources, resource)
}

// APIError is a non-2xx answer from the vendor API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("inventory api returned %d", e.Status)
}

// PageContext is the vendor's pagination block.
type PageContext struct {
	Page        int  `json:"page"`
	PerPage     int  `json:"per_page"`
	HasMorePage bool `json:"has_more_page"`
}

// Listing is one page of a resource listing. Records are passed through
// unparsed.
type Listing struct {
	Resource    string            `json:"resource"`
	Records     []json.RawMessage `json:"records"`
	PageContext PageContext       `json:"page_context"`
	FetchedAt   time.Time         `json:"fetched_at"`
}

// Client calls the vendor inventory API with a user's access token.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	organizationID string
	authScheme     string
	now            func() time.Time
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithAuthScheme(scheme string) ClientOption {
	return func(c *Client) {
		if scheme != "" {
			c.authScheme = scheme
		}
	}
}

func NewClient(cfg config.OAuthConfig, opts ...ClientOption) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultOAuthTimeout
	}
	c := &Client{
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        strings.TrimRight(cfg.APIURL, "/"),
		organizationID: cfg.OrganizationID,
		authScheme:     oauth.DefaultAuthScheme,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// OrganizationID is the vendor organization every call is scoped to.
func (c *Client) OrganizationID() string {
	return c.organizationID
}

type listResponse struct {
	Code        int          `json:"code"`
	Message     string       `json:"message"`
	PageContext *PageContext `json:"page_context"`
}

// List fetches one page of resource.
func (c *Client) List(ctx context.Context, accessToken, resource string, page Page) (*Listing, error) {
	if !IsAllowed(resource) {
		return nil, fmt.Errorf("unknown inventory resource %q", resource)
	}
	page = page.normalized()

	ctx, span := tracer.Start(ctx, "inventory.list", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("inventory.resource", resource),
		attribute.Int("inventory.page", page.Number),
	)

	q := url.Values{
		"organization_id": {c.organizationID},
		"page":            {strconv.Itoa(page.Number)},
		"per_page":        {strconv.Itoa(page.PerPage)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+resource+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := oauth.AuthorizedClient(c.httpClient, c.authScheme, accessToken).Do(req)
	if err != nil {
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("inventory request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read inventory response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, "non-2xx")
		return nil, &APIError{Status: resp.StatusCode, Body: truncate(body)}
	}

	return decodeListing(resource, page, body, c.now())
}

func decodeListing(resource string, page Page, body []byte, now time.Time) (*Listing, error) {
	var envelope listResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode inventory response: %w", err)
	}
	if envelope.Code != 0 {
		return nil, &APIError{Status: http.StatusOK, Body: truncate(body)}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("decode inventory response: %w", err)
	}
	listing := &Listing{Resource: resource, Records: []json.RawMessage{}, FetchedAt: now}
	if raw, ok := fields[resource]; ok {
		if err := json.Unmarshal(raw, &listing.Records); err != nil {
			return nil, fmt.Errorf("decode %s: %w", resource, err)
		}
	}
	if envelope.PageContext != nil {
		listing.PageContext = *envelope.PageContext
	} else {
		listing.PageContext = PageContext{Page: page.Number, PerPage: page.PerPage}
	}
	return listing, nil
}

func truncate(b []byte) string {
	const limit = 2048
	if len(b) > limit {
		return string(b[:limit])
	}
	return string(b)
}
