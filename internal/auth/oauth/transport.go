package oauth

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
)

// refreshGrantTransport adds redirect_uri to refresh-token grants. x/oauth2
// only sends it with authorization-code grants and the vendor's token
// endpoint documents it for both.
type refreshGrantTransport struct {
	base        http.RoundTripper
	redirectURI string
}

func (t *refreshGrantTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.redirectURI == "" || req.Method != http.MethodPost || req.Body == nil {
		return t.base.RoundTrip(req)
	}

	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	if form, err := url.ParseQuery(string(body)); err == nil &&
		form.Get("grant_type") == "refresh_token" && form.Get("redirect_uri") == "" {
		form.Set("redirect_uri", t.redirectURI)
		body = []byte(form.Encode())
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	out.ContentLength = int64(len(body))
	return t.base.RoundTrip(out)
}

// tokenClient wraps base for calls to the token endpoint.
func tokenClient(base *http.Client, redirectURI string) *http.Client {
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &http.Client{
		Transport:     &refreshGrantTransport{base: rt, redirectURI: redirectURI},
		Timeout:       base.Timeout,
		CheckRedirect: base.CheckRedirect,
	}
}
