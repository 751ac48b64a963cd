package btrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// UserAgent is sent with every HTTP request.
const UserAgent = "btrpc"

// NewHTTPClient returns an http.Client that authenticates with basic auth if
// username and password are both given, keeps cookies between requests and
// tunnels through proxyURL if it is not nil.
//
// The client has no timeout. Deadlines are set by the Client through the
// request context because not all transports are HTTP based.
func NewHTTPClient(username, password string, proxyURL *URL) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != nil {
		if err := configureProxy(transport, proxyURL); err != nil {
			return nil, err
		}
	}

	return &http.Client{
		Jar: jar,
		Transport: &authTransport{
			base:     transport,
			username: username,
			password: password,
		},
	}, nil
}

// authTransport adds basic auth and the user agent to each request.
type authTransport struct {
	base     http.RoundTripper
	username string
	password string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.username != "" && t.password != "" {
		req.SetBasicAuth(t.username, t.password)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent)
	}
	return t.base.RoundTrip(req)
}

// HTTPClient returns the cached HTTP client. It is created on first use and
// re-created after the URL, proxy URL or timeout changed.
func (c *Client) HTTPClient() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.httpDirty {
		c.httpDirty = false
		c.logger.Debug().Msg("HTTP client was invalidated")
		c.closeHTTPClientLocked()
	}

	if c.httpClient == nil {
		hc, err := NewHTTPClient(c.url.Username(), c.url.Password(), c.proxyURL)
		if err != nil {
			return nil, err
		}
		c.httpClient = hc
		c.logger.Debug().Msg("Created new HTTP client")
	}
	return c.httpClient, nil
}

// CloseHTTPClient closes the cached HTTP client. It is safe to call when
// there is no HTTP client.
func (c *Client) CloseHTTPClient() {
	c.mu.Lock()
	c.closeHTTPClientLocked()
	c.mu.Unlock()
}

func (c *Client) closeHTTPClientLocked() {
	if c.httpClient == nil {
		return
	}
	c.logger.Debug().Msg("Closing HTTP client")
	c.httpClient.CloseIdleConnections()
	c.httpClient = nil
}

// invalidate marks the HTTP client as stale and forces a reconnect.
func (c *Client) invalidate() {
	c.mu.Lock()
	if c.httpClient != nil {
		c.logger.Debug().Msg("HTTP client is now invalidated")
		c.httpDirty = true
	}
	c.status = StatusDisconnected
	c.mu.Unlock()
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Reason     string
	Header     http.Header
	Body       []byte
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// ReasonPhrase returns the reason phrase of resp, e.g. "Not Found".
func ReasonPhrase(resp *http.Response) string {
	reason := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}

// Do sends a POST request to rawURL with the client's headers and returns
// the unread response. Network failures are returned as ConnectionError.
func (c *Client) Do(ctx context.Context, rawURL, contentType string, body io.Reader) (*http.Response, error) {
	hc, err := c.HTTPClient()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, body)
	if err != nil {
		return nil, NewValueError("Invalid URL: %s", rawURL)
	}
	for key, values := range c.Headers() {
		req.Header[key] = values
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.logger.Debug().Str("url", rawURL).Msg("Sending POST request")
	resp, err := hc.Do(req)
	if err != nil {
		return nil, ConnectionErrorFrom(err)
	}
	return resp, nil
}

// Post sends a POST request and reads the whole response.
func (c *Client) Post(ctx context.Context, rawURL, contentType string, body io.Reader) (*Response, error) {
	resp, err := c.Do(ctx, rawURL, contentType, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ConnectionErrorFrom(err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Reason:     ReasonPhrase(resp),
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// PostForm sends form-encoded values.
func (c *Client) PostForm(ctx context.Context, rawURL string, values url.Values) (*Response, error) {
	var body io.Reader
	if values != nil {
		body = strings.NewReader(values.Encode())
	}
	return c.Post(ctx, rawURL, "application/x-www-form-urlencoded", body)
}

// PostJSON sends payload encoded as JSON.
func (c *Client) PostJSON(ctx context.Context, rawURL string, payload any) (*Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, NewValueError("Failed to serialize to JSON: %v", payload)
	}
	return c.Post(ctx, rawURL, "application/json", bytes.NewReader(data))
}

// File is uploaded as a multipart form file by PostMultipart.
type File struct {
	Name    string
	Content []byte
}

// PostMultipart sends fields and files as multipart/form-data.
func (c *Client) PostMultipart(ctx context.Context, rawURL string, fields url.Values, files map[string]File) (*Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for key, values := range fields {
		for _, value := range values {
			if err := w.WriteField(key, value); err != nil {
				return nil, fmt.Errorf("failed to write field %s: %w", key, err)
			}
		}
	}
	for field, file := range files {
		part, err := w.CreateFormFile(field, file.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create form file %s: %w", field, err)
		}
		if _, err := part.Write(file.Content); err != nil {
			return nil, fmt.Errorf("failed to write form file %s: %w", field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return c.Post(ctx, rawURL, w.FormDataContentType(), &buf)
}
