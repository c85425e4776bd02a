package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

const (
	DefaultHTTPTimeout   = 4 * time.Second
	maxHTTPTimeout       = time.Minute
	maxHTTPResponseBytes = 256 * 1024
	maxHTTPRedirects     = 5
)

// DefaultAllowHosts is the host allowlist used when none is configured.
var DefaultAllowHosts = []string{"api.internal.local", "hooks.slack.com"}

type HTTPRequestInput struct {
	URL       string            `json:"url" jsonschema:"required,description=Target URL"`
	Method    string            `json:"method,omitempty" jsonschema:"description=HTTP method (default GET)"`
	Body      any               `json:"body,omitempty" jsonschema:"description=JSON request body"`
	Headers   map[string]string `json:"headers,omitempty" jsonschema:"description=Extra request headers"`
	TimeoutMS int               `json:"timeout_ms,omitempty" jsonschema:"description=Request timeout in milliseconds"`
}

type HTTPRequestOutput struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// HTTPConfig controls the http_request tool.
type HTTPConfig struct {
	AllowHosts []string
	Timeout    time.Duration
}

type httpRequestToolImpl struct {
	allowHosts []string
	timeout    time.Duration
	client     *http.Client
}

func newHTTPRequestImpl(cfg HTTPConfig, client *http.Client) *httpRequestToolImpl {
	hosts := make([]string, 0, len(cfg.AllowHosts))
	for _, h := range cfg.AllowHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	h := &httpRequestToolImpl{allowHosts: hosts, timeout: timeout}
	c := *client
	c.CheckRedirect = h.checkRedirect
	h.client = &c
	return h
}

// checkRedirect applies the host allowlist to every redirect hop.
func (h *httpRequestToolImpl) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxHTTPRedirects {
		return fmt.Errorf("stopped after %d redirects", maxHTTPRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("unsupported redirect scheme: %s", req.URL.Scheme)
	}
	if !h.allowed(req.URL.Hostname()) {
		return fmt.Errorf("redirect host not allowed: %s", req.URL.Hostname())
	}
	return nil
}

func (h *httpRequestToolImpl) allowed(host string) bool {
	host = strings.ToLower(host)
	return slices.Contains(h.allowHosts, "*") || slices.Contains(h.allowHosts, host)
}

func (h *httpRequestToolImpl) execute(ctx context.Context, input *HTTPRequestInput) (*HTTPRequestOutput, error) {
	rawURL := strings.TrimSpace(input.URL)
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme: %s", parsed.Scheme)
	}
	if !h.allowed(parsed.Hostname()) {
		return nil, fmt.Errorf("host not allowed: %s", parsed.Hostname())
	}

	method := strings.ToUpper(strings.TrimSpace(input.Method))
	if method == "" {
		method = http.MethodGet
	}

	timeout := h.timeout
	if input.TimeoutMS > 0 {
		timeout = time.Duration(input.TimeoutMS) * time.Millisecond
	}
	if timeout > maxHTTPTimeout {
		timeout = maxHTTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if input.Body != nil {
		encoded, err := json.Marshal(input.Body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "gatekeep-http-request/1.0")
	for k, v := range input.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http_request %s %s: %w", method, parsed.Host, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBytes+1))
	if err != nil {
		return nil, err
	}
	truncated := len(data) > maxHTTPResponseBytes
	if truncated {
		data = data[:maxHTTPResponseBytes]
	}

	out := &HTTPRequestOutput{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        string(data),
		Truncated:   truncated,
	}
	// Non-2xx responses are results, not failures; callers inspect Status.
	return out, nil
}

// NewHTTPRequestTool creates the http_request tool.
func NewHTTPRequestTool(cfg HTTPConfig) (tool.InvokableTool, error) {
	impl := newHTTPRequestImpl(cfg, nil)
	return utils.InferTool("http_request", "Call an allowlisted HTTP endpoint with a JSON body", impl.execute)
}
