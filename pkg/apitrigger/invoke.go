package apitrigger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nstogner/autoassist/pkg/store"
)

// Result is the outcome of one external API call.
type Result struct {
	Success bool
	// Data is the selected response value. For image configs it is the base64
	// encoded image.
	Data   any
	Error  string
	Status int
}

// Invoker performs external API calls. Failures are reported in the Result.
type Invoker interface {
	Invoke(ctx context.Context, cfg store.APIConfig, params map[string]any) Result
}

// DefaultMaxResponseBytes bounds how much of a response body is read.
const DefaultMaxResponseBytes = 20 << 20

// HTTPInvoker calls APIs over HTTP.
type HTTPInvoker struct {
	Client *http.Client
	// MaxResponseBytes defaults to DefaultMaxResponseBytes. Larger responses
	// fail instead of being truncated.
	MaxResponseBytes int64
}

var _ Invoker = (*HTTPInvoker)(nil)

// NewHTTPInvoker returns an invoker with its own client timeout.
func NewHTTPInvoker() *HTTPInvoker {
	return &HTTPInvoker{
		Client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Invoke calls the endpoint of cfg. GET sends params as query values; any
// other method sends them as a JSON body.
func (h *HTTPInvoker) Invoke(ctx context.Context, cfg store.APIConfig, params map[string]any) Result {
	req, err := buildRequest(ctx, cfg, params)
	if err != nil {
		return Result{Error: err.Error()}
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Error: fmt.Sprintf("call %s: %v", cfg.Name, err)}
	}
	defer resp.Body.Close()

	limit := h.MaxResponseBytes
	if limit <= 0 {
		limit = DefaultMaxResponseBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return Result{Status: resp.StatusCode, Error: fmt.Sprintf("read response: %v", err)}
	}
	if int64(len(body)) > limit {
		return Result{Status: resp.StatusCode, Error: fmt.Sprintf("%s response exceeds %d bytes", cfg.Name, limit)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{
			Status: resp.StatusCode,
			Error:  fmt.Sprintf("%s returned %d: %s", cfg.Name, resp.StatusCode, truncate(string(body), 200)),
		}
	}

	var data any
	if cfg.ResponseType == store.ResponseImage {
		data, err = imageData(resp.Header.Get("Content-Type"), body, cfg.ResultPath)
	} else {
		data, err = textData(resp.Header.Get("Content-Type"), body, cfg.ResultPath)
	}
	if err != nil {
		return Result{Status: resp.StatusCode, Error: err.Error()}
	}
	return Result{Success: true, Data: data, Status: resp.StatusCode}
}

func buildRequest(ctx context.Context, cfg store.APIConfig, params map[string]any) (*http.Request, error) {
	method := strings.ToUpper(cfg.Endpoint.Method)
	if method == "" {
		method = http.MethodPost
	}

	u, err := url.Parse(cfg.Endpoint.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint URL %q", cfg.Endpoint.URL)
	}
	q := u.Query()
	for k, v := range cfg.Endpoint.Query {
		q.Set(k, v)
	}

	var body io.Reader
	if method == http.MethodGet {
		for k, v := range params {
			q.Set(k, fmt.Sprint(v))
		}
	} else {
		payload, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	var headerName, headerValue string
	if cfg.Auth != nil && cfg.Auth.Token != "" {
		switch strings.ToLower(cfg.Auth.Type) {
		case "", "bearer":
			headerName, headerValue = "Authorization", "Bearer "+cfg.Auth.Token
		case "header":
			headerName = cfg.Auth.HeaderName
			if headerName == "" {
				headerName = "X-API-Key"
			}
			headerValue = cfg.Auth.Token
		case "query":
			name := cfg.Auth.HeaderName
			if name == "" {
				name = "key"
			}
			q.Set(name, cfg.Auth.Token)
		default:
			return nil, fmt.Errorf("unknown auth type %q", cfg.Auth.Type)
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cfg.Endpoint.Headers {
		req.Header.Set(k, v)
	}
	if headerName != "" {
		req.Header.Set(headerName, headerValue)
	}
	return req, nil
}

func textData(contentType string, body []byte, path string) (any, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		if strings.Contains(contentType, "json") {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		return string(body), nil
	}
	if path == "" {
		return v, nil
	}
	sel, ok := Select(v, path)
	if !ok {
		return nil, fmt.Errorf("result path %q not found in response", path)
	}
	return sel, nil
}

// imageFields are checked, in order, when an image response comes back as JSON
// and no result path is configured.
var imageFields = []string{"image", "b64_json", "image_base64", "data"}

func imageData(contentType string, body []byte, path string) (any, error) {
	if strings.HasPrefix(contentType, "image/") {
		return base64.StdEncoding.EncodeToString(body), nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("unexpected image response type %q", contentType)
	}
	if path != "" {
		sel, ok := Select(v, path)
		if s, isStr := sel.(string); ok && isStr && s != "" {
			return stripDataURL(s), nil
		}
		return nil, fmt.Errorf("result path %q does not hold an image", path)
	}
	if m, ok := v.(map[string]any); ok {
		for _, f := range imageFields {
			if s, ok := m[f].(string); ok && s != "" {
				return stripDataURL(s), nil
			}
		}
	}
	return nil, fmt.Errorf("no image found in response")
}

func stripDataURL(s string) string {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			return s[i+1:]
		}
	}
	return s
}

// Select walks a dotted path through decoded JSON. Numeric segments index arrays.
func Select(v any, path string) (any, bool) {
	cur := v
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			continue
		}
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// FormatData renders a result value as note text.
func FormatData(data any) string {
	switch d := data.(type) {
	case nil:
		return ""
	case string:
		return d
	default:
		b, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return fmt.Sprint(d)
		}
		return string(b)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
