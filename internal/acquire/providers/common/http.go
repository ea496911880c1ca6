package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const DefaultUserAgent = "redubstream/1.0"

// HTTPError is a non-2xx response from a provider API.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider HTTP %d", e.Status)
	}
	return fmt.Sprintf("provider HTTP %d: %s", e.Status, e.Body)
}

// NewClient returns an instrumented client for provider metadata calls.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// DoJSON sends body (if non-nil) as JSON and decodes a JSON response into out.
func DoJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8*1024*1024)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// NormalizeEndpoints trims, drops empties and strips trailing slashes.
func NormalizeEndpoints(endpoints []string) []string {
	out := make([]string, 0, len(endpoints))
	for _, endpoint := range endpoints {
		endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
		if endpoint != "" {
			out = append(out, endpoint)
		}
	}
	return out
}

// TryEndpoints calls fn for each endpoint in order until one succeeds.
func TryEndpoints[T any](ctx context.Context, endpoints []string, fn func(ctx context.Context, endpoint string) (T, error)) (T, error) {
	var zero T
	if len(endpoints) == 0 {
		return zero, errors.New("no endpoints configured")
	}
	errs := make([]error, 0, len(endpoints))
	for _, endpoint := range endpoints {
		result, err := fn(ctx, endpoint)
		if err == nil {
			return result, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", endpoint, err))
		if ctx.Err() != nil {
			break
		}
	}
	return zero, errors.Join(errs...)
}

// MediaTypeBase strips parameters such as codecs from a media type.
func MediaTypeBase(value string) string {
	base, _, _ := strings.Cut(value, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
