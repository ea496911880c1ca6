package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"redubstream/internal/domain"
)

var (
	ErrPayloadTooSmall = errors.New("payload below minimum size")
	ErrPayloadTooLarge = errors.New("payload above maximum size")
)

type payload struct {
	data     []byte
	mimeType string
}

// fetchPayload downloads the located media. An undersized body is an error
// so that it falls through to the next provider like a network failure.
func (s *Service) fetchPayload(ctx context.Context, loc domain.MediaLocator) (payload, error) {
	if strings.TrimSpace(loc.URL) == "" {
		return payload{}, errors.New("provider returned no media url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.URL, nil)
	if err != nil {
		return payload{}, fmt.Errorf("build payload request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	for key, value := range loc.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return payload{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return payload{}, fmt.Errorf("payload HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if s.maxBytes > 0 && resp.ContentLength > s.maxBytes {
		return payload{}, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, resp.ContentLength, s.maxBytes)
	}

	reader := io.Reader(resp.Body)
	if s.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, s.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return payload{}, fmt.Errorf("read payload: %w", err)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return payload{}, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, s.maxBytes)
	}
	if int64(len(data)) < s.minBytes {
		return payload{}, fmt.Errorf("%w: %d < %d bytes", ErrPayloadTooSmall, len(data), s.minBytes)
	}

	mimeType := strings.TrimSpace(loc.MimeType)
	if mimeType == "" {
		if parsed, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
			mimeType = parsed
		}
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = "video/mp4"
	}
	return payload{data: data, mimeType: mimeType}, nil
}
