// Package piped resolves media through Piped API instances.
package piped

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"redubstream/internal/acquire/providers/common"
	"redubstream/internal/domain"
)

type Config struct {
	// Name identifies this instance; defaults to "piped".
	Name      string
	Endpoints []string
	UserAgent string
	Client    *http.Client
}

type Provider struct {
	name      string
	client    *http.Client
	endpoints []string
	userAgent string
}

type stream struct {
	URL       string `json:"url"`
	MimeType  string `json:"mimeType"`
	Quality   string `json:"quality"`
	VideoOnly bool   `json:"videoOnly"`
}

type streamsResponse struct {
	Title        string   `json:"title"`
	Duration     int      `json:"duration"`
	VideoStreams []stream `json:"videoStreams"`
	Error        string   `json:"error"`
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = common.NewClient(0)
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = common.DefaultUserAgent
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	if name == "" {
		name = "piped"
	}
	return &Provider{
		name:      name,
		client:    client,
		endpoints: common.NormalizeEndpoints(cfg.Endpoints),
		userAgent: userAgent,
	}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:    p.Name(),
		Label:   "Piped",
		Kind:    "proxy",
		Enabled: len(p.endpoints) > 0,
	}
}

func (p *Provider) Resolve(ctx context.Context, sourceID string) (domain.MediaLocator, error) {
	return common.TryEndpoints(ctx, p.endpoints, func(ctx context.Context, endpoint string) (domain.MediaLocator, error) {
		var resp streamsResponse
		target := endpoint + "/streams/" + url.PathEscape(sourceID)
		if err := common.DoJSON(ctx, p.client, http.MethodGet, target, map[string]string{"User-Agent": p.userAgent}, nil, &resp); err != nil {
			return domain.MediaLocator{}, err
		}
		if resp.Error != "" {
			return domain.MediaLocator{}, errors.New(resp.Error)
		}
		chosen, ok := pickStream(resp.VideoStreams)
		if !ok {
			return domain.MediaLocator{}, errors.New("no muxed stream available")
		}
		return domain.MediaLocator{
			Title:    strings.TrimSpace(resp.Title),
			URL:      chosen.URL,
			MimeType: common.MediaTypeBase(chosen.MimeType),
		}, nil
	})
}

// pickStream prefers the first muxed mp4 stream, then any muxed stream.
func pickStream(streams []stream) (stream, bool) {
	var fallback *stream
	for i := range streams {
		s := streams[i]
		if s.VideoOnly || strings.TrimSpace(s.URL) == "" {
			continue
		}
		if common.MediaTypeBase(s.MimeType) == "video/mp4" {
			return s, true
		}
		if fallback == nil {
			fallback = &streams[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return stream{}, false
}
