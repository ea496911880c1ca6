// Package invidious resolves media through Invidious instances.
package invidious

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
	// Name identifies this instance; defaults to "invidious".
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

type formatStream struct {
	URL          string `json:"url"`
	Type         string `json:"type"`
	Container    string `json:"container"`
	QualityLabel string `json:"qualityLabel"`
}

type videoResponse struct {
	Title         string         `json:"title"`
	FormatStreams []formatStream `json:"formatStreams"`
	Error         string         `json:"error"`
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
		name = "invidious"
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
		Label:   "Invidious",
		Kind:    "proxy",
		Enabled: len(p.endpoints) > 0,
	}
}

func (p *Provider) Resolve(ctx context.Context, sourceID string) (domain.MediaLocator, error) {
	return common.TryEndpoints(ctx, p.endpoints, func(ctx context.Context, endpoint string) (domain.MediaLocator, error) {
		target := endpoint + "/api/v1/videos/" + url.PathEscape(sourceID) + "?fields=title,formatStreams,error"
		var resp videoResponse
		if err := common.DoJSON(ctx, p.client, http.MethodGet, target, map[string]string{"User-Agent": p.userAgent}, nil, &resp); err != nil {
			return domain.MediaLocator{}, err
		}
		if resp.Error != "" {
			return domain.MediaLocator{}, errors.New(resp.Error)
		}
		chosen, ok := pickFormat(resp.FormatStreams)
		if !ok {
			return domain.MediaLocator{}, errors.New("no format streams available")
		}
		return domain.MediaLocator{
			Title:    strings.TrimSpace(resp.Title),
			URL:      chosen.URL,
			MimeType: common.MediaTypeBase(chosen.Type),
		}, nil
	})
}

// pickFormat prefers mp4; formatStreams are always muxed.
func pickFormat(formats []formatStream) (formatStream, bool) {
	var fallback *formatStream
	for i := range formats {
		f := formats[i]
		if strings.TrimSpace(f.URL) == "" {
			continue
		}
		if f.Container == "mp4" || common.MediaTypeBase(f.Type) == "video/mp4" {
			return f, true
		}
		if fallback == nil {
			fallback = &formats[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return formatStream{}, false
}
