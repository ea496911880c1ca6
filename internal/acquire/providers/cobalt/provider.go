// Package cobalt resolves media through a cobalt-compatible JSON API.
package cobalt

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"redubstream/internal/acquire/providers/common"
	"redubstream/internal/domain"
)

type Config struct {
	// Name identifies this instance; defaults to "cobalt".
	Name      string
	Endpoints []string
	APIKey    string
	UserAgent string
	Client    *http.Client
}

type Provider struct {
	name      string
	client    *http.Client
	endpoints []string
	apiKey    string
	userAgent string
}

type request struct {
	URL           string `json:"url"`
	VideoQuality  string `json:"videoQuality"`
	DownloadMode  string `json:"downloadMode"`
	FilenameStyle string `json:"filenameStyle"`
}

type response struct {
	Status   string `json:"status"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Error    struct {
		Code string `json:"code"`
	} `json:"error"`
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
		name = "cobalt"
	}
	return &Provider{
		name:      name,
		client:    client,
		endpoints: common.NormalizeEndpoints(cfg.Endpoints),
		apiKey:    strings.TrimSpace(cfg.APIKey),
		userAgent: userAgent,
	}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:    p.Name(),
		Label:   "Cobalt",
		Kind:    "api",
		Enabled: len(p.endpoints) > 0,
	}
}

func (p *Provider) Resolve(ctx context.Context, sourceID string) (domain.MediaLocator, error) {
	return common.TryEndpoints(ctx, p.endpoints, func(ctx context.Context, endpoint string) (domain.MediaLocator, error) {
		return p.resolveAt(ctx, endpoint, sourceID)
	})
}

func (p *Provider) resolveAt(ctx context.Context, endpoint, sourceID string) (domain.MediaLocator, error) {
	headers := map[string]string{"User-Agent": p.userAgent}
	if p.apiKey != "" {
		headers["Authorization"] = "Api-Key " + p.apiKey
	}
	body := request{
		URL:           "https://www.youtube.com/watch?v=" + sourceID,
		VideoQuality:  "720",
		DownloadMode:  "auto",
		FilenameStyle: "basic",
	}

	var resp response
	if err := common.DoJSON(ctx, p.client, http.MethodPost, endpoint+"/", headers, body, &resp); err != nil {
		return domain.MediaLocator{}, err
	}

	switch resp.Status {
	case "tunnel", "redirect", "stream":
	case "error":
		return domain.MediaLocator{}, fmt.Errorf("cobalt error: %s", resp.Error.Code)
	default:
		return domain.MediaLocator{}, fmt.Errorf("cobalt: unsupported response status %q", resp.Status)
	}
	if strings.TrimSpace(resp.URL) == "" {
		return domain.MediaLocator{}, fmt.Errorf("cobalt: empty media url")
	}
	return domain.MediaLocator{
		Title:    titleFromFilename(resp.Filename),
		URL:      resp.URL,
		MimeType: mimeFromFilename(resp.Filename),
		Headers:  map[string]string{"User-Agent": p.userAgent},
	}, nil
}

// titleFromFilename strips the extension and the "(720p, h264)" style
// quality suffix cobalt appends.
func titleFromFilename(filename string) string {
	name := strings.TrimSpace(filename)
	if name == "" {
		return ""
	}
	name = strings.TrimSuffix(name, path.Ext(name))
	if i := strings.LastIndex(name, " ("); i > 0 && strings.HasSuffix(name, ")") {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}

func mimeFromFilename(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".mp4":
		return "video/mp4"
	default:
		return ""
	}
}
