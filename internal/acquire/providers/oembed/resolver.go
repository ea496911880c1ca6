// Package oembed looks up video titles through an oEmbed endpoint.
package oembed

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"redubstream/internal/acquire/providers/common"
)

const DefaultEndpoint = "https://www.youtube.com/oembed"

type Resolver struct {
	client   *http.Client
	endpoint string
}

func NewResolver(endpoint string, client *http.Client) *Resolver {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if client == nil {
		client = common.NewClient(0)
	}
	return &Resolver{client: client, endpoint: endpoint}
}

func (r *Resolver) ResolveTitle(ctx context.Context, sourceID string) (string, error) {
	query := url.Values{}
	query.Set("url", "https://www.youtube.com/watch?v="+sourceID)
	query.Set("format", "json")

	var resp struct {
		Title string `json:"title"`
	}
	if err := common.DoJSON(ctx, r.client, http.MethodGet, r.endpoint+"?"+query.Encode(), nil, nil, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Title), nil
}
