package domain

import "time"

type ProviderInfo struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Kind    string `json:"kind"`
	Tier    int    `json:"tier"`
	Enabled bool   `json:"enabled"`
}

// ProviderStatus is the outcome of one provider attempt during acquisition.
type ProviderStatus struct {
	Name  string `json:"name"`
	Tier  int    `json:"tier"`
	OK    bool   `json:"ok"`
	Bytes int64  `json:"bytes,omitempty"`
	Error string `json:"error,omitempty"`
}

type ProviderDiagnostics struct {
	Name                string     `json:"name"`
	Label               string     `json:"label"`
	Kind                string     `json:"kind"`
	Tier                int        `json:"tier"`
	Enabled             bool       `json:"enabled"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastError           string     `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64      `json:"lastLatencyMs,omitempty"`
	LastTimeout         bool       `json:"lastTimeout,omitempty"`
	LastSourceID        string     `json:"lastSourceId,omitempty"`
	TotalRequests       int64      `json:"totalRequests,omitempty"`
	TotalFailures       int64      `json:"totalFailures,omitempty"`
	TimeoutCount        int64      `json:"timeoutCount,omitempty"`
	// Recent holds the latest attempts, newest first.
	Recent []ProviderAttempt `json:"recent,omitempty"`
}

// ProviderAttempt is one recorded attempt of a provider for a source id.
type ProviderAttempt struct {
	SourceID  string    `json:"sourceId"`
	At        time.Time `json:"at"`
	Outcome   string    `json:"outcome"`
	LatencyMS int64     `json:"latencyMs"`
	Error     string    `json:"error,omitempty"`
}

// MediaLocator is what a provider resolves a source id to: a fetchable media
// URL plus whatever metadata the provider exposes.
type MediaLocator struct {
	Title    string
	URL      string
	MimeType string
	Headers  map[string]string
}
