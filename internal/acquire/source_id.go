package acquire

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"redubstream/internal/domain"
)

var sourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

var sourceHosts = map[string]struct{}{
	"youtube.com":              {},
	"www.youtube.com":          {},
	"m.youtube.com":            {},
	"music.youtube.com":        {},
	"youtube-nocookie.com":     {},
	"www.youtube-nocookie.com": {},
	"youtu.be":                 {},
	"www.youtu.be":             {},
}

// ParseSourceID extracts the 11-character video id from a share link or
// accepts the bare id. Anything else is ErrInvalidSource.
func ParseSourceID(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("%w: empty link", domain.ErrInvalidSource)
	}
	if sourceIDPattern.MatchString(value) {
		return value, nil
	}

	if !strings.Contains(value, "://") {
		value = "https://" + value
	}
	u, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidSource, err)
	}
	host := strings.ToLower(u.Hostname())
	if _, ok := sourceHosts[host]; !ok {
		return "", fmt.Errorf("%w: unsupported host %q", domain.ErrInvalidSource, u.Hostname())
	}

	var candidate string
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch {
	case strings.HasSuffix(host, "youtu.be"):
		candidate = segments[0]
	case len(segments) >= 2 && isPathPrefix(segments[0]):
		candidate = segments[1]
	case segments[0] == "watch" || segments[0] == "":
		candidate = u.Query().Get("v")
	}

	if !sourceIDPattern.MatchString(candidate) {
		return "", fmt.Errorf("%w: no video id in %q", domain.ErrInvalidSource, raw)
	}
	return candidate, nil
}

func isPathPrefix(segment string) bool {
	switch segment {
	case "shorts", "embed", "live", "v", "e":
		return true
	}
	return false
}

// CanonicalURL is the watch URL for a source id.
func CanonicalURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}
