package acquire

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"redubstream/internal/metrics"
)

type titleEntry struct {
	title     string
	expiresAt time.Time
}

// titleCache keeps the first title seen per source id so repeated
// acquisitions report the same name whichever provider wins.
type titleCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]titleEntry
}

func newTitleCache(ttl time.Duration) *titleCache {
	return &titleCache{ttl: ttl, entries: make(map[string]titleEntry)}
}

func (c *titleCache) get(id string, now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[id]
	if !ok {
		return "", false
	}
	if c.ttl > 0 && now.After(entry.expiresAt) {
		delete(c.entries, id)
		return "", false
	}
	return entry.title, true
}

func (c *titleCache) set(id, title string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = titleEntry{title: title, expiresAt: now.Add(c.ttl)}
}

func (s *Service) cachedTitle(ctx context.Context, id string) (string, bool) {
	if title, ok := s.titles.get(id, time.Now()); ok {
		metrics.TitleCacheHitsTotal.Inc()
		return title, true
	}
	if s.redisTitles != nil {
		title, found, err := s.redisTitles.Get(ctx, id)
		if err == nil && found {
			s.titles.set(id, title, time.Now())
			metrics.TitleCacheHitsTotal.Inc()
			return title, true
		}
	}
	metrics.TitleCacheMissesTotal.Inc()
	return "", false
}

func (s *Service) storeTitle(ctx context.Context, id, title string) {
	s.titles.set(id, title, time.Now())
	if s.redisTitles != nil {
		if err := s.redisTitles.Set(ctx, id, title, s.titleTTL); err != nil {
			s.logger.Warn("title cache write failed", "sourceId", id, "error", err.Error())
		}
	}
}

// resolveTitle picks cached title, then provider title, then the title
// resolver, then video-<id>.
func (s *Service) resolveTitle(ctx context.Context, id, providerTitle string) string {
	if title, ok := s.cachedTitle(ctx, id); ok {
		return title
	}
	title := strings.TrimSpace(providerTitle)
	if title == "" && s.titleResolver != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, s.metadataTimeout)
		resolved, err := s.titleResolver.ResolveTitle(lookupCtx, id)
		cancel()
		if err != nil {
			s.logger.Debug("title lookup failed", "sourceId", id, "error", err.Error())
		}
		title = strings.TrimSpace(resolved)
	}
	if title == "" {
		return "video-" + id
	}
	s.storeTitle(ctx, id, title)
	return title
}

var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// DisplayName turns a title into a filesystem-safe ASCII base name. Titles
// with nothing left after folding fall back to video-<id>.
func DisplayName(title, id string) string {
	folded, _, err := transform.String(foldMarks, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	lastSep := true
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			lastSep = false
		case r == '-' || r == '.':
			if !lastSep {
				b.WriteRune(r)
				lastSep = true
			}
		default:
			if !lastSep {
				b.WriteRune('_')
				lastSep = true
			}
		}
		if b.Len() >= 80 {
			break
		}
	}
	name := strings.Trim(b.String(), "_-.")
	if name == "" {
		return "video-" + id
	}
	return name
}

// ExtensionFor maps a media type to a container extension.
func ExtensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "video/webm", "audio/webm":
		return ".webm"
	case "video/x-matroska":
		return ".mkv"
	case "video/quicktime":
		return ".mov"
	case "video/3gpp":
		return ".3gp"
	default:
		return ".mp4"
	}
}
