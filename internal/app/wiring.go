package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"redubstream/internal/acquire"
	"redubstream/internal/acquire/providers/cobalt"
	"redubstream/internal/acquire/providers/invidious"
	"redubstream/internal/acquire/providers/oembed"
	"redubstream/internal/acquire/providers/piped"
	"redubstream/internal/engine"
	"redubstream/internal/engine/ffmpeg"
	"redubstream/internal/engine/ffprobe"
	"redubstream/internal/segmenter"
)

func NewLogger(levelRaw, formatRaw string) *slog.Logger {
	options := &slog.HandlerOptions{Level: parseLogLevel(levelRaw)}
	if strings.ToLower(strings.TrimSpace(formatRaw)) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// BuildProviders turns provider specs into the acquisition providers of one
// tier. Instances are named kind@tierN so the same kind can appear in several
// tiers; repeats within a tier get a numeric suffix. Unknown kinds are logged
// and skipped.
func BuildProviders(specs []ProviderSpec, rank int, cfg Config, logger *slog.Logger) acquire.Tier {
	client := &http.Client{
		Timeout:   cfg.MetadataTimeout + 2*time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	tier := make(acquire.Tier, 0, len(specs))
	seen := make(map[string]int)
	for _, spec := range specs {
		kind := strings.ToLower(strings.TrimSpace(spec.Kind))
		seen[kind]++
		name := fmt.Sprintf("%s@tier%d", kind, rank)
		if seen[kind] > 1 {
			name = fmt.Sprintf("%s-%d", name, seen[kind])
		}
		switch kind {
		case "cobalt":
			tier = append(tier, cobalt.NewProvider(cobalt.Config{
				Name:      name,
				Endpoints: spec.Endpoints,
				APIKey:    spec.APIKey,
				UserAgent: cfg.UserAgent,
				Client:    client,
			}))
		case "piped":
			tier = append(tier, piped.NewProvider(piped.Config{
				Name:      name,
				Endpoints: spec.Endpoints,
				UserAgent: cfg.UserAgent,
				Client:    client,
			}))
		case "invidious":
			tier = append(tier, invidious.NewProvider(invidious.Config{
				Name:      name,
				Endpoints: spec.Endpoints,
				UserAgent: cfg.UserAgent,
				Client:    client,
			}))
		default:
			logger.Warn("unknown acquisition provider kind", slog.String("kind", spec.Kind))
		}
	}
	return tier
}

// NewAcquireService wires provider tiers, title lookup and the optional Redis
// title cache.
func NewAcquireService(cfg Config, logger *slog.Logger) *acquire.Service {
	opts := []acquire.ServiceOption{
		acquire.WithLogger(logger),
		acquire.WithUserAgent(cfg.UserAgent),
		acquire.WithTimeouts(cfg.MetadataTimeout, cfg.PayloadTimeout),
		acquire.WithSizeLimits(cfg.MinBytes, cfg.MaxBytes),
		acquire.WithRace(cfg.AcquireRace),
		acquire.WithProviderRateLimit(cfg.ProviderRPS, 2),
		acquire.WithTitleCacheTTL(cfg.TitleCacheTTL),
		acquire.WithTitleResolver(oembed.NewResolver(cfg.OEmbedEndpoint, nil)),
	}
	if cache := newRedisTitleCache(cfg, logger); cache != nil {
		opts = append(opts, acquire.WithRedisTitleCache(cache))
	}

	tiers := []acquire.Tier{
		BuildProviders(cfg.Providers.Primary, 1, cfg, logger),
		BuildProviders(cfg.Providers.Fallback, 2, cfg, logger),
	}
	return acquire.NewService(tiers, opts...)
}

func newRedisTitleCache(cfg Config, logger *slog.Logger) *acquire.RedisTitleCache {
	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, using in-memory title cache only", slog.String("error", err.Error()))
		return nil
	}
	client := redis.NewClient(redisOpts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable, using in-memory title cache only", slog.String("error", err.Error()))
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return acquire.NewRedisTitleCache(client)
}

// EngineStack is the ffmpeg engine behind its shared handle plus the
// independent metadata probe.
type EngineStack struct {
	FFmpeg *ffmpeg.Engine
	Handle *engine.Handle
	Probe  *ffprobe.Prober
}

func NewEngineStack(cfg Config, logger *slog.Logger) EngineStack {
	ff := ffmpeg.New(ffmpeg.Config{
		FFmpegPath: cfg.FFmpegPath,
		WorkDir:    cfg.EngineWorkDir,
		Logger:     logger,
	})
	return EngineStack{
		FFmpeg: ff,
		Handle: engine.NewHandle(ff),
		Probe:  ffprobe.New(cfg.FFprobePath),
	}
}

func (c Config) SegmenterConfig() segmenter.Config {
	return segmenter.Config{
		Window:       c.SegmentWindow.Seconds(),
		BatchSize:    c.SegmentBatchSize,
		StreamCopy:   c.SegmentStreamCopy,
		Preset:       c.SegmentPreset,
		CRF:          c.SegmentCRF,
		AudioBitrate: c.AudioBitrate,
	}
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS. "*" or an empty value allows
// any origin.
func AllowedOrigins(raw string) []string {
	var out []string
	for _, origin := range strings.Split(raw, ",") {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return nil
		}
		if origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
