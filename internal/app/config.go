package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProviderSpec configures one acquisition provider.
type ProviderSpec struct {
	Kind      string   `yaml:"kind"`
	Endpoints []string `yaml:"endpoints"`
	APIKey    string   `yaml:"apiKey,omitempty"`
}

// ProviderTiers is the layout of ACQUIRE_PROVIDERS_FILE.
type ProviderTiers struct {
	Primary  []ProviderSpec `yaml:"primary"`
	Fallback []ProviderSpec `yaml:"fallback"`
}

type Config struct {
	HTTPAddr       string
	LogLevel       string
	LogFormat      string
	MaxUploadBytes int64
	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    string

	FFmpegPath    string
	FFprobePath   string
	EngineWorkDir string

	SegmentWindow     time.Duration
	SegmentBatchSize  int
	SegmentStreamCopy bool
	SegmentPreset     string
	SegmentCRF        int
	AudioBitrate      string
	MergedBitrate     string

	Providers       ProviderTiers
	AcquireRace     bool
	MetadataTimeout time.Duration
	PayloadTimeout  time.Duration
	MinBytes        int64
	MaxBytes        int64
	ProviderRPS     float64
	UserAgent       string
	OEmbedEndpoint  string
	RedisURL        string
	TitleCacheTTL   time.Duration
}

const (
	defaultPrimary  = "cobalt=https://api.cobalt.tools"
	defaultFallback = "piped=https://pipedapi.kavin.rocks,invidious=https://inv.nadeko.net|https://yewtu.be"
)

// LoadDotEnv loads .env files into the process environment. Variables that
// are already set win. Missing files are ignored.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

func LoadConfig() (Config, error) {
	cfg := Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8766"),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", 2<<30),
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),
		CORSOrigins:    getEnv("CORS_ALLOWED_ORIGINS", "*"),

		FFmpegPath:    getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:   getEnv("FFPROBE_PATH", "ffprobe"),
		EngineWorkDir: getEnv("ENGINE_WORK_DIR", ""),

		SegmentWindow:     time.Duration(getEnvInt("SEGMENT_WINDOW_SECONDS", 60)) * time.Second,
		SegmentBatchSize:  getEnvInt("SEGMENT_BATCH_SIZE", 3),
		SegmentStreamCopy: getEnvBool("SEGMENT_STREAM_COPY", false),
		SegmentPreset:     getEnv("SEGMENT_PRESET", "veryfast"),
		SegmentCRF:        getEnvInt("SEGMENT_CRF", 23),
		AudioBitrate:      getEnv("AUDIO_BITRATE", "128k"),
		MergedBitrate:     getEnv("MERGED_AUDIO_BITRATE", "192k"),

		AcquireRace:     getEnvBool("ACQUIRE_RACE", true),
		MetadataTimeout: getEnvDuration("ACQUIRE_METADATA_TIMEOUT", 8*time.Second),
		PayloadTimeout:  getEnvDuration("ACQUIRE_PAYLOAD_TIMEOUT", 90*time.Second),
		MinBytes:        getEnvInt64("ACQUIRE_MIN_BYTES", 100*1024),
		MaxBytes:        getEnvInt64("ACQUIRE_MAX_BYTES", 2<<30),
		ProviderRPS:     getEnvFloat("ACQUIRE_PROVIDER_RPS", 2),
		UserAgent:       getEnv("USER_AGENT", "redubstream/1.0"),
		OEmbedEndpoint:  getEnv("OEMBED_ENDPOINT", "https://www.youtube.com/oembed"),
		RedisURL:        getEnv("REDIS_URL", ""),
		TitleCacheTTL:   getEnvDuration("TITLE_CACHE_TTL", 24*time.Hour),
	}

	if path := getEnv("ACQUIRE_PROVIDERS_FILE", ""); path != "" {
		tiers, err := LoadProviderFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg.Providers = tiers
	} else {
		cfg.Providers = ProviderTiers{
			Primary:  ParseProviderList(getEnv("ACQUIRE_PRIMARY", defaultPrimary)),
			Fallback: ParseProviderList(getEnv("ACQUIRE_FALLBACK", defaultFallback)),
		}
	}
	if key := getEnv("COBALT_API_KEY", ""); key != "" {
		cfg.Providers.applyAPIKey("cobalt", key)
	}
	return cfg, nil
}

// LoadProviderFile reads provider tiers from a YAML file.
func LoadProviderFile(path string) (ProviderTiers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ProviderTiers{}, fmt.Errorf("failed to read providers file: %w", err)
	}
	var tiers ProviderTiers
	if err := yaml.Unmarshal(data, &tiers); err != nil {
		return ProviderTiers{}, fmt.Errorf("failed to parse providers file: %w", err)
	}
	tiers.Primary = normalizeSpecs(tiers.Primary)
	tiers.Fallback = normalizeSpecs(tiers.Fallback)
	return tiers, nil
}

// ParseProviderList parses "kind=endpoint1|endpoint2,kind2=endpoint3".
func ParseProviderList(raw string) []ProviderSpec {
	specs := make([]ProviderSpec, 0)
	for _, item := range strings.Split(raw, ",") {
		kind, endpoints, _ := strings.Cut(strings.TrimSpace(item), "=")
		specs = append(specs, ProviderSpec{Kind: kind, Endpoints: strings.Split(endpoints, "|")})
	}
	return normalizeSpecs(specs)
}

func normalizeSpecs(specs []ProviderSpec) []ProviderSpec {
	out := make([]ProviderSpec, 0, len(specs))
	for _, spec := range specs {
		spec.Kind = strings.ToLower(strings.TrimSpace(spec.Kind))
		if spec.Kind == "" {
			continue
		}
		endpoints := make([]string, 0, len(spec.Endpoints))
		for _, endpoint := range spec.Endpoints {
			if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
				endpoints = append(endpoints, endpoint)
			}
		}
		spec.Endpoints = endpoints
		out = append(out, spec)
	}
	return out
}

func (t *ProviderTiers) applyAPIKey(kind, key string) {
	for _, specs := range [][]ProviderSpec{t.Primary, t.Fallback} {
		for i := range specs {
			if specs[i].Kind == kind && specs[i].APIKey == "" {
				specs[i].APIKey = key
			}
		}
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvInt64(key string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return fallback
		}
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
