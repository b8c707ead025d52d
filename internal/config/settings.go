package config

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Settings holds the run parameters. A pipeline run receives a copy and
// never mutates it.
type Settings struct {
	Timezone           string   `yaml:"timezone" validate:"required"`
	LookbackDays       int      `yaml:"lookback_days" validate:"gte=0"`
	MaxResults         int      `yaml:"max_results" validate:"gte=0"`
	RelevanceThreshold int      `yaml:"relevance_threshold" validate:"gte=1,lte=10"`
	CPVCodes           []string `yaml:"cpv_codes" validate:"dive,required"`
	Countries          []string `yaml:"countries" validate:"dive,len=2"`
	CompanyProfile     string   `yaml:"company_profile"`

	LLM        LLMConfig        `yaml:"llm"`
	HTTP       FetchConfig      `yaml:"http"`
	Collectors CollectorsConfig `yaml:"collectors"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Enricher   EnricherConfig   `yaml:"enricher"`
	EventDedup EventDedupConfig `yaml:"event_dedup"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
}

type LLMConfig struct {
	Provider string `yaml:"provider" validate:"oneof=gemini ollama"`
	Model    string `yaml:"model" validate:"required"`
}

// FetchConfig defines HTTP fetching configuration for a collector.
type FetchConfig struct {
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	MaxRetries     int           `yaml:"max_retries,omitempty" validate:"gte=0"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps,omitempty" validate:"gte=0"`
	ProxyURL       string        `yaml:"proxy_url,omitempty"`
	AcceptLanguage string        `yaml:"accept_language,omitempty"`
	// AllowPrivateHosts disables the private address guard (local fixtures only).
	AllowPrivateHosts bool `yaml:"allow_private_hosts,omitempty"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries" validate:"gte=0"`
	BaseDelay  time.Duration `yaml:"base_delay" validate:"gte=0"`
	Mode       string        `yaml:"mode" validate:"omitempty,oneof=linear exponential"`
}

type CollectorsConfig struct {
	TED        TEDConfig          `yaml:"ted"`
	ANAC       ANACConfig         `yaml:"anac"`
	Feeds      FeedsConfig        `yaml:"feeds"`
	WebEvents  WebDiscoveryConfig `yaml:"web_events"`
	WebTenders WebDiscoveryConfig `yaml:"web_tenders"`
	WebSearch  WebSearchConfig    `yaml:"web_search"`
}

type TEDConfig struct {
	Enabled   bool          `yaml:"enabled"`
	SearchURL string        `yaml:"search_url" validate:"omitempty,url"`
	PageSize  int           `yaml:"page_size" validate:"gte=0,lte=250"`
	PageDelay time.Duration `yaml:"page_delay"`
	Retry     RetryConfig   `yaml:"retry"`
}

type ANACConfig struct {
	Enabled            bool          `yaml:"enabled"`
	BaseURL            string        `yaml:"base_url" validate:"omitempty,url"`
	PackagePrefix      string        `yaml:"package_prefix"`
	MaxDownloadBytes   int64         `yaml:"max_download_bytes" validate:"gte=0"`
	ChunkSize          int           `yaml:"chunk_size" validate:"gte=0"`
	StreamTimeout      time.Duration `yaml:"stream_timeout"`
	MaxReleasesPerFile int           `yaml:"max_releases_per_file" validate:"gte=0"`
	Retry              RetryConfig   `yaml:"retry"`
	StreamRetry        RetryConfig   `yaml:"stream_retry"`
}

type FeedSource struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url" validate:"url"`
}

type FeedsConfig struct {
	Enabled     bool         `yaml:"enabled"`
	Concurrency int          `yaml:"concurrency" validate:"gte=0"`
	Feeds       []FeedSource `yaml:"feeds" validate:"dive"`
}

type WebDiscoveryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Pages    []string      `yaml:"pages" validate:"dive,url"`
	MaxLinks int           `yaml:"max_links" validate:"gte=0"`
	MaxPages int           `yaml:"max_pages" validate:"gte=0"`
	MaxText  int           `yaml:"max_text" validate:"gte=0"`
	Delay    time.Duration `yaml:"delay"`
}

type WebSearchConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Queries     []string      `yaml:"queries" validate:"dive,required"`
	MaxPerQuery int           `yaml:"max_per_query" validate:"gte=0"`
	MaxText     int           `yaml:"max_text" validate:"gte=0"`
	Delay       time.Duration `yaml:"delay"`
}

type ClassifierConfig struct {
	Delay       time.Duration `yaml:"delay"`
	Temperature float32       `yaml:"temperature" validate:"gte=0,lte=2"`
}

type EnricherConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Delay     time.Duration `yaml:"delay"`
	MaxText   int           `yaml:"max_text" validate:"gte=0"`
	TEDXMLURL string        `yaml:"ted_xml_url"`
}

type EventDedupConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" validate:"gt=0,lte=1"`
}

type CheckpointConfig struct {
	Dir     string        `yaml:"dir" validate:"required"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// Default returns the embedded default settings.
func Default() (*Settings, error) {
	var s Settings
	if err := decodeInto(defaultsYAML, &s); err != nil {
		return nil, fmt.Errorf("failed to decode default settings: %w", err)
	}
	return &s, nil
}

// Load reads the embedded defaults and overlays the YAML file at path when
// path is non-empty. ${VAR} references are expanded from the environment.
func Load(path string) (*Settings, error) {
	s, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
		}
		if err := decodeInto(data, s); err != nil {
			return nil, fmt.Errorf("failed to decode settings %s: %w", path, err)
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeInto(data []byte, s *Settings) error {
	expanded := os.ExpandEnv(string(data))
	return yaml.Unmarshal([]byte(expanded), s)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid settings: %w", err)
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("invalid settings: timezone %q: %w", s.Timezone, err)
	}
	return nil
}

// Location returns the configured time zone, UTC when it cannot be loaded.
func (s Settings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Today returns the current calendar date in the configured time zone.
func (s Settings) Today(now time.Time) time.Time {
	y, m, d := now.In(s.Location()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EnabledCollectors lists the enabled collector names in run order.
func (s Settings) EnabledCollectors() []string {
	var names []string
	c := s.Collectors
	if c.TED.Enabled {
		names = append(names, "TED")
	}
	if c.ANAC.Enabled {
		names = append(names, "ANAC")
	}
	if c.Feeds.Enabled {
		names = append(names, "Events")
	}
	if c.WebEvents.Enabled {
		names = append(names, "WebEvents")
	}
	if c.WebTenders.Enabled {
		names = append(names, "WebTenders")
	}
	if c.WebSearch.Enabled {
		names = append(names, "WebSearch")
	}
	return names
}

// ScopeSummary is a one-line description of the search scope.
func (s Settings) ScopeSummary() string {
	collectors := strings.Join(s.EnabledCollectors(), "+")
	if collectors == "" {
		collectors = "none"
	}
	parts := []string{
		"collectors=" + collectors,
		fmt.Sprintf("countries=%d", len(s.Countries)),
		"CPV=" + strings.Join(s.CPVCodes, ","),
		fmt.Sprintf("lookback=%dd", s.LookbackDays),
	}
	if s.MaxResults > 0 {
		parts = append(parts, fmt.Sprintf("max=%d/collector", s.MaxResults))
	}
	return strings.Join(parts, " | ")
}

// Hash is a short stable digest of the settings, recorded with checkpoints.
func (s Settings) Hash() string {
	data, err := yaml.Marshal(s)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}
