package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/triage/pkg/triage/internalerr"
)

// DefaultLocations are searched in order when no path is given.
var DefaultLocations = []string{
	"config/config.yaml",
	"config/config.yml",
	"config.yaml",
}

// Config is the YAML configuration file.
type Config struct {
	Freshservice Freshservice `yaml:"freshservice"`
	Analysis     Analysis     `yaml:"analysis"`
	Reporting    Reporting    `yaml:"reporting"`
	Store        Store        `yaml:"store"`
	Logging      Logging      `yaml:"logging"`
	Notify       Notify       `yaml:"notify"`
	Schedule     Schedule     `yaml:"schedule"`

	// Path is the file the configuration was read from.
	Path string `yaml:"-"`
}

// Freshservice holds API connection settings.
type Freshservice struct {
	BaseURL            string `yaml:"base_url"`
	APIKey             string `yaml:"api_key"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	PerPage            int    `yaml:"per_page"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

// Analysis tunes the suggestion engine.
type Analysis struct {
	KeywordMinLength    int      `yaml:"keyword_min_length"`
	LabelMinLength      int      `yaml:"label_min_length"`
	MinKeywordFrequency int      `yaml:"min_keyword_frequency"`
	Confidence          *float64 `yaml:"confidence"`
	StopWords           []string `yaml:"stop_words"`
	StopWordsFile       string   `yaml:"stop_words_file"`
	Workers             int      `yaml:"workers"`
}

// Reporting controls where reports are written.
type Reporting struct {
	OutputDirectory string `yaml:"output_directory"`
	ReportFilename  string `yaml:"report_filename"`
}

// Store selects the run history database.
type Store struct {
	Path string `yaml:"path"`
}

// Logging configures the slog handler.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Notify holds Slack settings. Notifications are off when either is empty.
type Notify struct {
	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`
}

// Schedule drives the schedule command.
type Schedule struct {
	Cron          string `yaml:"cron"`
	LookbackHours int    `yaml:"lookback_hours"`
}

// Load reads the configuration from path, or from $TRIAGE_CONFIG, or from the
// first existing DefaultLocations entry. Environment overrides and defaults
// are applied before validation.
func Load(path string) (Config, error) {
	path = locate(path)
	if path == "" {
		return Config{}, fmt.Errorf("%w: no config file found in %s", internalerr.ErrInvalidConfig, strings.Join(DefaultLocations, ", "))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: config file %s does not exist", internalerr.ErrInvalidConfig, path)
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults, with
// environment overrides applied, when no path is given and no default
// location exists.
func LoadOrDefault(path string) (Config, error) {
	if locate(path) == "" {
		return Parse(nil)
	}
	return Load(path)
}

func locate(path string) string {
	if path == "" {
		path = os.Getenv("TRIAGE_CONFIG")
	}
	if path != "" {
		return path
	}
	for _, candidate := range DefaultLocations {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Parse decodes YAML, applies environment overrides and defaults, and
// validates the result.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envOverride(&c.Freshservice.BaseURL, "FRESHSERVICE_BASE_URL")
	envOverride(&c.Freshservice.APIKey, "FRESHSERVICE_API_KEY")
	envOverrideInt(&c.Freshservice.PerPage, "FRESHSERVICE_PER_PAGE")
	envOverride(&c.Store.Path, "TRIAGE_DB_PATH")
	envOverride(&c.Logging.Level, "TRIAGE_LOG_LEVEL")
	envOverride(&c.Reporting.OutputDirectory, "TRIAGE_OUTPUT_DIR")
	envOverride(&c.Notify.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&c.Notify.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverride(&c.Schedule.Cron, "TRIAGE_SCHEDULE")
}

func (c *Config) applyDefaults() {
	c.Freshservice.BaseURL = NormalizeBaseURL(c.Freshservice.BaseURL)
	if c.Freshservice.TimeoutSeconds == 0 {
		c.Freshservice.TimeoutSeconds = 30
	}
	if c.Freshservice.PerPage == 0 {
		c.Freshservice.PerPage = 100
	}
	if c.Analysis.KeywordMinLength == 0 {
		c.Analysis.KeywordMinLength = 4
	}
	if c.Analysis.LabelMinLength == 0 {
		c.Analysis.LabelMinLength = 4
	}
	if c.Analysis.MinKeywordFrequency == 0 {
		c.Analysis.MinKeywordFrequency = 1
	}
	if c.Analysis.Confidence == nil {
		conf := 0.7
		c.Analysis.Confidence = &conf
	}
	if c.Analysis.Workers == 0 {
		c.Analysis.Workers = 1
	}
	if c.Reporting.OutputDirectory == "" {
		c.Reporting.OutputDirectory = "reports"
	}
	if c.Reporting.ReportFilename == "" {
		c.Reporting.ReportFilename = "ticket_analysis.csv"
	}
	if c.Store.Path == "" {
		c.Store.Path = "triage.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Schedule.LookbackHours == 0 {
		c.Schedule.LookbackHours = 24
	}
}

// Validate checks value ranges. API credentials are checked separately by
// RequireAPI so offline commands work without them.
func (c Config) Validate() error {
	if c.Freshservice.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: freshservice.timeout_seconds must be >= 0, got %d", internalerr.ErrInvalidConfig, c.Freshservice.TimeoutSeconds)
	}
	if c.Freshservice.RateLimitPerMinute < 0 {
		return fmt.Errorf("%w: freshservice.rate_limit_per_minute must be >= 0, got %d", internalerr.ErrInvalidConfig, c.Freshservice.RateLimitPerMinute)
	}
	if c.Analysis.KeywordMinLength < 1 || c.Analysis.LabelMinLength < 1 {
		return fmt.Errorf("%w: analysis min lengths must be >= 1", internalerr.ErrInvalidConfig)
	}
	if c.Analysis.MinKeywordFrequency < 1 {
		return fmt.Errorf("%w: analysis.min_keyword_frequency must be >= 1, got %d", internalerr.ErrInvalidConfig, c.Analysis.MinKeywordFrequency)
	}
	if conf := c.Analysis.Confidence; conf != nil && (*conf < 0 || *conf > 1) {
		return fmt.Errorf("%w: analysis.confidence must be between 0 and 1, got %g", internalerr.ErrInvalidConfig, *conf)
	}
	if c.Analysis.Workers < 1 {
		return fmt.Errorf("%w: analysis.workers must be >= 1, got %d", internalerr.ErrInvalidConfig, c.Analysis.Workers)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format must be text or json, got %q", internalerr.ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// RequireAPI checks the settings needed to talk to Freshservice.
func (c Config) RequireAPI() error {
	var missing []string
	if c.Freshservice.BaseURL == "" {
		missing = append(missing, "freshservice.base_url")
	}
	if c.Freshservice.APIKey == "" {
		missing = append(missing, "freshservice.api_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s not set (via config file or environment)", internalerr.ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}

// NormalizeBaseURL trims whitespace, trailing slashes and a trailing /api/v2.
func NormalizeBaseURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	u = strings.TrimSuffix(u, "/api/v2")
	return strings.TrimRight(u, "/")
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			*field = parsed
		}
	}
}

// Stoplist represents the stopword list configuration
type Stoplist struct {
	Terms []string `yaml:"terms"`
}

// LoadStoplist loads stopwords from a YAML file
func LoadStoplist(path string) (*Stoplist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sl Stoplist
	if err := yaml.Unmarshal(data, &sl); err != nil {
		return nil, err
	}

	return &sl, nil
}
