// Package config loads the settings of the technology document generator
// from defaults, an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Node names used as keys of Config.Nodes.
const (
	NodePrepare  = "prepare"
	NodeOutline  = "outline"
	NodeResearch = "research"
	NodeMerge    = "merge"
	NodeWrite    = "write"
)

// Run modes.
const (
	ModeParallel = "parallel"
	ModeSerial   = "serial"
)

// Config is the complete generator configuration.
type Config struct {
	LLM      LLMConfig             `yaml:"llm"`
	Search   SearchConfig          `yaml:"search"`
	Run      RunConfig             `yaml:"run"`
	Nodes    map[string]NodePolicy `yaml:"-"`
	LogLevel string                `yaml:"log_level"`
}

// LLMConfig configures the text generation client.
type LLMConfig struct {
	APIKey            string  `yaml:"-"`
	BaseURL           string  `yaml:"base_url"`
	Model             string  `yaml:"model"`
	Temperature       float32 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	DocumentMaxTokens int     `yaml:"document_max_tokens"`
}

// SearchConfig configures web research.
type SearchConfig struct {
	BaseURL        string        `yaml:"base_url"`
	UserAgent      string        `yaml:"user_agent"`
	MaxResults     int           `yaml:"max_results"`
	Delay          time.Duration `yaml:"delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// RunConfig bounds a generator run.
type RunConfig struct {
	Mode                string        `yaml:"mode"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxTechnologies     int           `yaml:"max_technologies"`
	MinDocumentLength   int           `yaml:"min_document_length"`
	ResearchConcurrency int           `yaml:"research_concurrency"`
}

// NodePolicy is the retry policy of one node.
type NodePolicy struct {
	MaxRetries int           `yaml:"max_retries"`
	Wait       time.Duration `yaml:"wait"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:             "gpt-4.1-nano",
			Temperature:       0.7,
			MaxTokens:         2000,
			DocumentMaxTokens: 4000,
		},
		Search: SearchConfig{
			BaseURL:        "https://html.duckduckgo.com/html/",
			UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
			MaxResults:     2,
			Delay:          time.Second,
			RequestTimeout: 10 * time.Second,
		},
		Run: RunConfig{
			Mode:              ModeParallel,
			Timeout:           120 * time.Second,
			MaxTechnologies:   10,
			MinDocumentLength: 100,
		},
		Nodes: map[string]NodePolicy{
			NodePrepare:  {MaxRetries: 1, Wait: time.Second},
			NodeOutline:  {MaxRetries: 2, Wait: time.Second},
			NodeResearch: {MaxRetries: 2, Wait: 2 * time.Second},
			NodeMerge:    {MaxRetries: 1, Wait: time.Second},
			NodeWrite:    {MaxRetries: 3, Wait: time.Second},
		},
		LogLevel: "info",
	}
}

// Policy returns the retry policy for node, or a single attempt when none
// is configured.
func (c *Config) Policy(node string) NodePolicy {
	if p, ok := c.Nodes[node]; ok {
		return p
	}
	return NodePolicy{MaxRetries: 1}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then the environment. The result is
// validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := cfg.merge(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fileConfig overlays a YAML document on an existing Config. Node policies
// are pointers so a file can override one field and keep the other.
type fileConfig struct {
	Config `yaml:",inline"`
	Nodes  map[string]struct {
		MaxRetries *int           `yaml:"max_retries"`
		Wait       *time.Duration `yaml:"wait"`
	} `yaml:"nodes"`
}

func (c *Config) merge(data []byte) error {
	fc := fileConfig{Config: *c}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}
	nodes := c.Nodes
	*c = fc.Config
	c.Nodes = nodes
	if c.Nodes == nil {
		c.Nodes = make(map[string]NodePolicy)
	}
	for name, override := range fc.Nodes {
		p := c.Policy(name)
		if override.MaxRetries != nil {
			p.MaxRetries = *override.MaxRetries
		}
		if override.Wait != nil {
			p.Wait = *override.Wait
		}
		c.Nodes[name] = p
	}
	return nil
}

func (c *Config) applyEnv() error {
	if val := os.Getenv("OPENAI_API_KEY"); val != "" {
		c.LLM.APIKey = val
	}
	if val := os.Getenv("OPENAI_BASE_URL"); val != "" {
		c.LLM.BaseURL = val
	}
	if val := os.Getenv("TECHDOC_MODEL"); val != "" {
		c.LLM.Model = val
	}
	if val := os.Getenv("TECHDOC_MODE"); val != "" {
		c.Run.Mode = strings.ToLower(val)
	}
	if val := os.Getenv("TECHDOC_TIMEOUT"); val != "" {
		d, err := parseSeconds(val)
		if err != nil {
			return fmt.Errorf("TECHDOC_TIMEOUT: %w", err)
		}
		c.Run.Timeout = d
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	return nil
}

// parseSeconds accepts a Go duration ("90s") or a bare number of seconds.
func parseSeconds(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be between 0 and 2, got %v", c.LLM.Temperature))
	}
	if c.LLM.MaxTokens < 1 || c.LLM.DocumentMaxTokens < 1 {
		errs = append(errs, errors.New("llm token limits must be positive"))
	}
	if c.Search.MaxResults < 1 {
		errs = append(errs, fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults))
	}
	if c.Search.Delay < 0 {
		errs = append(errs, fmt.Errorf("search.delay must not be negative, got %s", c.Search.Delay))
	}
	if c.Search.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("search.request_timeout must be positive, got %s", c.Search.RequestTimeout))
	}
	if c.Run.Mode != ModeParallel && c.Run.Mode != ModeSerial {
		errs = append(errs, fmt.Errorf("run.mode must be %q or %q, got %q", ModeParallel, ModeSerial, c.Run.Mode))
	}
	if c.Run.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("run.timeout must be positive, got %s", c.Run.Timeout))
	}
	if c.Run.MaxTechnologies < 1 {
		errs = append(errs, fmt.Errorf("run.max_technologies must be positive, got %d", c.Run.MaxTechnologies))
	}
	if c.Run.ResearchConcurrency < 0 {
		errs = append(errs, fmt.Errorf("run.research_concurrency must not be negative, got %d", c.Run.ResearchConcurrency))
	}
	for name, p := range c.Nodes {
		if p.MaxRetries < 1 {
			errs = append(errs, fmt.Errorf("nodes.%s.max_retries must be at least 1, got %d", name, p.MaxRetries))
		}
		if p.Wait < 0 {
			errs = append(errs, fmt.Errorf("nodes.%s.wait must not be negative, got %s", name, p.Wait))
		}
	}
	return errors.Join(errs...)
}

// LoadDotEnv loads environment files without overriding variables that are
// already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ParseLogLevel maps a level name to a slog.Level. Unknown names are Info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
