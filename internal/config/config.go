// Package config loads the sweep plan and service settings from a YAML file
// and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"vrpbench/internal/experiment"
	"vrpbench/internal/model"
	"vrpbench/internal/routing"
	"vrpbench/internal/webhooks"
)

// MaxFileSize bounds config files read from disk.
const MaxFileSize = 1 << 20

// Config is the root of a vrpbench config file.
type Config struct {
	Output  string `yaml:"output"`
	Workers int    `yaml:"workers"`
	Seed    int64  `yaml:"seed"`
	// TimeLimit overrides every problem's limit for runs with a metaheuristic.
	TimeLimit string `yaml:"timeLimit,omitempty"`
	// TimeLimits overrides single problems by name.
	TimeLimits     map[string]string `yaml:"timeLimits,omitempty"`
	Problems       []string          `yaml:"problems,omitempty"`
	FirstSolutions []string          `yaml:"firstSolutionStrategies,omitempty"`
	LocalSearch    []string          `yaml:"localSearchStrategies,omitempty"`
	// Instances are extra YAML instance files appended to the demo problems.
	Instances []string `yaml:"instances,omitempty"`
	Server    Server   `yaml:"server"`
	// Webhooks are notified when an experiment finishes.
	Webhooks []webhooks.Target `yaml:"webhooks,omitempty"`
	// WebhookAttempts bounds deliveries per target; 0 means 5.
	WebhookAttempts int `yaml:"webhookAttempts,omitempty"`
}

// Server holds the HTTP service and storage settings.
type Server struct {
	Port        string  `yaml:"port"`
	DatabaseURL string  `yaml:"databaseUrl,omitempty"`
	SQLitePath  string  `yaml:"sqlitePath,omitempty"`
	RedisURL    string  `yaml:"redisUrl,omitempty"`
	RateRPS     float64 `yaml:"rateRps"`
	RateBurst   int     `yaml:"rateBurst"`
}

// Default reproduces the reference sweep.
func Default() Config {
	return Config{
		Output:  "TSP.txt",
		Workers: 1,
		Server: Server{
			Port:      "8080",
			RateRPS:   1,
			RateBurst: 3,
		},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		st, err := os.Stat(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if st.Size() > MaxFileSize {
			return Config{}, fmt.Errorf("config: %s is %d bytes, limit %d", path, st.Size(), MaxFileSize)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if cfg, err = Decode(data); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode parses YAML over the defaults. Unknown keys are rejected.
func Decode(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overlays the environment variables the service reads.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("PORT", &c.Server.Port)
	str("DATABASE_URL", &c.Server.DatabaseURL)
	str("SQLITE_PATH", &c.Server.SQLitePath)
	str("REDIS_URL", &c.Server.RedisURL)
	str("VRPBENCH_OUTPUT", &c.Output)
	if v, ok := lookup("RATE_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_RPS: %w", err)
		}
		c.Server.RateRPS = f
	}
	if v, ok := lookup("RATE_BURST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_BURST: %w", err)
		}
		c.Server.RateBurst = n
	}
	if v, ok := lookup("WEBHOOK_URL"); ok && strings.TrimSpace(v) != "" {
		secret, _ := lookup("WEBHOOK_SECRET")
		c.Webhooks = append(c.Webhooks, webhooks.Target{URL: strings.TrimSpace(v), Secret: secret})
	}
	if v, ok := lookup("VRPBENCH_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VRPBENCH_WORKERS: %w", err)
		}
		c.Workers = n
	}
	return c.Validate()
}

// Validate checks values that Plan would otherwise reject later.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.Server.RateRPS < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("rate limit must be >= 0")
	}
	if c.WebhookAttempts < 0 {
		return fmt.Errorf("webhookAttempts must be >= 0, got %d", c.WebhookAttempts)
	}
	for i, t := range c.Webhooks {
		if !strings.HasPrefix(t.URL, "http://") && !strings.HasPrefix(t.URL, "https://") {
			return fmt.Errorf("webhooks[%d]: url %q is not http(s)", i, t.URL)
		}
	}
	if _, err := parseLimit(c.TimeLimit); err != nil {
		return fmt.Errorf("timeLimit: %w", err)
	}
	for name, v := range c.TimeLimits {
		if _, err := parseLimit(v); err != nil {
			return fmt.Errorf("timeLimits[%s]: %w", name, err)
		}
	}
	for _, n := range c.FirstSolutions {
		if _, err := routing.ParseFirstSolutionStrategy(n); err != nil {
			return err
		}
	}
	for _, n := range c.LocalSearch {
		if _, err := routing.ParseMetaheuristic(n); err != nil {
			return err
		}
	}
	return nil
}

func parseLimit(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

// Plan builds the sweep: the demo problems plus any instance files,
// narrowed to the configured names.
func (c Config) Plan() (experiment.Plan, error) {
	plan := experiment.DefaultPlan()
	for _, path := range c.Instances {
		in, err := model.LoadInstanceFile(path)
		if err != nil {
			return experiment.Plan{}, err
		}
		plan.Problems = append(plan.Problems, in)
	}
	for name, v := range c.TimeLimits {
		d, _ := parseLimit(v)
		found := false
		for _, in := range plan.Problems {
			if strings.EqualFold(in.Name, name) {
				in.TimeLimit = d
				found = true
			}
		}
		if !found {
			return experiment.Plan{}, fmt.Errorf("timeLimits: unknown problem %q", name)
		}
	}
	plan, err := plan.Select(c.Problems, c.FirstSolutions, c.LocalSearch)
	if err != nil {
		return experiment.Plan{}, err
	}
	plan.TimeLimit, _ = parseLimit(c.TimeLimit)
	plan.Seed = c.Seed
	plan.Workers = max(1, c.Workers)
	return plan, nil
}

// Notifier returns the webhook notifier, or nil when none are configured.
func (c Config) Notifier(logger *log.Logger) *webhooks.Notifier {
	if len(c.Webhooks) == 0 {
		return nil
	}
	return webhooks.NewNotifier(c.Webhooks, c.WebhookAttempts, logger)
}
