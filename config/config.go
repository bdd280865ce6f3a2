package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tokensweep/tokensweep/retry"
	"github.com/tokensweep/tokensweep/scheduler"
	"github.com/tokensweep/tokensweep/search"
	"github.com/tokensweep/tokensweep/worker"
)

// Config holds the search service configuration
type Config struct {
	// Credentials, materialized once at start
	Tokens []string

	// Code-search endpoint
	SearchURL     string
	SearchTimeout time.Duration

	// Credential budgeting
	ReserveTokens      int
	MaxParallelWorkers int

	// Batch pacing
	Cooldown             time.Duration
	AllocationRetries    int
	AllocationRetryDelay time.Duration

	// Per-page retry policy
	RequestPacing     time.Duration
	MaxPageRetries    int
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration

	// Server settings
	ListenAddr   string
	JobRetention time.Duration
}

// Load creates a new config from environment variables
func Load() *Config {
	return &Config{
		Tokens:               loadTokens(),
		SearchURL:            getEnv("GITHUB_SEARCH_URL", search.DefaultBaseURL),
		SearchTimeout:        getEnvDuration("GITHUB_TIMEOUT", 30*time.Second),
		ReserveTokens:        getEnvInt("RESERVE_TOKENS", 7),
		MaxParallelWorkers:   getEnvInt("MAX_PARALLEL_WORKERS", 13),
		Cooldown:             time.Duration(getEnvInt("COOLDOWN_SECONDS", 40)) * time.Second,
		AllocationRetries:    getEnvInt("ALLOCATION_RETRIES", 3),
		AllocationRetryDelay: getEnvDuration("ALLOCATION_RETRY_DELAY", 5*time.Second),
		RequestPacing:        getEnvDuration("REQUEST_PACING", time.Second),
		MaxPageRetries:       getEnvInt("MAX_PAGE_RETRIES", 10),
		InitialRetryDelay:    getEnvDuration("INITIAL_RETRY_DELAY", 2*time.Second),
		MaxRetryDelay:        getEnvDuration("MAX_RETRY_DELAY", 2*time.Minute),
		ListenAddr:           getEnv("LISTEN_ADDR", ":8089"),
		JobRetention:         getEnvDuration("JOB_RETENTION", time.Hour),
	}
}

// Validate reports settings the service cannot run with
func (c *Config) Validate() error {
	var errs []error
	if len(c.Tokens) == 0 {
		errs = append(errs, errors.New("GITHUB_TOKENS or GITHUB_TOKEN must be set"))
	}
	if c.MaxParallelWorkers < 1 {
		errs = append(errs, errors.New("MAX_PARALLEL_WORKERS must be at least 1"))
	}
	if c.ReserveTokens < 0 {
		errs = append(errs, errors.New("RESERVE_TOKENS must not be negative"))
	}
	if c.MaxPageRetries < 1 {
		errs = append(errs, errors.New("MAX_PAGE_RETRIES must be at least 1"))
	}
	return errors.Join(errs...)
}

// RetryPolicy is the per-page retry policy
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = uint(max(c.MaxPageRetries, 1))
	p.InitialDelay = c.InitialRetryDelay
	p.MaxDelay = c.MaxRetryDelay
	return p
}

// Worker returns the sub-query worker settings
func (c *Config) Worker() worker.Config {
	return worker.Config{
		Policy: c.RetryPolicy(),
		Pacing: c.RequestPacing,
	}
}

// Scheduler returns the batch settings. Cooldown is the default for jobs
// that do not set their own.
func (c *Config) Scheduler() scheduler.Config {
	return scheduler.Config{
		MaxParallel:          c.MaxParallelWorkers,
		Reserve:              c.ReserveTokens,
		Cooldown:             c.Cooldown,
		AllocationRetries:    c.AllocationRetries,
		AllocationRetryDelay: c.AllocationRetryDelay,
	}
}

// Search returns the code-search client settings
func (c *Config) Search() search.Config {
	return search.Config{BaseURL: c.SearchURL, Timeout: c.SearchTimeout}
}

// loadTokens reads GITHUB_TOKENS (comma separated) and falls back to
// GITHUB_TOKEN
func loadTokens() []string {
	raw := os.Getenv("GITHUB_TOKENS")
	if raw == "" {
		raw = os.Getenv("GITHUB_TOKEN")
	}
	var tokens []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Warnf("Invalid %s=%q, using %d", key, val, fallback)
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90")
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Warnf("Invalid %s=%q, using %s", key, val, fallback)
	return fallback
}
