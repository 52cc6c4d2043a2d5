// Package config loads the player configuration from a JSON/YAML file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raicho81/fake-mixcloud-plays/internal/browser"
	"github.com/raicho81/fake-mixcloud-plays/internal/proxy"
	"github.com/raicho81/fake-mixcloud-plays/internal/session"
)

// DefaultFile is read when CONFIG_FILE is not set.
const DefaultFile = "config.json"

// MaxWaitSeconds is the largest wait, in seconds, a time.Duration can hold.
const MaxWaitSeconds = float64(math.MaxInt64 / int64(time.Second))

// DefaultPlayButtonXPath matches the Mixcloud player's play button.
const DefaultPlayButtonXPath = "//button[@aria-label='Play']"

// Speed selects how long the loop waits between cycles.
type Speed string

const (
	SpeedFast   Speed = "fast"
	SpeedRandom Speed = "random"
)

// Config holds the validated, immutable player configuration.
type Config struct {
	// Target
	MixURL          string
	PlayButtonXPath string

	// Scheduling
	Speed           Speed
	FastWait        time.Duration
	RandomWaitMu    float64 // seconds
	RandomWaitSigma float64 // seconds
	WaitBeforePlay  time.Duration

	// Browser
	Headless       bool
	ChromePath     string
	DismissConsent bool
	DriverTimeout  time.Duration

	// Proxies
	Proxies     []proxy.Entry
	ProxyPolicy proxy.Policy

	// Optional surfaces
	HistoryDBPath string // empty disables session history
	StatusPort    int    // 0 disables the status server

	// Source is the file the configuration was read from, if any.
	Source string
	// Warnings are non-fatal problems found while loading.
	Warnings []string
}

// fileConfig mirrors the on-disk layout. Pointers distinguish unset keys
// from zero values.
type fileConfig struct {
	MixURL                *string       `yaml:"mix_url"`
	Speed                 *string       `yaml:"speed"`
	FastWaitTime          *seconds      `yaml:"fast_wait_time"`
	RandomWaitMu          *float64      `yaml:"random_wait_mu"`
	RandomWaitSigma       *float64      `yaml:"random_wait_sigma"`
	WaitTimeBeforeTryPlay *seconds      `yaml:"wait_time_before_try_play"`
	PlayButtonXPath       *string       `yaml:"play_button_xpath"`
	HeadlessChrome        *bool         `yaml:"headless_chrome"`
	ProxyAddress          *string       `yaml:"proxy_address"`
	ProxyPort             *int          `yaml:"proxy_port"`
	Proxies               []proxy.Entry `yaml:"proxies"`
	ProxyPolicy           *string       `yaml:"proxy_policy"`
	ChromePath            *string       `yaml:"chrome_path"`
	DismissConsent        *bool         `yaml:"dismiss_consent"`
	DriverTimeout         *seconds      `yaml:"driver_timeout"`
	HistoryDBPath         *string       `yaml:"history_db_path"`
	StatusPort            *int          `yaml:"status_port"`
}

// seconds accepts either a number of seconds or a Go duration string.
type seconds time.Duration

func (s *seconds) UnmarshalYAML(node *yaml.Node) error {
	d, err := parseSeconds(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = seconds(d)
	return nil
}

func parseSeconds(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}

// Load reads CONFIG_FILE (default config.json), applies environment
// overrides and defaults, and validates the result.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_FILE")
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	var fc fileConfig
	source := ""
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		source = path
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// Environment-only configuration.
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{
		MixURL:          getEnv("MIX_URL", deref(fc.MixURL, "")),
		PlayButtonXPath: getEnv("PLAY_BUTTON_XPATH", deref(fc.PlayButtonXPath, DefaultPlayButtonXPath)),
		Speed:           Speed(strings.ToLower(getEnv("SPEED", deref(fc.Speed, string(SpeedFast))))),
		FastWait:        getEnvSeconds("FAST_WAIT_TIME", derefSeconds(fc.FastWaitTime, 30*time.Second)),
		RandomWaitMu:    getEnvFloat("RANDOM_WAIT_MU", deref(fc.RandomWaitMu, 60)),
		RandomWaitSigma: getEnvFloat("RANDOM_WAIT_SIGMA", deref(fc.RandomWaitSigma, 10)),
		WaitBeforePlay:  getEnvSeconds("WAIT_TIME_BEFORE_TRY_PLAY", derefSeconds(fc.WaitTimeBeforeTryPlay, 5*time.Second)),
		Headless:        getEnvBool("HEADLESS_CHROME", deref(fc.HeadlessChrome, true)),
		ChromePath:      getEnv("CHROME_PATH", deref(fc.ChromePath, "")),
		DismissConsent:  getEnvBool("DISMISS_CONSENT", deref(fc.DismissConsent, false)),
		DriverTimeout:   getEnvSeconds("DRIVER_TIMEOUT", derefSeconds(fc.DriverTimeout, 60*time.Second)),
		HistoryDBPath:   getEnv("HISTORY_DB_PATH", deref(fc.HistoryDBPath, "")),
		StatusPort:      getEnvInt("STATUS_PORT", deref(fc.StatusPort, 0)),
		Source:          source,
	}

	if cfg.Speed != SpeedFast && cfg.Speed != SpeedRandom {
		cfg.Warnings = append(cfg.Warnings,
			fmt.Sprintf("invalid speed %q: must be 'fast' or 'random', defaulting to fast", cfg.Speed))
		cfg.Speed = SpeedFast
	}

	policy, err := proxy.ParsePolicy(getEnv("PROXY_POLICY", deref(fc.ProxyPolicy, string(proxy.PolicyCycle))))
	if err != nil {
		return nil, err
	}
	cfg.ProxyPolicy = policy

	proxies, err := loadProxies(fc)
	if err != nil {
		return nil, err
	}
	cfg.Proxies = proxies

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadProxies merges the proxy list, PROXIES and the legacy single proxy.
// PROXIES replaces the file list when set.
func loadProxies(fc fileConfig) ([]proxy.Entry, error) {
	entries := append([]proxy.Entry(nil), fc.Proxies...)

	if raw := os.Getenv("PROXIES"); raw != "" {
		entries = entries[:0]
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			e, err := proxy.ParseEntry(part)
			if err != nil {
				return nil, fmt.Errorf("PROXIES: %w", err)
			}
			entries = append(entries, e)
		}
	}

	addr := getEnv("PROXY_ADDRESS", deref(fc.ProxyAddress, ""))
	port := getEnvInt("PROXY_PORT", deref(fc.ProxyPort, 0))
	if addr != "" && port != 0 {
		entries = append(entries, proxy.Entry{Address: addr, Port: port})
	}

	return entries, nil
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.MixURL) == "" {
		return fmt.Errorf("mix_url can't be empty")
	}
	if c.FastWait < 0 {
		return fmt.Errorf("fast_wait_time must not be negative")
	}
	if c.WaitBeforePlay < 0 {
		return fmt.Errorf("wait_time_before_try_play must not be negative")
	}
	if err := checkSeconds("random_wait_mu", c.RandomWaitMu); err != nil {
		return err
	}
	if err := checkSeconds("random_wait_sigma", c.RandomWaitSigma); err != nil {
		return err
	}
	if c.RandomWaitSigma < 0 {
		return fmt.Errorf("random_wait_sigma must not be negative")
	}
	// Draws land within a few sigma of mu; keep that band representable.
	if math.Abs(c.RandomWaitMu)+6*c.RandomWaitSigma > MaxWaitSeconds {
		return fmt.Errorf("random_wait_mu/random_wait_sigma too large")
	}
	if c.DriverTimeout < 0 {
		return fmt.Errorf("driver_timeout must not be negative")
	}
	if strings.TrimSpace(c.PlayButtonXPath) == "" {
		return fmt.Errorf("play_button_xpath can't be empty")
	}
	if c.StatusPort < 0 || c.StatusPort > 65535 {
		return fmt.Errorf("status_port %d out of range", c.StatusPort)
	}
	for i, e := range c.Proxies {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("proxies[%d]: %w", i, err)
		}
	}
	return nil
}

func checkSeconds(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s must be a finite number", name)
	}
	if math.Abs(v) > MaxWaitSeconds {
		return fmt.Errorf("%s %g out of range", name, v)
	}
	return nil
}

// SessionSettings returns the page parameters used by the session controller.
func (c *Config) SessionSettings() session.Settings {
	return session.Settings{
		URL:             c.MixURL,
		PlayButtonXPath: c.PlayButtonXPath,
		WaitBeforePlay:  c.WaitBeforePlay,
		Headless:        c.Headless,
	}
}

// BrowserOptions returns the driver options.
func (c *Config) BrowserOptions() browser.Options {
	return browser.Options{
		ChromePath:     c.ChromePath,
		DismissConsent: c.DismissConsent,
		Timeout:        c.DriverTimeout,
	}
}

// LogSummary logs the effective configuration.
func (c *Config) LogSummary(logger *slog.Logger) {
	proxies := make([]string, len(c.Proxies))
	for i, e := range c.Proxies {
		proxies[i] = e.String()
	}

	logger.Info("loaded configuration",
		"source", c.Source,
		"mix_url", c.MixURL,
		"speed", c.Speed,
		"fast_wait_time", c.FastWait,
		"random_wait_mu", c.RandomWaitMu,
		"random_wait_sigma", c.RandomWaitSigma,
		"wait_time_before_try_play", c.WaitBeforePlay,
		"play_button_xpath", c.PlayButtonXPath,
		"headless_chrome", c.Headless,
		"proxies", proxies,
		"proxy_policy", c.ProxyPolicy,
		"driver_timeout", c.DriverTimeout,
		"history_db_path", c.HistoryDBPath,
		"status_port", c.StatusPort,
	)
	for _, w := range c.Warnings {
		logger.Warn("invalid configuration", "detail", w)
	}
}

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func derefSeconds(p *seconds, def time.Duration) time.Duration {
	if p == nil {
		return def
	}
	return time.Duration(*p)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvSeconds(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := parseSeconds(val); err == nil {
			return d
		}
	}
	return defaultVal
}
