// Package config provides configuration management for the session bot and
// the dashboard service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/nifty_condor/internal/broker"
	"github.com/eddiefleurent/nifty_condor/internal/catalog"
	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/refdata"
	"github.com/eddiefleurent/nifty_condor/internal/scheduler"
	"github.com/eddiefleurent/nifty_condor/internal/session"
	"github.com/eddiefleurent/nifty_condor/internal/status"
	"github.com/eddiefleurent/nifty_condor/internal/strategy"
)

// Defaults applied by Normalize.
const (
	defaultUnderlying          = "NIFTY"
	defaultUnderlyingExchange  = models.SegmentNSE
	defaultUnderlyingSymbol    = "Nifty 50"
	defaultUnderlyingToken     = "99926000"
	defaultDerivativesSegment  = models.SegmentNFO
	defaultStrikeDistancePct   = 0.5
	defaultHedgeDistancePoints = 100
	defaultStrikeRounding      = 50
	defaultTimezone            = "Asia/Kolkata"
	defaultEntryTime           = "09:25"
	defaultExitTime            = "15:15"
	defaultLead                = "5m"
	defaultCacheTTL            = "24h"
	defaultDownloadTimeout     = "60s"
	defaultRedisKey            = "nifty_condor:scrip_master"
	defaultDashboardAddr       = ":5000"
)

// Config represents the complete application configuration.
type Config struct {
	Environment   EnvironmentConfig   `yaml:"environment"`
	Broker        BrokerConfig        `yaml:"broker"`
	Strategy      StrategyConfig      `yaml:"strategy"`
	Schedule      ScheduleConfig      `yaml:"schedule"`
	ReferenceData ReferenceDataConfig `yaml:"reference_data"`
	Status        StatusConfig        `yaml:"status"`
	Dashboard     DashboardConfig     `yaml:"dashboard"`
	Storage       StorageConfig       `yaml:"storage"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode      string `yaml:"mode"`       // paper only; no orders are ever placed
	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // text | json
	// Simulate prices legs from the built-in simulator instead of the broker.
	Simulate bool `yaml:"simulate"`
}

// BrokerConfig defines the Angel One SmartAPI credentials.
type BrokerConfig struct {
	APIKey            string  `yaml:"api_key"`
	ClientCode        string  `yaml:"client_code"`
	MPIN              string  `yaml:"mpin"`
	TOTPSecret        string  `yaml:"totp_secret"`
	BaseURL           string  `yaml:"base_url"`
	Timeout           string  `yaml:"timeout"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// StrategyConfig defines leg selection and exit thresholds.
type StrategyConfig struct {
	Underlying          string  `yaml:"underlying"`
	UnderlyingExchange  string  `yaml:"underlying_exchange"`
	UnderlyingSymbol    string  `yaml:"underlying_symbol"`
	UnderlyingToken     string  `yaml:"underlying_token"`
	DerivativesSegment  string  `yaml:"derivatives_segment"`
	StrikeDistancePct   float64 `yaml:"strike_distance_pct"`
	HedgeDistancePoints int     `yaml:"hedge_distance_points"`
	StrikeRounding      float64 `yaml:"strike_rounding"`
	TargetFraction      float64 `yaml:"target_fraction"`
	StopFraction        float64 `yaml:"stop_fraction"`
}

// ScheduleConfig defines the session window.
type ScheduleConfig struct {
	Timezone          string   `yaml:"timezone"`
	EntryTime         string   `yaml:"entry_time"` // "HH:MM"
	ExitTime          string   `yaml:"exit_time"`  // "HH:MM"
	EntryPollInterval string   `yaml:"entry_poll_interval"`
	PollInterval      string   `yaml:"poll_interval"`
	Lead              string   `yaml:"lead"`
	Holidays          []string `yaml:"holidays"` // YYYY-MM-DD
}

// ReferenceDataConfig defines where the scrip master comes from and where it
// is cached. RedisAddr, when set, replaces the file cache.
type ReferenceDataConfig struct {
	SourceURL       string `yaml:"source_url"`
	CachePath       string `yaml:"cache_path"`
	CacheTTL        string `yaml:"cache_ttl"`
	RedisAddr       string `yaml:"redis_addr"`
	RedisKey        string `yaml:"redis_key"`
	DownloadTimeout string `yaml:"download_timeout"`
}

// StatusConfig defines the dashboard push.
type StatusConfig struct {
	URL       string `yaml:"url"` // empty disables pushes
	Timeout   string `yaml:"timeout"`
	LogLines  int    `yaml:"log_lines"`
	AuthToken string `yaml:"auth_token"`
}

// DashboardConfig defines the dashboard service.
type DashboardConfig struct {
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
}

// StorageConfig defines the session journal location. Empty keeps it in
// memory.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig defines the bot's metrics listener. Empty disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Override adjusts a loaded config before validation, e.g. from CLI flags.
type Override func(*Config)

// Load reads and parses the configuration file from the specified path.
// A .env file next to it, if any, is loaded into the environment first;
// variables already set win.
func Load(configPath string, overrides ...Override) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	if err := LoadDotEnv(filepath.Join(filepath.Dir(configPath), ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(config)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// Parse expands environment variables in data and decodes it strictly.
// The result is not validated.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &config, nil
}

// LoadDotEnv loads path into the environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Default returns a validated simulation config with every default applied.
func Default() *Config {
	c := &Config{Environment: EnvironmentConfig{Simulate: true}}
	c.Normalize()
	return c
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	setString(&c.Environment.Mode, "paper")
	setString(&c.Environment.LogLevel, "info")
	setString(&c.Environment.LogFormat, "text")

	setString(&c.Broker.BaseURL, broker.DefaultBaseURL)
	setString(&c.Broker.Timeout, "5s")
	if c.Broker.RequestsPerSecond == 0 {
		c.Broker.RequestsPerSecond = 10
	}

	s := &c.Strategy
	setString(&s.Underlying, defaultUnderlying)
	setString(&s.UnderlyingExchange, defaultUnderlyingExchange)
	setString(&s.UnderlyingSymbol, defaultUnderlyingSymbol)
	setString(&s.UnderlyingToken, defaultUnderlyingToken)
	setString(&s.DerivativesSegment, defaultDerivativesSegment)
	if s.StrikeDistancePct == 0 {
		s.StrikeDistancePct = defaultStrikeDistancePct
	}
	if s.HedgeDistancePoints == 0 {
		s.HedgeDistancePoints = defaultHedgeDistancePoints
	}
	if s.StrikeRounding == 0 {
		s.StrikeRounding = defaultStrikeRounding
	}
	if s.TargetFraction == 0 {
		s.TargetFraction = models.DefaultTargetFraction
	}
	if s.StopFraction == 0 {
		s.StopFraction = models.DefaultStopFraction
	}

	setString(&c.Schedule.Timezone, defaultTimezone)
	setString(&c.Schedule.EntryTime, defaultEntryTime)
	setString(&c.Schedule.ExitTime, defaultExitTime)
	setString(&c.Schedule.EntryPollInterval, session.DefaultEntryPollInterval.String())
	setString(&c.Schedule.PollInterval, session.DefaultPollInterval.String())
	setString(&c.Schedule.Lead, defaultLead)

	setString(&c.ReferenceData.SourceURL, refdata.DefaultSourceURL)
	setString(&c.ReferenceData.CacheTTL, defaultCacheTTL)
	setString(&c.ReferenceData.DownloadTimeout, defaultDownloadTimeout)
	setString(&c.ReferenceData.RedisKey, defaultRedisKey)
	if c.ReferenceData.CachePath == "" && c.ReferenceData.RedisAddr == "" {
		c.ReferenceData.CachePath = filepath.Join(os.TempDir(), "scrip_master.json")
	}

	setString(&c.Status.Timeout, status.DefaultTimeout.String())
	if c.Status.LogLines == 0 {
		c.Status.LogLines = status.DefaultLogLines
	}

	setString(&c.Dashboard.Addr, defaultDashboardAddr)
}

func setString(field *string, def string) {
	if strings.TrimSpace(*field) == "" {
		*field = def
	}
}

// Validate normalizes defaults and checks that all values are valid and
// consistent.
func (c *Config) Validate() error {
	c.Normalize()

	// Environment validation
	if c.Environment.Mode != "paper" {
		return fmt.Errorf("environment.mode must be 'paper'")
	}
	switch c.Environment.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("environment.log_format must be 'text' or 'json'")
	}

	// Broker validation
	if !c.Environment.Simulate {
		if c.Broker.APIKey == "" {
			return fmt.Errorf("broker.api_key is required")
		}
		if c.Broker.ClientCode == "" {
			return fmt.Errorf("broker.client_code is required")
		}
		if c.Broker.MPIN == "" {
			return fmt.Errorf("broker.mpin is required")
		}
	}
	if err := positiveDuration("broker.timeout", c.Broker.Timeout); err != nil {
		return err
	}
	if c.Broker.RequestsPerSecond < 0 {
		return fmt.Errorf("broker.requests_per_second must be >= 0")
	}

	// Strategy validation
	if c.Strategy.StrikeDistancePct <= 0 {
		return fmt.Errorf("strategy.strike_distance_pct must be > 0")
	}
	if c.Strategy.HedgeDistancePoints <= 0 {
		return fmt.Errorf("strategy.hedge_distance_points must be > 0")
	}
	if c.Strategy.StrikeRounding <= 0 {
		return fmt.Errorf("strategy.strike_rounding must be > 0")
	}
	if c.Strategy.TargetFraction <= 0 || c.Strategy.TargetFraction >= 1 {
		return fmt.Errorf("strategy.target_fraction must be in (0,1)")
	}
	if c.Strategy.StopFraction <= 0 {
		return fmt.Errorf("strategy.stop_fraction must be > 0")
	}

	// Schedule validation
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("schedule.timezone invalid: %w", err)
	}
	entry, err := models.ParseTimeOfDay(c.Schedule.EntryTime)
	if err != nil {
		return fmt.Errorf("schedule.entry_time invalid: %w", err)
	}
	exit, err := models.ParseTimeOfDay(c.Schedule.ExitTime)
	if err != nil {
		return fmt.Errorf("schedule.exit_time invalid: %w", err)
	}
	if !entry.Before(exit) {
		return fmt.Errorf("schedule.entry_time (%s) must be before schedule.exit_time (%s)", entry, exit)
	}
	if err := positiveDuration("schedule.entry_poll_interval", c.Schedule.EntryPollInterval); err != nil {
		return err
	}
	if err := positiveDuration("schedule.poll_interval", c.Schedule.PollInterval); err != nil {
		return err
	}
	if d, err := time.ParseDuration(c.Schedule.Lead); err != nil || d < 0 {
		return fmt.Errorf("schedule.lead must be a non-negative duration")
	}
	for _, h := range c.Schedule.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("schedule.holidays: %q is not YYYY-MM-DD", h)
		}
	}

	// Reference data validation
	if !c.Environment.Simulate && c.ReferenceData.SourceURL == "" && c.ReferenceData.CachePath == "" && c.ReferenceData.RedisAddr == "" {
		return fmt.Errorf("reference_data needs a source_url or a cache")
	}
	if err := positiveDuration("reference_data.cache_ttl", c.ReferenceData.CacheTTL); err != nil {
		return err
	}
	if err := positiveDuration("reference_data.download_timeout", c.ReferenceData.DownloadTimeout); err != nil {
		return err
	}

	// Status validation
	if err := positiveDuration("status.timeout", c.Status.Timeout); err != nil {
		return err
	}
	if c.Status.LogLines < 0 {
		return fmt.Errorf("status.log_lines must be >= 0")
	}

	return nil
}

func positiveDuration(name, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s invalid: %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be > 0", name)
	}
	return nil
}

// duration parses a validated duration field.
func duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// Location returns the schedule timezone. Asia/Kolkata falls back to a fixed
// +05:30 zone on hosts without tzdata.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Schedule.Timezone
	if tz == "" || tz == defaultTimezone || tz == "IST" {
		if loc, err := time.LoadLocation(defaultTimezone); err == nil {
			return loc, nil
		}
		return models.IST, nil
	}
	return time.LoadLocation(tz)
}

func (c *Config) location() *time.Location {
	loc, err := c.Location()
	if err != nil {
		return models.IST
	}
	return loc
}

// SessionConfig builds the session settings.
func (c *Config) SessionConfig() session.Config {
	entry, _ := models.ParseTimeOfDay(c.Schedule.EntryTime)
	exit, _ := models.ParseTimeOfDay(c.Schedule.ExitTime)
	return session.Config{
		Location:          c.location(),
		Entry:             entry,
		Exit:              exit,
		EntryPollInterval: duration(c.Schedule.EntryPollInterval),
		PollInterval:      duration(c.Schedule.PollInterval),
		Underlying:        c.UnderlyingFallback(),
		TargetFraction:    c.Strategy.TargetFraction,
		StopFraction:      c.Strategy.StopFraction,
	}
}

// SchedulerConfig builds the daily calendar.
func (c *Config) SchedulerConfig() scheduler.Config {
	entry, _ := models.ParseTimeOfDay(c.Schedule.EntryTime)
	exit, _ := models.ParseTimeOfDay(c.Schedule.ExitTime)
	return scheduler.Config{
		Location: c.location(),
		Entry:    entry,
		Exit:     exit,
		Lead:     duration(c.Schedule.Lead),
		Holidays: append([]string(nil), c.Schedule.Holidays...),
	}
}

// CondorConfig builds the leg selection parameters.
func (c *Config) CondorConfig() strategy.CondorConfig {
	return strategy.CondorConfig{
		Underlying:          c.Strategy.Underlying,
		DerivativesSegment:  c.Strategy.DerivativesSegment,
		StrikeDistancePct:   c.Strategy.StrikeDistancePct,
		HedgeDistancePoints: c.Strategy.HedgeDistancePoints,
		RoundingUnit:        c.Strategy.StrikeRounding,
	}
}

// UnderlyingFallback is the configured underlying reference, used when the
// catalog has no matching cash-segment record.
func (c *Config) UnderlyingFallback() catalog.UnderlyingRef {
	return catalog.UnderlyingRef{
		Exchange: c.Strategy.UnderlyingExchange,
		Symbol:   c.Strategy.UnderlyingSymbol,
		Token:    c.Strategy.UnderlyingToken,
	}
}

// SmartAPIConfig builds the broker client settings.
func (c *Config) SmartAPIConfig() broker.SmartAPIConfig {
	return broker.SmartAPIConfig{
		APIKey:            c.Broker.APIKey,
		ClientCode:        c.Broker.ClientCode,
		MPIN:              c.Broker.MPIN,
		TOTPSecret:        c.Broker.TOTPSecret,
		BaseURL:           c.Broker.BaseURL,
		Timeout:           duration(c.Broker.Timeout),
		RequestsPerSecond: c.Broker.RequestsPerSecond,
	}
}

// LoaderConfig builds the scrip master loader settings.
func (c *Config) LoaderConfig() refdata.LoaderConfig {
	return refdata.LoaderConfig{
		SourceURL:       c.ReferenceData.SourceURL,
		TTL:             duration(c.ReferenceData.CacheTTL),
		DownloadTimeout: duration(c.ReferenceData.DownloadTimeout),
	}
}

// StatusTimeout is the per-push timeout.
func (c *Config) StatusTimeout() time.Duration {
	return duration(c.Status.Timeout)
}
