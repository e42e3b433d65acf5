// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

// EnvPrefix namespaces environment overrides, e.g. HARVESTER_CRAWL_WORKERS.
const EnvPrefix = "HARVESTER"

const dayLayout = "2006-01-02"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Crawl        CrawlConfig        `mapstructure:"crawl"`
	Output       OutputConfig       `mapstructure:"output"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Headless     HeadlessConfig     `mapstructure:"headless"`
	Identity     IdentityConfig     `mapstructure:"identity"`
	RateLimit    RateLimitConfig    `mapstructure:"ratelimit"`
	Recovery     RecoveryConfig     `mapstructure:"recovery"`
	Coordination CoordinationConfig `mapstructure:"coordination"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig controls the operator HTTP surface. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlConfig selects what to harvest.
type CrawlConfig struct {
	Source        string        `mapstructure:"source"`
	Start         string        `mapstructure:"start"`
	End           string        `mapstructure:"end"`
	Workers       int           `mapstructure:"workers"`
	Cap           int           `mapstructure:"cap"`
	PagesPerMonth int           `mapstructure:"pages_per_month"`
	UnitDelay     time.Duration `mapstructure:"unit_delay"`
	StateDir      string        `mapstructure:"state_dir"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// OutputConfig configures the item sinks.
type OutputConfig struct {
	CSVPath  string         `mapstructure:"csv_path"`
	NoSync   bool           `mapstructure:"no_sync"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig enables the optional database mirror when DSN is set.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	CreateTable     bool          `mapstructure:"create_table"`
}

// HTTPConfig configures the plain HTTP fetcher.
type HTTPConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the browser fetcher.
type HeadlessConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Always             bool          `mapstructure:"always"`
	MaxParallel        int           `mapstructure:"max_parallel"`
	NavTimeout         time.Duration `mapstructure:"nav_timeout"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	ExecPath           string        `mapstructure:"exec_path"`
	PromotionThreshold int           `mapstructure:"promotion_threshold"`
}

// IdentityConfig lists the network identities workers rotate through.
type IdentityConfig struct {
	Proxies    []string `mapstructure:"proxies"`
	UserAgents []string `mapstructure:"user_agents"`
	// Command, when set, is run on every rotation (e.g. a VPN reconnect script).
	Command string `mapstructure:"command"`
}

// RateLimitConfig paces requests per host.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// RecoveryConfig bounds retries and session restarts.
type RecoveryConfig struct {
	TransientRetries    int           `mapstructure:"transient_retries"`
	ChallengeRetries    int           `mapstructure:"challenge_retries"`
	ChallengeUnitStreak int           `mapstructure:"challenge_unit_streak"`
	MaxSessionRestarts  int           `mapstructure:"max_session_restarts"`
	BaseDelay           time.Duration `mapstructure:"base_delay"`
	MaxDelay            time.Duration `mapstructure:"max_delay"`
}

// CoordinationConfig enables the cross-process writer lock.
type CoordinationConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	LockKey       string        `mapstructure:"lock_key"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// New returns a Viper instance with defaults and environment binding set up.
// Callers may bind flags before passing it to Decode.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	bindEnv(v, reflect.TypeOf(Config{}), "")
	return v
}

// bindEnv registers every mapstructure key with Viper. AutomaticEnv only
// consults the environment for keys Viper already knows, so keys without a
// default (dsn, redis_addr, proxies) would otherwise be dropped by Unmarshal.
func bindEnv(v *viper.Viper, t reflect.Type, prefix string) {
	for i := range t.NumField() {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			bindEnv(v, field.Type, key)
			continue
		}
		// BindEnv with only a key cannot fail.
		_ = v.BindEnv(key)
	}
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := New()
	if err := ReadFile(v, path); err != nil {
		return Config{}, err
	}
	return Decode(v)
}

// ReadFile merges a config file into v. An empty path is a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Decode unmarshals and validates v.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 0)
	v.SetDefault("crawl.workers", 1)
	v.SetDefault("crawl.cap", 10)
	v.SetDefault("crawl.pages_per_month", crawler.DefaultPagesPerMonth)
	v.SetDefault("crawl.unit_delay", "2s")
	v.SetDefault("crawl.state_dir", "state")
	v.SetDefault("crawl.respect_robots", false)
	v.SetDefault("output.csv_path", "articles.csv")
	v.SetDefault("output.postgres.table", "items")
	v.SetDefault("output.postgres.max_conns", 4)
	v.SetDefault("output.postgres.create_table", true)
	v.SetDefault("http.timeout", "20s")
	v.SetDefault("http.max_body_bytes", 8<<20)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.always", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", "45s")
	v.SetDefault("headless.settle_delay", "500ms")
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("ratelimit.rps", 0.5)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("recovery.transient_retries", 2)
	v.SetDefault("recovery.challenge_retries", 2)
	v.SetDefault("recovery.challenge_unit_streak", 3)
	v.SetDefault("recovery.max_session_restarts", 3)
	v.SetDefault("recovery.base_delay", "2s")
	v.SetDefault("recovery.max_delay", "30s")
	v.SetDefault("coordination.lock_key", "harvester:writer")
	v.SetDefault("coordination.lock_ttl", "30s")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.Source == "" {
		return fmt.Errorf("crawl.source is required")
	}
	if _, err := c.Crawl.Range(crawler.GranularityDay); err != nil {
		return err
	}
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("crawl.workers must be > 0")
	}
	if c.Crawl.Cap <= 0 {
		return fmt.Errorf("crawl.cap must be > 0")
	}
	if c.Crawl.StateDir == "" {
		return fmt.Errorf("crawl.state_dir is required")
	}
	if c.Output.CSVPath == "" {
		return fmt.Errorf("output.csv_path is required")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Headless.Always && !c.Headless.Enabled {
		return fmt.Errorf("headless.always requires headless.enabled")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("ratelimit.rps must be >= 0")
	}
	if c.Recovery.TransientRetries < 0 || c.Recovery.ChallengeRetries < 0 {
		return fmt.Errorf("recovery retries must be >= 0")
	}
	if c.Recovery.MaxSessionRestarts < 0 {
		return fmt.Errorf("recovery.max_session_restarts must be >= 0")
	}
	if c.Coordination.RedisAddr != "" && c.Coordination.LockTTL <= 0 {
		return fmt.Errorf("coordination.lock_ttl must be > 0 when redis is enabled")
	}
	return nil
}

// Range converts the configured dates into a crawl range for the source's
// granularity.
func (c CrawlConfig) Range(granularity crawler.Granularity) (crawler.Range, error) {
	start, err := time.Parse(dayLayout, c.Start)
	if err != nil {
		return crawler.Range{}, fmt.Errorf("crawl.start: %w", err)
	}
	end, err := time.Parse(dayLayout, c.End)
	if err != nil {
		return crawler.Range{}, fmt.Errorf("crawl.end: %w", err)
	}
	rng := crawler.Range{Start: start, End: end, Granularity: granularity, PagesPerMonth: c.PagesPerMonth}
	if err := rng.Validate(); err != nil {
		return crawler.Range{}, fmt.Errorf("crawl range: %w", err)
	}
	return rng, nil
}
