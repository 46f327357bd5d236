package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultEndpoint = "https://data.adamlink.nl/_api/datasets/menno/alles/services/alles/sparql"
	DefaultDebugURL = "https://data.adamlink.nl/AdamNet/all/services/endpoint"
)

type Config struct {
	Addr       string `yaml:"addr"`
	LogLevel   string `yaml:"log_level"`
	LogConsole bool   `yaml:"log_console"`

	SPARQLEndpoint string `yaml:"sparql_endpoint"`
	SPARQLDebugURL string `yaml:"sparql_debug_url"`

	PeriodMin  int     `yaml:"period_min"`
	DefaultLat float64 `yaml:"default_lat"`
	DefaultLng float64 `yaml:"default_lng"`

	ExecuteTimeout    time.Duration `yaml:"execute_timeout"`
	SessionCapacity   int           `yaml:"session_capacity"`
	StrictResultOrder bool          `yaml:"strict_result_order"`

	// empty disables the shared catalog snapshot
	RedisAddr  string        `yaml:"redis_addr"`
	CatalogTTL time.Duration `yaml:"catalog_ttl"`

	EventsEnabled bool     `yaml:"events_enabled"`
	KafkaBrokers  []string `yaml:"kafka_brokers"`
	KafkaTopic    string   `yaml:"kafka_topic"`
	EventsH3Res   int      `yaml:"events_h3_res"`

	// needs RedisAddr; consumes dataset update events from KafkaBrokers
	CatalogSyncEnabled bool   `yaml:"catalog_sync_enabled"`
	CatalogSyncTopic   string `yaml:"catalog_sync_topic"`
	CatalogSyncGroup   string `yaml:"catalog_sync_group"`
}

func Default() Config {
	return Config{
		Addr:            ":8090",
		LogLevel:        "info",
		SPARQLEndpoint:  DefaultEndpoint,
		SPARQLDebugURL:  DefaultDebugURL,
		PeriodMin:       1550,
		DefaultLat:      52.37064,
		DefaultLng:      4.90047,
		ExecuteTimeout:  30 * time.Second,
		SessionCapacity: 1024,
		CatalogTTL:      10 * time.Minute,
		KafkaBrokers:    []string{"localhost:9092"},
		KafkaTopic:      "map-queries",
		EventsH3Res:     8,

		CatalogSyncTopic: "dataset-updates",
		CatalogSyncGroup: "map-explorer-catalog",
	}
}

// FromEnv returns the defaults overridden by the environment
func FromEnv() Config {
	c := Default()
	c.applyEnv()
	return c
}

// Load layers defaults, the YAML file named by CONFIG_FILE (if any) and the
// environment, in that order, then validates the result.
func Load() (Config, error) {
	c := Default()
	if path := getenv("CONFIG_FILE", ""); path != "" {
		if err := c.MergeFile(path); err != nil {
			return Config{}, err
		}
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// MergeFile overlays the keys present in a YAML file onto c
func (c *Config) MergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Addr = getenv("ADDR", c.Addr)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.LogConsole = getbool("LOG_CONSOLE", c.LogConsole)
	c.SPARQLEndpoint = getenv("SPARQL_ENDPOINT", c.SPARQLEndpoint)
	c.SPARQLDebugURL = getenv("SPARQL_DEBUG_URL", c.SPARQLDebugURL)
	c.PeriodMin = getint("PERIOD_MIN", c.PeriodMin)
	c.DefaultLat = getfloat("DEFAULT_LAT", c.DefaultLat)
	c.DefaultLng = getfloat("DEFAULT_LNG", c.DefaultLng)
	c.ExecuteTimeout = getduration("EXECUTE_TIMEOUT", c.ExecuteTimeout)
	c.SessionCapacity = getint("SESSION_CAPACITY", c.SessionCapacity)
	c.StrictResultOrder = getbool("STRICT_RESULT_ORDER", c.StrictResultOrder)
	c.RedisAddr = getenv("REDIS_ADDR", c.RedisAddr)
	c.CatalogTTL = getduration("CATALOG_TTL", c.CatalogTTL)
	c.EventsEnabled = getbool("EVENTS_ENABLED", c.EventsEnabled)
	if v := getenv("KAFKA_BROKERS", ""); v != "" {
		c.KafkaBrokers = splitList(v)
	}
	c.KafkaTopic = getenv("KAFKA_TOPIC", c.KafkaTopic)
	c.EventsH3Res = getint("EVENTS_H3_RES", c.EventsH3Res)
	c.CatalogSyncEnabled = getbool("CATALOG_SYNC_ENABLED", c.CatalogSyncEnabled)
	c.CatalogSyncTopic = getenv("CATALOG_SYNC_TOPIC", c.CatalogSyncTopic)
	c.CatalogSyncGroup = getenv("CATALOG_SYNC_GROUP", c.CatalogSyncGroup)
}

func (c Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.SPARQLEndpoint)
	if err != nil || !u.IsAbs() || u.Host == "" {
		errs = append(errs, fmt.Errorf("SPARQL_ENDPOINT %q must be an absolute URL", c.SPARQLEndpoint))
	}
	if y := time.Now().Year(); c.PeriodMin > y {
		errs = append(errs, fmt.Errorf("PERIOD_MIN %d is after the current year %d", c.PeriodMin, y))
	}
	if c.DefaultLat < -90 || c.DefaultLat > 90 {
		errs = append(errs, fmt.Errorf("DEFAULT_LAT %v out of range", c.DefaultLat))
	}
	if c.DefaultLng < -180 || c.DefaultLng > 180 {
		errs = append(errs, fmt.Errorf("DEFAULT_LNG %v out of range", c.DefaultLng))
	}
	if c.SessionCapacity <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_CAPACITY must be positive, got %d", c.SessionCapacity))
	}
	if c.EventsH3Res < 0 || c.EventsH3Res > 15 {
		errs = append(errs, fmt.Errorf("EVENTS_H3_RES %d must be 0..15", c.EventsH3Res))
	}
	if c.EventsEnabled && (len(c.KafkaBrokers) == 0 || c.KafkaTopic == "") {
		errs = append(errs, errors.New("EVENTS_ENABLED needs KAFKA_BROKERS and KAFKA_TOPIC"))
	}
	if c.CatalogSyncEnabled {
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("CATALOG_SYNC_ENABLED needs REDIS_ADDR"))
		}
		if len(c.KafkaBrokers) == 0 || c.CatalogSyncTopic == "" || c.CatalogSyncGroup == "" {
			errs = append(errs, errors.New("CATALOG_SYNC_ENABLED needs KAFKA_BROKERS, CATALOG_SYNC_TOPIC and CATALOG_SYNC_GROUP"))
		}
	}
	return errors.Join(errs...)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "a:9092, b:9092" into a list, dropping blanks
func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
