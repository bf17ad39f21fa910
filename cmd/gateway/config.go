package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultSecret = "your-super-secret-key-min-32-chars-long-change-in-production!!"

// serviceEnv maps each logical service to the variable holding its base URL.
var serviceEnv = []struct {
	name, env, def string
}{
	{"auth", "AUTH_SERVICE_URL", "http://auth-service:8001"},
	{"appointments", "APPOINTMENT_SERVICE_URL", "http://appointment-service:8002"},
	{"patients", "PATIENT_SERVICE_URL", "http://patient-service:8003"},
	{"providers", "PROVIDER_SERVICE_URL", "http://provider-service:8004"},
	{"billing", "BILLING_SERVICE_URL", "http://billing-service:8005"},
	{"notifications", "NOTIFICATION_SERVICE_URL", "http://notification-service:8006"},
}

type config struct {
	listenAddr  string
	serviceName string
	routes      map[string]string
	routesFile  string

	secretKey string
	algorithm string

	rateEnabled   bool
	rateRequests  int
	rateWindow    time.Duration
	rateAlgorithm string
	rateStore     string
	rateIdleTTL   time.Duration
	rateKeyHeader string
	trustXFF      bool
	retryAfter    time.Duration
	addHeaders    bool

	redisAddr       string
	redisPassword   string
	redisDB         int
	rateRedisPrefix string

	rateStatsEnabled       bool
	rateStatsStore         string
	rateStatsRedisAddr     string
	rateStatsRedisPassword string
	rateStatsRedisDB       int
	rateStatsPrefix        string
	rateStatsTTL           time.Duration
	rateStatsBucket        string
	rateStatsTrackKeys     bool

	concurrencyMax     int
	concurrencyTimeout time.Duration

	proxyTimeout  time.Duration
	healthTimeout time.Duration

	wsAllowedOrigins []string
	wsIdleTimeout    time.Duration
	wsReadLimit      int64

	metricsEnabled bool
	logLevel       string
	logFormat      string
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8000")
	cfg.serviceName = getenvDefault("SERVICE_NAME", "gateway-service")

	cfg.routes = make(map[string]string, len(serviceEnv))
	for _, s := range serviceEnv {
		cfg.routes[s.name] = getenvDefault(s.env, s.def)
	}
	cfg.routesFile = os.Getenv("ROUTES_FILE")
	if cfg.routesFile != "" {
		if err := loadRoutesFile(cfg.routesFile, cfg.routes); err != nil {
			return config{}, err
		}
	}

	cfg.secretKey = getenvDefault("SECRET_KEY", defaultSecret)
	cfg.algorithm = getenvDefault("ALGORITHM", "HS256")

	cfg.rateEnabled = getenvBoolDefault("RATE_ENABLED", true)
	cfg.rateRequests = getenvIntDefault("RATE_LIMIT_REQUESTS", 100)
	cfg.rateWindow = getenvSecondsDefault("RATE_LIMIT_WINDOW", 60*time.Second)
	cfg.rateAlgorithm = strings.ToLower(getenvDefault("RATE_ALGORITHM", "sliding_window"))
	cfg.rateStore = strings.ToLower(getenvDefault("RATE_STORE", "memory"))
	cfg.rateIdleTTL = getenvDurationDefault("RATE_IDLE_TTL", 0)
	cfg.rateKeyHeader = os.Getenv("RATE_KEY_HEADER")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.retryAfter = getenvDurationDefault("RETRY_AFTER", 1*time.Second)
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", false)

	cfg.redisAddr = getenvDefault("REDIS_ADDR", "localhost:6379")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.rateRedisPrefix = getenvDefault("RATE_REDIS_PREFIX", "ratelimit:window")

	cfg.rateStatsEnabled = getenvBoolDefault("RATE_STATS_ENABLED", false)
	cfg.rateStatsStore = strings.ToLower(getenvDefault("RATE_STATS_STORE", "redis"))
	cfg.rateStatsRedisAddr = getenvDefault("RATE_STATS_REDIS_ADDR", cfg.redisAddr)
	cfg.rateStatsRedisPassword = getenvDefault("RATE_STATS_REDIS_PASSWORD", cfg.redisPassword)
	cfg.rateStatsRedisDB = getenvIntDefault("RATE_STATS_REDIS_DB", cfg.redisDB)
	cfg.rateStatsPrefix = getenvDefault("RATE_STATS_PREFIX", "ratelimit:stats")
	cfg.rateStatsTTL = getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour)
	cfg.rateStatsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.rateStatsTrackKeys = getenvBoolDefault("RATE_STATS_TRACK_KEYS", false)

	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	// 0 waits on the client's own deadline, which a full pool rarely meets
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 100*time.Millisecond)

	cfg.proxyTimeout = getenvDurationDefault("PROXY_TIMEOUT", 30*time.Second)
	cfg.healthTimeout = getenvDurationDefault("HEALTH_TIMEOUT", 5*time.Second)

	cfg.wsAllowedOrigins = splitList(os.Getenv("WS_ALLOWED_ORIGINS"))
	cfg.wsIdleTimeout = getenvDurationDefault("WS_IDLE_TIMEOUT", 0)
	cfg.wsReadLimit = int64(getenvIntDefault("WS_READ_LIMIT", 32768))

	cfg.metricsEnabled = getenvBoolDefault("METRICS_ENABLED", true)
	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.logFormat = strings.ToLower(getenvDefault("LOG_FORMAT", "json"))

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (cfg config) validate() error {
	if strings.TrimSpace(cfg.secretKey) == "" {
		return errors.New("SECRET_KEY must not be empty")
	}
	if cfg.rateRequests <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS must be > 0")
	}
	if cfg.rateWindow <= 0 {
		return errors.New("RATE_LIMIT_WINDOW must be > 0")
	}
	switch cfg.rateAlgorithm {
	case "sliding_window", "token_bucket":
	default:
		return fmt.Errorf("RATE_ALGORITHM %q is not one of sliding_window, token_bucket", cfg.rateAlgorithm)
	}
	switch cfg.rateStore {
	case "memory":
	case "redis":
		if cfg.rateAlgorithm != "sliding_window" {
			return errors.New("RATE_STORE=redis only supports RATE_ALGORITHM=sliding_window")
		}
	default:
		return fmt.Errorf("RATE_STORE %q is not one of memory, redis", cfg.rateStore)
	}
	if cfg.rateStatsEnabled {
		switch cfg.rateStatsStore {
		case "memory":
		case "redis":
			if strings.TrimSpace(cfg.rateStatsRedisAddr) == "" {
				return errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_STORE=redis")
			}
		default:
			return fmt.Errorf("RATE_STATS_STORE %q is not one of memory, redis", cfg.rateStatsStore)
		}
	}
	if cfg.concurrencyMax < 0 {
		return errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if cfg.concurrencyTimeout < 0 {
		return errors.New("CONCURRENCY_TIMEOUT must be >= 0")
	}
	if cfg.proxyTimeout < 0 || cfg.healthTimeout < 0 {
		return errors.New("PROXY_TIMEOUT and HEALTH_TIMEOUT must be >= 0")
	}
	if cfg.wsReadLimit <= 0 {
		return errors.New("WS_READ_LIMIT must be > 0")
	}
	switch cfg.logFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT %q is not one of json, console", cfg.logFormat)
	}
	return nil
}

type routesFile struct {
	Services map[string]string `yaml:"services"`
}

// loadRoutesFile overrides and extends routes with the services listed in a
// YAML file.
func loadRoutesFile(path string, routes map[string]string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ROUTES_FILE: %w", err)
	}
	var rf routesFile
	if err := yaml.Unmarshal(b, &rf); err != nil {
		return fmt.Errorf("ROUTES_FILE %s: %w", path, err)
	}
	for name, u := range rf.Services {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("ROUTES_FILE %s: service %q has no url", path, name)
		}
		routes[name] = u
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// getenvSecondsDefault accepts a bare number of seconds or a Go duration.
func getenvSecondsDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return getenvDurationDefault(k, def)
}
