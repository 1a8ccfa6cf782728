package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type StoreCfg struct {
	Driver      string
	URLs        []string
	WriteSchema string
	AutoMigrate bool
}

type ProbeCfg struct {
	MaxAttempts int
	Backoff     time.Duration
	Concurrency int
	CacheSize   int
	Timeout     time.Duration
}

type IngestCfg struct {
	Enabled     bool
	Brokers     string
	Topic       string
	GroupID     string
	Filter      string
	EventsTopic string
}

type Config struct {
	Addr           string
	LogLevel       string
	LogConsole     bool
	LogSampleN     int
	MetricsEnabled bool
	Store          StoreCfg
	Probe          ProbeCfg
	DensifyStep    float64
	AcceptPartial  bool
	H3Res          int
	RedisAddr      string
	Redis          RedisCfg
	RecordCacheTTL time.Duration
	CacheOpTimeout time.Duration
	Ingest         IngestCfg
}

type RedisCfg struct {
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
}

// Load reads .env files (missing files are ignored) and then the process environment.
// Variables already present in the environment take precedence.
func Load(files ...string) Config {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
	return FromEnv()
}

func FromEnv() Config {
	res := getint("H3_RES", 0)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	concurrency := getint("PROBE_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}
	attempts := getint("PROBE_MAX_ATTEMPTS", 3)
	if attempts < 1 {
		attempts = 1
	}

	return Config{
		Addr:           getenv("ADDR", ":8090"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogConsole:     getbool("LOG_CONSOLE", false),
		LogSampleN:     getint("LOG_SAMPLE_N", 0),
		MetricsEnabled: getbool("METRICS_ENABLED", true),
		Store: StoreCfg{
			Driver:      strings.ToLower(getenv("DB_DRIVER", "pgx")),
			URLs:        splitList(getenv("DATABASE_URLS", getenv("DATABASE_URL", ""))),
			WriteSchema: strings.ToLower(getenv("WRITE_SCHEMA", "current")),
			AutoMigrate: getbool("DB_AUTO_MIGRATE", false),
		},
		Probe: ProbeCfg{
			MaxAttempts: attempts,
			Backoff:     getduration("PROBE_BACKOFF", 200*time.Millisecond),
			Concurrency: concurrency,
			CacheSize:   getint("PROBE_CACHE_SIZE", 1024),
			Timeout:     getduration("PROBE_TIMEOUT", 30*time.Second),
		},
		DensifyStep:    getfloat("DENSIFY_STEP", 0),
		AcceptPartial:  getbool("ACCEPT_PARTIAL", false),
		H3Res:          res,
		RedisAddr:      getenv("REDIS_ADDR", ""),
		Redis: RedisCfg{
			PoolSize:     getint("REDIS_POOL_SIZE", 64),
			MinIdleConns: getint("REDIS_MIN_IDLE_CONNS", 4),
			DialTimeout:  getduration("REDIS_DIAL_TIMEOUT", 2*time.Second),
		},
		RecordCacheTTL: getduration("RECORD_CACHE_TTL", 5*time.Minute),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		Ingest: IngestCfg{
			Enabled:     getbool("INGEST_ENABLED", false),
			Brokers:     getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:       getenv("KAFKA_TOPIC", "dataset-metadata"),
			GroupID:     getenv("KAFKA_GROUP_ID", "extent-indexer"),
			Filter:      getenv("INGEST_FILTER", ""),
			EventsTopic: getenv("EVENTS_TOPIC", ""),
		},
	}
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

// split "a, b,,c" into [a b c]
func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
