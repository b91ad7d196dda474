package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	SourceFile     = "file"
	SourcePostgres = "postgres"
	SourceSQLite   = "sqlite"
)

type Config struct {
	HTTPAddr string

	ScheduleSource   string
	SchedulesFile    string
	SQLitePath       string
	DatabaseURL      string
	ScheduleDatabase string

	BackendURL     string
	BackendTimeout time.Duration
	HealthTimeout  time.Duration

	OverpassURL   string
	RedisAddr     string
	RedisPassword string
	CacheTTL      time.Duration

	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool
	PublishInterval   time.Duration
	SpeedMultiplier   float64

	MetricsAddr string
	Location    *time.Location

	Policy Policy
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")

	// Schedule source
	cfg.ScheduleSource = strings.ToLower(getenvDefault("SCHEDULE_SOURCE", SourceFile))
	switch cfg.ScheduleSource {
	case SourceFile, SourcePostgres, SourceSQLite:
	default:
		return nil, fmt.Errorf("invalid SCHEDULE_SOURCE: %q", cfg.ScheduleSource)
	}
	cfg.SchedulesFile = getenvDefault("SCHEDULES_FILE", "data/schedules.json")
	cfg.SQLitePath = getenvDefault("SQLITE_DATABASE", "data/schedules.db")
	cfg.ScheduleDatabase = os.Getenv("SCHEDULE_DATABASE")

	if cfg.ScheduleSource == SourcePostgres {
		dsn, err := postgresDSN()
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = dsn
	}

	// Simulation backend. Empty URL keeps every simulation local.
	cfg.BackendURL = strings.TrimSpace(os.Getenv("BACKEND_URL"))
	var err error
	if cfg.BackendTimeout, err = seconds("BACKEND_TIMEOUT_SEC", 30); err != nil {
		return nil, err
	}
	if cfg.HealthTimeout, err = seconds("HEALTH_TIMEOUT_SEC", 5); err != nil {
		return nil, err
	}

	// Track source and cache
	cfg.OverpassURL = os.Getenv("OVERPASS_URL")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("CACHE_TTL_HOURS"); v != "" {
		h, err := strconv.ParseFloat(v, 64)
		if err != nil || h <= 0 {
			return nil, fmt.Errorf("invalid CACHE_TTL_HOURS: %q", v)
		}
		cfg.CacheTTL = time.Duration(h * float64(time.Hour))
	} else {
		cfg.CacheTTL = 24 * time.Hour
	}

	// Live stream. Empty NATS_URL disables publishing.
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "trains")

	// Publish interval
	if v := os.Getenv("PUBLISH_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid PUBLISH_INTERVAL_MS: %q", v)
		}
		cfg.PublishInterval = time.Duration(ms) * time.Millisecond
	} else {
		cfg.PublishInterval = time.Second
	}

	// Speed multiplier
	if v := os.Getenv("SPEED_MULTIPLIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid SPEED_MULTIPLIER: %q", v)
		}
		cfg.SpeedMultiplier = f
	} else {
		cfg.SpeedMultiplier = 1.0
	}

	// Debug logging for NATS publish subjects
	if v := os.Getenv("LOG_NATS_SUBJECTS"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			cfg.LogNATSSubjects = true
		default:
			cfg.LogNATSSubjects = false
		}
	}

	// Metrics listen address (e.g., ":9102"). Empty serves /metrics on HTTP_ADDR only.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	// Simulation policy: defaults, then the optional YAML file, then env overrides.
	cfg.Policy = DefaultPolicy()
	if path := os.Getenv("SIM_POLICY_FILE"); path != "" {
		p, err := LoadPolicy(path)
		if err != nil {
			return nil, err
		}
		cfg.Policy = p
	}
	if v := os.Getenv("SNAP_RADIUS_M"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid SNAP_RADIUS_M: %q", v)
		}
		cfg.Policy.MaxSnapDistanceM = f
	}
	if v := os.Getenv("TRAIN_LENGTH_M"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid TRAIN_LENGTH_M: %q", v)
		}
		cfg.Policy.BodyLengthM = f
	}

	return cfg, nil
}

// postgresDSN prefers DATABASE_URL / PG_DSN, else builds one from PG* vars.
func postgresDSN() (string, error) {
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn != "" {
		return dsn, nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := os.Getenv("PGDATABASE")
	if db == "" {
		return "", errors.New("PGDATABASE or DATABASE_URL must be set when SCHEDULE_SOURCE=postgres")
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

func seconds(key string, def int) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def) * time.Second, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(sec) * time.Second, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
