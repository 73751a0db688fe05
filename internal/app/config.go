package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/data/db"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/gate"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

const (
	SchedulerLocal    = "local"
	SchedulerTemporal = "temporal"
	SchedulerOff      = "off"
)

type Config struct {
	Environment string
	Version     string
	Port        string

	DB db.Config

	RedisAddr    string
	RedisChannel string

	Gate               gate.Thresholds
	ReviewTTL          time.Duration
	SimilarityMinScore float64
	SampleSize         int

	GenerativeProvider    string
	GenerativeTimeout     time.Duration
	GenerativeConcurrency int
	GenerativeConfidence  float64

	Scheduler       string
	ScanInterval    time.Duration
	ScanConcurrency int
	SweepInterval   time.Duration

	JWTSecretKey string
	AuthDisabled bool
	CORSOrigins  []string

	ContractsPath string
	SourcesPath   string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("VERSION", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_USER", "postgres")
	v.SetDefault("POSTGRES_PASSWORD", "")
	v.SetDefault("POSTGRES_NAME", "driftd")
	v.SetDefault("SQLITE_PATH", "driftd.db")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_INVALIDATION_CHANNEL", "mapping-invalidate")
	v.SetDefault("GATE_HIGH_THRESHOLD", 0.85)
	v.SetDefault("GATE_LOW_THRESHOLD", 0.60)
	v.SetDefault("REVIEW_TTL_HOURS", 168)
	v.SetDefault("SIMILARITY_MIN_SCORE", 0.85)
	v.SetDefault("FINGERPRINT_SAMPLE_SIZE", 50)
	v.SetDefault("GENERATIVE_PROVIDER", "none")
	v.SetDefault("GENERATIVE_TIMEOUT_SECONDS", 20)
	v.SetDefault("GENERATIVE_CONCURRENCY", 4)
	v.SetDefault("GENERATIVE_CONFIDENCE", 0.75)
	v.SetDefault("SCHEDULER", SchedulerLocal)
	v.SetDefault("SCAN_INTERVAL_SECONDS", 300)
	v.SetDefault("SCAN_CONCURRENCY", 8)
	v.SetDefault("SWEEP_INTERVAL_SECONDS", 600)
	v.SetDefault("JWT_SECRET_KEY", "")
	v.SetDefault("AUTH_DISABLED", false)
	v.SetDefault("CORS_ORIGINS", "")
	v.SetDefault("CONTRACTS_PATH", "")
	v.SetDefault("SOURCES_PATH", "")
}

// LoadConfig reads defaults, then the optional YAML file, then the
// environment. Environment variables win.
func LoadConfig(log *logger.Logger, configFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
		log.Info("config file loaded", "path", v.ConfigFileUsed())
	}

	cfg := Config{
		Environment: v.GetString("ENVIRONMENT"),
		Version:     v.GetString("VERSION"),
		Port:        v.GetString("PORT"),
		DB: db.Config{
			Driver:     v.GetString("DB_DRIVER"),
			Host:       v.GetString("POSTGRES_HOST"),
			Port:       v.GetString("POSTGRES_PORT"),
			User:       v.GetString("POSTGRES_USER"),
			Password:   v.GetString("POSTGRES_PASSWORD"),
			Name:       v.GetString("POSTGRES_NAME"),
			SQLitePath: v.GetString("SQLITE_PATH"),
		},
		RedisAddr:    strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisChannel: v.GetString("REDIS_INVALIDATION_CHANNEL"),
		Gate: gate.Thresholds{
			High: v.GetFloat64("GATE_HIGH_THRESHOLD"),
			Low:  v.GetFloat64("GATE_LOW_THRESHOLD"),
		},
		ReviewTTL:             time.Duration(v.GetInt("REVIEW_TTL_HOURS")) * time.Hour,
		SimilarityMinScore:    v.GetFloat64("SIMILARITY_MIN_SCORE"),
		SampleSize:            v.GetInt("FINGERPRINT_SAMPLE_SIZE"),
		GenerativeProvider:    strings.ToLower(strings.TrimSpace(v.GetString("GENERATIVE_PROVIDER"))),
		GenerativeTimeout:     time.Duration(v.GetInt("GENERATIVE_TIMEOUT_SECONDS")) * time.Second,
		GenerativeConcurrency: v.GetInt("GENERATIVE_CONCURRENCY"),
		GenerativeConfidence:  v.GetFloat64("GENERATIVE_CONFIDENCE"),
		Scheduler:             strings.ToLower(strings.TrimSpace(v.GetString("SCHEDULER"))),
		ScanInterval:          time.Duration(v.GetInt("SCAN_INTERVAL_SECONDS")) * time.Second,
		ScanConcurrency:       v.GetInt("SCAN_CONCURRENCY"),
		SweepInterval:         time.Duration(v.GetInt("SWEEP_INTERVAL_SECONDS")) * time.Second,
		JWTSecretKey:          v.GetString("JWT_SECRET_KEY"),
		AuthDisabled:          v.GetBool("AUTH_DISABLED"),
		CORSOrigins:           splitList(v.GetString("CORS_ORIGINS")),
		ContractsPath:         v.GetString("CONTRACTS_PATH"),
		SourcesPath:           v.GetString("SOURCES_PATH"),
	}
	if err := cfg.Gate.Validate(); err != nil {
		return Config{}, err
	}
	switch cfg.Scheduler {
	case SchedulerLocal, SchedulerTemporal, SchedulerOff:
	default:
		return Config{}, fmt.Errorf("unknown SCHEDULER %q", cfg.Scheduler)
	}
	switch cfg.GenerativeProvider {
	case "", "none", "openai", "gemini":
	default:
		return Config{}, fmt.Errorf("unknown GENERATIVE_PROVIDER %q", cfg.GenerativeProvider)
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
