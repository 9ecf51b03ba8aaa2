package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/auditforge/api/internal/model"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Scheduler  SchedulerConfig
	OpenRouter OpenRouterConfig
	Tools      ToolsConfig
	Redis      RedisConfig
	JWT        JWTConfig
	RateLimit  RateLimitConfig
	R2         R2Config
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type StoreConfig struct {
	DBPath  string
	DataDir string
}

type SchedulerConfig struct {
	WorkerPoolSize    int
	JobHardTimeoutSec int
}

type OpenRouterConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	DryRun     bool
}

type ToolsConfig struct {
	Enabled          bool
	FallbackToDirect bool
	MaxIterations    int
	Servers          []model.ToolServerConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type RateLimitConfig struct {
	JobsPerHour int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("OPENROUTER_API_KEY")
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("store.db_path", "DB_PATH")
	_ = viper.BindEnv("store.data_dir", "DATA_DIR")
	_ = viper.BindEnv("scheduler.worker_pool_size", "WORKER_POOL_SIZE")
	_ = viper.BindEnv("scheduler.job_hard_timeout_sec", "JOB_HARD_TIMEOUT_SEC")
	_ = viper.BindEnv("openrouter.api_key", "OPENROUTER_API_KEY")
	_ = viper.BindEnv("openrouter.base_url", "OPENROUTER_BASE_URL")
	_ = viper.BindEnv("openrouter.model", "OPENROUTER_MODEL")
	_ = viper.BindEnv("openrouter.max_retries", "OPENROUTER_MAX_RETRIES")
	_ = viper.BindEnv("openrouter.dry_run", "DRY_RUN")
	_ = viper.BindEnv("tools.enabled", "TOOLS_ENABLED")
	_ = viper.BindEnv("tools.fallback_to_direct", "TOOLS_FALLBACK_TO_DIRECT")
	_ = viper.BindEnv("tools.max_iterations", "TOOLS_MAX_ITERATIONS")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("ratelimit.jobs_per_hour", "RATELIMIT_JOBS_PER_HOUR")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("store.db_path", "data/jobs.db")
	viper.SetDefault("store.data_dir", "data")
	viper.SetDefault("scheduler.worker_pool_size", 4)
	viper.SetDefault("scheduler.job_hard_timeout_sec", 1200)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("ratelimit.jobs_per_hour", 60)

	// OpenRouter defaults
	viper.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	viper.SetDefault("openrouter.model", "anthropic/claude-3.5-sonnet")
	viper.SetDefault("openrouter.max_retries", 3)
	viper.SetDefault("openrouter.dry_run", false)

	// Tool server defaults
	viper.SetDefault("tools.enabled", false)
	viper.SetDefault("tools.fallback_to_direct", true)
	viper.SetDefault("tools.max_iterations", 10)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	var servers []model.ToolServerConfig
	if err := viper.UnmarshalKey("tools.servers", &servers); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Store: StoreConfig{
			DBPath:  viper.GetString("store.db_path"),
			DataDir: viper.GetString("store.data_dir"),
		},
		Scheduler: SchedulerConfig{
			WorkerPoolSize:    viper.GetInt("scheduler.worker_pool_size"),
			JobHardTimeoutSec: viper.GetInt("scheduler.job_hard_timeout_sec"),
		},
		OpenRouter: OpenRouterConfig{
			APIKey:     viper.GetString("openrouter.api_key"),
			BaseURL:    viper.GetString("openrouter.base_url"),
			Model:      viper.GetString("openrouter.model"),
			MaxRetries: viper.GetInt("openrouter.max_retries"),
			DryRun:     viper.GetBool("openrouter.dry_run"),
		},
		Tools: ToolsConfig{
			Enabled:          viper.GetBool("tools.enabled"),
			FallbackToDirect: viper.GetBool("tools.fallback_to_direct"),
			MaxIterations:    viper.GetInt("tools.max_iterations"),
			Servers:          servers,
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			JobsPerHour: viper.GetInt("ratelimit.jobs_per_hour"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
	}

	// Without a credential the service can only produce synthetic reports.
	if cfg.OpenRouter.APIKey == "" && !cfg.OpenRouter.DryRun {
		log.Println("OPENROUTER_API_KEY not set, forcing dry-run mode")
		cfg.OpenRouter.DryRun = true
	}

	return cfg, nil
}
