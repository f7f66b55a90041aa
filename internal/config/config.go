package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/andresuchdata/control-tower/internal/domain"
	"github.com/andresuchdata/control-tower/internal/pipeline"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	App       AppConfig
	Cache     CacheConfig
	Storage   StorageConfig
	Drive     DriveConfig
	Scheduler SchedulerConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// DSN returns the postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type AppConfig struct {
	// FeedDir holds local tenant feeds when object storage is disabled.
	FeedDir string
	// DataDir receives local run artifacts.
	DataDir string
}

type CacheConfig struct {
	Enabled                   bool
	RedisURL                  string
	RedisHost                 string
	RedisPort                 string
	RedisPassword             string
	RedisDB                   int
	RecommendationsTTLSeconds int
	LockTTLSeconds            int
}

type StorageConfig struct {
	Enabled        bool
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Bucket         string
	Region         string
	UseSSL         bool
	CreateBucket   bool
	FeedPrefix     string
	ArtifactPrefix string
}

type DriveConfig struct {
	CredentialsJSON string
	FolderID        string
	DownloadDir     string
}

type SchedulerConfig struct {
	WorkerCount       int
	RunTimeoutSeconds int
	Tenants           []string
}

type LogConfig struct {
	Level  string
	Format string
}

var (
	once     sync.Once
	instance *Config
)

func setDefaults() {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_MODE", "debug")
	viper.SetDefault("SERVER_READ_TIMEOUT", 15)
	viper.SetDefault("SERVER_WRITE_TIMEOUT", 15)
	viper.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "postgres")
	viper.SetDefault("DB_PASSWORD", "postgres")
	viper.SetDefault("DB_NAME", "control_tower")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_MAX_CONNS", 10)
	viper.SetDefault("APP_FEED_DIR", "./data/feeds")
	viper.SetDefault("APP_DATA_DIR", "./data/output")
	viper.SetDefault("CACHE_ENABLED", false)
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("REDIS_HOST", "127.0.0.1")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("CACHE_RECOMMENDATIONS_TTL_SECONDS", 3600)
	viper.SetDefault("RUN_LOCK_TTL_SECONDS", 900)
	viper.SetDefault("STORAGE_ENABLED", false)
	viper.SetDefault("STORAGE_REGION", "us-east-1")
	viper.SetDefault("STORAGE_USE_SSL", true)
	viper.SetDefault("STORAGE_FEED_PREFIX", "feeds")
	viper.SetDefault("STORAGE_ARTIFACT_PREFIX", "runs")
	viper.SetDefault("DRIVE_DOWNLOAD_DIR", "./data/feeds")
	viper.SetDefault("SCHEDULER_WORKERS", 4)
	viper.SetDefault("SCHEDULER_RUN_TIMEOUT_SECONDS", 900)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "console")

	setPipelineDefaults()
}

func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		setDefaults()

		// Read from environment variables
		viper.AutomaticEnv()

		ensureDir(viper.GetString("APP_DATA_DIR"))

		instance = &Config{
			Server: ServerConfig{
				Port:           viper.GetString("SERVER_PORT"),
				Mode:           viper.GetString("SERVER_MODE"),
				ReadTimeout:    viper.GetInt("SERVER_READ_TIMEOUT"),
				WriteTimeout:   viper.GetInt("SERVER_WRITE_TIMEOUT"),
				AllowedOrigins: viper.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
			},
			Database: DatabaseConfig{
				Host:     viper.GetString("DB_HOST"),
				Port:     viper.GetString("DB_PORT"),
				User:     viper.GetString("DB_USER"),
				Password: viper.GetString("DB_PASSWORD"),
				DBName:   viper.GetString("DB_NAME"),
				SSLMode:  viper.GetString("DB_SSLMODE"),
				MaxConns: viper.GetInt("DB_MAX_CONNS"),
			},
			App: AppConfig{
				FeedDir: viper.GetString("APP_FEED_DIR"),
				DataDir: viper.GetString("APP_DATA_DIR"),
			},
			Cache: CacheConfig{
				Enabled:                   viper.GetBool("CACHE_ENABLED"),
				RedisURL:                  viper.GetString("REDIS_URL"),
				RedisHost:                 viper.GetString("REDIS_HOST"),
				RedisPort:                 viper.GetString("REDIS_PORT"),
				RedisPassword:             viper.GetString("REDIS_PASSWORD"),
				RedisDB:                   viper.GetInt("REDIS_DB"),
				RecommendationsTTLSeconds: viper.GetInt("CACHE_RECOMMENDATIONS_TTL_SECONDS"),
				LockTTLSeconds:            viper.GetInt("RUN_LOCK_TTL_SECONDS"),
			},
			Storage: StorageConfig{
				Enabled:        viper.GetBool("STORAGE_ENABLED"),
				Endpoint:       viper.GetString("STORAGE_ENDPOINT"),
				AccessKey:      viper.GetString("STORAGE_ACCESS_KEY"),
				SecretKey:      viper.GetString("STORAGE_SECRET_KEY"),
				Bucket:         viper.GetString("STORAGE_BUCKET"),
				Region:         viper.GetString("STORAGE_REGION"),
				UseSSL:         viper.GetBool("STORAGE_USE_SSL"),
				CreateBucket:   viper.GetBool("STORAGE_CREATE_BUCKET"),
				FeedPrefix:     viper.GetString("STORAGE_FEED_PREFIX"),
				ArtifactPrefix: viper.GetString("STORAGE_ARTIFACT_PREFIX"),
			},
			Drive: DriveConfig{
				CredentialsJSON: viper.GetString("DRIVE_CREDENTIALS_JSON"),
				FolderID:        viper.GetString("DRIVE_FOLDER_ID"),
				DownloadDir:     viper.GetString("DRIVE_DOWNLOAD_DIR"),
			},
			Scheduler: SchedulerConfig{
				WorkerCount:       viper.GetInt("SCHEDULER_WORKERS"),
				RunTimeoutSeconds: viper.GetInt("SCHEDULER_RUN_TIMEOUT_SECONDS"),
				Tenants:           splitList(viper.GetString("SCHEDULER_TENANTS")),
			},
			Log: LogConfig{
				Level:  viper.GetString("LOG_LEVEL"),
				Format: viper.GetString("LOG_FORMAT"),
			},
		}
	})

	return instance
}

// SchedulerSettings maps the scheduler section onto pipeline.SchedulerConfig.
func (c *Config) SchedulerSettings() pipeline.SchedulerConfig {
	return pipeline.SchedulerConfig{
		WorkerCount: c.Scheduler.WorkerCount,
		RunTimeout:  time.Duration(c.Scheduler.RunTimeoutSeconds) * time.Second,
	}
}

// ParseFXRates parses "EUR=1.09,GBP=1.27" into rates keyed by upper-case currency.
func ParseFXRates(raw string) (map[string]decimal.Decimal, error) {
	rates := make(map[string]decimal.Decimal)
	for _, pair := range splitList(raw) {
		cur, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, domain.ConfigError("invalid FX_RATES entry %q", pair)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, domain.ConfigError("invalid FX_RATES rate for %s: %v", cur, err)
		}
		rates[strings.ToUpper(strings.TrimSpace(cur))] = rate
	}
	return rates, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func ensureDir(dir string) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}
}
