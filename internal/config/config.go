package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Vector   VectorConfig   `mapstructure:"vector"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Models   ModelsConfig   `mapstructure:"models"`
	Reader   ReaderConfig   `mapstructure:"reader"`
	Training TrainingConfig `mapstructure:"training"`
	Chunk    ChunkConfig    `mapstructure:"chunk"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Dataset  DatasetConfig  `mapstructure:"dataset"`
	Delete   DeleteConfig   `mapstructure:"delete"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	if c.Path == "" {
		return "file::memory:?cache=shared&_busy_timeout=5000"
	}
	if strings.Contains(c.Path, "?") {
		return c.Path
	}
	return c.Path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

type VectorConfig struct {
	Dimensions int          `mapstructure:"dimensions"`
	PgDSN      string       `mapstructure:"pg_dsn"`
	PgTable    string       `mapstructure:"pg_table"`
	Qdrant     QdrantConfig `mapstructure:"qdrant"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	CountTTL    time.Duration `mapstructure:"count_ttl"`
	Debounce    time.Duration `mapstructure:"debounce"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type ReaderConfig struct {
	APIServerURL string        `mapstructure:"api_server_url"`
	APIServerKey string        `mapstructure:"api_server_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type TrainingConfig struct {
	RetryCount         int           `mapstructure:"retry_count"`
	ParseLease         time.Duration `mapstructure:"parse_lease"`
	ChunkLease         time.Duration `mapstructure:"chunk_lease"`
	IndexEnhanceLease  time.Duration `mapstructure:"index_enhance_lease"`
	ClaimBackoff       time.Duration `mapstructure:"claim_backoff"`
	MaxAttemptsPerRun  int           `mapstructure:"max_attempts_per_run"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	Workers            int           `mapstructure:"workers"`
	ParagraphAIEnabled bool          `mapstructure:"paragraph_ai_enabled"`
}

type ChunkConfig struct {
	DefaultSize    int `mapstructure:"default_size"`
	TriggerMinSize int `mapstructure:"trigger_min_size"`
	IndexSize      int `mapstructure:"index_size"`
	AutoIndexSize  int `mapstructure:"auto_index_size"`
}

type QuotaConfig struct {
	TeamMaxVectors int `mapstructure:"team_max_vectors"`
}

type DatasetConfig struct {
	MaxCollections int `mapstructure:"max_collections"`
	MaxDepth       int `mapstructure:"max_depth"`
	MaxEnhanceData int `mapstructure:"max_enhance_data"`
}

type DeleteConfig struct {
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets come from the environment
	v.BindEnv("database.url", "DATABASE_DSN", "DATABASE_URL")
	v.BindEnv("vector.pg_dsn", "PG_VECTOR_DSN")
	v.BindEnv("vector.qdrant.host", "QDRANT_HOST")
	v.BindEnv("vector.qdrant.port", "QDRANT_PORT")
	v.BindEnv("vector.qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("reader.api_server_key", "API_DATASET_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Models.ResolveEnvVars()
	cfg.Models.ApplyKeyFallbacks(os.Getenv("OPENAI_API_KEY"), os.Getenv("EMBEDDING_API_KEY"))
	if err := cfg.Models.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/kbpipe.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("vector.dimensions", 1536)
	v.SetDefault("vector.pg_table", "dataset_vectors")
	v.SetDefault("vector.qdrant.port", 6334)
	v.SetDefault("vector.qdrant.collection", "dataset_vectors")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.count_ttl", 30*time.Minute)
	v.SetDefault("redis.debounce", 30*time.Second)

	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "dataset")

	v.SetDefault("reader.timeout", 60*time.Second)

	v.SetDefault("training.retry_count", 5)
	v.SetDefault("training.parse_lease", 20*time.Minute)
	v.SetDefault("training.chunk_lease", 10*time.Minute)
	v.SetDefault("training.index_enhance_lease", 10*time.Minute)
	v.SetDefault("training.claim_backoff", 500*time.Millisecond)
	v.SetDefault("training.max_attempts_per_run", 50)
	v.SetDefault("training.poll_interval", 2*time.Second)
	v.SetDefault("training.workers", 4)
	v.SetDefault("training.paragraph_ai_enabled", false)

	v.SetDefault("chunk.default_size", 512)
	v.SetDefault("chunk.trigger_min_size", 1000)
	v.SetDefault("chunk.index_size", 512)
	v.SetDefault("chunk.auto_index_size", 3)

	v.SetDefault("quota.team_max_vectors", 0)

	v.SetDefault("dataset.max_collections", 10000)
	v.SetDefault("dataset.max_depth", 50)
	v.SetDefault("dataset.max_enhance_data", 100)

	v.SetDefault("delete.retry_attempts", 3)
	v.SetDefault("delete.retry_delay", 500*time.Millisecond)
}
