package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

// Types de source
const (
	SourceCSV   = "csv"
	SourceS3    = "s3"
	SourceMySQL = "mysql"
)

// Config regroupe toute la configuration de l'application
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Source  SourceConfig  `yaml:"source"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
	Report  ReportConfig  `yaml:"report"`
}

// ServerConfig : paramètres de l'API HTTP
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SourceConfig choisit d'où lire l'instantané du schéma en étoile
type SourceConfig struct {
	Type        string `yaml:"type"`         // "csv", "s3" ou "mysql"
	DataDir     string `yaml:"data_dir"`     // csv
	S3Bucket    string `yaml:"s3_bucket"`    // s3
	S3Prefix    string `yaml:"s3_prefix"`    // s3
	S3Region    string `yaml:"s3_region"`    // s3
	AWSProfile  string `yaml:"aws_profile"`  // s3
	DSN         string `yaml:"dsn"`          // mysql
	TablePrefix string `yaml:"table_prefix"` // mysql
}

// CacheConfig : rechargement du Dataset et cache des rapports
type CacheConfig struct {
	DatasetTTLSeconds int    `yaml:"dataset_ttl_seconds"` // 0 = jusqu'à invalidation explicite
	ReportTTLSeconds  int    `yaml:"report_ttl_seconds"`
	RedisAddr         string `yaml:"redis_addr"` // vide = cache de rapports en mémoire
	RedisPassword     string `yaml:"redis_password"`
	RedisDB           int    `yaml:"redis_db"`
}

func (c CacheConfig) DatasetTTL() time.Duration {
	return time.Duration(c.DatasetTTLSeconds) * time.Second
}

func (c CacheConfig) ReportTTL() time.Duration {
	return time.Duration(c.ReportTTLSeconds) * time.Second
}

// LoggingConfig : réglages zap
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// ReportConfig : valeurs par défaut du rapport
type ReportConfig struct {
	TopProducts          int     `yaml:"top_products"`
	DefaultExtraDiscount float64 `yaml:"default_extra_discount"`
}

// Default renvoie une configuration avec toutes les valeurs par défaut.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Source.Type == "" {
		cfg.Source.Type = SourceCSV
	}
	if cfg.Source.DataDir == "" {
		cfg.Source.DataDir = "./data"
	}
	if cfg.Source.S3Region == "" {
		cfg.Source.S3Region = "us-east-1"
	}
	if cfg.Cache.ReportTTLSeconds == 0 {
		cfg.Cache.ReportTTLSeconds = 300
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Report.TopProducts == 0 {
		cfg.Report.TopProducts = 25
	}
}

// Validate vérifie les contraintes entre champs.
func (cfg *Config) Validate() error {
	switch cfg.Source.Type {
	case SourceCSV:
		if cfg.Source.DataDir == "" {
			return fmt.Errorf("%w: source.data_dir is required for csv", ErrInvalidConfig)
		}
	case SourceS3:
		if cfg.Source.S3Bucket == "" {
			return fmt.Errorf("%w: source.s3_bucket is required for s3", ErrInvalidConfig)
		}
	case SourceMySQL:
		if cfg.Source.DSN == "" {
			return fmt.Errorf("%w: source.dsn is required for mysql", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown source.type %q", ErrInvalidConfig, cfg.Source.Type)
	}
	if d := cfg.Report.DefaultExtraDiscount; math.IsNaN(d) || math.IsInf(d, 0) || d < 0 || d > 1 {
		return fmt.Errorf("%w: report.default_extra_discount must be within [0,1]", ErrInvalidConfig)
	}
	if cfg.Report.TopProducts < 0 {
		return fmt.Errorf("%w: report.top_products must be positive", ErrInvalidConfig)
	}
	if cfg.Cache.DatasetTTLSeconds < 0 || cfg.Cache.ReportTTLSeconds < 0 {
		return fmt.Errorf("%w: cache TTLs must be positive", ErrInvalidConfig)
	}
	return nil
}

// Load lit un fichier YAML puis applique les valeurs par défaut.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv charge la configuration puis applique les variables d'environnement.
// Un fichier .env est lu d'abord s'il existe. Chemin vide = valeurs par défaut.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("APP_DATA_DIR"); v != "" {
		cfg.Source.DataDir = v
	}
	if v := os.Getenv("ANALYTICS_SOURCE"); v != "" {
		cfg.Source.Type = v
	}
	if v := os.Getenv("ANALYTICS_DSN"); v != "" {
		cfg.Source.DSN = v
		if os.Getenv("ANALYTICS_SOURCE") == "" {
			cfg.Source.Type = SourceMySQL
		}
	}
	if v := os.Getenv("ANALYTICS_S3_BUCKET"); v != "" {
		cfg.Source.S3Bucket = v
	}
	if v := os.Getenv("ANALYTICS_S3_PREFIX"); v != "" {
		cfg.Source.S3Prefix = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Source.S3Region = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: PORT=%q", ErrInvalidConfig, v)
		}
		cfg.Server.Port = port
	}

	return cfg, nil
}
