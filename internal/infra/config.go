// Package infra holds process-level configuration.
package infra

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	// Server configuration (API binary only)
	Server ServerConfig

	// Database configuration
	Postgres PostgresConfig

	// Redis configuration (task queue)
	Redis RedisConfig

	// Docker configuration
	Docker DockerConfig

	// Build pipeline configuration
	Build BuildConfig

	// JWT configuration (API auth)
	JWT JWTConfig

	// Logging configuration
	LogLevel string

	// Worker configuration
	WorkerConcurrency int
}

type ServerConfig struct {
	Addr string
	Port string
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// Computed connection string
	DSN string
}

type RedisConfig struct {
	Host string
	Port int
	// Computed address
	Addr string
}

type DockerConfig struct {
	Host string
}

// BuildConfig configures the pipeline's on-disk layout and publishing policy.
type BuildConfig struct {
	ManifestPath string
	CacheDir     string // buildpack checkouts and per-service build caches
	BuildDir     string // compile output and image build contexts
	LogDir       string // one log file per delegated tool invocation
	DocsDir      string // generated per-service build docs
	Push         bool   // explicit opt-in to publishing images
}

type JWTConfig struct {
	Secret string
}

// LoadConfig loads configuration from environment variables and an optional
// .env file, with defaults for local development. Fails fast on missing
// required configs.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No .env file is fine; env vars and defaults apply.
	}

	config := &Config{
		Server: ServerConfig{
			Addr: v.GetString("server.addr"),
			Port: v.GetString("server.port"),
		},
		Postgres: PostgresConfig{
			Host:     v.GetString("postgres.host"),
			Port:     v.GetInt("postgres.port"),
			User:     v.GetString("postgres.user"),
			Password: v.GetString("postgres.password"),
			Database: v.GetString("postgres.database"),
			SSLMode:  v.GetString("postgres.sslmode"),
		},
		Redis: RedisConfig{
			Host: v.GetString("redis.host"),
			Port: v.GetInt("redis.port"),
		},
		Docker: DockerConfig{
			Host: v.GetString("docker.host"),
		},
		Build: BuildConfig{
			ManifestPath: v.GetString("build.manifest"),
			CacheDir:     v.GetString("build.cache_dir"),
			BuildDir:     v.GetString("build.build_dir"),
			LogDir:       v.GetString("build.log_dir"),
			DocsDir:      v.GetString("build.docs_dir"),
			Push:         v.GetBool("build.push"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		LogLevel:          v.GetString("log.level"),
		WorkerConcurrency: v.GetInt("worker.concurrency"),
	}

	config.Postgres.DSN = buildPostgresDSN(config.Postgres)
	config.Redis.Addr = fmt.Sprintf("%s:%d", config.Redis.Host, config.Redis.Port)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.addr", "0.0.0.0")
	v.SetDefault("server.port", "8080")

	// Postgres defaults
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "slugforge")
	v.SetDefault("postgres.sslmode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	// Docker defaults
	v.SetDefault("docker.host", "unix:///var/run/docker.sock")

	// Build defaults
	v.SetDefault("build.manifest", "slugforge.yaml")
	v.SetDefault("build.cache_dir", "var/cache")
	v.SetDefault("build.build_dir", "var/builds")
	v.SetDefault("build.log_dir", "var/logs")
	v.SetDefault("build.docs_dir", "var/docs")
	v.SetDefault("build.push", false)

	// JWT defaults
	v.SetDefault("jwt.secret", "")

	// Logging defaults
	v.SetDefault("log.level", "info")

	// Worker defaults
	v.SetDefault("worker.concurrency", 4)
}

func buildPostgresDSN(pg PostgresConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		pg.Host, pg.Port, pg.User, pg.Password, pg.Database, pg.SSLMode)
}

func validateConfig(config *Config) error {
	var missing []string

	if config.Docker.Host == "" {
		missing = append(missing, "DOCKER_HOST")
	}
	if config.Build.ManifestPath == "" {
		missing = append(missing, "BUILD_MANIFEST")
	}
	if config.Postgres.Database == "" {
		missing = append(missing, "POSTGRES_DATABASE")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
