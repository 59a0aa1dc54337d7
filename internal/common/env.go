package common

import (
	"os"
	"strconv"
	"time"
)

// Config is read from the environment, the same variables docker-compose sets.
type Config struct {
	AppEnv     string
	ListenAddr string

	DBDriver   string // sqlite or mysql
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	SQLitePath string

	// RedisAddr enables the asynq trigger queue when non-empty.
	RedisAddr     string
	RedisPassword string

	LogPath  string // empty logs to stdout
	LogLevel string

	KeyPath  string
	CertPath string

	JWTKey        string
	JWTExpire     time.Duration
	WebhookSecret string

	WorkspaceRoot  string
	MaxConcurrency int
	DockerHost     string

	AdminUser     string
	AdminPassword string
}

var config Config

func GetConfig() Config {
	return config
}

func InitConf() {
	config = LoadConfig()
}

func LoadConfig() Config {
	dbPort, _ := strconv.Atoi(getEnv("DB_PORT", "3306"))
	maxConcurrency, _ := strconv.Atoi(getEnv("MAX_CONCURRENCY", "4"))
	jwtExpire, err := time.ParseDuration(getEnv("JWT_EXPIRE", "24h"))
	if err != nil {
		jwtExpire = 24 * time.Hour
	}

	return Config{
		AppEnv:     getEnv("APP_ENV", "development"),
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		DBDriver:   getEnv("DB_DRIVER", "sqlite"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     dbPort,
		DBUser:     getEnv("DB_USER", ""),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "cicada"),
		SQLitePath: getEnv("SQLITE_PATH", "./data/cicada.db"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		LogPath:  getEnv("LOG_PATH", ""),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		KeyPath:  getEnv("KEY_PATH", ""),
		CertPath: getEnv("CERT_PATH", ""),

		JWTKey:        getEnv("JWT_KEY", "cicada-dev-key"),
		JWTExpire:     jwtExpire,
		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),

		WorkspaceRoot:  getEnv("WORKSPACE_ROOT", "./workspaces"),
		MaxConcurrency: maxConcurrency,
		DockerHost:     getEnv("DOCKER_HOST", ""),

		AdminUser:     getEnv("ADMIN_USER", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
