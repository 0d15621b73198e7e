package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"statarbitrage/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Providers ProvidersConfig
	Scheduler SchedulerConfig
	Portfolio PortfolioConfig
	Security  SecurityConfig
	Logging   LoggingConfig
}

// ServerConfig - настройки HTTP сервера (/metrics, /healthz, /ws)
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Host         string
	Port         int
	Name         string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN возвращает строку подключения postgres.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// ProvidersConfig - адреса внешних сервисов
type ProvidersConfig struct {
	MarketDataURL     string
	MarketDataTimeout time.Duration
	StatsURL          string
	StatsTimeout      time.Duration // пакетный анализ считается долго
}

// SchedulerConfig - интервалы циклов реконсиляции
type SchedulerConfig struct {
	UpdateInterval   time.Duration
	MaintainInterval time.Duration
	StaleSelectedAge time.Duration
	MaintainWait     time.Duration
	TickTimeout      time.Duration
}

// PortfolioConfig - настройки виртуального портфеля
type PortfolioConfig struct {
	InitialBalance float64 // стартовый баланс, USDT
}

// SecurityConfig - шифрование API-ключей внешних сервисов.
// Ключ хранится в окружении зашифрованным; расшифровка через
// ProviderAPIKey, мастер-пароль и соль дальше Config не уходят.
type SecurityConfig struct {
	MasterPassword    string
	KeySalt           string
	ProviderAPIKeyEnc string // base64, AES-256-GCM
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Output      string
	Development bool
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			Name:         getEnv("DB_NAME", "statarbitrage"),
			User:         getEnv("DB_USER", "user"),
			Password:     getEnv("DB_PASSWORD", "password"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		},
		Providers: ProvidersConfig{
			MarketDataURL:     getEnv("MARKET_DATA_URL", "http://localhost:8081"),
			MarketDataTimeout: getEnvAsDuration("MARKET_DATA_TIMEOUT", 10*time.Second),
			StatsURL:          getEnv("STATS_URL", "http://localhost:8082"),
			StatsTimeout:      getEnvAsDuration("STATS_TIMEOUT", 120*time.Second),
		},
		Scheduler: SchedulerConfig{
			UpdateInterval:   getEnvAsDuration("UPDATE_INTERVAL", 1*time.Minute),
			MaintainInterval: getEnvAsDuration("MAINTAIN_INTERVAL", 5*time.Minute),
			StaleSelectedAge: getEnvAsDuration("STALE_SELECTED_AGE", 30*time.Minute),
			MaintainWait:     getEnvAsDuration("MAINTAIN_WAIT", 60*time.Second),
			TickTimeout:      getEnvAsDuration("TICK_TIMEOUT", 45*time.Second),
		},
		Portfolio: PortfolioConfig{
			InitialBalance: getEnvAsFloat("INITIAL_BALANCE", 1000),
		},
		Security: SecurityConfig{
			MasterPassword:    getEnv("MASTER_PASSWORD", ""),
			KeySalt:           getEnv("KEY_SALT", ""),
			ProviderAPIKeyEnc: getEnv("PROVIDER_API_KEY_ENC", ""),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Output:      getEnv("LOG_OUTPUT", ""),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("некорректный SERVER_PORT: %d", c.Server.Port)
	}
	if c.Database.Host == "" || c.Database.Name == "" {
		return fmt.Errorf("DB_HOST и DB_NAME обязательны")
	}
	if c.Providers.MarketDataURL == "" || c.Providers.StatsURL == "" {
		return fmt.Errorf("MARKET_DATA_URL и STATS_URL обязательны")
	}
	if c.Portfolio.InitialBalance <= 0 {
		return fmt.Errorf("INITIAL_BALANCE должен быть положительным: %f", c.Portfolio.InitialBalance)
	}
	if c.Scheduler.UpdateInterval < 5*time.Second {
		return fmt.Errorf("UPDATE_INTERVAL слишком мал: %s", c.Scheduler.UpdateInterval)
	}
	if c.Scheduler.MaintainInterval < c.Scheduler.UpdateInterval {
		return fmt.Errorf("MAINTAIN_INTERVAL не может быть меньше UPDATE_INTERVAL")
	}
	if c.Security.ProviderAPIKeyEnc != "" && (c.Security.MasterPassword == "" || c.Security.KeySalt == "") {
		return fmt.Errorf("PROVIDER_API_KEY_ENC задан, но MASTER_PASSWORD или KEY_SALT пусты")
	}
	return nil
}

// ProviderAPIKey расшифровывает API-ключ внешних сервисов.
// Пустой PROVIDER_API_KEY_ENC означает провайдеров без аутентификации.
func (c *Config) ProviderAPIKey() (string, error) {
	if c.Security.ProviderAPIKeyEnc == "" {
		return "", nil
	}
	key := crypto.DeriveKey(c.Security.MasterPassword, []byte(c.Security.KeySalt))
	apiKey, err := crypto.Decrypt(c.Security.ProviderAPIKeyEnc, key)
	if err != nil {
		return "", fmt.Errorf("расшифровка PROVIDER_API_KEY_ENC: %w", err)
	}
	return apiKey, nil
}

// ============ helpers ============

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
