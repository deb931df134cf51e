package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"multileg/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Security    SecurityConfig
	Scheduler   SchedulerConfig
	Execution   ExecutionConfig
	Persistence PersistenceConfig
	Logging     LoggingConfig
}

// ServerConfig - настройки операторского HTTP API
type ServerConfig struct {
	Port            int
	Host            string
	ShutdownTimeout time.Duration
}

// DatabaseConfig - настройки подключения к журналу (Postgres)
type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	// Enabled: журнал опционален, исполнение работает и без БД
	Enabled bool
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// OperatorTokenHash - bcrypt-хеш токена операторского API
	OperatorTokenHash string

	// EncryptionKey - 32-байтовый ключ AES-256 для API-ключей бирж
	EncryptionKey string

	// VenueCredentials - расшифрованные API-ключи бирж по ролям.
	// В окружении лежат только шифротексты (VENUE_CREDENTIAL_<ROLE>),
	// расшифровка ключом EncryptionKey при загрузке.
	VenueCredentials map[string]VenueCredential
}

// VenueCredential - пара API key/secret одной биржи
type VenueCredential struct {
	APIKey    string
	APISecret string
}

// SchedulerConfig - настройки планировщика задач
type SchedulerConfig struct {
	// TickInterval - период кооперативного тика
	TickInterval time.Duration

	// HandlerTimeout - бюджет одного Process() задачи
	HandlerTimeout time.Duration

	// SweepInterval - период зачистки архивных снимков
	SweepInterval time.Duration
}

// ExecutionConfig - торговые параметры исполнения
type ExecutionConfig struct {
	// OrderVolume - объём одной ноги цикла (в монетах актива)
	OrderVolume float64

	// LotStep - шаг объёма биржи; объёмы ордеров округляются
	// вниз до кратного шагу (0 = без округления)
	LotStep float64

	// RebalanceTolerance - допуск дисбаланса хеджа без коррекции
	RebalanceTolerance float64

	// TargetCycles - после скольких циклов задача завершается
	// (0 = бесконечно, до отмены оператором)
	TargetCycles int64

	// MaxRetries - бюджет попыток на операцию шлюза
	MaxRetries int

	// RetryBackoff - начальная задержка повторов
	RetryBackoff time.Duration

	// OrderTimeout - таймаут одного вызова шлюза
	OrderTimeout time.Duration

	// RecoveryBackoff - пауза в ERROR_RECOVERY перед возвратом в MONITORING
	RecoveryBackoff time.Duration
}

// PersistenceConfig - настройки файлового хранилища контекстов
type PersistenceConfig struct {
	// Dir - корневая директория (active/, completed/, errored/)
	Dir string

	// Retention - срок хранения архивных снимков
	Retention time.Duration
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "multileg"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			Enabled:  getEnvAsBool("DB_ENABLED", false),
		},
		Security: SecurityConfig{
			OperatorTokenHash: getEnv("OPERATOR_TOKEN_HASH", ""),
			EncryptionKey:     getEnv("ENCRYPTION_KEY", ""),
		},
		Scheduler: SchedulerConfig{
			TickInterval:   getEnvAsDuration("SCHEDULER_TICK", 200*time.Millisecond),
			HandlerTimeout: getEnvAsDuration("HANDLER_TIMEOUT", 5*time.Second),
			SweepInterval:  getEnvAsDuration("SWEEP_INTERVAL", 1*time.Hour),
		},
		Execution: ExecutionConfig{
			OrderVolume:        getEnvAsFloat("ORDER_VOLUME", 0.01),
			LotStep:            getEnvAsFloat("LOT_STEP", 0),
			RebalanceTolerance: getEnvAsFloat("REBALANCE_TOLERANCE", 0.0001),
			TargetCycles:       int64(getEnvAsInt("TARGET_CYCLES", 0)),
			MaxRetries:         getEnvAsInt("MAX_RETRIES", 4),
			RetryBackoff:       getEnvAsDuration("RETRY_BACKOFF", 500*time.Millisecond),
			OrderTimeout:       getEnvAsDuration("ORDER_TIMEOUT", 5*time.Second),
			RecoveryBackoff:    getEnvAsDuration("RECOVERY_BACKOFF", 2*time.Second),
		},
		Persistence: PersistenceConfig{
			Dir:       getEnv("PERSIST_DIR", "./data/tasks"),
			Retention: getEnvAsDuration("PERSIST_RETENTION", 7*24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	// Расшифровка секретов бирж (после проверки ключа)
	if err := cfg.loadVenueCredentials(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadVenueCredentials расшифровывает API-ключи бирж из окружения.
//
// Формат: VENUE_CREDENTIAL_SOURCE / _DEST / _HEDGE содержат base64
// AES-256-GCM шифротекст строки "apiKey:apiSecret". Отсутствующая
// переменная - биржа без аутентификации (симулятор); нерасшифровываемая -
// ошибка загрузки, торговать с битыми ключами нельзя.
func (c *Config) loadVenueCredentials() error {
	c.Security.VenueCredentials = make(map[string]VenueCredential)

	for _, role := range []string{"SOURCE", "DEST", "HEDGE"} {
		ciphertext := os.Getenv("VENUE_CREDENTIAL_" + role)
		if ciphertext == "" {
			continue
		}

		plaintext, err := crypto.DecryptCredential(ciphertext, []byte(c.Security.EncryptionKey))
		if err != nil {
			return fmt.Errorf("VENUE_CREDENTIAL_%s: %w", role, err)
		}

		key, secret, found := strings.Cut(plaintext, ":")
		if !found || key == "" || secret == "" {
			return fmt.Errorf("VENUE_CREDENTIAL_%s: expected apiKey:apiSecret", role)
		}

		c.Security.VenueCredentials[strings.ToLower(role)] = VenueCredential{
			APIKey:    key,
			APISecret: secret,
		}
	}

	return nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для шифрования API ключей бирж
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting venue API keys")
	}
	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	// Операторский API без токена недопустим
	if c.Security.OperatorTokenHash == "" {
		return fmt.Errorf("OPERATOR_TOKEN_HASH is required for API authentication")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("SCHEDULER_TICK must be positive, got %v", c.Scheduler.TickInterval)
	}
	if c.Scheduler.HandlerTimeout <= 0 {
		return fmt.Errorf("HANDLER_TIMEOUT must be positive, got %v", c.Scheduler.HandlerTimeout)
	}

	if c.Execution.OrderVolume <= 0 {
		return fmt.Errorf("ORDER_VOLUME must be positive, got %v", c.Execution.OrderVolume)
	}
	if c.Execution.LotStep < 0 {
		return fmt.Errorf("LOT_STEP cannot be negative, got %v", c.Execution.LotStep)
	}
	if c.Execution.RebalanceTolerance < 0 {
		return fmt.Errorf("REBALANCE_TOLERANCE cannot be negative, got %v", c.Execution.RebalanceTolerance)
	}
	if c.Execution.TargetCycles < 0 {
		return fmt.Errorf("TARGET_CYCLES cannot be negative, got %d", c.Execution.TargetCycles)
	}

	if c.Execution.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES cannot be negative, got %d", c.Execution.MaxRetries)
	}
	if c.Execution.MaxRetries > 10 {
		return fmt.Errorf("MAX_RETRIES should not exceed 10, got %d", c.Execution.MaxRetries)
	}
	if c.Execution.OrderTimeout <= 0 {
		return fmt.Errorf("ORDER_TIMEOUT must be positive, got %v", c.Execution.OrderTimeout)
	}

	if c.Persistence.Dir == "" {
		return fmt.Errorf("PERSIST_DIR cannot be empty")
	}
	if c.Persistence.Retention <= 0 {
		return fmt.Errorf("PERSIST_RETENTION must be positive, got %v", c.Persistence.Retention)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
