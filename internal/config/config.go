// Пакет config — загрузка и валидация конфигурации DMS
// из переменных окружения (префикс DMS_). Если рядом лежит .env,
// он подгружается через godotenv и не перекрывает уже заданные переменные.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Окружения запуска.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// minSecretLen — минимальная длина HMAC-секрета в байтах.
const minSecretLen = 16

// SigningKey — симметричный ключ подписи токенов.
type SigningKey struct {
	// ID — kid в заголовке JWT
	ID string
	// Secret — HMAC-секрет
	Secret []byte
}

// Config содержит все параметры конфигурации DMS.
type Config struct {
	// --- Сервер ---

	// Окружение: production или development (в development ошибки API содержат детали)
	Env string
	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Максимальное число соединений в пуле
	DBMaxConns int

	// --- JWT ---

	// Ключи подписи; первый — активный, остальные принимаются при проверке
	JWTKeys []SigningKey
	// Issuer токенов
	JWTIssuer string
	// Время жизни токена
	JWTExpiresIn time.Duration
	// Допустимое отклонение часов при проверке
	JWTLeeway time.Duration

	// --- Авторизация ---

	// Переопределение матрицы Role → Capabilities ("Role=Cap|Cap;Role=Cap")
	RoleCapabilities string

	// --- Запросы и кэш ---

	// Максимум строк в выдаче QueryDefects
	QueryLimit int
	// Размер LRU-кэша моделей
	ModeloCacheSize int
	// TTL записей кэша моделей
	ModeloCacheTTL time.Duration

	// --- Защита входа ---

	// URL Redis для счётчика неудачных входов (пусто — in-memory)
	RedisURL string
	// Число неудачных попыток до блокировки
	LoginMaxAttempts int
	// Окно подсчёта неудачных попыток
	LoginWindow time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg, err := LoadDatabase()
	if err != nil {
		return nil, err
	}

	// --- JWT ---

	// DMS_JWT_KEYS — обязательный, формат kid:secret[,kid:secret]
	keysRaw, err := getEnvRequired("DMS_JWT_KEYS")
	if err != nil {
		return nil, err
	}
	cfg.JWTKeys, err = parseSigningKeys(keysRaw)
	if err != nil {
		return nil, fmt.Errorf("DMS_JWT_KEYS: %w", err)
	}

	cfg.JWTIssuer = getEnvDefault("DMS_JWT_ISSUER", "dms")

	cfg.JWTExpiresIn, err = getEnvDuration("DMS_JWT_EXPIRES_IN", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DMS_JWT_EXPIRES_IN: %w", err)
	}
	if cfg.JWTExpiresIn < time.Minute {
		return nil, fmt.Errorf("DMS_JWT_EXPIRES_IN: значение %s меньше 1m", cfg.JWTExpiresIn)
	}

	cfg.JWTLeeway, err = getEnvDuration("DMS_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DMS_JWT_LEEWAY: %w", err)
	}

	// --- Авторизация ---

	// Синтаксис проверяется в rbac.ParseMatrix при старте
	cfg.RoleCapabilities = getEnvDefault("DMS_ROLE_CAPABILITIES", "")

	// --- Запросы и кэш ---

	cfg.QueryLimit, err = getEnvInt("DMS_QUERY_LIMIT", 1000)
	if err != nil {
		return nil, fmt.Errorf("DMS_QUERY_LIMIT: %w", err)
	}
	if cfg.QueryLimit < 1 || cfg.QueryLimit > 10000 {
		return nil, fmt.Errorf("DMS_QUERY_LIMIT: значение %d вне допустимого диапазона 1-10000", cfg.QueryLimit)
	}

	cfg.ModeloCacheSize, err = getEnvInt("DMS_MODELO_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("DMS_MODELO_CACHE_SIZE: %w", err)
	}
	if cfg.ModeloCacheSize < 1 {
		return nil, fmt.Errorf("DMS_MODELO_CACHE_SIZE: значение %d должно быть положительным", cfg.ModeloCacheSize)
	}

	cfg.ModeloCacheTTL, err = getEnvDuration("DMS_MODELO_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DMS_MODELO_CACHE_TTL: %w", err)
	}

	// --- Защита входа ---

	cfg.RedisURL = getEnvDefault("DMS_REDIS_URL", "")

	cfg.LoginMaxAttempts, err = getEnvInt("DMS_LOGIN_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, fmt.Errorf("DMS_LOGIN_MAX_ATTEMPTS: %w", err)
	}
	if cfg.LoginMaxAttempts < 1 {
		return nil, fmt.Errorf("DMS_LOGIN_MAX_ATTEMPTS: значение %d должно быть положительным", cfg.LoginMaxAttempts)
	}

	cfg.LoginWindow, err = getEnvDuration("DMS_LOGIN_WINDOW", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DMS_LOGIN_WINDOW: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("DMS_DEPHEALTH_GROUP", "dms")
	cfg.DephealthCheckInterval, err = getEnvDuration("DMS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DMS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("DMS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DMS_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// LoadDatabase загружает только общие параметры и PostgreSQL.
// Используется dmsctl, которому не нужны ключи JWT и остальные параметры сервера.
func LoadDatabase() (*Config, error) {
	// .env необязателен: в контейнере переменные приходят из окружения
	_ = godotenv.Load()

	cfg := &Config{}
	var err error

	// --- Сервер ---

	// DMS_ENV — окружение (по умолчанию production)
	cfg.Env = getEnvDefault("DMS_ENV", EnvProduction)
	if cfg.Env != EnvProduction && cfg.Env != EnvDevelopment {
		return nil, fmt.Errorf("DMS_ENV: недопустимое значение %q, допустимые: production, development", cfg.Env)
	}

	// DMS_PORT — порт HTTP-сервера (по умолчанию 3000)
	cfg.Port, err = getEnvInt("DMS_PORT", 3000)
	if err != nil {
		return nil, fmt.Errorf("DMS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("DMS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DMS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DMS_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("DMS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DMS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("DMS_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("DMS_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DMS_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("DMS_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("DMS_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("DMS_DB_PASSWORD"); err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("DMS_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("DMS_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	cfg.DBMaxConns, err = getEnvInt("DMS_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DMS_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 || cfg.DBMaxConns > 500 {
		return nil, fmt.Errorf("DMS_DB_MAX_CONNS: значение %d вне допустимого диапазона 1-500", cfg.DBMaxConns)
	}

	return cfg, nil
}

// IsDevelopment — включён режим разработки.
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s pool_max_conns=%d",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode, c.DBMaxConns,
	)
}

// DatabaseURL возвращает URL PostgreSQL (postgres://...) для лейблов topologymetrics.
func (c *Config) DatabaseURL() string {
	return c.databaseURL("postgres")
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return c.databaseURL("pgx5")
}

func (c *Config) databaseURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// parseSigningKeys разбирает список ключей "kid:secret,kid:secret".
// Секрет может содержать двоеточия: разделяется только по первому.
func parseSigningKeys(s string) ([]SigningKey, error) {
	items := parseCSV(s)
	if len(items) == 0 {
		return nil, fmt.Errorf("не задано ни одного ключа")
	}

	seen := make(map[string]bool, len(items))
	keys := make([]SigningKey, 0, len(items))
	for _, item := range items {
		kid, secret, ok := strings.Cut(item, ":")
		kid = strings.TrimSpace(kid)
		if !ok || kid == "" {
			return nil, fmt.Errorf("некорректная запись %q, ожидается kid:secret", item)
		}
		if len(secret) < minSecretLen {
			return nil, fmt.Errorf("ключ %s: секрет короче %d байт", kid, minSecretLen)
		}
		if seen[kid] {
			return nil, fmt.Errorf("ключ %s указан дважды", kid)
		}
		seen[kid] = true
		keys = append(keys, SigningKey{ID: kid, Secret: []byte(secret)})
	}
	return keys, nil
}
