package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketmaker/internal/models"
	"marketmaker/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	MarketMaker MarketMakerConfig
	Pricing     PricingConfig
	Feed        FeedConfig
	Kafka       KafkaConfig
	Journal     JournalConfig
	Security    SecurityConfig
	Logging     LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string

	CORSOrigins []string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// MarketMakerConfig - идентификация экземпляра маркет-мейкера
type MarketMakerConfig struct {
	ID string // проставляется во все исходящие сообщения
}

// PricingConfig - глобальные значения по умолчанию для расчёта цены
//
// Используются, когда для торговой пары или биржи нет сохранённых настроек.
type PricingConfig struct {
	OutlierThreshold          decimal.Decimal
	StaleThreshold            time.Duration
	RepeatedMaxSequenceLength int
	RepeatedMaxSequenceAge    time.Duration
	RepeatedMaxAvg            decimal.Decimal
	RepeatedMaxAvgAge         time.Duration
	VolumeMultiplier          decimal.Decimal
	HedgingPreference         decimal.Decimal
}

// FeedConfig - подключение к ретранслятору стаканов
type FeedConfig struct {
	URLs              []string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	Shards            int // количество шардов диспетчера
	QueueSize         int // размер очереди шарда
}

// KafkaConfig - исходящая очередь событий и команд
type KafkaConfig struct {
	Brokers     []string // пусто = Kafka отключена
	TopicPrefix string
}

// Enabled - настроены ли брокеры
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// JournalConfig - хранение журнала исходящих событий
type JournalConfig struct {
	CleanupInterval time.Duration
	KeepEvents      int // сколько последних событий оставлять
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	Environment        string
	SettingsAPIKeyHash string // bcrypt хеш ключа для изменения настроек
}

// IsProduction - продакшен окружение
func (s SecurityConfig) IsProduction() bool {
	return s.Environment == "production"
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),

			CORSOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "marketmaker"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		MarketMaker: MarketMakerConfig{
			ID: getEnv("MARKET_MAKER_ID", "mm-default"),
		},
		Pricing: PricingConfig{
			OutlierThreshold:          getEnvAsDecimal("DEFAULT_OUTLIER_THRESHOLD", decimal.RequireFromString("0.05")),
			StaleThreshold:            getEnvAsDuration("DEFAULT_STALE_THRESHOLD", 10*time.Second),
			RepeatedMaxSequenceLength: getEnvAsInt("DEFAULT_REPEATED_MAX_SEQUENCE_LENGTH", 10),
			RepeatedMaxSequenceAge:    getEnvAsDuration("DEFAULT_REPEATED_MAX_SEQUENCE_AGE", time.Minute),
			RepeatedMaxAvg:            getEnvAsDecimal("DEFAULT_REPEATED_MAX_AVG", decimal.RequireFromString("0.5")),
			RepeatedMaxAvgAge:         getEnvAsDuration("DEFAULT_REPEATED_MAX_AVG_AGE", 5*time.Minute),
			VolumeMultiplier:          getEnvAsDecimal("DEFAULT_VOLUME_MULTIPLIER", decimal.NewFromInt(1)),
			HedgingPreference:         getEnvAsDecimal("DEFAULT_HEDGING_PREFERENCE", decimal.Zero),
		},
		Feed: FeedConfig{
			URLs:              getEnvAsList("FEED_URLS", nil),
			ReconnectDelay:    getEnvAsDuration("FEED_RECONNECT_DELAY", time.Second),
			MaxReconnectDelay: getEnvAsDuration("FEED_MAX_RECONNECT_DELAY", 30*time.Second),
			PingInterval:      getEnvAsDuration("FEED_PING_INTERVAL", 15*time.Second),
			Shards:            getEnvAsInt("FEED_SHARDS", 16),
			QueueSize:         getEnvAsInt("FEED_QUEUE_SIZE", 1024),
		},
		Kafka: KafkaConfig{
			Brokers:     getEnvAsList("KAFKA_BROKERS", nil),
			TopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", "marketmaker"),
		},
		Journal: JournalConfig{
			CleanupInterval: getEnvAsDuration("JOURNAL_CLEANUP_INTERVAL", time.Hour),
			KeepEvents:      getEnvAsInt("JOURNAL_KEEP_EVENTS", 100000),
		},
		Security: SecurityConfig{
			Environment:        getEnv("ENV", "development"),
			SettingsAPIKeyHash: getEnv("SETTINGS_API_KEY_HASH", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	if c.Security.SettingsAPIKeyHash == "" {
		// В dev режиме изменение настроек открыто
		if c.Security.IsProduction() {
			return fmt.Errorf("SETTINGS_API_KEY_HASH is required in production")
		}
		return nil
	}

	if _, err := crypto.HashCost(c.Security.SettingsAPIKeyHash); err != nil {
		return fmt.Errorf("SETTINGS_API_KEY_HASH is not a valid bcrypt hash: %w", err)
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

	if c.MarketMaker.ID == "" {
		return fmt.Errorf("MARKET_MAKER_ID cannot be empty")
	}

	p := c.Pricing
	if p.OutlierThreshold.IsNegative() {
		return fmt.Errorf("DEFAULT_OUTLIER_THRESHOLD cannot be negative, got %s", p.OutlierThreshold)
	}
	if p.StaleThreshold <= 0 {
		return fmt.Errorf("DEFAULT_STALE_THRESHOLD must be positive, got %v", p.StaleThreshold)
	}
	if p.RepeatedMaxSequenceLength < 0 {
		return fmt.Errorf("DEFAULT_REPEATED_MAX_SEQUENCE_LENGTH cannot be negative, got %d", p.RepeatedMaxSequenceLength)
	}
	if p.RepeatedMaxAvg.IsNegative() || p.RepeatedMaxAvg.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("DEFAULT_REPEATED_MAX_AVG must be between 0 and 1, got %s", p.RepeatedMaxAvg)
	}
	if p.RepeatedMaxSequenceAge < 0 || p.RepeatedMaxAvgAge < 0 {
		return fmt.Errorf("repeated outlier window ages cannot be negative")
	}
	if !p.VolumeMultiplier.IsPositive() {
		return fmt.Errorf("DEFAULT_VOLUME_MULTIPLIER must be positive, got %s", p.VolumeMultiplier)
	}
	if p.HedgingPreference.IsNegative() || p.HedgingPreference.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("DEFAULT_HEDGING_PREFERENCE must be between 0 and 1, got %s", p.HedgingPreference)
	}

	if c.Feed.Shards < 1 || c.Feed.Shards > 256 {
		return fmt.Errorf("FEED_SHARDS must be between 1 and 256, got %d", c.Feed.Shards)
	}
	if c.Journal.CleanupInterval <= 0 {
		return fmt.Errorf("JOURNAL_CLEANUP_INTERVAL must be positive, got %v", c.Journal.CleanupInterval)
	}
	if c.Journal.KeepEvents < 1 {
		return fmt.Errorf("JOURNAL_KEEP_EVENTS must be positive, got %d", c.Journal.KeepEvents)
	}
	if c.Feed.QueueSize < 1 {
		return fmt.Errorf("FEED_QUEUE_SIZE must be positive, got %d", c.Feed.QueueSize)
	}
	if c.Feed.ReconnectDelay <= 0 || c.Feed.MaxReconnectDelay < c.Feed.ReconnectDelay {
		return fmt.Errorf("FEED_MAX_RECONNECT_DELAY (%v) must be >= FEED_RECONNECT_DELAY (%v) > 0",
			c.Feed.MaxReconnectDelay, c.Feed.ReconnectDelay)
	}

	return nil
}

// AssetPairDefaults возвращает настройки пары по умолчанию
func (p PricingConfig) AssetPairDefaults(assetPairID string) models.AssetPairSettings {
	steps := make([]models.StepSetting, 0, len(models.AllSteps))
	for _, kind := range models.AllSteps {
		steps = append(steps, models.StepSetting{Kind: kind, Enabled: true})
	}

	return models.AssetPairSettings{
		AssetPairID:      assetPairID,
		OutlierThreshold: p.OutlierThreshold,
		RepeatedOutliers: models.RepeatedOutliersSettings{
			MaxSequenceLength: p.RepeatedMaxSequenceLength,
			MaxSequenceAge:    p.RepeatedMaxSequenceAge,
			MaxAvg:            p.RepeatedMaxAvg,
			MaxAvgAge:         p.RepeatedMaxAvgAge,
		},
		VolumeMultiplier: p.VolumeMultiplier,
		Steps:            steps,
	}
}

// ExchangeDefaults возвращает настройки биржи по умолчанию
func (p PricingConfig) ExchangeDefaults(assetPairID, exchange string) models.ExchangeSettings {
	return models.ExchangeSettings{
		AssetPairID:                 assetPairID,
		Exchange:                    exchange,
		OrderbookOutdatingThreshold: p.StaleThreshold,
		HedgingPreference:           p.HedgingPreference,
	}
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

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList читает список через запятую, пустые элементы отбрасываются
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
