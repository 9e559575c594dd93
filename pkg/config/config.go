package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Database  DatabaseConfig  `mapstructure:"database"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Premium   PremiumConfig   `mapstructure:"premium"`
	Backup    BackupConfig    `mapstructure:"backup"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type TelegramConfig struct {
	Token         string `mapstructure:"token"`
	AdminID       int64  `mapstructure:"admin_id"`
	AdminUsername string `mapstructure:"admin_username"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
	// DataFile is the on-disk store file the backup scheduler snapshots.
	DataFile string `mapstructure:"data_file"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type TierLimitsConfig struct {
	MessagesPerConversation int `mapstructure:"messages_per_conversation"` // 0 = unlimited
	ConversationsPerWeek    int `mapstructure:"conversations_per_week"`
	SavedConversations      int `mapstructure:"saved_conversations"`
}

type LimitsConfig struct {
	Normal  TierLimitsConfig `mapstructure:"normal"`
	Premium TierLimitsConfig `mapstructure:"premium"`
}

type PremiumPriceConfig struct {
	Price    float64 `mapstructure:"price"`
	Discount float64 `mapstructure:"discount"`
}

type PremiumConfig struct {
	Prices map[string]PremiumPriceConfig `mapstructure:"prices"`
}

type BackupConfig struct {
	Dir              string        `mapstructure:"dir"`
	KeyFile          string        `mapstructure:"key_file"`
	Password         string        `mapstructure:"password"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	RetentionDays    int           `mapstructure:"retention_days"`
}

type RateLimitConfig struct {
	MessagesPerMinute int `mapstructure:"messages_per_minute"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  "disable",
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("database.data_file", "data/bot_data.db")
	v.SetDefault("openai.model", "gpt-3.5-turbo")
	v.SetDefault("openai.max_tokens", 500)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("limits.normal.messages_per_conversation", 15)
	v.SetDefault("limits.normal.conversations_per_week", 20)
	v.SetDefault("limits.normal.saved_conversations", 5)
	v.SetDefault("limits.premium.messages_per_conversation", 0)
	v.SetDefault("limits.premium.conversations_per_week", 100)
	v.SetDefault("limits.premium.saved_conversations", 20)
	v.SetDefault("premium.prices", map[string]map[string]float64{
		"1_month":   {"price": 10, "discount": 0},
		"3_months":  {"price": 25, "discount": 15},
		"6_months":  {"price": 45, "discount": 25},
		"12_months": {"price": 80, "discount": 35},
	})
	v.SetDefault("backup.dir", "data/backups")
	v.SetDefault("backup.key_file", "data/encryption.key")
	v.SetDefault("backup.snapshot_interval", "12h")
	v.SetDefault("backup.sweep_interval", "24h")
	v.SetDefault("backup.retention_days", 15)
	v.SetDefault("rate_limit.messages_per_minute", 60)

	// Enable environment variable support
	v.AutomaticEnv()

	// Read the config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		dataFile := config.Database.DataFile
		config.Database = dbConfig
		config.Database.DataFile = dataFile
	}

	// Get other environment variables
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if password := v.GetString("BACKUP_PASSWORD"); password != "" {
		config.Backup.Password = password
	}

	return &config, nil
}
