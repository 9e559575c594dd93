package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Royal-Captain/ai-telegram-bot/internal/assistant"
	"github.com/Royal-Captain/ai-telegram-bot/internal/backup"
	"github.com/Royal-Captain/ai-telegram-bot/internal/bot"
	"github.com/Royal-Captain/ai-telegram-bot/internal/crypto"
	"github.com/Royal-Captain/ai-telegram-bot/internal/entitlement"
	"github.com/Royal-Captain/ai-telegram-bot/internal/models"
	"github.com/Royal-Captain/ai-telegram-bot/internal/session"
	"github.com/Royal-Captain/ai-telegram-bot/internal/storage"
	"github.com/Royal-Captain/ai-telegram-bot/pkg/config"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		store, err = storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			DBName:      cfg.Database.DBName,
			SSLMode:     cfg.Database.SSLMode,
			UseInMemory: cfg.Database.UseInMemory,
		})
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Initialize encryption service
	enc, err := crypto.New(cfg.Backup.KeyFile, cfg.Backup.Password, logger)
	if err != nil {
		logger.Fatal("Failed to initialize encryption service", zap.Error(err))
	}

	// Start the backup scheduler on its own context, decoupled from request handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := backup.NewScheduler(backup.Config{
		SourcePath:       cfg.Database.DataFile,
		BackupDir:        cfg.Backup.Dir,
		SnapshotInterval: cfg.Backup.SnapshotInterval,
		SweepInterval:    cfg.Backup.SweepInterval,
		RetentionDays:    cfg.Backup.RetentionDays,
	}, enc, logger)
	go scheduler.Run(ctx)

	// Initialize entitlement engine
	prices := make(map[string]entitlement.Price, len(cfg.Premium.Prices))
	for code, price := range cfg.Premium.Prices {
		prices[code] = entitlement.Price{Base: price.Price, Discount: price.Discount}
	}
	engine := entitlement.NewEngine(store, prices,
		models.Limits{
			Tier:                    models.TierNormal,
			MessagesPerConversation: cfg.Limits.Normal.MessagesPerConversation,
			ConversationsPerWeek:    cfg.Limits.Normal.ConversationsPerWeek,
			SavedConversations:      cfg.Limits.Normal.SavedConversations,
		},
		models.Limits{
			Tier:                    models.TierPremium,
			MessagesPerConversation: cfg.Limits.Premium.MessagesPerConversation,
			ConversationsPerWeek:    cfg.Limits.Premium.ConversationsPerWeek,
			SavedConversations:      cfg.Limits.Premium.SavedConversations,
		},
		logger)
	payments := entitlement.NewPaymentTracker(engine, logger)

	// Initialize session manager
	sessions := session.NewManager(store, engine, session.Config{
		RateCeiling: cfg.RateLimit.MessagesPerMinute,
	}, logger)

	// Initialize assistant responder
	responder := assistant.NewOpenAIResponder(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.MaxTokens,
		cfg.OpenAI.Temperature,
		logger,
	)

	// Initialize bot
	b, err := bot.New(bot.Config{
		Token:         cfg.Telegram.Token,
		AdminID:       cfg.Telegram.AdminID,
		AdminUsername: cfg.Telegram.AdminUsername,
	}, store, sessions, engine, payments, responder, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	// Start the bot
	if err := b.Start(); err != nil {
		logger.Fatal("Bot error", zap.Error(err))
	}
}
