package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guild-warden/internal/analytics"
	"guild-warden/internal/bot"
	"guild-warden/internal/config"
	"guild-warden/internal/modules/audit"
	"guild-warden/internal/playbook"
	"guild-warden/internal/storage"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	auditLogger := audit.NewLogger(store, logger.Named("audit"))
	playbookEngine := playbook.New(playbook.Config{
		ProtectionMinutes: cfg.Playbook.RaidProtectionMinutes,
	}, auditLogger)
	analyticsEngine := analytics.New(store)

	botSvc, err := bot.New(cfg, logger, store, auditLogger, playbookEngine, analyticsEngine)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = botSvc.Start(startCtx)
	startCancel()
	if err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started", zap.String("database", cfg.Database.Driver), zap.String("preset", cfg.RulePreset))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	botSvc.Close(ctx)
}
