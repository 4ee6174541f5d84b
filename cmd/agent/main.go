package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/cadence-agent/internal/cadence"
	"github.com/p-blackswan/cadence-agent/internal/config"
	"github.com/p-blackswan/cadence-agent/internal/engine"
	"github.com/p-blackswan/cadence-agent/internal/generate"
	"github.com/p-blackswan/cadence-agent/internal/health"
	"github.com/p-blackswan/cadence-agent/internal/memory"
	"github.com/p-blackswan/cadence-agent/internal/metrics"
	"github.com/p-blackswan/cadence-agent/internal/ops"
	"github.com/p-blackswan/cadence-agent/internal/state"
	"github.com/p-blackswan/cadence-agent/internal/style"
	"github.com/p-blackswan/cadence-agent/internal/telegram"
	"github.com/p-blackswan/cadence-agent/internal/trigger"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	// Load config. Missing required keys are the only fatal path.
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("ops_addr", cfg.OpsListenAddr).
		Str("metrics_addr", cfg.MetricsListenAddr).
		Dur("tick", cfg.TickInterval).
		Msg("starting cadence agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	m := metrics.New()

	// Transport
	tg, err := telegram.New(cfg.TelegramBotToken, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init telegram client")
	}

	// Resolve the bot's own username for mention matching when not pinned
	// in config.
	botUsername := cfg.NormalizedBotUsername()
	if botUsername == "" {
		botUsername, err = tg.BotUsername()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to resolve bot username")
		}
	}
	logger.Info().Str("bot_username", botUsername).Msg("bot identity resolved")

	// Content generation
	gen := generate.NewOpenAIClient(cfg.OpenAIAPIKey,
		generate.WithModel(cfg.OpenAIModel),
		generate.WithBaseURL(cfg.OpenAIBaseURL),
		generate.WithLogger(logger),
	)

	// Persistence
	stateStore := state.NewStore(cfg.StatePath, logger)
	memStore := memory.NewStore(cfg.MemoryPath, logger)

	// Style templates
	styleReply := style.NewCache(cfg.StyleDir, cfg.StyleReplyFilename, cfg.StyleReload, logger)
	stylePost := style.NewCache(cfg.StyleDir, cfg.StylePostFilename, cfg.StyleReload, logger)

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("state", func(ctx context.Context) health.Status {
		if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0o755); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})
	checker.Register("telegram", func(ctx context.Context) health.Status {
		if _, err := tg.BotUsername(); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	// Ambient trigger
	trig := trigger.New(trigger.Config{
		Window:  cfg.ActivityWindow,
		MinMsgs: cfg.ActivityMinMsgs,
		Gate: cadence.Gate{
			Cooldown: cfg.AmbientCooldown,
			DailyCap: cfg.AmbientDailyCap,
		},
		SendProbability:     cfg.SendProbability,
		ConsumeBudgetOnSkip: cfg.ConsumeBudgetOnSkip,
		SampleLines:         cfg.StyleSampleLines,
	}, stylePost, gen, func(chatID int64, text string) error {
		return tg.Send(chatID, text, 0)
	}, m, logger)

	// Engine
	eng := engine.New(engine.Config{
		BotUsername:    botUsername,
		AllowedChats:   cfg.AllowedChatList(),
		PollTimeout:    cfg.PollTimeout,
		TickInterval:   cfg.TickInterval,
		Window:         cfg.ActivityWindow,
		ReplyOnMention: cfg.ReplyOnMention,
		ReplyGate: cadence.Gate{
			Cooldown: cfg.ReplyCooldown,
			DailyCap: cfg.ReplyDailyCap,
		},
		AmbientEnabled: cfg.AmbientEnabled,
	}, tg, gen, trig, stateStore, memStore, styleReply, m, logger)

	var wg sync.WaitGroup

	// Ops server (probes + stats)
	var opsServer *ops.Server
	if cfg.OpsListenAddr != "" {
		opsServer = ops.NewServer(cfg.OpsListenAddr, checker, eng, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := opsServer.Start(); err != nil {
				logger.Error().Err(err).Msg("ops server error")
			}
		}()
	}

	// Prometheus metrics server
	var metricsServer *http.Server
	if cfg.MetricsListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.MetricsListenAddr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	// Engine loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
	}()

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}
	if opsServer != nil {
		if err := opsServer.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("ops server shutdown error")
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("cadence agent stopped")
}
