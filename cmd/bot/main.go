package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"ha-trend-bot/internal/broker"
	"ha-trend-bot/internal/config"
	"ha-trend-bot/internal/feed"
	"ha-trend-bot/internal/history"
	"ha-trend-bot/internal/indicator"
	"ha-trend-bot/internal/logger"
	"ha-trend-bot/internal/models"
	"ha-trend-bot/internal/persistence"
	"ha-trend-bot/internal/reporter"
	"ha-trend-bot/internal/risk"
	sig "ha-trend-bot/internal/signal"
	"ha-trend-bot/internal/strategy"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	// A default logger first, so config loading itself can log.
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("no .env file found, reading from process environment")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("failed to load config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		logger.S().Fatalf("invalid config: %v", err)
	}

	// Reinitialize with the configured sinks and level.
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	var repo persistence.StateRepository
	if cfg.DBPath != "" {
		repo, err = persistence.NewBadgerRepository(cfg.DBPath)
		if err != nil {
			logger.S().Fatalf("failed to open state database: %v", err)
		}
		defer repo.Close()
	}

	store := indicator.NewStore()
	store.Track(cfg.Instrument, cfg.EMAPeriod)
	if cfg.Condition == 2 {
		store.Track(cfg.AuxInstrument, cfg.VIXEMAPeriod)
	}

	rules, err := sig.NewRuleSet(cfg.Condition, cfg.Instrument, cfg.AuxInstrument)
	if err != nil {
		logger.S().Fatalf("failed to build rule set: %v", err)
	}

	paper := broker.NewPaperBroker(logger.S())
	manager := risk.NewManager(cfg, paper, logger.S())
	strat := strategy.New(cfg, store, rules, manager, paper, repo, logger.S())

	paper.OnFill(strat.OnFill)

	// Preload history so evaluation can start on the first live bar.
	downloader := history.NewDownloader()
	warmup, err := downloader.Download(cfg.Instrument, cfg.Resolution, cfg.WarmupDays)
	if err != nil {
		logger.S().Warnf("history warmup failed for %s, starting cold: %v", cfg.Instrument, err)
	}
	if len(warmup) > 0 {
		paper.SetMark(cfg.Instrument, warmup[len(warmup)-1].Close)
	}

	var auxWarmup []models.Bar
	if cfg.Condition == 2 {
		auxWarmup, err = downloader.Download(cfg.AuxInstrument, cfg.VIXResolution, cfg.WarmupDays)
		if err != nil {
			logger.S().Warnf("history warmup failed for %s, starting cold: %v", cfg.AuxInstrument, err)
		}
	}

	if err := strat.Start(); err != nil {
		logger.S().Fatalf("failed to start strategy: %v", err)
	}

	// The primary feed also advances the paper broker so resting stops can
	// trigger against each bar before the strategy sees it.
	primaryHandler := func(instrument string, bars []models.Bar, isNewBar bool) {
		if len(bars) > 0 {
			paper.MarkBar(instrument, bars[len(bars)-1])
		}
		strat.OnBar(instrument, bars, isNewBar)
	}

	primaryFeed := feed.New(cfg.WSURL, cfg.Instrument, warmup, primaryHandler, logger.S())
	primaryFeed.Start()

	var auxFeed *feed.Feed
	if cfg.Condition == 2 {
		auxFeed = feed.New(cfg.WSURL, cfg.AuxInstrument, auxWarmup, strat.OnBar, logger.S())
		auxFeed.Start()
	}

	logger.S().Infof("running condition %d on %s (aux: %s)", cfg.Condition, cfg.Instrument, cfg.AuxInstrument)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	primaryFeed.Stop()
	if auxFeed != nil {
		auxFeed.Stop()
	}
	strat.Stop()

	reporter.GenerateReport(paper, manager.State(), cfg.PnLCurrency, logger.S())
	logger.S().Info("shutdown complete")
}
