package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"phantomflow/config"
	"phantomflow/engine"
	"phantomflow/internal/channel"
	"phantomflow/logger"
	"phantomflow/notify"
	"phantomflow/processor"
	"phantomflow/reader/massive"
	"phantomflow/refdata"
	"phantomflow/store"
	"phantomflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Phantomflow.Name,
		"version": cfg.Phantomflow.Version,
		"symbol":  cfg.Feed.Symbol,
	}).Info("starting phantomflow")

	if cfg.Storage.S3.Enabled || os.Getenv("AWS_REGION") != "" {
		logger.InitCloudWatch(cfg.Storage.S3.Region, "")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The reference range is required before the first trade can be
	// classified; without it the service cannot do its job.
	provider := refdata.NewProvider(cfg.Refdata, cfg.Feed.Symbol, cfg.Feed.APIKey)
	ref, err := provider.Resolve(ctx)
	if err != nil {
		log.WithError(err).Error("failed to resolve reference range")
		os.Exit(1)
	}

	channels := channel.NewChannels(cfg.Channels.RawBuffer, cfg.Channels.TradeBuffer)
	defer channels.Close()

	var dispatcher *notify.Dispatcher
	if cfg.Alerting.Enabled {
		dispatcher = notify.NewDispatcher(cfg.Alerting, notify.NewDiscordSender(cfg.Alerting.WebhookURL))
	} else {
		log.WithComponent("main").Info("alerting disabled; alerts will only be logged")
	}

	var phantomStore *store.PhantomStore
	if cfg.Storage.Postgres.Enabled {
		phantomStore, err = store.NewPhantomStore(ctx, cfg.Storage.Postgres.DSN, cfg.Storage.Postgres.Timeout)
		if err != nil {
			log.WithError(err).Error("failed to open phantom store")
			os.Exit(1)
		}
		defer phantomStore.Close()
	} else {
		log.WithComponent("main").Info("postgres disabled; phantom records will not be persisted")
	}

	var daylogWriter *writer.DayLogWriter
	if cfg.Storage.DayLog.Enabled {
		daylogWriter, err = writer.NewDayLogWriter(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create daylog writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("daylog disabled; raw print logs will not be written")
	}

	tradeReader := massive.NewTradeReader(cfg, channels.Raw)
	tradeProcessor := processor.NewTradeProcessor(cfg, channels.Raw, channels.Trades)

	var alertSink engine.AlertSink
	if dispatcher != nil {
		alertSink = dispatcher
	}
	var recordStore engine.PhantomStore
	if phantomStore != nil {
		recordStore = phantomStore
	}
	var daylog engine.DayLog
	if daylogWriter != nil {
		daylog = daylogWriter
	}

	classifier, err := engine.NewEngine(cfg, ref, channels.Trades, alertSink, recordStore, daylog)
	if err != nil {
		log.WithError(err).Error("failed to create classification engine")
		os.Exit(1)
	}

	// A feed gap can hide trades, so summaries flush on every disconnect.
	tradeReader.OnDisconnect(func(reason string) {
		classifier.FlushSummaries("disconnect")
	})

	if dispatcher != nil {
		if err := dispatcher.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start alert dispatcher")
			os.Exit(1)
		}
	}
	if daylogWriter != nil {
		if err := daylogWriter.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start daylog writer")
			os.Exit(1)
		}
	}
	if err := classifier.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start classification engine")
		os.Exit(1)
	}
	if err := tradeProcessor.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start trade processor")
		os.Exit(1)
	}
	if err := tradeReader.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start trade reader")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		log.Info("stopping trade reader")
		tradeReader.Stop()

		log.Info("stopping trade processor")
		tradeProcessor.Stop()

		log.Info("stopping classification engine")
		classifier.Stop()

		if daylogWriter != nil {
			log.Info("stopping daylog writer")
			daylogWriter.Stop()
		}
		if dispatcher != nil {
			log.Info("stopping alert dispatcher")
			dispatcher.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("phantomflow stopped")
}
