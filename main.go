package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"marketfeed/adapter"
	"marketfeed/config"
	"marketfeed/feed"
	"marketfeed/gateway"
	"marketfeed/logger"
	"marketfeed/metrics"
	"marketfeed/models"
	"marketfeed/proxy"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Marketfeed.Name,
		"version":     cfg.Marketfeed.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting marketfeed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		interval := cfg.Logging.ReportInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		logger.StartReport(ctx, log, interval)
	}

	var met *metrics.Metrics
	if cfg.Metrics.Enabled {
		met = metrics.New()
		met.Serve(cfg.Metrics.Listen)
		log.WithFields(logger.Fields{"listen": cfg.Metrics.Listen}).Info("metrics endpoint exposed")
	}

	proxyClient := proxy.NewClient(proxy.Config{
		BaseURL:           cfg.Proxy.BaseURL,
		Timeout:           cfg.Proxy.Timeout,
		RequestsPerSecond: cfg.Proxy.RequestsPerSecond,
		BurstSize:         cfg.Proxy.BurstSize,
	})

	registry := adapter.NewRegistry(proxyClient)

	manager := feed.NewManager(registry, proxyClient, met, feed.Config{
		CandleInterval: cfg.Feed.CandleInterval,
		CandleLimit:    cfg.Feed.CandleLimit,
		BookDepth:      cfg.Feed.BookDepth,
		MaxRetries:     cfg.Feed.Reconnect.MaxAttempts,
		DelayUnit:      cfg.Feed.Reconnect.DelayUnit,
	})
	if err := manager.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start feed manager")
		os.Exit(1)
	}

	// Static subscriptions from the configuration file keep their
	// streams open for the lifetime of the process.
	for _, sc := range cfg.Subscriptions {
		for _, kind := range sc.Kinds {
			sub := models.NewSubscription(sc.Exchange, sc.Symbol, models.Kind(kind))
			if _, err := manager.Subscribe(sub, feed.Consumer{}); err != nil {
				log.WithError(err).WithFields(logger.Fields{
					"subscription": sub.String(),
				}).Warn("static subscription rejected")
			}
		}
	}

	var gatewaySrv *http.Server
	if cfg.Gateway.Enabled {
		var cache *gateway.Cache
		if cfg.Gateway.Redis.Enabled {
			cache, err = gateway.NewCache(cfg.Gateway.Redis.Addr, cfg.Gateway.Redis.TTL)
			if err != nil {
				log.WithError(err).Warn("redis cache unavailable, serving without it")
			} else {
				defer cache.Close()
			}
		}

		gatewaySrv = &http.Server{
			Addr:    cfg.Gateway.Listen,
			Handler: gateway.NewServer(manager, cache, met, cfg.Gateway.Depth),
		}
		go func() {
			log.WithFields(logger.Fields{"listen": cfg.Gateway.Listen}).Info("gateway listening")
			if err := gatewaySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("gateway server failed")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")

	if gatewaySrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := gatewaySrv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("gateway shutdown failed")
		}
		shutdownCancel()
	}

	log.Info("stopping feed manager")
	manager.Stop()
	cancel()

	log.Info("marketfeed shutdown complete")
}
