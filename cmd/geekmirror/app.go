package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/geekmirror/internal/cache"
	"github.com/MarcoPoloResearchLab/geekmirror/internal/config"
	"github.com/MarcoPoloResearchLab/geekmirror/internal/crawler"
	"github.com/MarcoPoloResearchLab/geekmirror/internal/database"
	"github.com/MarcoPoloResearchLab/geekmirror/internal/forum"
	"github.com/MarcoPoloResearchLab/geekmirror/internal/logging"
	"github.com/MarcoPoloResearchLab/geekmirror/internal/scrape"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// application holds the wired components shared by every command.
type application struct {
	config       config.AppConfig
	logger       *zap.Logger
	db           *gorm.DB
	redis        *redis.Client
	cache        *cache.Cache
	forumService *forum.Service
	walker       *crawler.Walker
}

func buildApplication(ctx context.Context, configViper *viper.Viper) (*application, error) {
	appConfig, err := config.Load(configViper)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, err
	}

	app := &application{config: appConfig, logger: logger}

	db, err := database.Open(appConfig.DatabaseDSN, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.db = db

	if appConfig.CacheRedisAddress != "" {
		client, err := cache.Connect(ctx, appConfig.CacheRedisAddress)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("cache.redis_address: %w", err)
		}
		app.redis = client
		app.cache = cache.New(cache.Config{Client: client, TTL: appConfig.CacheTTL, Logger: logger})
	}

	fetcher := scrape.NewFetcher(scrape.FetcherConfig{
		UserAgent: appConfig.ScrapeUserAgent,
		Interval:  appConfig.ScrapeInterval,
		Timeout:   appConfig.ScrapeTimeout,
		Logger:    logger,
	})
	client, err := scrape.NewClient(scrape.ClientConfig{
		Fetcher: fetcher,
		BaseURL: appConfig.ScrapeBaseURL,
		Albums:  scrape.NewAlbumClient(fetcher, scrape.DefaultAlbumAPIBase, appConfig.ImgurClientID),
		Logger:  logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	forumService, err := forum.NewService(forum.ServiceConfig{
		Database:      db,
		CommentSource: client,
		Clock:         time.Now,
		Logger:        logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.forumService = forumService

	walker, err := crawler.NewWalker(crawler.WalkerConfig{
		Source: client,
		Store:  forumService,
		Logger: logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.walker = walker

	return app, nil
}

// Close releases the database and redis connections and flushes the logger.
func (a *application) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
