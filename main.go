package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/redis/go-redis/v9"

	"clob-market-data/config"
	"clob-market-data/internal/api"
	"clob-market-data/internal/consumer"
	"clob-market-data/internal/database"
	"clob-market-data/internal/indexer"
	"clob-market-data/internal/logging"
	"clob-market-data/internal/market"
	"clob-market-data/internal/streams"
	"clob-market-data/internal/syncgate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.LoggingConfig.Level, JSONFormat: cfg.LoggingConfig.JSONFormat})
	log.Info().Int64("chain_id", cfg.ChainConfig.DefaultChainID).Msg("starting market-data service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(ctx, cfg.DatabaseConfig.URL, logging.Component(log, "database"))
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	repo := database.NewRepository(db)

	redisOpts, err := redis.ParseURL(cfg.RedisConfig.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}

	bus := streams.NewBus(redisClient, logging.Component(log, "streams"))

	// The boot-time chain head comes from the indexer's inbox high-water
	// mark; with an empty inbox the persisted watermark (or the explicit
	// override) decides.
	var chainHead uint64
	newest, err := redisClient.XRevRangeN(ctx, streams.Key(cfg.ChainConfig.DefaultChainID, indexer.InboxStream), "+", "-", 1).Result()
	if err != nil {
		log.Fatal().Err(err).Msg("reading inbox high-water mark failed")
	}
	if len(newest) > 0 {
		if s, ok := newest[0].Values["blockNumber"].(string); ok {
			chainHead, _ = strconv.ParseUint(s, 10, 64)
		}
	}
	gate, err := syncgate.Init(ctx, redisClient,
		cfg.ChainConfig.DefaultChainID,
		cfg.ChainConfig.EnableWebsocketBlock,
		chainHead,
		logging.Component(log, "syncgate"),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("sync gate init failed")
	}

	reducer := indexer.NewReducer(repo, bus, gate, cfg.ChainConfig.DefaultChainID, logging.Component(log, "indexer"))
	runner := indexer.NewRunner(bus, indexer.NewDispatcher(reducer),
		cfg.ChainConfig.DefaultChainID,
		cfg.ConsumerConfig.BatchSize,
		cfg.ConsumerConfig.PollInterval,
		logging.Component(log, "indexer"),
	)

	hub := api.NewHub(logging.Component(log, "websocket"))
	service := market.NewService(repo, cfg.ChainConfig.DefaultChainID)

	cons := consumer.New(bus, hub, consumer.Config{
		ChainID:      cfg.ChainConfig.DefaultChainID,
		Group:        cfg.ConsumerConfig.Group,
		ConsumerID:   cfg.ConsumerConfig.ConsumerID,
		BatchSize:    cfg.ConsumerConfig.BatchSize,
		PollInterval: cfg.ConsumerConfig.PollInterval,
	}, logging.Component(log, "consumer"))

	server := api.NewServer(api.ServerConfig{
		Port:            cfg.ServerConfig.Port,
		HealthPort:      cfg.ServerConfig.HealthPort,
		AllowedOrigins:  cfg.ServerConfig.AllowedOrigins,
		ReadTimeout:     cfg.ServerConfig.ReadTimeout,
		WriteTimeout:    cfg.ServerConfig.WriteTimeout,
		ShutdownTimeout: cfg.ServerConfig.ShutdownTimeout,
	}, hub, service, repo, bus, logging.Component(log, "api"))

	go func() {
		if err := runner.Run(ctx); err != nil {
			log.Error().Err(err).Msg("event handler runner exited")
			stop()
		}
	}()
	go func() {
		if err := cons.Run(ctx); err != nil {
			log.Error().Err(err).Msg("stream consumer exited")
			stop()
		}
	}()
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("server exited")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
