package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akalitenya/discord-matchmaking/internal/activity"
	"github.com/akalitenya/discord-matchmaking/internal/cmdreceiver"
	"github.com/akalitenya/discord-matchmaking/internal/config"
	"github.com/akalitenya/discord-matchmaking/internal/gateway"
	"github.com/akalitenya/discord-matchmaking/internal/log"
	"github.com/akalitenya/discord-matchmaking/internal/match"
	"github.com/akalitenya/discord-matchmaking/internal/notify"
	"github.com/akalitenya/discord-matchmaking/internal/pgsql"
	"github.com/akalitenya/discord-matchmaking/internal/probe"
	"github.com/akalitenya/discord-matchmaking/internal/sched"
	"github.com/akalitenya/discord-matchmaking/internal/server"
	"github.com/akalitenya/discord-matchmaking/internal/statusfeed"

	"github.com/redis/go-redis/v9"
)

const (
	startupTimeout = 10 * time.Second
	httpTimeout    = 10 * time.Second
)

func main() {
	log.SetupLogger(log.LevelDebug)
	logger := log.Logger.With("component", "main")
	logger.Info("--- Starting Matchmaking Orchestrator ---")

	logger.Info("[step] Loading configuration")
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.Infof("[ok] Configuration loaded (environment=%s)", cfg.Environment)

	logger.Info("[step] Initializing PostgreSQL connector")
	connector := pgsql.NewConnector(cfg.DBURL)
	startCtx, startCancel := context.WithTimeout(context.Background(), startupTimeout)
	defer startCancel()

	if err := connector.Connect(startCtx); err != nil {
		logger.Fatalf("Failed to connect database: %v", err)
	}
	defer connector.Close()
	logger.Info("[ok] Database connected")

	logger.Info("[step] Building repository set")
	repos := pgsql.NewRepos(connector)
	logger.Info("[ok] Repositories assembled")

	logger.Info("[step] Connecting to Redis")
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := redisClient.Ping(startCtx).Err(); err != nil {
		logger.Fatalf("Failed to ping redis: %v", err)
	}
	defer redisClient.Close()
	logger.Infof("[ok] Redis connected (status channel=%s)", cfg.StatusChannel)

	feed := statusfeed.NewFeedI(redisClient, cfg.StatusChannel)

	logger.Info("[step] Initializing fleet gateway connector")
	gw, err := gateway.NewConnector(cfg.GatewayURL, httpTimeout, cfg.GatewayKey)
	if err != nil {
		logger.Fatalf("Failed to initialize gateway: %v", err)
	}
	logger.Info("[ok] Gateway connector ready")

	logger.Info("[step] Initializing notification sink")
	sink, err := notify.NewDiscordSink(cfg.DiscordAPIURL, cfg.DiscordToken, httpTimeout)
	if err != nil {
		logger.Fatalf("Failed to initialize notifier: %v", err)
	}
	logger.Info("[ok] Notification sink ready")

	prober := probe.NewProberI(probe.DefaultTimeout)

	logger.Info("[step] Wiring match and server services")
	matchSvc := match.NewServiceI(repos, sink, match.Options{})
	serverSvc := server.NewServiceI(repos, gw, feed, prober, sink, matchSvc, server.Options{
		Environment: cfg.Environment,
	})
	matchSvc.BindServerLifecycle(serverSvc)
	defer serverSvc.Close()
	logger.Info("[ok] Services wired")

	logger.Info("[step] Initializing activity tracking")
	var activitySvc sched.ActivityLogger
	if cfg.GuildID != "" {
		widget, err := activity.NewWidgetSource(cfg.DiscordAPIURL, cfg.GuildID, httpTimeout)
		if err != nil {
			logger.Fatalf("Failed to initialize widget source: %v", err)
		}
		activitySvc = activity.NewServiceI(repos, widget, activity.Options{})
		logger.Info("[ok] Activity tracking enabled")
	} else {
		logger.Warn("[config] guild_id is empty, activity tracking disabled")
	}

	logger.Info("[step] Starting scheduler")
	scheduler, err := sched.NewScheduler(matchSvc, serverSvc, activitySvc, prober, sink, sched.Options{
		PublicServers:   cfg.PublicServers,
		NotifyChannelID: cfg.NotifyChannelID,
	})
	if err != nil {
		logger.Fatalf("Failed to create scheduler: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}
	logger.Info("[ok] Scheduler running")

	logger.Info("[step] Starting HTTP server")
	mux := http.NewServeMux()
	cmdService := cmdreceiver.NewServiceI(matchSvc, repos, sink, cfg.Environment)
	cmdHandler := cmdreceiver.NewHandlerI(cmdService)
	cmdHandler.Register(mux)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
	go func() {
		logger.Infof("[ok] HTTP listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	logger.Info("[ok] Service bootstrap completed")
	logger.Info("--- Matchmaking Orchestrator is running ---")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("--- Stopping Matchmaking Orchestrator ---")

	logger.Info("[step] Stopping scheduler")
	if err := scheduler.Stop(); err != nil {
		logger.Warnf("scheduler shutdown warning: %v", err)
	} else {
		logger.Info("[ok] Scheduler stopped")
	}

	logger.Info("[step] Shutting down HTTP server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown warning: %v", err)
	} else {
		logger.Info("[ok] HTTP server stopped")
	}

	logger.Info("--- Shutdown complete ---")
}
