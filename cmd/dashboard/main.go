package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"door-monitor/internal/api"
	"door-monitor/internal/auth"
	"door-monitor/internal/config"
	"door-monitor/internal/logger"
	"door-monitor/internal/poller"
	"door-monitor/internal/server"
	"door-monitor/internal/session"
	"door-monitor/internal/tokenstore"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	gin.SetMode(cfg.GinMode)
	logger.SetPrefix("dashboard")
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := tokenstore.Open(ctx, tokenstore.Options{
		Kind:     cfg.TokenStore,
		FilePath: cfg.TokenFile,
		RedisURL: cfg.RedisURL,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	client := api.New(cfg.APIBaseURL, nil)
	ctrl := session.NewController(session.Deps{
		Store:    store,
		Backend:  client,
		Resolver: auth.NewResolver(client),
		Poller:   poller.New(client, poller.Options{Interval: cfg.PollInterval, Timeout: cfg.FetchTimeout}),
	})

	if err := ctrl.Restore(ctx); err != nil {
		if errors.Is(err, session.ErrTokenInvalid) {
			logger.Infof("stored session discarded, login required")
		} else {
			logger.Errorf("restore session: %v", err)
		}
	}

	limiter := server.DefaultLoginLimiter(cfg.LoginRateLimit)
	router, release := server.NewRouter(server.Deps{Controller: ctrl, LoginLimiter: limiter})
	defer release()
	logger.Infof("backend %s, token store %s", cfg.APIBaseURL, cfg.TokenStore)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, cfg, router)
	})
	g.Go(func() error {
		<-gctx.Done()
		limiter.Close()
		ctrl.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Errorf("%v", err)
	}
}
