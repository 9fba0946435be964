package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"campusfound/internal/app"
	"campusfound/internal/config"
	"campusfound/internal/identity"
	"campusfound/internal/ratelimit"
	"campusfound/internal/server"
	"campusfound/internal/suggest"
	"campusfound/internal/util"
	"campusfound/pkg/cache"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	leeway, err := config.ParseDuration(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse JWT leeway: %v", err)
	}
	listingTTL, err := config.ParseDuration(cfg.ListingCacheTTL)
	if err != nil {
		log.Fatalf("failed to parse listing cache TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	resolver, err := identity.NewResolver(identity.Config{
		JWKSURL:  cfg.SSOJWKSURL,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   leeway,
	})
	if err != nil {
		log.Fatalf("failed to init identity resolver: %v", err)
	}

	// Redis backs the listing cache and the submission limiter; without it
	// both degrade to direct store reads and an unlimited quota.
	var listing *cache.Listing
	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		listing = cache.NewListing(redisClient, "", listingTTL)
		if cfg.SubmitRateLimitPerMinute > 0 {
			limiter, err = ratelimit.New(redisClient, "campusfound:ratelimit:submit", cfg.SubmitRateLimitPerMinute, time.Minute)
			if err != nil {
				log.Fatalf("failed to init submit limiter: %v", err)
			}
		}
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:  cfg.DatabaseURL,
		Suggester:    suggest.NewClient(cfg.SuggesterURL),
		Listing:      listing,
		Limiter:      limiter,
		MatchLimit:   cfg.MatchLimit,
		ListingLimit: cfg.ListingLimit,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer := server.New(server.Config{
		App:      appCore,
		Resolver: resolver,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
