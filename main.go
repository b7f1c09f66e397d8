package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"registry-auth/internal/authn"
	"registry-auth/internal/authz"
	"registry-auth/internal/bitbucket"
	"registry-auth/internal/common/logging"
	"registry-auth/internal/config"
	"registry-auth/internal/handlers"
	"registry-auth/internal/middleware"
	"registry-auth/internal/redis"
	"registry-auth/internal/registry"
	"registry-auth/internal/server"
	"registry-auth/internal/session"
)

func main() {
	// .env is optional outside of local development
	_ = godotenv.Load()

	logging.InitGlobalLogger()
	defer logging.MustSync()
	log := logging.GetGlobalLogger()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", err)
		os.Exit(1)
	}

	redisDB, _ := strconv.Atoi(cfg.RedisDB)
	redisPool, _ := strconv.Atoi(cfg.RedisPoolSize)
	cache, err := redis.NewClient(&redis.Config{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       redisDB,
		PoolSize: redisPool,
	})
	if err != nil {
		log.Error("failed to connect to redis", err)
		os.Exit(1)
	}
	defer cache.Close()

	ttl, err := cfg.ParsedSessionTTL()
	if err != nil {
		log.Error("invalid session ttl", err)
		os.Exit(1)
	}
	sessions := session.New(cache, ttl)

	bbCfg := bitbucket.Config{
		APIBaseURL:   cfg.BitbucketAPIURL,
		OAuthBaseURL: cfg.BitbucketOAuthURL,
		ClientID:     cfg.BitbucketClientID,
		ClientSecret: cfg.BitbucketClientSecret,
	}
	api := bitbucket.NewClient(bbCfg)
	oauth := bitbucket.NewOAuthClient(bbCfg)
	resolver := registry.NewClient(cfg.FrontDoorHost, cfg.SharedFetchSecret)

	authenticator := authn.New(oauth, api, sessions, cfg.BitbucketTeam)
	authorizer := authz.New(sessions, api, authenticator, resolver, cfg.BitbucketTeam)
	h := handlers.New(authenticator, authorizer, sessions, cache)

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)

	v1 := router.PathPrefix("/-/v1").Subrouter()
	v1.HandleFunc("/login", h.HandleLogin).Methods("POST")
	v1.HandleFunc("/logout", h.HandleLogout).Methods("POST")
	v1.HandleFunc("/whoami", h.HandleWhoami).Methods("GET")
	v1.HandleFunc("/authorize", h.HandleAuthorize).Methods("POST")

	router.HandleFunc("/healthz", h.HandleHealth).Methods("GET")

	srv := server.New(router, cfg.Port, cfg.TLSCert, cfg.TLSKey)
	serveErr := srv.Start()
	log.Info("server started",
		logging.String("port", cfg.Port),
		logging.Bool("tls", cfg.TLSCert != ""))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed", err)
			os.Exit(1)
		}
	case <-quit:
	}
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && err != http.ErrServerClosed {
		log.Error("forced shutdown", err)
	}
	log.Info("server exited")
}
