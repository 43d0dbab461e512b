package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"authgrid.org/internal/auth"
	"authgrid.org/internal/config"
	"authgrid.org/internal/httpapi"
	"authgrid.org/internal/identity"
	"authgrid.org/internal/obs"
	"authgrid.org/internal/rbac"
	"authgrid.org/internal/session"
	"authgrid.org/internal/store/pg"
	redisstore "authgrid.org/internal/store/redis"
	"authgrid.org/internal/token"
	"authgrid.org/internal/visibility"
)

var version = "0.3.1"

func main() {
	cfg, err := config.Load()
	if err != nil {
		obs.L().WithError(err).Fatal("load config")
	}
	obs.InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	obs.Init()
	log := obs.L()

	privatePEM, err := cfg.PrivatePEM()
	if err != nil {
		log.WithError(err).Fatal("resolve signing key")
	}
	publicPEM, err := cfg.PublicPEM()
	if err != nil {
		log.WithError(err).Fatal("resolve verification key")
	}
	codec, err := token.NewCodec(privatePEM, publicPEM)
	if err != nil {
		log.WithError(err).Fatal("build token codec")
	}

	store, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer store.Close()

	// Sessions live in Redis when configured, otherwise in PostgreSQL.
	var sessionStore session.Store = store.Sessions()
	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		sessionStore = redisstore.NewSessionStore(client, cfg.RefreshTTL())
		log.WithField("addr", cfg.Redis.Addr).Info("using redis session store")
	}
	sessions := session.NewManager(sessionStore, cfg.Tokens.SessionsPerUser)

	svc := auth.NewService(store, codec, sessions,
		auth.WithAccessTTL(cfg.AccessTTL()),
		auth.WithRefreshTTL(cfg.RefreshTTL()),
	)
	engine := rbac.NewEngine(store, rbac.WithRefreshDelay(cfg.RBACRefreshDelay()))
	resolver := visibility.NewResolver(store, visibility.WithRefreshDelay(cfg.VisibilityRefreshDelay()))

	var provider identity.Provider
	if cfg.OIDC.IssuerURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		oidcProvider, err := identity.NewOIDCProvider(ctx, identity.OIDCConfig{
			IssuerURL:    cfg.OIDC.IssuerURL,
			ClientID:     cfg.OIDC.ClientID,
			ClientSecret: cfg.OIDC.ClientSecret,
			RedirectURL:  cfg.OIDC.RedirectURL,
		})
		cancel()
		if err != nil {
			log.WithError(err).Fatal("configure identity provider")
		}
		provider = oidcProvider
	}

	api := httpapi.New(svc, engine, resolver, provider, store,
		httpapi.ReadyProbe{DB: store.DB()}, version)

	addr := net.JoinHostPort(cfg.Server.Address, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.WithField("addr", addr).WithField("version", version).Info("starting authgrid")
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info("shutting down")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	api.Close()
	log.Info("stopped")
}
