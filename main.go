package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-focus/api"
	"prism-focus/clock"
	"prism-focus/config"
	"prism-focus/notify"
	"prism-focus/storage"
	"prism-focus/tasks"
	"prism-focus/telemetry"
	"prism-focus/timer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	var rc *redis.Client
	if cfg.HasRedis() {
		opts, err := config.RedisOptions(cfg.RedisConnectionString)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(opts)
		defer rc.Close()
	}

	var kv storage.KV
	switch cfg.StorageBackend {
	case config.BackendTable:
		table, err := storage.NewTable(cfg.StorageConnectionString, cfg.StateTable, cfg.Namespace)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		kv = table
	default:
		kv = storage.NewRedis(rc, cfg.Namespace)
	}
	if cfg.CacheTTL > 0 {
		kv = storage.NewCache(kv, rc, cfg.Namespace, cfg.CacheTTL)
	}

	var tp interface{ Shutdown(context.Context) error }
	if cfg.TracingEnabled {
		tp = telemetry.Install(logger)
	}

	clk := clock.Real{}
	updates := api.NewUpdates()

	taskSvc := tasks.NewService(kv, clk)
	taskSvc.OnChange = updates.TasksChanged

	notifiers := notify.Multi{notify.Log{}}
	if cfg.NotifyChannel != "" {
		notifiers = append(notifiers, notify.NewRedis(rc, cfg.NotifyChannel))
	}
	if cfg.NotifyQueue != "" {
		q, err := notify.NewQueue(cfg.StorageConnectionString, cfg.NotifyQueue)
		if err != nil {
			log.Fatalf("notify queue: %v", err)
		}
		notifiers = append(notifiers, q)
	}
	var audio notify.AudioCue
	if cfg.AudioBell {
		audio = notify.NewBell(nil)
	}
	dispatcher := notify.NewDispatcher(notifiers, audio, notify.DispatcherConfig{
		Workers:        cfg.NotifyWorkers,
		Buffer:         cfg.NotifyBuffer,
		Timeout:        cfg.NotifyTimeout,
		HandoffTimeout: cfg.NotifyHandoffTimeout,
	})

	openCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	machine, err := timer.Open(openCtx, kv, clk, cfg.Timer,
		timer.WithExpiryHandler(dispatcher),
		timer.WithOnChange(updates.TimerChanged),
	)
	cancel()
	if err != nil {
		log.Fatalf("timer: %v", err)
	}

	var auth api.Authenticator
	var jwks *keyfunc.JWKS
	switch {
	case cfg.LocalAuthMode == "hs256":
		auth = api.NewLocalAuth([]byte(cfg.LocalAuthSecret), cfg.Auth0Audience, "")
		log.Info("local hs256 auth enabled")
	case cfg.Auth0Domain != "":
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
		jwks, err = keyfunc.Get(jwksURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				log.WithError(err).Warn("jwks refresh failed")
			},
		})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/", cfg.JWKSCacheTTL)
	default:
		log.Warn("no auth configured, requests are served anonymously")
	}

	var deduper api.Deduper
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())

	api.Register(e, api.Deps{
		Tasks:   taskSvc,
		Timer:   machine,
		Updates: updates,
		Auth:    auth,
		Deduper: deduper,
		Health: func(ctx context.Context) error {
			_, err := kv.Get(ctx, timer.KeyIsRunning)
			return err
		},
		Logger: logger,
	})

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	machine.Close()
	dispatcher.Close()
	if jwks != nil {
		jwks.EndBackground()
	}
	if tp != nil {
		if err := tp.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("tracer shutdown")
		}
	}
}
