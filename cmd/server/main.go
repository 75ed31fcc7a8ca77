package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Proton-105/photostudio/internal/lifecycle"
	"github.com/Proton-105/photostudio/pkg/config"
	"github.com/Proton-105/photostudio/pkg/graceful"
	"github.com/Proton-105/photostudio/pkg/logger"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file (default ./configs/$APP_ENV.yaml)")
	pflag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("photostudio server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log, level := logger.New(cfg.Logger, cfg.Sentry.Enabled)
	slog.SetDefault(log)
	config.Watch(v, level, log)

	log.Info("starting photostudio",
		slog.String("env", cfg.AppEnv),
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logger.Level),
		slog.Bool("bot", cfg.Bot.Enabled),
		slog.Bool("jobs", cfg.Jobs.Enabled),
	)

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      firstNonEmpty(cfg.Sentry.Environment, cfg.AppEnv),
			SampleRate:       cfg.Sentry.SampleRate,
			AttachStacktrace: true,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	app, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}

	runCtx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()
	app.startBackground(runCtx)

	srv := graceful.NewServer(log, &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           app.router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}, cfg.Server.ShutdownTimeout)

	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(serverCtx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case runErr = <-serveErr:
		// the listener failed before any signal; nothing is left to drain
		serveErr = nil
	}

	shutdown := lifecycle.NewShutdown(log)
	shutdown.Register("http server", func(context.Context) error {
		stopServer()
		if serveErr == nil {
			return nil
		}
		return <-serveErr
	})
	app.registerShutdown(shutdown)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()

	_ = app.probes.Drain(shutdownCtx)
	cancelBackground()

	if err := shutdown.Execute(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}

	log.Info("photostudio stopped")
	return runErr
}

func loadConfig(path string) (*config.Config, *viper.Viper, error) {
	if path == "" {
		return config.Load()
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	return config.LoadFile(path, env)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
