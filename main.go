package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"

	"mediawaiter/api"
	"mediawaiter/config"
	"mediawaiter/handlers"
	"mediawaiter/internal/hashpath"
	"mediawaiter/internal/sendfile"
	"mediawaiter/render"
	"mediawaiter/services/library"
	"mediawaiter/services/mediaviewer"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	configPath := os.Getenv("MEDIAWAITER_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}
	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	logger := newLogger(settings.Log)
	slog.SetDefault(logger)

	if err := settings.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	secret, err := config.EnsureSecret(settings.Server.SecretFile)
	if err != nil {
		log.Fatalf("failed to load server secret: %v", err)
	}
	hasher, err := hashpath.New(secret)
	if err != nil {
		log.Fatalf("failed to init path hasher: %v", err)
	}

	fsys := afero.NewOsFs()
	tokens := mediaviewer.NewClient(settings.MediaViewer, logger)
	lib := library.NewService(fsys, hasher, settings.Media, logger)
	sender := sendfile.NewSender(fsys, settings.Delivery, settings.Media.BasePath, logger)
	pages := render.New(logger)
	waiter := handlers.NewWaiter(tokens, lib, sender, pages, settings.Server.AppName, logger)

	r := mux.NewRouter()
	api.Register(r, waiter, settings.Server.AppName, logger)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	logger.Info("server starting", "addr", addr, "appName", settings.Server.AppName, "nginx", settings.Delivery.UseNginx)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for streaming
		IdleTimeout:  120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownChan
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

// newLogger builds the process logger: console plus a rotating file when one
// is configured.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.File != "" {
		logDir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			log.Printf("warning: could not create log directory %s: %v", logDir, err)
		} else {
			out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			})
		}
	}

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}
