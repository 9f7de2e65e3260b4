package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/judacas/AutoDJ/internal/config"
	"github.com/judacas/AutoDJ/internal/pipeline"
	"github.com/judacas/AutoDJ/pkg/autodj"
	"github.com/judacas/AutoDJ/pkg/utils"
)

var (
	configDir      string
	uploadDir      string
	allowedOrigins string
)

func init() {
	flag.StringVar(&configDir, "config", ".", "Directory holding config.yaml")
	flag.StringVar(&uploadDir, "uploads", "uploads", "Directory keeping uploaded songs")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	log := cfg.NewLogger()

	var origins []string
	if allowedOrigins == "*" {
		origins = []string{"*"}
	} else {
		origins = strings.Split(allowedOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}

	if err := utils.MakeDir(uploadDir); err != nil {
		return err
	}
	absUploads, err := filepath.Abs(uploadDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline.RegisterMetrics()
	service, err := autodj.NewService(ctx, append(cfg.ServiceOptions(), autodj.WithLogger(log))...)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer service.Close()

	server := NewServer(service, &ServerConfig{
		Port:           cfg.Server.Port,
		DBPath:         cfg.Storage.DBPath,
		TempDir:        cfg.Storage.TempDir,
		UploadDir:      absUploads,
		MetricsPath:    cfg.Server.MetricsPath,
		AllowedOrigins: origins,
	}, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(srv) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Infof("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
