package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/loykin/relayr"
	"github.com/loykin/relayr/internal/logger"
)

func runServe(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := relayr.LoadConfig(configPath)
	if err != nil {
		return err
	}
	log, logCloser, err := logger.Setup(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()

	svc, err := relayr.Open(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn("close failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reconciled := make(chan struct{})
	go func() {
		defer close(reconciled)
		svc.Run(ctx)
	}()

	srv, err := svc.NewHTTPServer()
	if err != nil {
		stop()
		<-reconciled
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		var err error
		if srv.TLSConfig != nil {
			log.Info("starting relayr HTTPS server", "listen", cfg.Server.Listen, "base_path", cfg.Server.BasePath)
			err = srv.ListenAndServeTLS("", "")
		} else {
			log.Info("starting relayr server", "listen", cfg.Server.Listen, "base_path", cfg.Server.BasePath)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
		stop()
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Warn("graceful shutdown failed", "error", err)
		_ = srv.Close()
	}
	<-reconciled
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}
