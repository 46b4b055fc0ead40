package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tokligence/chatstream/internal/app"
	"github.com/tokligence/chatstream/internal/config"
	"github.com/tokligence/chatstream/internal/httpserver"
	"github.com/tokligence/chatstream/internal/logging"
	"github.com/tokligence/chatstream/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	logCloser, err := logging.Setup(logging.Options{
		Prefix: "[chatstreamd] ",
		Level:  cfg.LogLevel,
		File:   cfg.LogFile,
	})
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer logCloser.Close()

	log.Printf("[INFO] chatstreamd %s env=%s ledger=%s async=%v", version.Info(), cfg.Environment, cfg.LedgerBackend, cfg.LedgerAsync)

	a, err := app.Build(cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("[WARN] close stores: %v", err)
		}
	}()
	log.Printf("[INFO] loaded %d connection(s) from %s", a.Catalog.Len(), cfg.ConnectionsFile)
	if cfg.DefaultConnection == "" {
		log.Printf("[WARN] default_connection is empty; sends must name a connection")
	}

	httpSrv := httpserver.New(httpserver.Config{
		Chat:          a.Chat,
		AdapterRouter: a.Router,
		Ledger:        a.Ledger,
		Checker:       a.Checker,
		Metrics:       a.Metrics,
		Logger:        logging.New("chatstreamd/http"),
		LogLevel:      cfg.LogLevel,
	})

	// No WriteTimeout: SSE responses stay open for the whole attempt.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpSrv.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("[INFO] chatstream server listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("[INFO] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Open SSE responses only end once their attempt does, so the
		// engine is stopped alongside the HTTP drain.
		var sg errgroup.Group
		sg.Go(func() error { return srv.Shutdown(shutdownCtx) })
		sg.Go(func() error { return a.Shutdown(shutdownCtx) })
		return sg.Wait()
	})

	if err := g.Wait(); err != nil {
		log.Printf("[ERROR] %v", err)
		a.Close()
		logCloser.Close()
		os.Exit(1)
	}
}
