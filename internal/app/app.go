package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	adapterrouter "github.com/tokligence/chatstream/internal/adapter/router"
	"github.com/tokligence/chatstream/internal/chat"
	"github.com/tokligence/chatstream/internal/config"
	"github.com/tokligence/chatstream/internal/connections"
	"github.com/tokligence/chatstream/internal/health"
	"github.com/tokligence/chatstream/internal/ledger"
	ledgerasync "github.com/tokligence/chatstream/internal/ledger/async"
	ledgerpg "github.com/tokligence/chatstream/internal/ledger/postgres"
	ledgersql "github.com/tokligence/chatstream/internal/ledger/sqlite"
	"github.com/tokligence/chatstream/internal/logging"
	"github.com/tokligence/chatstream/internal/messagestore"
	"github.com/tokligence/chatstream/internal/metrics"
	"github.com/tokligence/chatstream/internal/resolver"
	"github.com/tokligence/chatstream/internal/session"
)

// App is the wired set of components shared by the daemon and the CLI.
type App struct {
	Config   config.Config
	Router   *adapterrouter.Router
	Catalog  *connections.Catalog
	Messages *messagestore.Store
	Ledger   ledger.Store
	Engine   *session.Engine
	Chat     *chat.Service
	Checker  *health.Checker
	Metrics  *metrics.Collector

	closers []func() error
}

// Build opens stores and wires the engine from cfg. On error everything
// opened so far is closed.
func Build(cfg config.Config) (_ *App, err error) {
	a := &App{Config: cfg, Metrics: metrics.NewCollector()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Router, err = adapterrouter.NewDefault(cfg.AdapterCacheSize, cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	for _, rule := range cfg.Routes {
		if err = a.Router.RegisterRoute(rule.Pattern, rule.Target); err != nil {
			return nil, fmt.Errorf("app: route %s: %w", rule.Pattern, err)
		}
	}

	a.Catalog, err = connections.Load(cfg.ConnectionsFile)
	if err != nil {
		return nil, err
	}

	a.Messages, err = messagestore.New(cfg.MessageStorePath)
	if err != nil {
		return nil, fmt.Errorf("app: open message store: %w", err)
	}
	a.closers = append(a.closers, a.Messages.Close)
	abandoned, err := a.Messages.MarkAbandoned(context.Background())
	if err != nil {
		return nil, err
	}
	if abandoned > 0 {
		log.Printf("[WARN] marked %d assistant message(s) left streaming by a previous run as failed", abandoned)
	}

	a.Ledger, err = openLedger(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Ledger.Close)

	a.Engine = session.NewEngine(a.Router, session.Options{
		ThrottleInterval: cfg.ThrottleInterval,
		ThrottleQuiet:    cfg.ThrottleQuiet,
		Logger:           logging.New("session"),
	})
	a.Chat = chat.New(chat.Config{
		Engine:        a.Engine,
		Resolver:      resolver.New(a.Catalog, resolver.DefaultsFromConfig(cfg)),
		Messages:      a.Messages,
		Ledger:        a.Ledger,
		Metrics:       a.Metrics,
		HistoryLimit:  cfg.HistoryLimit,
		StreamEnabled: cfg.StreamEnabled,
		Logger:        logging.New("chat"),
	})

	dbs := []health.Database{{Name: "messages_db", DB: a.Messages}}
	if p, ok := a.Ledger.(health.Pinger); ok {
		dbs = append(dbs, health.Database{Name: "ledger_db", DB: p})
	}
	var endpoints []health.Endpoint
	for _, c := range a.Catalog.List() {
		if strings.EqualFold(c.Provider, connections.ProviderLoopback) {
			continue
		}
		endpoints = append(endpoints, health.Endpoint{Name: "connection:" + c.ID, URL: c.BaseURL})
	}
	a.Checker = health.New(health.Config{Databases: dbs, Endpoints: endpoints})
	return a, nil
}

func openLedger(cfg config.Config) (ledger.Store, error) {
	var store ledger.Store
	switch cfg.LedgerBackend {
	case "postgres":
		pg, err := ledgerpg.New(cfg.LedgerDSN, ledgerpg.PoolConfig{MaxOpen: 10, MaxIdle: 5, MaxLifetime: 30 * time.Minute})
		if err != nil {
			return nil, fmt.Errorf("app: open postgres ledger: %w", err)
		}
		store = pg
	default:
		lite, err := ledgersql.New(cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("app: open ledger: %w", err)
		}
		store = lite
	}
	if cfg.LedgerAsync {
		store = ledgerasync.New(store, ledgerasync.Config{Logger: logging.New("ledger")})
	}
	return store, nil
}

// Shutdown stops active attempts and waits for their outcomes to persist.
func (a *App) Shutdown(ctx context.Context) error {
	if a.Chat == nil {
		return nil
	}
	return a.Chat.Shutdown(ctx)
}

// Close releases stores in reverse order of opening.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
