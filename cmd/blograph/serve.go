package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eaverdeja/blograph/internal/auth"
	"github.com/eaverdeja/blograph/internal/config"
	"github.com/eaverdeja/blograph/internal/eventbus"
	"github.com/eaverdeja/blograph/internal/executor"
	"github.com/eaverdeja/blograph/internal/graph"
	"github.com/eaverdeja/blograph/internal/introspection"
	"github.com/eaverdeja/blograph/internal/loader"
	"github.com/eaverdeja/blograph/internal/logging"
	"github.com/eaverdeja/blograph/internal/metrics"
	"github.com/eaverdeja/blograph/internal/model"
	"github.com/eaverdeja/blograph/internal/otel"
	"github.com/eaverdeja/blograph/internal/server"
	"github.com/eaverdeja/blograph/internal/storage"
	"github.com/eaverdeja/blograph/internal/storage/memstore"
	"github.com/eaverdeja/blograph/internal/storage/pgstore"
)

const shutdownTimeout = 10 * time.Second

func openStore(ctx context.Context, cfg config.Storage) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return pgstore.New(ctx, cfg.DSN, pgstore.PoolOptions{MaxConns: cfg.MaxConns}, model.Descriptors()...)
	default:
		return memstore.New(model.Descriptors()...)
	}
}

func migrate(ctx context.Context, out io.Writer, cfg config.Storage) error {
	if cfg.Driver != config.DriverPostgres {
		_, err := fmt.Fprintf(out, "%s storage needs no migration\n", cfg.Driver)
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := pgstore.New(ctx, cfg.DSN, pgstore.PoolOptions{MaxConns: cfg.MaxConns}, model.Descriptors()...)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, "migrated")
	return err
}

// app is everything serve runs, built without listening.
type app struct {
	handler http.Handler
	metrics http.Handler
	close   func()
}

func build(ctx context.Context, cfg config.Config, reg *prometheus.Registry) (*app, error) {
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	issuer, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TTL)
	if err != nil {
		store.Close()
		return nil, err
	}
	rt, err := graph.New(graph.Options{
		Store:  store,
		Issuer: issuer,
		Loader: loader.Options{MaxConcurrentFlushes: cfg.Storage.MaxConcurrentFlushes},
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	s, src, err := rt.Schema()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("loading schema: %w", err)
	}
	opts := []server.Option{
		server.WithTimeout(cfg.Server.Timeout),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithGraphiQL(cfg.Server.GraphiQL),
		server.WithValidation(src),
		server.WithContext(rt.WithRequest),
	}
	if cfg.Server.Pretty {
		opts = append(opts, server.WithPretty())
	}
	var exec executor.Runtime = rt
	if cfg.Server.Introspection {
		w, err := introspection.Wrap(rt, s, src)
		if err != nil {
			store.Close()
			return nil, err
		}
		exec, s = w.Runtime, w.Schema
	}
	gql, err := server.New(exec, s, opts...)
	if err != nil {
		store.Close()
		return nil, err
	}

	closers := []func(){logging.Subscribe(), store.Close}
	a := &app{}
	mux := http.NewServeMux()
	mux.Handle("/graphql", gql)
	mux.Handle("/", gql)
	if cfg.Metrics.Enabled {
		c := metrics.New(reg)
		closers = append(closers, c.Subscribe())
		a.metrics = metrics.Handler(reg)
		if cfg.Metrics.Addr == "" {
			mux.Handle("/metrics", a.metrics)
		}
	}
	a.handler = mux
	a.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return a, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	logging.SetGlobalLogger(logger)
	eventbus.Use(eventbus.New())

	shutdownTracing, err := otel.Setup(ctx, otel.Options{
		Endpoint: cfg.Otel.Endpoint,
		Service:  cfg.Otel.Service,
		Insecure: cfg.Otel.Insecure,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}

	a, err := build(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.close()

	servers := []*http.Server{{Addr: cfg.Server.Addr, Handler: a.handler, ReadHeaderTimeout: 5 * time.Second}}
	if a.metrics != nil && cfg.Metrics.Addr != "" {
		servers = append(servers, &http.Server{Addr: cfg.Metrics.Addr, Handler: a.metrics, ReadHeaderTimeout: 5 * time.Second})
	}

	errc := make(chan error, len(servers))
	for _, srv := range servers {
		go func() {
			logging.Info().Str("addr", srv.Addr).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
	}

	select {
	case err = <-errc:
	case <-ctx.Done():
		logging.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			logging.Warn().Err(serr).Str("addr", srv.Addr).Msg("shutdown")
		}
	}
	if terr := shutdownTracing(shutdownCtx); terr != nil {
		logging.Warn().Err(terr).Msg("flushing traces")
	}
	return err
}
