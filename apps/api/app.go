// Package api boots a service binary: shared dependencies, debug endpoints, the HTTP API,
// background workers and graceful shutdown.
package api

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof on the default mux
	"os"

	"golang.org/x/sync/errgroup"

	echoapi "github.com/abmarghoub/EduPathInsight/apps/api/echo"
	"github.com/abmarghoub/EduPathInsight/core"
	logsvc "github.com/abmarghoub/EduPathInsight/services/logger"
)

type (
	// Worker runs in the background until ctx is done. A returned error stops the service.
	Worker func(ctx context.Context) error

	// App is what a service wires on top of Deps: the domain services exposed over HTTP
	// and its background workers. The shared fields of Server are filled by Run.
	App struct {
		Server  echoapi.ServerDeps
		Workers []Worker
	}

	WireFunc func(ctx context.Context, deps *Deps) (App, error)
)

// Run starts the named service and blocks until it is asked to stop.
func Run(service string, wire WireFunc) {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig(service)

	// set up loggers
	logger := logsvc.NewRollbarLogger(os.Stdout, conf)
	logger.Enable(!conf.Debug)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := NewDeps(ctx, conf, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up dependencies: %v", err), err)
	}
	defer deps.Close()

	app, err := wire(ctx, deps)
	if err != nil {
		logger.Fatal(fmt.Sprintf("wiring %s: %v", service, err), err)
	}

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build), map[string]interface{}{"config": conf.String()})
	defer logger.Info("Application stopped")

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.
	// /metrics - Prometheus metrics of the API.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("service").Set(conf.Service)
	http.Handle("/metrics", deps.Metrics.Handler())

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	sd := app.Server
	sd.Conf = conf
	sd.Logger = logger
	sd.Validate = deps.Validate
	sd.Translator = deps.Translator
	sd.Metrics = deps.Metrics
	server := echoapi.NewServer(sd)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Start Workers

	// the first failing worker stops the others
	app.Workers = append(app.Workers, deps.Workers()...)
	workers, workersCtx := errgroup.WithContext(ctx)
	for _, w := range app.Workers {
		w := w
		workers.Go(func() error { return w(workersCtx) })
	}
	var workerErrs chan error // nil: never ready without workers
	if len(app.Workers) > 0 {
		workerErrs = make(chan error, 1)
		go func() { workerErrs <- workers.Wait() }()
	}

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case err = <-workerErrs:
		if err != nil {
			logger.Error(fmt.Sprintf("worker error: %v", err), err)
		} else {
			logger.Warn("workers stopped")
		}

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
	}

	// stop the workers
	cancel()
	defer func() { _ = workers.Wait() }()

	// give outstanding requests a deadline for completion
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancelShutdown()

	// asking listener to shutdown and shed load
	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

		if err = server.Close(); err != nil {
			logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
		}
	}
}
