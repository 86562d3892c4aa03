package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/xenonhq/xenon/internal/config"
	"github.com/xenonhq/xenon/internal/fleet"
	"github.com/xenonhq/xenon/internal/node"
	"github.com/xenonhq/xenon/internal/port"
	"github.com/xenonhq/xenon/internal/router"
	"github.com/xenonhq/xenon/internal/session"
	"github.com/xenonhq/xenon/internal/xlog"
)

func main() {
	var (
		listenPort = flag.Uint("port", 4444, "port to listen on")
		configPath = flag.String("config", "xenon.yml", "path to the browser/node config file")
		host       = flag.String("host", "127.0.0.1", "address to bind to")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		xlog.Default.Infof("no .env file found, using system environment variables")
	}
	xlog.Default = xlog.New()

	xlog.Default.Infof("starting xenon...")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		xlog.Default.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}

	ports, err := config.ParsePortList(cfg.Ports)
	if err != nil {
		xlog.Default.Errorf("invalid port configuration: %v", err)
		os.Exit(1)
	}
	pool := port.NewPool(ports)
	xlog.Default.Infof("✓ port pool initialized (%d ports across %d ranges)", len(ports), len(cfg.Ports))

	fleets := make([]*fleet.Fleet, 0, len(cfg.Browsers))
	for _, b := range cfg.Browsers {
		fleets = append(fleets, fleet.New(b, pool))
	}
	xlog.Default.Infof("✓ %d browser fleet(s) configured", len(fleets))

	registry := node.NewRegistry(cfg.Nodes)
	poller := node.NewPoller(registry)
	pollerCtx, stopPoller := context.WithCancel(context.Background())
	defer stopPoller()
	poller.Start(pollerCtx)
	xlog.Default.Infof("✓ node poller started (%d peer node(s))", len(cfg.Nodes))

	sessions := session.NewDirectory()

	rt := router.New(fleets, registry, sessions)
	xlog.Default.Infof("✓ request router configured")

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", *host, *listenPort),
		Handler:      rt.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		xlog.Default.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			xlog.Default.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	xlog.Default.Infof("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		xlog.Default.Errorf("server forced to shutdown: %v", err)
	}

	stopPoller()
	poller.Stop()

	for _, f := range fleets {
		f.Shutdown(shutdownCtx)
	}

	xlog.Default.Infof("stopped cleanly")
}

// loadConfig loads the config file at path, tolerating a missing file so
// xenon can run purely as a dispatcher to remote nodes with no local
// browsers configured.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		xlog.Default.Infof("no config file at %q, starting with no local browsers", path)
		return config.Empty(), nil
	}
	return config.Load(path)
}
