// cookie-injector keeps a local pool of authenticated HTTP cookies fresh
// for a configured set of paywalled sites and serves them to an
// intercepting proxy and a health endpoint.
//
// Startup sequence:
//  1. Load and validate the YAML site configuration.
//  2. Initialise the logger (LOG_LEVEL) and metrics.
//  3. Configure the login-browser launcher (optional proxy rotation).
//  4. Start the health HTTP server and the injecting proxy server.
//  5. Start one adaptive refresh loop per site, sharing a concurrency
//     gate that caps simultaneous login flows at three.
//  6. Monitor metrics in a background goroutine.
//  7. Block until OS signals SIGINT or SIGTERM, then perform a clean
//     shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mjans/cookie-injector/alerting"
	"github.com/mjans/cookie-injector/browser"
	"github.com/mjans/cookie-injector/config"
	"github.com/mjans/cookie-injector/health"
	"github.com/mjans/cookie-injector/injector"
	"github.com/mjans/cookie-injector/logger"
	"github.com/mjans/cookie-injector/metrics"
	"github.com/mjans/cookie-injector/refresh"
	"github.com/mjans/cookie-injector/scheduler"
	_ "github.com/mjans/cookie-injector/scripts" // populate the login-script registry
)

// maxConcurrentLogins caps simultaneous login flows across all sites.
const maxConcurrentLogins = 3

func main() {
	// ── Flags ──────────────────────────────────────────────────────────────
	configFile := flag.String("config", "", "Path to sites.yaml (default: $CONFIG_PATH, then /config/sites.yaml)")
	healthAddr := flag.String("health", ":"+config.HealthPort(), "Address for the health HTTP server")
	proxyAddr := flag.String("proxy", ":8080", "Address for the cookie-injecting proxy server")
	flag.Parse()

	// ── Logger ─────────────────────────────────────────────────────────────
	log := logger.New(logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	log.Info("cookie-injector starting up")

	// ── Configuration ──────────────────────────────────────────────────────
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}
	domains := make([]string, 0, len(cfg.Sites))
	for _, s := range cfg.Sites {
		domains = append(domains, s.Domain)
	}
	log.Infof("configuration loaded: sites=%v cookie_dir=%s", domains, cfg.CookieDir)

	if err := os.MkdirAll(cfg.CookieDir, 0o755); err != nil {
		log.Errorf("failed to create cookie dir %q: %v", cfg.CookieDir, err)
		os.Exit(1)
	}

	// ── Login browser launcher ─────────────────────────────────────────────
	launcher := browser.NewLauncher()
	if cfg.ProxyFile != "" {
		rotation := &browser.Rotation{}
		if err := rotation.LoadProxies(cfg.ProxyFile); err != nil {
			log.Errorf("failed to load proxies from %q: %v", cfg.ProxyFile, err)
			os.Exit(1)
		}
		launcher.Rotation = rotation
		log.Infof("loaded %d upstream proxies for login flows", rotation.Count())
	}
	refresh.SetLauncher(launcher)

	// ── Metrics ────────────────────────────────────────────────────────────
	m := metrics.New()

	// ── Health server ──────────────────────────────────────────────────────
	healthSrv := health.New(cfg.CookieDir, log)
	go func() {
		if err := healthSrv.ListenAndServe(*healthAddr); err != nil {
			log.Errorf("health server error: %v", err)
		}
	}()
	log.Infof("health server starting on %s", *healthAddr)

	// ── Injecting proxy server ─────────────────────────────────────────────
	addon := &injector.Injector{CookieDir: cfg.CookieDir, Metrics: m, Log: log}
	proxySrv := injector.NewServer(*proxyAddr, addon, log)
	if err := proxySrv.Start(); err != nil {
		log.Errorf("proxy server error: %v", err)
		os.Exit(1)
	}

	// ── Refresh loops ──────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gate := refresh.NewGate(maxConcurrentLogins)
	notifier := alerting.New(cfg.NtfyURL, cfg.HealthcheckURL, log)
	manager := scheduler.NewManager(cfg, gate, notifier, m, log)
	manager.Start(ctx)
	log.Infof("refresh loops started for %d sites (max %d concurrent logins)", len(cfg.Sites), maxConcurrentLogins)

	// ── Metrics monitor ────────────────────────────────────────────────────
	// Print a summary line every 10 seconds.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			refreshOK, refreshFail, injected, blocked, passed := m.Snapshot()
			log.Infof("metrics – refresh ok: %d | refresh failed: %d | injected: %d | short-circuited: %d | passed through: %d",
				refreshOK, refreshFail, injected, blocked, passed)
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Println() // newline after ^C
	log.Infof("received signal %s; shutting down", sig)

	// Stop scheduling new refreshes and wait for loops to exit.
	cancel()
	manager.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := proxySrv.Stop(shutdownCtx); err != nil {
		log.Errorf("proxy shutdown: %v", err)
	}
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("health shutdown: %v", err)
	}

	log.Info("cookie-injector shut down cleanly")
}
