// Package main runs the play loop against a Mixcloud mix.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/raicho81/fake-mixcloud-plays/internal/api"
	"github.com/raicho81/fake-mixcloud-plays/internal/api/handlers"
	"github.com/raicho81/fake-mixcloud-plays/internal/browser"
	"github.com/raicho81/fake-mixcloud-plays/internal/config"
	"github.com/raicho81/fake-mixcloud-plays/internal/logging"
	"github.com/raicho81/fake-mixcloud-plays/internal/loop"
	"github.com/raicho81/fake-mixcloud-plays/internal/proxy"
	"github.com/raicho81/fake-mixcloud-plays/internal/session"
	"github.com/raicho81/fake-mixcloud-plays/internal/shutdown"
	"github.com/raicho81/fake-mixcloud-plays/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Initialize logger using slog-logfilter (respects LOG_LEVEL, LOG_FORMAT env vars)
	logger := logging.SetDefault()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration, aborting", "error", err)
		return 1
	}

	logger.Info("starting fake plays", "build", version.Get())
	cfg.LogSummary(logger)

	gate := shutdown.NewGate()
	stopSignals := shutdown.Notify(gate, logger)
	defer stopSignals()

	driver := browser.NewRod(cfg.BrowserOptions(), logger)

	// Only the warmup is abandoned on a stop request; session calls run to
	// completion so the browser can always be closed.
	warmupCtx, cancelWarmup := context.WithCancel(context.Background())
	go func() {
		<-gate.Done()
		cancelWarmup()
	}()
	if err := driver.Warmup(warmupCtx); err != nil {
		logger.Warn("browser warmup failed", "error", err)
	}
	cancelWarmup()

	var (
		opts    []session.Option
		history handlers.History
	)
	if cfg.HistoryDBPath != "" {
		store, err := session.NewSQLiteStore(cfg.HistoryDBPath, logger)
		if err != nil {
			logger.Warn("session history disabled", "error", err)
		} else {
			defer store.Close()
			opts = append(opts, session.WithRecorder(store))
			history = store
		}
	}

	ctrl := session.NewController(driver, gate, cfg.SessionSettings(), logger, opts...)
	rotator := proxy.NewRotator(cfg.Proxies, cfg.ProxyPolicy)
	if rotator.Active() {
		logger.Info("proxy rotation enabled", "proxies", rotator.Len(), "policy", rotator.Policy())
	}

	l := loop.New(ctrl, rotator, gate, waitPolicy(cfg), logger)

	srv := startStatusServer(cfg.StatusPort, l, history, logger)

	res := l.Run(context.Background())
	if res.Err != nil {
		logger.Error("run ended after start failure", "error", res.Err)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server forced to shutdown", "error", err)
		}
	}

	logger.Info("stopped",
		"reason", res.Reason,
		"cycles", res.Cycles,
		"starts", res.Starts,
		"refreshes", res.Refreshes,
	)
	return 0
}

func waitPolicy(cfg *config.Config) loop.WaitPolicy {
	if cfg.Speed == config.SpeedRandom {
		return loop.NewRandomWait(cfg.RandomWaitMu, cfg.RandomWaitSigma, nil)
	}
	return loop.FixedWait(cfg.FastWait)
}

// startStatusServer serves /health and /status when port > 0.
func startStatusServer(port int, l *loop.Loop, history handlers.History, logger *slog.Logger) *http.Server {
	if port <= 0 {
		return nil
	}

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(l, history),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("status server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server error", "error", err)
		}
	}()
	return srv
}
