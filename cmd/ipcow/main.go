/*
 * Copyright 2025 the IPCow Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/Bit-Loop/IPcow/pkg/config"
	"github.com/Bit-Loop/IPcow/pkg/engine"
	"github.com/Bit-Loop/IPcow/pkg/logger"
	"github.com/Bit-Loop/IPcow/pkg/probe"
	"github.com/Bit-Loop/IPcow/pkg/sockparse"
	"github.com/Bit-Loop/IPcow/pkg/status"
)

func main() {
	code, err := run()
	if err != nil {
		log.Fatalf("ipcow: %v", err)
	}

	os.Exit(code)
}

func run() (int, error) {
	var (
		configPath = flag.String("config", "", "Path to JSON config file")
		addrs      = flag.String("addrs", "", "Comma-separated address specs (overrides config)")
		ports      = flag.String("ports", "", "Comma-separated port specs (overrides config)")
		multiplier = flag.Int("multiplier", 0, "Worker threads per logical core (overrides config)")
		retryLimit = flag.Int("retry-limit", -1, "Chunk retry limit (overrides config)")
		maxConns   = flag.Int("max-conns", 0, "Per-worker connection cap override")
		statusAddr = flag.String("status", "", "Status endpoint address, e.g. 127.0.0.1:8080")
		probeMode  = flag.Bool("probe", false, "Probe targets instead of listening on them")
	)

	flag.Parse()

	cfg := config.Default()

	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return 1, err
		}

		cfg = loaded
	}

	if *addrs != "" {
		cfg.Addresses = strings.Split(*addrs, ",")
	}

	if *ports != "" {
		cfg.Ports = strings.Split(*ports, ",")
	}

	if *multiplier > 0 {
		cfg.Multiplier = *multiplier
	}

	if *retryLimit >= 0 {
		cfg.RetryLimit = *retryLimit
	}

	if *maxConns > 0 {
		cfg.MaxConnsPerWorker = *maxConns
	}

	if *statusAddr != "" {
		cfg.StatusAddr = *statusAddr
	}

	if err := cfg.Validate(); err != nil {
		return 1, err
	}

	logCfg := cfg.Logging
	if logCfg == nil {
		logCfg = logger.DefaultConfig()
	}

	appLogger, err := logger.NewComponent("ipcow", logCfg)
	if err != nil {
		return 1, fmt.Errorf("failed to create logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *probeMode {
		return runProbe(ctx, cfg, appLogger)
	}

	return runEngine(ctx, cfg, appLogger)
}

func runEngine(ctx context.Context, cfg *config.Config, appLogger logger.Logger) (int, error) {
	eng, err := engine.New(cfg, appLogger)
	if err != nil {
		return 1, err
	}

	var statusSrv *status.Server

	if cfg.StatusAddr != "" {
		srv := status.NewServer(cfg.StatusAddr, eng, appLogger)
		if err := srv.Start(); err != nil {
			return 1, fmt.Errorf("failed to start status endpoint: %w", err)
		}

		statusSrv = srv
	}

	summary := eng.Run(ctx)

	if statusSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := statusSrv.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn().Err(err).Msg("Status endpoint shutdown failed")
		}
	}

	for _, rec := range summary.Errors {
		appLogger.Warn().
			Str("target", rec.Target.Addr()).
			Str("kind", string(rec.Kind)).
			Uint64("occurrences", rec.Occurrences).
			Msg(rec.Message)
	}

	if summary.ChunksFailed > 0 {
		return 1, nil
	}

	return 0, nil
}

func runProbe(ctx context.Context, cfg *config.Config, appLogger logger.Logger) (int, error) {
	targets, err := sockparse.Enumerate(cfg.Addresses, cfg.Ports)
	if err != nil {
		return 1, err
	}

	prober := probe.New(cfg.ProbeTimeout, 0, appLogger)

	available := 0

	for result := range prober.Probe(ctx, targets) {
		if result.Available {
			available++

			appLogger.Info().
				Str("target", result.Target.Addr()).
				Dur("response_time", result.RespTime).
				Msg("Target reachable")

			continue
		}

		appLogger.Debug().
			Str("target", result.Target.Addr()).
			Msg("Target unreachable")
	}

	appLogger.Info().
		Int("available", available).
		Int("total", len(targets)).
		Msg("Probe finished")

	return 0, nil
}
