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

// Package engine schedules chunks of listen targets across a fixed pool of
// workers and tracks their progress through completion or error.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Bit-Loop/IPcow/pkg/config"
	"github.com/Bit-Loop/IPcow/pkg/discovery"
	"github.com/Bit-Loop/IPcow/pkg/logger"
	"github.com/Bit-Loop/IPcow/pkg/models"
	"github.com/Bit-Loop/IPcow/pkg/sockparse"
)

// claimPollInterval paces a worker that found no claimable chunk. Retry
// delays make a chunk claimable between polls, so workers cannot simply
// exit on the first empty claim.
const claimPollInterval = 100 * time.Millisecond

// Engine owns a run: the expanded target list, the resource plan, the
// chunk pool and the shared progress state.
type Engine struct {
	cfg      *config.Config
	plan     ResourcePlan
	pool     *ChunkPool
	progress *Progress
	services *discovery.Registry
	logger   logger.Logger

	runID        string
	totalChunks  int
	totalTargets int
}

// New expands the configured address and port specifications, sizes the
// worker pool and partitions the targets into chunks. The returned engine
// has done no network I/O yet.
func New(cfg *config.Config, log logger.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	targets, err := sockparse.Enumerate(cfg.Addresses, cfg.Ports)
	if err != nil {
		return nil, err
	}

	plan := PlanResources(cfg.Multiplier, len(targets), cfg.MaxConnsPerWorker, log)
	chunks := PartitionTargets(targets, plan.Workers)
	progress := NewProgress()

	e := &Engine{
		cfg:          cfg,
		plan:         plan,
		pool:         NewChunkPool(chunks, cfg.RetryLimit, progress, log),
		progress:     progress,
		services:     discovery.NewRegistry(log),
		logger:       log,
		runID:        uuid.NewString(),
		totalChunks:  len(chunks),
		totalTargets: len(targets),
	}

	log.Info().
		Str("run_id", e.runID).
		Int("targets", e.totalTargets).
		Int("chunks", e.totalChunks).
		Int("workers", plan.Workers).
		Int64("max_conns_per_worker", plan.MaxConnsPerWorker).
		Msg("Engine initialized")

	return e, nil
}

// Plan returns the computed resource plan.
func (e *Engine) Plan() ResourcePlan {
	return e.plan
}

// RunID returns the identifier assigned to this run.
func (e *Engine) RunID() string {
	return e.runID
}

// Run spawns the worker pool and blocks until every chunk is terminal or
// ctx is cancelled, then returns the final summary. Each worker repeatedly
// claims a chunk, serves it and reports the outcome; the claim loop, not a
// central dispatcher, drives scheduling.
func (e *Engine) Run(ctx context.Context) models.Summary {
	var wg sync.WaitGroup

	for i := 0; i < e.plan.Workers; i++ {
		wg.Add(1)

		go func(worker int) {
			defer wg.Done()

			e.runWorker(ctx, worker)
		}(i)
	}

	wg.Wait()

	summary := e.Snapshot()

	e.logger.Info().
		Str("run_id", e.runID).
		Uint64("connections", summary.ConnectionsProcessed).
		Uint64("chunks_finished", summary.ChunksCompleted).
		Int("chunks_failed", summary.ChunksFailed).
		Int("distinct_errors", len(summary.Errors)).
		Msg("Run finished")

	return summary
}

func (e *Engine) runWorker(ctx context.Context, worker int) {
	acceptor := NewAcceptor(
		e.cfg.TerminationSeq,
		e.plan.MaxConnsPerWorker,
		e.cfg.GracePeriod,
		e.progress,
		e.services,
		e.logger,
	)

	for {
		chunk, ok := e.pool.Claim()
		if !ok {
			if e.pool.Done() {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(claimPollInterval):
				continue
			}
		}

		// Shutdown can land between claim loop iterations; the chunk goes
		// back untouched rather than burning an attempt on a dead context.
		if ctx.Err() != nil {
			if rerr := e.pool.Release(chunk.ID); rerr != nil {
				e.logger.Error().Err(rerr).Int("chunk", chunk.ID).Msg("Chunk release rejected")
			}

			return
		}

		e.logger.Debug().
			Int("worker", worker).
			Int("chunk", chunk.ID).
			Int("targets", len(chunk.Targets)).
			Msg("Chunk claimed")

		err := acceptor.Serve(ctx, chunk)

		if rerr := e.pool.Report(chunk.ID, err); rerr != nil {
			e.logger.Error().Err(rerr).Int("chunk", chunk.ID).Msg("Chunk report rejected")
		}
	}
}

// Snapshot assembles the current summary without stopping the run.
func (e *Engine) Snapshot() models.Summary {
	return models.Summary{
		RunID:                e.runID,
		ConnectionsProcessed: e.progress.Connections(),
		ChunksCompleted:      e.progress.ChunksFinished(),
		ChunksFailed:         e.pool.FailedCount(),
		TotalChunks:          e.totalChunks,
		TotalTargets:         e.totalTargets,
		Workers:              e.plan.Workers,
		Errors:               e.progress.Errors(),
	}
}

// Services returns the observed peers recorded so far.
func (e *Engine) Services() []discovery.Service {
	return e.services.Snapshot()
}
