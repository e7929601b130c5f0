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

package engine

import (
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/Bit-Loop/IPcow/pkg/logger"
)

const (
	// fdReserve keeps descriptors back for stdio, the runtime and the
	// status endpoint.
	fdReserve = 64

	// fallbackFDCeiling is used when the OS limit cannot be read.
	fallbackFDCeiling = 1024
)

// ResourcePlan is the engine's sizing, computed once at startup and
// immutable thereafter.
type ResourcePlan struct {
	Cores             int
	Workers           int
	MaxConnsPerWorker int64
	FDCeiling         uint64
}

// PlanResources sizes the worker pool from the host's logical core count
// and the user multiplier, and derives a per-worker connection cap from the
// file-descriptor ceiling, leaving headroom for one listener socket per
// target. capOverride > 0 replaces the derived cap. The only host state
// read is the core count and the descriptor limit.
func PlanResources(multiplier, listenerCount, capOverride int, log logger.Logger) ResourcePlan {
	cores, err := cpu.Counts(true)
	if err != nil || cores < 1 {
		log.Warn().Err(err).Msg("Could not determine logical core count, assuming 1")

		cores = 1
	}

	if multiplier < 1 {
		multiplier = 1
	}

	workers := cores * multiplier

	ceiling := fdCeiling()
	if ceiling == 0 {
		ceiling = fallbackFDCeiling
	}

	headroom := uint64(listenerCount + fdReserve)

	var perWorker int64
	if ceiling > headroom {
		perWorker = int64((ceiling - headroom) / uint64(workers))
	}

	if perWorker < 1 {
		perWorker = 1
	}

	if capOverride > 0 {
		perWorker = int64(capOverride)
	}

	plan := ResourcePlan{
		Cores:             cores,
		Workers:           workers,
		MaxConnsPerWorker: perWorker,
		FDCeiling:         ceiling,
	}

	log.Debug().
		Int("cores", plan.Cores).
		Int("workers", plan.Workers).
		Int64("max_conns_per_worker", plan.MaxConnsPerWorker).
		Uint64("fd_ceiling", plan.FDCeiling).
		Msg("Resource plan computed")

	return plan
}
