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

// Package models provides data models shared across the listening engine.
package models

import (
	"net"
	"strconv"
	"time"
)

// Target is one (address, port) pair to listen on. Immutable once
// enumerated.
type Target struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

// Addr renders the target as a dialable/bindable host:port string.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// ChunkState is the lifecycle state of a chunk of targets.
type ChunkState string

const (
	ChunkIdle       ChunkState = "idle"
	ChunkReady      ChunkState = "ready"
	ChunkProcessing ChunkState = "processing"
	ChunkCompleted  ChunkState = "completed"
	ChunkError      ChunkState = "error"
)

// Terminal reports whether the state permits no further transitions.
func (s ChunkState) Terminal() bool {
	return s == ChunkCompleted || s == ChunkError
}

// Chunk is a fixed group of targets processed together by one worker.
// State and Attempts are only ever mutated inside the scheduler's critical
// sections; Targets are read-only after partitioning.
type Chunk struct {
	ID       int
	Targets  []Target
	State    ChunkState
	Attempts int

	// NotBefore delays re-claiming a chunk that was re-queued after a
	// failed attempt.
	NotBefore time.Time
}

// ErrorKind classifies a recorded failure.
type ErrorKind string

const (
	KindBindFailure       ErrorKind = "bind_failure"
	KindConnectionFailure ErrorKind = "connection_failure"
)

// ErrorRecord is one deduplicated failure entry. Repeats of the same
// (target, kind) fold into the existing record.
type ErrorRecord struct {
	Target      Target    `json:"target"`
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Occurrences uint64    `json:"occurrences"`
}

// Summary is the read-only aggregate view of a run, emitted at shutdown and
// served live to reporting consumers.
type Summary struct {
	RunID                string        `json:"run_id"`
	ConnectionsProcessed uint64        `json:"connections_processed"`
	ChunksCompleted      uint64        `json:"chunks_completed"`
	ChunksFailed         int           `json:"chunks_failed"`
	TotalChunks          int           `json:"total_chunks"`
	TotalTargets         int           `json:"total_targets"`
	Workers              int           `json:"workers"`
	Errors               []ErrorRecord `json:"errors,omitempty"`
}
