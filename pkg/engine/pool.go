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
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Bit-Loop/IPcow/pkg/logger"
	"github.com/Bit-Loop/IPcow/pkg/models"
)

const retryInitialInterval = 250 * time.Millisecond

// ChunkPool is the shared scheduler state: an arena of chunks indexed by a
// stable id, guarded by one mutex. Membership is fixed after partitioning;
// only State, Attempts and NotBefore are ever mutated, and only inside the
// Claim/Report critical sections. The lock is never held across a socket
// operation.
type ChunkPool struct {
	mu         sync.Mutex
	chunks     []*models.Chunk
	retryLimit int
	backoffs   map[int]*backoff.ExponentialBackOff
	progress   *Progress
	logger     logger.Logger
}

func NewChunkPool(chunks []*models.Chunk, retryLimit int, progress *Progress, log logger.Logger) *ChunkPool {
	return &ChunkPool{
		chunks:     chunks,
		retryLimit: retryLimit,
		backoffs:   make(map[int]*backoff.ExponentialBackOff),
		progress:   progress,
		logger:     log,
	}
}

// Claim finds the first Ready chunk whose retry delay has elapsed,
// transitions it to Processing and returns a copy. Claim and transition are
// a single critical section, so a chunk can never be visible to two workers
// as Ready simultaneously. The second return is false when no chunk is
// claimable right now.
func (p *ChunkPool) Claim() (models.Chunk, bool) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.chunks {
		if c.State != models.ChunkReady || now.Before(c.NotBefore) {
			continue
		}

		c.State = models.ChunkProcessing

		return *c, true
	}

	return models.Chunk{}, false
}

// Report records the outcome of a Processing chunk. A nil failure completes
// the chunk. A failure re-queues it to Ready while Attempts has not reached
// the retry limit (incrementing Attempts first, with an exponential delay
// before it becomes claimable again), and otherwise marks it terminally
// Error. Terminal transitions increment the chunks-finished counter.
func (p *ChunkPool) Report(id int, failure error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id < 0 || id >= len(p.chunks) {
		return ErrUnknownChunk
	}

	c := p.chunks[id]
	if c.State != models.ChunkProcessing {
		return ErrNotProcessing
	}

	if failure == nil {
		c.State = models.ChunkCompleted
		p.progress.ChunkFinished()

		return nil
	}

	c.Attempts++

	if c.Attempts <= p.retryLimit {
		delay := p.nextRetryDelay(id)
		c.State = models.ChunkReady
		c.NotBefore = time.Now().Add(delay)

		p.logger.Warn().
			Err(failure).
			Int("chunk", id).
			Int("attempt", c.Attempts).
			Dur("retry_in", delay).
			Msg("Chunk failed, re-queued")

		return nil
	}

	c.State = models.ChunkError
	p.progress.ChunkFinished()

	p.logger.Error().
		Err(failure).
		Int("chunk", id).
		Int("attempts", c.Attempts).
		Msg("Chunk failed terminally")

	return nil
}

// Release returns a Processing chunk to Ready without consuming an
// attempt, for a worker that claimed it but will not serve it.
func (p *ChunkPool) Release(id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id < 0 || id >= len(p.chunks) {
		return ErrUnknownChunk
	}

	c := p.chunks[id]
	if c.State != models.ChunkProcessing {
		return ErrNotProcessing
	}

	c.State = models.ChunkReady

	return nil
}

// nextRetryDelay must be called with the pool lock held.
func (p *ChunkPool) nextRetryDelay(id int) time.Duration {
	bo, ok := p.backoffs[id]
	if !ok {
		bo = backoff.NewExponentialBackOff()
		bo.InitialInterval = retryInitialInterval
		bo.MaxElapsedTime = 0
		p.backoffs[id] = bo
	}

	return bo.NextBackOff()
}

// Done reports whether every chunk has reached a terminal state.
func (p *ChunkPool) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.chunks {
		if !c.State.Terminal() {
			return false
		}
	}

	return true
}

// FailedCount returns the number of chunks that ended in Error.
func (p *ChunkPool) FailedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	failed := 0

	for _, c := range p.chunks {
		if c.State == models.ChunkError {
			failed++
		}
	}

	return failed
}

// Len returns the fixed chunk count.
func (p *ChunkPool) Len() int {
	return len(p.chunks)
}

// Snapshot returns a copy of every chunk's current state for reporting.
func (p *ChunkPool) Snapshot() []models.Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.Chunk, len(p.chunks))
	for i, c := range p.chunks {
		out[i] = *c
	}

	return out
}
