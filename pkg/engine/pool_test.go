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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bit-Loop/IPcow/pkg/logger"
	"github.com/Bit-Loop/IPcow/pkg/models"
)

func newTestPool(t *testing.T, chunkCount, retryLimit int) (*ChunkPool, *Progress) {
	t.Helper()

	chunks := make([]*models.Chunk, chunkCount)
	for i := range chunks {
		chunks[i] = &models.Chunk{
			ID:      i,
			Targets: makeTargets(1),
			State:   models.ChunkReady,
		}
	}

	progress := NewProgress()

	return NewChunkPool(chunks, retryLimit, progress, logger.NewTestLogger()), progress
}

func TestChunkPoolClaimAndComplete(t *testing.T) {
	pool, progress := newTestPool(t, 2, 0)

	chunk, ok := pool.Claim()
	require.True(t, ok)
	assert.Equal(t, 0, chunk.ID)

	snapshot := pool.Snapshot()
	assert.Equal(t, models.ChunkProcessing, snapshot[0].State)
	assert.Equal(t, models.ChunkReady, snapshot[1].State)

	require.NoError(t, pool.Report(chunk.ID, nil))

	snapshot = pool.Snapshot()
	assert.Equal(t, models.ChunkCompleted, snapshot[0].State)
	assert.Equal(t, uint64(1), progress.ChunksFinished())
	assert.False(t, pool.Done())

	chunk, ok = pool.Claim()
	require.True(t, ok)
	require.NoError(t, pool.Report(chunk.ID, nil))

	assert.True(t, pool.Done())
	assert.Equal(t, uint64(2), progress.ChunksFinished())
	assert.Zero(t, pool.FailedCount())
}

func TestChunkPoolNoRetryFailsTerminally(t *testing.T) {
	pool, progress := newTestPool(t, 1, 0)

	chunk, ok := pool.Claim()
	require.True(t, ok)

	require.NoError(t, pool.Report(chunk.ID, errors.New("bind refused")))

	snapshot := pool.Snapshot()
	assert.Equal(t, models.ChunkError, snapshot[0].State)
	assert.Equal(t, 1, snapshot[0].Attempts)
	assert.True(t, pool.Done())
	assert.Equal(t, 1, pool.FailedCount())
	assert.Equal(t, uint64(1), progress.ChunksFinished())
}

func TestChunkPoolRetriesThenFails(t *testing.T) {
	pool, progress := newTestPool(t, 1, 1)

	chunk, ok := pool.Claim()
	require.True(t, ok)

	require.NoError(t, pool.Report(chunk.ID, errors.New("bind refused")))

	snapshot := pool.Snapshot()
	require.Equal(t, models.ChunkReady, snapshot[0].State)
	assert.Equal(t, 1, snapshot[0].Attempts)
	assert.False(t, pool.Done())
	assert.Zero(t, progress.ChunksFinished())

	// Re-queued with a retry delay; not claimable until it elapses.
	_, ok = pool.Claim()
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		chunk, ok = pool.Claim()
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, pool.Report(chunk.ID, errors.New("bind refused")))

	snapshot = pool.Snapshot()
	assert.Equal(t, models.ChunkError, snapshot[0].State)
	assert.Equal(t, 2, snapshot[0].Attempts)
	assert.True(t, pool.Done())
	assert.Equal(t, 1, pool.FailedCount())
	assert.Equal(t, uint64(1), progress.ChunksFinished())
}

func TestChunkPoolReleaseRequeuesWithoutAttempt(t *testing.T) {
	pool, progress := newTestPool(t, 1, 0)

	chunk, ok := pool.Claim()
	require.True(t, ok)

	require.NoError(t, pool.Release(chunk.ID))

	snapshot := pool.Snapshot()
	assert.Equal(t, models.ChunkReady, snapshot[0].State)
	assert.Zero(t, snapshot[0].Attempts)
	assert.Zero(t, progress.ChunksFinished())

	// Still claimable, with no retry delay.
	chunk, ok = pool.Claim()
	require.True(t, ok)
	assert.Equal(t, 0, chunk.ID)
}

func TestChunkPoolReleaseErrors(t *testing.T) {
	pool, _ := newTestPool(t, 1, 0)

	assert.ErrorIs(t, pool.Release(5), ErrUnknownChunk)
	assert.ErrorIs(t, pool.Release(0), ErrNotProcessing)
}

func TestChunkPoolReportErrors(t *testing.T) {
	pool, _ := newTestPool(t, 1, 0)

	assert.ErrorIs(t, pool.Report(5, nil), ErrUnknownChunk)
	assert.ErrorIs(t, pool.Report(-1, nil), ErrUnknownChunk)
	assert.ErrorIs(t, pool.Report(0, nil), ErrNotProcessing)
}

func TestChunkPoolConcurrentClaims(t *testing.T) {
	const chunkCount = 32

	pool, _ := newTestPool(t, chunkCount, 0)

	var (
		mu      sync.Mutex
		claimed = make(map[int]int)
		wg      sync.WaitGroup
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				chunk, ok := pool.Claim()
				if !ok {
					return
				}

				mu.Lock()
				claimed[chunk.ID]++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	require.Len(t, claimed, chunkCount)

	for id, count := range claimed {
		assert.Equal(t, 1, count, "chunk %d claimed more than once", id)
	}
}
