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
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bit-Loop/IPcow/pkg/config"
	"github.com/Bit-Loop/IPcow/pkg/logger"
)

func testConfig(t *testing.T, portCount int) (*config.Config, []string) {
	t.Helper()

	addrs := make([]string, 0, portCount)
	ports := make([]string, 0, portCount)

	for i := 0; i < portCount; i++ {
		target := freeTarget(t)
		addrs = append(addrs, target.Addr())
		ports = append(ports, fmt.Sprintf("%d", target.Port))
	}

	cfg := config.Default()
	cfg.Addresses = []string{"127.0.0.1"}
	cfg.Ports = ports
	cfg.MaxConnsPerWorker = 8
	cfg.GracePeriod = time.Second

	return cfg, addrs
}

func TestEngineNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()

	_, err := New(cfg, logger.NewTestLogger())
	assert.ErrorIs(t, err, config.ErrNoAddresses)
}

func TestEngineNewRejectsBadSpecs(t *testing.T) {
	cfg := config.Default()
	cfg.Addresses = []string{"not-an-address"}
	cfg.Ports = []string{"8080"}

	_, err := New(cfg, logger.NewTestLogger())
	assert.Error(t, err)
}

func TestEngineRunServesUntilInterrupted(t *testing.T) {
	cfg, addrs := testConfig(t, 2)

	eng, err := New(cfg, logger.NewTestLogger())
	require.NoError(t, err)
	require.NotEmpty(t, eng.RunID())

	ctx, cancel := context.WithCancel(context.Background())

	summaryCh := make(chan struct{})

	var summary = eng.Snapshot()

	go func() {
		summary = eng.Run(ctx)
		close(summaryCh)
	}()

	// Every configured target must come up.
	for _, addr := range addrs {
		addr := addr

		require.Eventually(t, func() bool {
			conn, dialErr := net.DialTimeout("tcp", addr, 200*time.Millisecond)
			if dialErr != nil {
				return false
			}

			_ = conn.Close()

			return true
		}, 5*time.Second, 50*time.Millisecond)
	}

	conn, err := net.Dial("tcp", addrs[0])
	require.NoError(t, err)

	_, err = conn.Write([]byte("echo me"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "echo me", string(buf[:n]))

	require.NoError(t, conn.Close())

	cancel()

	select {
	case <-summaryCh:
	case <-time.After(10 * time.Second):
		t.Fatal("engine did not stop after cancel")
	}

	assert.Equal(t, 2, summary.TotalTargets)
	assert.Zero(t, summary.ChunksFailed)
	assert.Equal(t, uint64(summary.TotalChunks), summary.ChunksCompleted)
	assert.GreaterOrEqual(t, summary.ConnectionsProcessed, uint64(1))
	assert.Len(t, eng.Services(), 1)
}

func TestEngineRunCancelledBeforeStartServesNothing(t *testing.T) {
	cfg, _ := testConfig(t, 1)

	eng, err := New(cfg, logger.NewTestLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := eng.Run(ctx)

	// A claim made during shutdown must go back untouched, not transition
	// to a terminal state or fabricate a bind failure.
	assert.Zero(t, summary.ChunksCompleted)
	assert.Zero(t, summary.ChunksFailed)
	assert.Empty(t, summary.Errors)
	assert.Zero(t, summary.ConnectionsProcessed)
}

func TestEngineRunFinishesWhenEveryChunkFails(t *testing.T) {
	// Occupy a port so every bind attempt fails.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	port := ln.Addr().(*net.TCPAddr).Port

	cfg := config.Default()
	cfg.Addresses = []string{"127.0.0.1"}
	cfg.Ports = []string{fmt.Sprintf("%d", port)}
	cfg.GracePeriod = time.Second

	eng, err := New(cfg, logger.NewTestLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	summary := eng.Run(ctx)

	require.NoError(t, ctx.Err(), "engine should finish on its own, not by timeout")
	assert.Equal(t, summary.TotalChunks, summary.ChunksFailed)
	assert.NotEmpty(t, summary.Errors)
}
