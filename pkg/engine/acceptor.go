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
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Bit-Loop/IPcow/pkg/discovery"
	"github.com/Bit-Loop/IPcow/pkg/logger"
	"github.com/Bit-Loop/IPcow/pkg/models"
)

// Acceptor binds and serves one claimed chunk at a time. Each worker owns
// one Acceptor; the per-worker connection cap is enforced with a weighted
// semaphore acquired before every accept, so the loop pauses at the cap and
// resumes when a handler finishes.
// acceptRetryDelay paces an accept loop whose Accept keeps failing with a
// transient error.
const acceptRetryDelay = 100 * time.Millisecond

type Acceptor struct {
	termSeq    []byte
	maxConns   int64
	drainGrace time.Duration
	progress   *Progress
	services   *discovery.Registry
	logger     logger.Logger
}

func NewAcceptor(
	termSeq string,
	maxConns int64,
	drainGrace time.Duration,
	progress *Progress,
	services *discovery.Registry,
	log logger.Logger) *Acceptor {
	if maxConns < 1 {
		maxConns = 1
	}

	return &Acceptor{
		termSeq:    []byte(termSeq),
		maxConns:   maxConns,
		drainGrace: drainGrace,
		progress:   progress,
		services:   services,
		logger:     log,
	}
}

// Serve binds a listener for every target in the chunk and runs one accept
// loop per listener until ctx is cancelled. If any bind fails, listeners
// already bound in this attempt are closed, the failure is recorded once,
// and the whole chunk reports the error. A nil return means the chunk
// served until shutdown.
func (a *Acceptor) Serve(ctx context.Context, chunk models.Chunk) error {
	listeners := make([]net.Listener, 0, len(chunk.Targets))

	var lc net.ListenConfig

	for _, t := range chunk.Targets {
		ln, err := lc.Listen(ctx, "tcp", t.Addr())
		if err != nil {
			for _, open := range listeners {
				_ = open.Close()
			}

			a.progress.RecordError(t, models.KindBindFailure, err)

			return fmt.Errorf("bind %s: %w", t.Addr(), err)
		}

		listeners = append(listeners, ln)
	}

	a.logger.Info().
		Int("chunk", chunk.ID).
		Int("listeners", len(listeners)).
		Msg("Chunk bound, accepting connections")

	sem := semaphore.NewWeighted(a.maxConns)
	tracker := newConnTracker()

	var handlers sync.WaitGroup

	g, gctx := errgroup.WithContext(ctx)

	// Closing a listener unblocks its pending Accept, which is the whole
	// cancellation mechanism for the accept loops.
	closeOnce := make(chan struct{})
	go func() {
		select {
		case <-gctx.Done():
		case <-closeOnce:
		}

		for _, ln := range listeners {
			_ = ln.Close()
		}
	}()

	for i, ln := range listeners {
		g.Go(a.acceptLoopFunc(gctx, ln, chunk.Targets[i], sem, &handlers, tracker))
	}

	_ = g.Wait()
	close(closeOnce)

	a.drainHandlers(chunk.ID, &handlers, tracker)

	return nil
}

func (a *Acceptor) acceptLoopFunc(
	ctx context.Context,
	ln net.Listener,
	target models.Target,
	sem *semaphore.Weighted,
	handlers *sync.WaitGroup,
	tracker *connTracker) func() error {
	return func() error {
		for {
			// A connection slot must be free before accepting; this is
			// backpressure, not an error.
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil
			}

			conn, err := ln.Accept()
			if err != nil {
				sem.Release(1)

				if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
					return nil
				}

				a.progress.RecordError(target, models.KindConnectionFailure, err)

				// Errors like EMFILE persist; pace the retry instead of
				// spinning on the error log.
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(acceptRetryDelay):
				}

				continue
			}

			tracker.add(conn)
			handlers.Add(1)

			go func() {
				defer handlers.Done()
				defer sem.Release(1)
				defer tracker.remove(conn)

				a.handleConnection(conn, target)
			}()
		}
	}
}

// drainHandlers waits for in-flight connections to finish, force-closing
// whatever remains once the grace period expires.
func (a *Acceptor) drainHandlers(chunkID int, handlers *sync.WaitGroup, tracker *connTracker) {
	drained := make(chan struct{})
	go func() {
		handlers.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(a.drainGrace):
		remaining := tracker.closeAll()

		a.logger.Warn().
			Int("chunk", chunkID).
			Int("connections", remaining).
			Msg("Grace period expired, closed remaining connections")

		<-drained
	}
}

// connTracker remembers live connections so shutdown can force-close
// stragglers after the grace period.
type connTracker struct {
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func newConnTracker() *connTracker {
	return &connTracker{conns: make(map[net.Conn]struct{})}
}

func (t *connTracker) add(c net.Conn) {
	t.mu.Lock()
	t.conns[c] = struct{}{}
	t.mu.Unlock()
}

func (t *connTracker) remove(c net.Conn) {
	t.mu.Lock()
	delete(t.conns, c)
	t.mu.Unlock()
}

func (t *connTracker) closeAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	for c := range t.conns {
		_ = c.Close()
	}

	return len(t.conns)
}
