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

// Package probe implements active connect checks against a target list, the
// outbound counterpart of the listening engine.
package probe

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/Bit-Loop/IPcow/pkg/logger"
	"github.com/Bit-Loop/IPcow/pkg/models"
)

const (
	defaultTimeout     = 3 * time.Second
	defaultConcurrency = 32
)

// Result is the outcome of one connect attempt.
type Result struct {
	Target    models.Target `json:"target"`
	Available bool          `json:"available"`
	RespTime  time.Duration `json:"response_time"`
	Err       error         `json:"-"`
}

// Prober dials each target once and reports reachability and latency.
type Prober struct {
	timeout     time.Duration
	concurrency int
	logger      logger.Logger
}

func New(timeout time.Duration, concurrency int, log logger.Logger) *Prober {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if concurrency < 1 {
		concurrency = defaultConcurrency
	}

	return &Prober{
		timeout:     timeout,
		concurrency: concurrency,
		logger:      log,
	}
}

// Probe fans the targets out over a bounded worker set and streams results
// on the returned channel. The channel closes when every target has been
// attempted or ctx is cancelled.
func (p *Prober) Probe(ctx context.Context, targets []models.Target) <-chan Result {
	results := make(chan Result, p.concurrency)
	work := make(chan models.Target, p.concurrency)

	var wg sync.WaitGroup

	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for target := range work {
				result := p.probeOne(ctx, target)

				select {
				case results <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(work)

		for _, t := range targets {
			select {
			case work <- t:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

func (p *Prober) probeOne(ctx context.Context, target models.Target) Result {
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var d net.Dialer

	start := time.Now()

	conn, err := d.DialContext(dialCtx, "tcp", target.Addr())
	elapsed := time.Since(start)

	if err != nil {
		p.logger.Debug().
			Err(err).
			Str("target", target.Addr()).
			Msg("Probe failed")

		return Result{Target: target, Available: false, RespTime: elapsed, Err: err}
	}

	_ = conn.Close()

	return Result{Target: target, Available: true, RespTime: elapsed}
}
