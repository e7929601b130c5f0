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
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Bit-Loop/IPcow/pkg/models"
)

// errorKey folds repeated identical failures into one record. Identity is
// target plus kind; the message is kept from the first occurrence.
type errorKey struct {
	host string
	port uint16
	kind models.ErrorKind
}

// Progress aggregates process-wide counters and the deduplicating error
// log. Counters are lock-free; the error log lock is held only for the
// fold-or-insert step. No method here performs network I/O.
type Progress struct {
	connections atomic.Uint64
	chunksDone  atomic.Uint64

	mu     sync.Mutex
	errors map[errorKey]*models.ErrorRecord
}

func NewProgress() *Progress {
	return &Progress{
		errors: make(map[errorKey]*models.ErrorRecord),
	}
}

// ConnectionHandled is called once per finished connection, success or
// failure.
func (p *Progress) ConnectionHandled() {
	p.connections.Add(1)
}

// ChunkFinished is called once per terminal chunk transition.
func (p *Progress) ChunkFinished() {
	p.chunksDone.Add(1)
}

func (p *Progress) Connections() uint64 {
	return p.connections.Load()
}

func (p *Progress) ChunksFinished() uint64 {
	return p.chunksDone.Load()
}

// RecordError folds the failure into the log: a repeat of the same
// (target, kind) increments the existing record instead of appending.
func (p *Progress) RecordError(target models.Target, kind models.ErrorKind, err error) {
	now := time.Now()
	key := errorKey{host: target.Host, port: target.Port, kind: kind}

	p.mu.Lock()
	defer p.mu.Unlock()

	if rec, ok := p.errors[key]; ok {
		rec.Occurrences++
		rec.LastSeen = now

		return
	}

	p.errors[key] = &models.ErrorRecord{
		Target:      target,
		Kind:        kind,
		Message:     err.Error(),
		FirstSeen:   now,
		LastSeen:    now,
		Occurrences: 1,
	}
}

// Errors returns a sorted copy of the deduplicated error log.
func (p *Progress) Errors() []models.ErrorRecord {
	p.mu.Lock()
	out := make([]models.ErrorRecord, 0, len(p.errors))

	for _, rec := range p.errors {
		out = append(out, *rec)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Target.Host != b.Target.Host {
			return a.Target.Host < b.Target.Host
		}

		if a.Target.Port != b.Target.Port {
			return a.Target.Port < b.Target.Port
		}

		return a.Kind < b.Kind
	})

	return out
}

// ErrorCount returns the number of distinct error records.
func (p *Progress) ErrorCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.errors)
}
