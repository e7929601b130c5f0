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

// Package discovery records the first bytes each peer sends so a run leaves
// a trace of what talked to which listener. It stores data only; any
// protocol analysis is left to consumers of the snapshot.
package discovery

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Bit-Loop/IPcow/pkg/logger"
	"github.com/Bit-Loop/IPcow/pkg/models"
)

// bannerLimit caps how much of a peer's first read is retained.
const bannerLimit = 128

// Service is one observed peer, keyed by its remote address.
type Service struct {
	Peer      string        `json:"peer"`
	Target    models.Target `json:"target"`
	Banner    string        `json:"banner"`
	FirstSeen time.Time     `json:"first_seen"`
	LastSeen  time.Time     `json:"last_seen"`
	Hits      uint64        `json:"hits"`
}

// Registry is a guarded map of observed services. Record is called from
// connection handlers; Snapshot from reporting consumers.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*Service
	logger   logger.Logger
}

func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		services: make(map[string]*Service),
		logger:   log,
	}
}

// Record stores the peer's first bytes, folding repeat visits from the same
// remote address into one entry.
func (r *Registry) Record(peer string, target models.Target, firstBytes []byte) {
	now := time.Now()
	banner := sanitizeBanner(firstBytes)

	r.mu.Lock()
	defer r.mu.Unlock()

	if svc, ok := r.services[peer]; ok {
		svc.Hits++
		svc.LastSeen = now

		return
	}

	r.services[peer] = &Service{
		Peer:      peer,
		Target:    target,
		Banner:    banner,
		FirstSeen: now,
		LastSeen:  now,
		Hits:      1,
	}

	r.logger.Debug().
		Str("peer", peer).
		Str("listener", target.Addr()).
		Msg("New service recorded")
}

// Snapshot returns a copy of every recorded service, sorted by peer.
func (r *Registry) Snapshot() []Service {
	r.mu.RLock()
	out := make([]Service, 0, len(r.services))

	for _, svc := range r.services {
		out = append(out, *svc)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })

	return out
}

// Len returns the number of distinct peers recorded.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.services)
}

// sanitizeBanner truncates and strips non-printable bytes so raw peer data
// never reaches a log or report verbatim.
func sanitizeBanner(data []byte) string {
	if len(data) > bannerLimit {
		data = data[:bannerLimit]
	}

	return strings.Map(func(r rune) rune {
		if r == '\t' || (r >= 0x20 && r < 0x7f) {
			return r
		}

		return '.'
	}, string(data))
}
