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

package status

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bit-Loop/IPcow/pkg/discovery"
	"github.com/Bit-Loop/IPcow/pkg/logger"
	"github.com/Bit-Loop/IPcow/pkg/models"
)

type fakeSource struct {
	summary  models.Summary
	services []discovery.Service
}

func (f *fakeSource) Snapshot() models.Summary      { return f.summary }
func (f *fakeSource) Services() []discovery.Service { return f.services }

func TestServerServesStatus(t *testing.T) {
	source := &fakeSource{
		summary: models.Summary{
			RunID:                "test-run",
			ConnectionsProcessed: 42,
			TotalChunks:          4,
			Workers:              2,
		},
		services: []discovery.Service{
			{Peer: "10.0.0.1:5000", Banner: "hello"},
		},
	}

	srv := NewServer("127.0.0.1:0", source, logger.NewTestLogger())
	require.NoError(t, srv.Start())

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = srv.Shutdown(ctx)
	}()

	resp, err := http.Get("http://" + srv.Addr() + "/api/status")
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var payload Payload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))

	assert.Equal(t, "test-run", payload.Summary.RunID)
	assert.Equal(t, uint64(42), payload.Summary.ConnectionsProcessed)
	require.Len(t, payload.Services, 1)
	assert.Equal(t, "10.0.0.1:5000", payload.Services[0].Peer)
}

func TestServerRejectsNonGet(t *testing.T) {
	srv := NewServer("127.0.0.1:0", &fakeSource{}, logger.NewTestLogger())
	require.NoError(t, srv.Start())

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = srv.Shutdown(ctx)
	}()

	resp, err := http.Post("http://"+srv.Addr()+"/api/status", "application/json", nil)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerBadAddressFailsFast(t *testing.T) {
	srv := NewServer("256.256.256.256:99999", &fakeSource{}, logger.NewTestLogger())
	assert.Error(t, srv.Start())
}
