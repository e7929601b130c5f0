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

package discovery

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bit-Loop/IPcow/pkg/logger"
	"github.com/Bit-Loop/IPcow/pkg/models"
)

func TestRegistryRecordAndSnapshot(t *testing.T) {
	reg := NewRegistry(logger.NewTestLogger())
	target := models.Target{Host: "127.0.0.1", Port: 8080}

	reg.Record("10.0.0.2:50001", target, []byte("SSH-2.0-OpenSSH_9.6"))
	reg.Record("10.0.0.1:50000", target, []byte("GET / HTTP/1.1"))

	require.Equal(t, 2, reg.Len())

	services := reg.Snapshot()
	require.Len(t, services, 2)

	// Sorted by peer.
	assert.Equal(t, "10.0.0.1:50000", services[0].Peer)
	assert.Equal(t, "GET / HTTP/1.1", services[0].Banner)
	assert.Equal(t, "10.0.0.2:50001", services[1].Peer)
	assert.Equal(t, uint64(1), services[0].Hits)
}

func TestRegistryFoldsRepeatVisits(t *testing.T) {
	reg := NewRegistry(logger.NewTestLogger())
	target := models.Target{Host: "127.0.0.1", Port: 8080}

	reg.Record("10.0.0.1:50000", target, []byte("first"))
	reg.Record("10.0.0.1:50000", target, []byte("second"))
	reg.Record("10.0.0.1:50000", target, []byte("third"))

	require.Equal(t, 1, reg.Len())

	svc := reg.Snapshot()[0]
	assert.Equal(t, uint64(3), svc.Hits)
	assert.Equal(t, "first", svc.Banner)
	assert.False(t, svc.LastSeen.Before(svc.FirstSeen))
}

func TestSanitizeBanner(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{
			name: "printable passthrough",
			in:   []byte("hello world\t!"),
			want: "hello world\t!",
		},
		{
			name: "control bytes masked",
			in:   []byte("abc\x00\x01\r\ndef"),
			want: "abc....def",
		},
		{
			name: "truncated at limit",
			in:   bytes.Repeat([]byte("a"), bannerLimit+50),
			want: string(bytes.Repeat([]byte("a"), bannerLimit)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeBanner(tt.in))
		})
	}
}
