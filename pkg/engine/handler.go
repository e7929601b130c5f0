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
	"bytes"
	"errors"
	"io"
	"net"

	"github.com/Bit-Loop/IPcow/pkg/models"
)

const readBufferSize = 4096

// handleConnection services one accepted connection: read, echo back,
// close on the termination sequence. An I/O error terminates this
// connection only; it is recorded and never escalated to chunk state. The
// connections-processed counter counts handled connections, successful or
// not.
func (a *Acceptor) handleConnection(conn net.Conn, target models.Target) {
	defer a.progress.ConnectionHandled()
	defer func() { _ = conn.Close() }()

	peer := conn.RemoteAddr().String()
	buf := make([]byte, readBufferSize)

	var tail []byte

	first := true

	for {
		n, err := conn.Read(buf)

		if n > 0 {
			data := buf[:n]

			if first {
				first = false

				if a.services != nil {
					a.services.Record(peer, target, data)
				}
			}

			if a.sawTermination(&tail, data) {
				a.logger.Debug().
					Str("peer", peer).
					Str("listener", target.Addr()).
					Msg("Termination sequence received, closing")

				return
			}

			if _, werr := conn.Write(data); werr != nil {
				a.progress.RecordError(target, models.KindConnectionFailure, werr)
				return
			}
		}

		if err != nil {
			// Peer hangup is a normal end of conversation.
			if errors.Is(err, io.EOF) {
				return
			}

			a.progress.RecordError(target, models.KindConnectionFailure, err)

			return
		}
	}
}

// sawTermination reports whether the termination sequence occurs in the
// stream so far. A tail of the previous read is carried forward so a
// sequence split across reads still matches.
func (a *Acceptor) sawTermination(tail *[]byte, data []byte) bool {
	if len(a.termSeq) == 0 {
		return false
	}

	window := make([]byte, 0, len(*tail)+len(data))
	window = append(window, *tail...)
	window = append(window, data...)

	if bytes.Contains(window, a.termSeq) {
		return true
	}

	keep := len(a.termSeq) - 1
	if len(window) > keep {
		window = window[len(window)-keep:]
	}

	*tail = append((*tail)[:0], window...)

	return false
}
