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
	"github.com/Bit-Loop/IPcow/pkg/models"
)

// PartitionTargets slices the target list into consecutive chunks of
// ceil(len/workers) targets so that chunk count never exceeds the worker
// count. The last chunk may be shorter. Every chunk starts Ready; there is
// no pre-allocation delay once the partition is computed.
func PartitionTargets(targets []models.Target, workers int) []*models.Chunk {
	if len(targets) == 0 || workers < 1 {
		return nil
	}

	chunkSize := (len(targets) + workers - 1) / workers
	chunks := make([]*models.Chunk, 0, workers)

	for start := 0; start < len(targets); start += chunkSize {
		end := start + chunkSize
		if end > len(targets) {
			end = len(targets)
		}

		chunks = append(chunks, &models.Chunk{
			ID:      len(chunks),
			Targets: targets[start:end],
			State:   models.ChunkReady,
		})
	}

	return chunks
}
