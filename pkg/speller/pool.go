// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package speller

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// PoolConfig configures a decode pool.
type PoolConfig struct {
	// Size is the number of speller replicas (0 = number of CPUs).
	Size int

	// Seed seeds the per-replica random sources (0 = time-based). Replicas
	// get distinct derived seeds so they do not march in lockstep.
	Seed int64

	// Queue bounds admission ahead of the replica slots. A zero config
	// admits everything immediately.
	Queue DecodeQueueConfig
}

type poolReplica struct {
	mu sync.Mutex
	sp *Speller
}

// Pool serves concurrent decode requests over independent Speller replicas.
// Each request acquires a slot via semaphore and an exclusive replica, so
// in-flight decode state is never shared between callers.
type Pool struct {
	replicas []*poolReplica
	sem      *semaphore.Weighted
	next     atomic.Uint64
	queue    *DecodeQueue
	logger   *zap.Logger
	size     int
}

// NewPool builds a pool of cfg-configured spellers.
func NewPool(cfg Config, pcfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	size := pcfg.Size
	if size <= 0 {
		size = runtime.NumCPU()
	}
	seed := pcfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	logger.Info("Initializing speller pool",
		zap.Int("size", size),
		zap.Int64("seed", seed))

	replicas := make([]*poolReplica, size)
	for i := range replicas {
		sp, err := New(cfg,
			WithLogger(logger),
			WithRand(rand.New(rand.NewSource(seed+int64(i)))))
		if err != nil {
			return nil, fmt.Errorf("creating speller replica %d: %w", i, err)
		}
		replicas[i] = &poolReplica{sp: sp}
	}

	return &Pool{
		replicas: replicas,
		sem:      semaphore.NewWeighted(int64(size)),
		queue:    NewDecodeQueue(pcfg.Queue, logger),
		logger:   logger,
		size:     size,
	}, nil
}

// Size returns the number of replicas.
func (p *Pool) Size() int { return p.size }

// QueueStats returns a snapshot of the admission queue counters.
func (p *Pool) QueueStats() QueueStats { return p.queue.Stats() }

// Decode runs one decode pass on an exclusively held replica. Requests
// beyond the replica count wait for a slot; the admission queue's limits
// and timeout apply first.
func (p *Pool) Decode(ctx context.Context, input *DecodeInput, opts DecodeOptions) (*DecodeResult, error) {
	release, err := p.queue.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrQueueFull) {
			poolRejections.Inc()
		}
		return nil, err
	}
	defer release()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring decode slot: %w", err)
	}
	defer p.sem.Release(1)

	// Round-robin selection; the mutex makes the replica exclusive even if
	// two slots land on the same index.
	idx := int(p.next.Add(1) % uint64(p.size))
	replica := p.replicas[idx]
	replica.mu.Lock()
	defer replica.mu.Unlock()

	return replica.sp.Decode(ctx, input, opts)
}
