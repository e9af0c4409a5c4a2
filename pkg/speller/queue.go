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
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when the decode queue is at capacity.
	ErrQueueFull = errors.New("speller: decode queue is full")

	// ErrQueueTimeout is returned when a decode request waits longer than
	// the configured timeout for a slot.
	ErrQueueTimeout = errors.New("speller: decode queue timeout exceeded")
)

// DecodeQueue limits how many decode passes run at once and queues the
// overflow with backpressure. A decode pass owns its state exclusively, so
// admission control is the only coordination concurrent callers need.
type DecodeQueue struct {
	maxConcurrent int64         // 0 = unlimited
	maxQueueSize  int64         // 0 = unlimited
	timeout       time.Duration // 0 = no timeout

	sem chan struct{}

	currentActive  atomic.Int64
	currentQueued  atomic.Int64
	totalProcessed atomic.Int64
	totalRejected  atomic.Int64
	totalTimedOut  atomic.Int64

	logger *zap.Logger
}

// DecodeQueueConfig holds queue limits. Zero values disable the
// corresponding limit.
type DecodeQueueConfig struct {
	MaxConcurrent  int
	MaxQueueSize   int
	RequestTimeout time.Duration
}

// NewDecodeQueue creates a decode admission queue.
func NewDecodeQueue(config DecodeQueueConfig, logger *zap.Logger) *DecodeQueue {
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &DecodeQueue{
		maxConcurrent: int64(config.MaxConcurrent),
		maxQueueSize:  int64(config.MaxQueueSize),
		timeout:       config.RequestTimeout,
		logger:        logger,
	}

	if config.MaxConcurrent > 0 {
		q.sem = make(chan struct{}, config.MaxConcurrent)
		logger.Info("Decode queue initialized",
			zap.Int("max_concurrent", config.MaxConcurrent),
			zap.Int("max_queue_size", config.MaxQueueSize),
			zap.Duration("timeout", config.RequestTimeout))
	} else {
		logger.Info("Decode queue disabled (unlimited concurrency)")
	}

	return q
}

// Acquire claims a decode slot, waiting in the queue when all slots are
// busy. The returned release function must be called when the decode pass
// finishes. Returns ErrQueueFull when the wait queue is at capacity and
// ErrQueueTimeout when the configured timeout elapses first.
func (q *DecodeQueue) Acquire(ctx context.Context) (release func(), err error) {
	if q.sem == nil {
		q.currentActive.Add(1)
		return func() {
			q.currentActive.Add(-1)
			q.totalProcessed.Add(1)
		}, nil
	}

	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer func() {
			if err != nil {
				cancel()
			}
		}()
	}

	// Fast path: a slot is free right now.
	select {
	case q.sem <- struct{}{}:
		q.currentActive.Add(1)
		return q.makeRelease(), nil
	default:
	}

	// Reserve a queue slot with a CAS loop so concurrent callers cannot all
	// pass the capacity check before any of them increments.
	if q.maxQueueSize > 0 {
		for {
			queued := q.currentQueued.Load()
			if queued >= q.maxQueueSize {
				q.totalRejected.Add(1)
				q.logger.Warn("Decode request rejected: queue full",
					zap.Int64("queued", queued),
					zap.Int64("max_queue", q.maxQueueSize))
				return nil, ErrQueueFull
			}
			if q.currentQueued.CompareAndSwap(queued, queued+1) {
				break
			}
		}
	} else {
		q.currentQueued.Add(1)
	}
	queueStart := time.Now()

	q.logger.Debug("Decode request queued",
		zap.Int64("queue_depth", q.currentQueued.Load()))

	select {
	case q.sem <- struct{}{}:
		q.currentQueued.Add(-1)
		q.currentActive.Add(1)
		q.logger.Debug("Decode request dequeued",
			zap.Duration("wait_time", time.Since(queueStart)))
		return q.makeRelease(), nil

	case <-ctx.Done():
		q.currentQueued.Add(-1)
		if ctx.Err() == context.DeadlineExceeded {
			q.totalTimedOut.Add(1)
			q.logger.Warn("Decode request timed out in queue",
				zap.Duration("wait_time", time.Since(queueStart)),
				zap.Duration("timeout", q.timeout))
			return nil, ErrQueueTimeout
		}
		return nil, ctx.Err()
	}
}

func (q *DecodeQueue) makeRelease() func() {
	return func() {
		q.currentActive.Add(-1)
		q.totalProcessed.Add(1)
		<-q.sem
	}
}

// QueueStats holds decode queue statistics.
type QueueStats struct {
	CurrentActive  int64 `json:"current_active"`
	CurrentQueued  int64 `json:"current_queued"`
	TotalProcessed int64 `json:"total_processed"`
	TotalRejected  int64 `json:"total_rejected"`
	TotalTimedOut  int64 `json:"total_timed_out"`
	MaxConcurrent  int64 `json:"max_concurrent"`
	MaxQueueSize   int64 `json:"max_queue_size"`
}

// Stats returns a snapshot of the queue counters.
func (q *DecodeQueue) Stats() QueueStats {
	return QueueStats{
		CurrentActive:  q.currentActive.Load(),
		CurrentQueued:  q.currentQueued.Load(),
		TotalProcessed: q.totalProcessed.Load(),
		TotalRejected:  q.totalRejected.Load(),
		TotalTimedOut:  q.totalTimedOut.Load(),
		MaxConcurrent:  q.maxConcurrent,
		MaxQueueSize:   q.maxQueueSize,
	}
}

// IsEnabled reports whether concurrency limiting is active.
func (q *DecodeQueue) IsEnabled() bool {
	return q.sem != nil
}
