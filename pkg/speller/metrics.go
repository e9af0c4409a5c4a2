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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	strategyTeacherForced  = "teacher_forced"
	strategyAutoregressive = "autoregressive"
	strategyInvalid        = "invalid"

	statusOK    = "ok"
	statusError = "error"
)

// Metrics for Prometheus scraping
var (
	decodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speller_decodes_total",
			Help: "Total decode calls by unrolling strategy and status",
		},
		[]string{"strategy", "status"},
	)

	decodeSteps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speller_decode_steps_total",
			Help: "Total decode steps executed",
		},
	)

	decodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "speller_decode_duration_seconds",
			Help:    "Decode call latency by unrolling strategy",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"strategy"},
	)

	sequenceLength = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "speller_sequence_length",
			Help:    "Effective decoded sequence lengths after early stopping",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	poolRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speller_pool_rejections_total",
			Help: "Decode requests rejected because the pool queue was full",
		},
	)
)
