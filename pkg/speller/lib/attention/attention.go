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

// Package attention implements dot-product attention over encoder outputs
// with a tanh combine projection, as used by the speller decoder.
package attention

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/antflydb/speller/pkg/speller/lib/layers"
)

// Attention blends a decoder query with encoder outputs. The blended
// context and the query are concatenated and projected back to the hidden
// width through a tanh nonlinearity.
type Attention struct {
	combine *mat.Dense // 2*hidden x hidden
	hidden  int
}

// New creates an attention module for the given hidden width.
func New(hidden int, rng *rand.Rand) *Attention {
	return &Attention{
		combine: layers.Glorot(rng, 2*hidden, hidden),
		hidden:  hidden,
	}
}

// Apply attends one decode step. query is [batch x hidden]; context holds
// one [sourceLen x hidden] matrix per batch element. It returns the blended
// output [batch x hidden] and the alignment weights [batch x sourceLen],
// each alignment row summing to one.
func (a *Attention) Apply(query *mat.Dense, context []*mat.Dense) (*mat.Dense, *mat.Dense) {
	batch, _ := query.Dims()
	sourceLen, _ := context[0].Dims()

	align := mat.NewDense(batch, sourceLen, nil)
	concat := mat.NewDense(batch, 2*a.hidden, nil)
	for b := 0; b < batch; b++ {
		q := query.RawRowView(b)
		ctx := context[b]

		scores := align.RawRowView(b)
		for s := 0; s < sourceLen; s++ {
			scores[s] = floats.Dot(ctx.RawRowView(s), q)
		}
		softmaxInPlace(scores)

		blended := concat.RawRowView(b)[:a.hidden]
		for s := 0; s < sourceLen; s++ {
			floats.AddScaled(blended, scores[s], ctx.RawRowView(s))
		}
		copy(concat.RawRowView(b)[a.hidden:], q)
	}

	var out mat.Dense
	out.Mul(concat, a.combine)
	out.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, &out)
	return &out, align
}

// softmaxInPlace normalizes s into a probability distribution, subtracting
// the max for numerical stability.
func softmaxInPlace(s []float64) {
	max := floats.Max(s)
	var sum float64
	for i, v := range s {
		s[i] = math.Exp(v - max)
		sum += s[i]
	}
	if sum > 0 {
		floats.Scale(1/sum, s)
	}
}
