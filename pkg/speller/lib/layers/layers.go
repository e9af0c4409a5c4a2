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

// Package layers provides the dense building blocks shared by the speller
// decoder: token embedding, output projection, and inverted dropout.
package layers

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Glorot returns a rows x cols matrix initialized with Glorot-uniform
// weights drawn from rng.
func Glorot(rng *rand.Rand, rows, cols int) *mat.Dense {
	limit := math.Sqrt(6.0 / float64(rows+cols))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return mat.NewDense(rows, cols, data)
}

// Embedding maps token ids to dense vectors.
type Embedding struct {
	weight *mat.Dense // vocab x dim
	dim    int
}

// NewEmbedding creates an embedding table for vocabSize tokens of width dim.
func NewEmbedding(vocabSize, dim int, rng *rand.Rand) *Embedding {
	return &Embedding{
		weight: Glorot(rng, vocabSize, dim),
		dim:    dim,
	}
}

// Lookup returns a [len(tokens) x dim] matrix whose i-th row is the
// embedding of tokens[i]. Ids outside the vocabulary are a caller contract
// violation.
func (e *Embedding) Lookup(tokens []int) *mat.Dense {
	out := mat.NewDense(len(tokens), e.dim, nil)
	for i, id := range tokens {
		out.SetRow(i, e.weight.RawRowView(id))
	}
	return out
}

// Linear is a fully connected projection with bias.
type Linear struct {
	weight *mat.Dense // in x out
	bias   []float64
}

// NewLinear creates an in -> out projection.
func NewLinear(in, out int, rng *rand.Rand) *Linear {
	return &Linear{
		weight: Glorot(rng, in, out),
		bias:   make([]float64, out),
	}
}

// Forward applies the projection to a [batch x in] matrix and returns a
// [batch x out] matrix.
func (l *Linear) Forward(x *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Mul(x, l.weight)
	rows, cols := out.Dims()
	for i := 0; i < rows; i++ {
		row := out.RawRowView(i)
		for j := 0; j < cols; j++ {
			row[j] += l.bias[j]
		}
	}
	return &out
}

// Dropout applies inverted dropout with probability P. It is a no-op when
// inactive or when P is zero, so inference paths stay deterministic.
type Dropout struct {
	P float64
}

// Apply returns x with each element zeroed with probability P and the
// survivors scaled by 1/(1-P). When active is false or P == 0 the input is
// returned unchanged.
func (d Dropout) Apply(x *mat.Dense, rng *rand.Rand, active bool) *mat.Dense {
	if !active || d.P <= 0 {
		return x
	}
	keep := 1 - d.P
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 {
		if rng.Float64() < d.P {
			return 0
		}
		return v / keep
	}, x)
	return &out
}
