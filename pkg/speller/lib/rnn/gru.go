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

package rnn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/antflydb/speller/pkg/speller/lib/layers"
)

// cell advances one layer by one step. x and h are [batch x hidden]; c is
// the cell tensor for paired cells and nil otherwise. Returned matrices are
// freshly allocated.
type cell interface {
	step(x, h, c *mat.Dense) (hNew, cNew *mat.Dense)
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// affine computes x*W + s*U + b applied elementwise through fn.
func affine(x, w, s, u *mat.Dense, b []float64, fn func(float64) float64) *mat.Dense {
	var xw, su mat.Dense
	xw.Mul(x, w)
	su.Mul(s, u)
	xw.Add(&xw, &su)
	rows, cols := xw.Dims()
	for i := 0; i < rows; i++ {
		row := xw.RawRowView(i)
		for j := 0; j < cols; j++ {
			row[j] = fn(row[j] + b[j])
		}
	}
	return &xw
}

// gruCell holds the update (z), reset (r) and candidate (h) gate weights for
// one layer. Input and hidden widths are equal.
type gruCell struct {
	wz, wr, wh *mat.Dense // input weights, hidden x hidden
	uz, ur, uh *mat.Dense // recurrent weights, hidden x hidden
	bz, br, bh []float64
}

func newGRUCell(hidden int, rng *rand.Rand) *gruCell {
	return &gruCell{
		wz: layers.Glorot(rng, hidden, hidden),
		wr: layers.Glorot(rng, hidden, hidden),
		wh: layers.Glorot(rng, hidden, hidden),
		uz: layers.Glorot(rng, hidden, hidden),
		ur: layers.Glorot(rng, hidden, hidden),
		uh: layers.Glorot(rng, hidden, hidden),
		bz: make([]float64, hidden),
		br: make([]float64, hidden),
		bh: make([]float64, hidden),
	}
}

func (g *gruCell) step(x, h, _ *mat.Dense) (*mat.Dense, *mat.Dense) {
	z := affine(x, g.wz, h, g.uz, g.bz, sigmoid)
	r := affine(x, g.wr, h, g.ur, g.br, sigmoid)

	var rh mat.Dense
	rh.MulElem(r, h)
	cand := affine(x, g.wh, &rh, g.uh, g.bh, math.Tanh)

	// hNew = (1-z)*h + z*cand
	rows, cols := h.Dims()
	hNew := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		hRow, zRow, cRow, outRow := h.RawRowView(i), z.RawRowView(i), cand.RawRowView(i), hNew.RawRowView(i)
		for j := 0; j < cols; j++ {
			outRow[j] = (1-zRow[j])*hRow[j] + zRow[j]*cRow[j]
		}
	}
	return hNew, nil
}
