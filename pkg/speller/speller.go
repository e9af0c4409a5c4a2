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

// Package speller implements the decoder half of a listen-attend-spell
// speech recognizer. Given listener (encoder) outputs it produces one
// vocabulary distribution per step, autoregressively or teacher-forced,
// until end-of-sequence or a maximum length.
package speller

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/antflydb/speller/pkg/speller/lib/attention"
	"github.com/antflydb/speller/pkg/speller/lib/layers"
	"github.com/antflydb/speller/pkg/speller/lib/rnn"
)

// NormalizeFunc maps raw vocabulary logits [batch x vocab] to a
// probability-like distribution along the vocabulary axis.
type NormalizeFunc func(logits *mat.Dense) *mat.Dense

// LogSoftmax is the default normalization: a numerically stable
// log-probability over the vocabulary axis.
func LogSoftmax(logits *mat.Dense) *mat.Dense {
	rows, cols := logits.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		row := logits.RawRowView(i)
		lse := floats.LogSumExp(row)
		outRow := out.RawRowView(i)
		for j := 0; j < cols; j++ {
			outRow[j] = row[j] - lse
		}
	}
	return out
}

// DecodeInput carries the per-call inputs of a decode pass. All fields are
// optional; see Decode for how missing fields are resolved.
type DecodeInput struct {
	// Targets is the ground-truth token sequence [batch][seqLen], starting
	// with the start-of-sequence token. Required for teacher forcing.
	Targets [][]int

	// InitialHidden is the listener's final hidden state. It is used only to
	// infer the batch size when Targets is nil; the decoder always unrolls
	// from a zero hidden state.
	InitialHidden rnn.State

	// EncoderOutputs holds one [sourceLen x hidden] matrix per batch
	// element. Required when attention is enabled.
	EncoderOutputs []*mat.Dense
}

// DecodeOptions configures one decode pass.
type DecodeOptions struct {
	// TeacherForcingRatio is the probability that this call unrolls
	// teacher-forced instead of autoregressively. Drawn once per call, not
	// per step, so the unrolling structure is fixed for the whole pass.
	TeacherForcingRatio float64

	// Normalize maps logits to the returned distributions. Defaults to
	// LogSoftmax.
	Normalize NormalizeFunc
}

// DefaultDecodeOptions returns the default decode options.
func DefaultDecodeOptions() DecodeOptions {
	return DecodeOptions{
		TeacherForcingRatio: 0.99,
		Normalize:           LogSoftmax,
	}
}

// DecodeResult is the output of one decode pass.
type DecodeResult struct {
	// Outputs holds one normalized [batch x vocab] distribution per step.
	Outputs []*mat.Dense

	// Hidden is the recurrent state after the last step.
	Hidden rnn.State

	// AttentionScores holds one [batch x sourceLen] alignment per step.
	// Nil when attention is disabled; otherwise always the same length as
	// Outputs.
	AttentionScores []*mat.Dense

	// Sequence holds the argmax symbol per batch element for every step.
	Sequence [][]int

	// Lengths maps batch index to the number of steps up to and including
	// that element's first end-of-sequence emission, or the step count if it
	// never emitted one. Values are in [1, maxLength]; the first
	// end-of-sequence wins and is never overwritten.
	Lengths []int
}

// Option customizes Speller construction.
type Option func(*Speller)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Speller) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRand injects the random source used for weight initialization, the
// teacher-forcing draw and dropout masks. Fixing it makes decoding
// reproducible.
func WithRand(rng *rand.Rand) Option {
	return func(s *Speller) {
		if rng != nil {
			s.rng = rng
		}
	}
}

// Speller converts listener features into output utterances by producing a
// probability distribution over vocabulary symbols one step at a time. It
// holds only learned parameters between calls; every Decode owns its state
// exclusively, so distinct Spellers may decode concurrently.
type Speller struct {
	cfg Config

	embedding    *layers.Embedding
	stack        *rnn.Stack
	attend       *attention.Attention // nil when attention is disabled
	out          *layers.Linear
	inputDropout layers.Dropout

	rng      *rand.Rand
	logger   *zap.Logger
	training bool
}

// New constructs a Speller from cfg. Configuration errors are reported
// before any weight allocation.
func New(cfg Config, opts ...Option) (*Speller, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Speller{
		cfg:          cfg,
		inputDropout: layers.Dropout{P: cfg.DropoutP},
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.embedding = layers.NewEmbedding(cfg.VocabSize, cfg.HiddenSize, s.rng)
	stack, err := rnn.NewStack(cfg.CellKind, cfg.NumLayers, cfg.HiddenSize, cfg.DropoutP, s.rng)
	if err != nil {
		return nil, err
	}
	s.stack = stack
	if cfg.UseAttention {
		s.attend = attention.New(cfg.HiddenSize, s.rng)
	}
	s.out = layers.NewLinear(cfg.HiddenSize, cfg.VocabSize, s.rng)

	return s, nil
}

// Config returns a copy of the decoder configuration.
func (s *Speller) Config() Config { return s.cfg }

// SetTraining toggles dropout. Decoding is deterministic (given a fixed
// random source and teacher forcing ratio of exactly 0 or 1) only when
// training is off.
func (s *Speller) SetTraining(training bool) {
	s.training = training
	s.stack.SetTraining(training)
}

// Decode runs one full decoding pass over a batch. A single uniform draw
// selects between teacher-forced unrolling (the whole target prefix fed as
// one multi-step transition) and autoregressive unrolling (one token per
// step, feeding each step's argmax into the next). Both strategies run the
// same per-step bookkeeping; the autoregressive loop always executes the
// full maxLength steps, with per-sample early stopping recorded in Lengths
// rather than cutting the loop short.
func (s *Speller) Decode(ctx context.Context, input *DecodeInput, opts DecodeOptions) (*DecodeResult, error) {
	start := time.Now()
	if input == nil {
		input = &DecodeInput{}
	}
	if opts.Normalize == nil {
		opts.Normalize = LogSoftmax
	}
	if opts.TeacherForcingRatio < 0 || opts.TeacherForcingRatio > 1 {
		decodesTotal.WithLabelValues(strategyInvalid, statusError).Inc()
		return nil, fmt.Errorf("%w: teacher forcing ratio must be in [0,1], got %g", ErrInvalidConfig, opts.TeacherForcingRatio)
	}

	// One cancellation point before any numeric work; the unrolling loops
	// themselves run to completion once started.
	select {
	case <-ctx.Done():
		decodesTotal.WithLabelValues(strategyInvalid, statusError).Inc()
		return nil, ctx.Err()
	default:
	}

	inputs, batch, maxLength, err := s.resolveInputs(input, opts.TeacherForcingRatio)
	if err != nil {
		decodesTotal.WithLabelValues(strategyInvalid, statusError).Inc()
		return nil, err
	}

	// The listener hidden state only sizes the batch above; unrolling always
	// starts from zeros.
	hidden := s.stack.ZeroState(batch)

	useTeacherForcing := s.rng.Float64() < opts.TeacherForcingRatio
	strategy := strategyAutoregressive
	if useTeacherForcing {
		strategy = strategyTeacherForced
	}

	acc := newDecodeAccumulator(batch, maxLength, s.cfg.EOSID, s.attend != nil)

	if useTeacherForcing {
		// Feed the whole target prefix (all tokens but the last) as one
		// multi-step transition, then post-process per step.
		forced := make([][]int, batch)
		for b, row := range inputs {
			forced[b] = row[:len(row)-1]
		}
		outputs, newHidden, aligns := s.forwardStep(forced, hidden, input.EncoderOutputs, opts.Normalize)
		hidden = newHidden
		for di, stepOutput := range outputs {
			var stepAlign *mat.Dense
			if aligns != nil {
				stepAlign = aligns[di]
			}
			acc.recordAndCheckStop(di, stepOutput, stepAlign)
		}
	} else {
		// Step t+1's input is step t's argmax, so the unrolling is manual.
		current := make([][]int, batch)
		for b, row := range inputs {
			current[b] = []int{row[0]}
		}
		for di := 0; di < maxLength; di++ {
			outputs, newHidden, aligns := s.forwardStep(current, hidden, input.EncoderOutputs, opts.Normalize)
			hidden = newHidden
			var stepAlign *mat.Dense
			if aligns != nil {
				stepAlign = aligns[0]
			}
			symbols := acc.recordAndCheckStop(di, outputs[0], stepAlign)
			for b, sym := range symbols {
				current[b] = []int{sym}
			}
		}
	}

	decodesTotal.WithLabelValues(strategy, statusOK).Inc()
	decodeSteps.Add(float64(len(acc.outputs)))
	decodeDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
	for _, l := range acc.lengths {
		sequenceLength.Observe(float64(l))
	}

	s.logger.Debug("Decode complete",
		zap.String("strategy", strategy),
		zap.Int("batch", batch),
		zap.Int("steps", len(acc.outputs)),
		zap.Ints("lengths", acc.lengths))

	return &DecodeResult{
		Outputs:         acc.outputs,
		Hidden:          hidden,
		AttentionScores: acc.attention,
		Sequence:        acc.sequence,
		Lengths:         acc.lengths,
	}, nil
}

// forwardStep advances decoding by one chunk of input tokens: a single
// token per element autoregressively, or a whole teacher-forced prefix.
// tokens is [batch][steps]; the returned slices are step-major. Alignments
// are nil when attention is disabled.
func (s *Speller) forwardStep(tokens [][]int, st rnn.State, encoderOutputs []*mat.Dense, normalize NormalizeFunc) ([]*mat.Dense, rnn.State, []*mat.Dense) {
	steps := len(tokens[0])

	xs := make([]*mat.Dense, steps)
	ids := make([]int, len(tokens))
	for t := 0; t < steps; t++ {
		for b, row := range tokens {
			ids[b] = row[t]
		}
		embedded := s.embedding.Lookup(ids)
		xs[t] = s.inputDropout.Apply(embedded, s.rng, s.training)
	}

	rnnOutputs, newState := s.stack.Forward(xs, st)

	var aligns []*mat.Dense
	outputs := make([]*mat.Dense, steps)
	for t, out := range rnnOutputs {
		if s.attend != nil {
			blended, align := s.attend.Apply(out, encoderOutputs)
			out = blended
			aligns = append(aligns, align)
		}
		outputs[t] = normalize(s.out.Forward(out))
	}
	return outputs, newState, aligns
}

// resolveInputs turns the optional call inputs into a fully determined
// (inputs, batch, maxLength) triple. Batch size comes from the targets,
// else from the initial hidden state, else defaults to 1. Without targets
// the max length is the configured maximum and the sole input is a column
// of start-of-sequence tokens; with targets it is the target length minus
// the leading start-of-sequence token.
func (s *Speller) resolveInputs(input *DecodeInput, teacherForcingRatio float64) ([][]int, int, int, error) {
	if s.attend != nil && input.EncoderOutputs == nil {
		return nil, 0, 0, ErrMissingEncoderOutputs
	}

	batch := 1
	switch {
	case input.Targets != nil:
		if len(input.Targets) == 0 {
			return nil, 0, 0, fmt.Errorf("%w: empty batch", ErrInvalidTargets)
		}
		batch = len(input.Targets)
	case input.InitialHidden != nil:
		batch = input.InitialHidden.Batch()
	}

	if s.attend != nil && len(input.EncoderOutputs) != batch {
		return nil, 0, 0, fmt.Errorf("%w: got %d encoder outputs for batch %d",
			ErrBatchMismatch, len(input.EncoderOutputs), batch)
	}

	if input.Targets == nil {
		if teacherForcingRatio > 0 {
			return nil, 0, 0, ErrTeacherForcingNeedsTargets
		}
		inputs := make([][]int, batch)
		for b := range inputs {
			inputs[b] = []int{s.cfg.SOSID}
		}
		return inputs, batch, s.cfg.MaxLength, nil
	}

	seqLen := len(input.Targets[0])
	if seqLen < 2 {
		return nil, 0, 0, fmt.Errorf("%w: sequences must hold the start token plus at least one symbol", ErrInvalidTargets)
	}
	for b, row := range input.Targets {
		if len(row) != seqLen {
			return nil, 0, 0, fmt.Errorf("%w: ragged batch, row %d has length %d, want %d",
				ErrInvalidTargets, b, len(row), seqLen)
		}
	}
	return input.Targets, batch, seqLen - 1, nil
}
