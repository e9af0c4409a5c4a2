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
	"errors"
	"fmt"

	"github.com/antflydb/speller/pkg/speller/lib/rnn"
)

var (
	// ErrMissingEncoderOutputs is returned when attention is enabled but no
	// encoder output sequence was supplied.
	ErrMissingEncoderOutputs = errors.New("speller: encoder outputs are required when attention is enabled")

	// ErrTeacherForcingNeedsTargets is returned when a positive teacher
	// forcing ratio is requested without a target sequence to force against.
	ErrTeacherForcingNeedsTargets = errors.New("speller: teacher forcing ratio must be 0 when no targets are provided")

	// ErrInvalidTargets is returned for empty or ragged target batches.
	ErrInvalidTargets = errors.New("speller: invalid targets")

	// ErrBatchMismatch is returned when the encoder output batch does not
	// match the resolved decode batch.
	ErrBatchMismatch = errors.New("speller: encoder outputs batch does not match decode batch")

	// ErrInvalidConfig is returned for out-of-range configuration values.
	ErrInvalidConfig = errors.New("speller: invalid config")
)

// Config holds the decoder hyperparameters. It is immutable after
// construction; the Speller keeps its own copy.
type Config struct {
	// VocabSize is the size of the output vocabulary.
	VocabSize int
	// MaxLength bounds the number of decode steps when no targets are given.
	MaxLength int
	// HiddenSize is the width of the hidden state (and of the embedding).
	HiddenSize int
	// SOSID is the start-of-sequence token id.
	SOSID int
	// EOSID is the end-of-sequence token id.
	EOSID int
	// NumLayers is the number of stacked recurrent layers (default 1).
	NumLayers int
	// CellKind selects the recurrent cell, "gru" or "lstm" (default gru).
	CellKind rnn.CellKind
	// Bidirectional records whether the upstream listener is bidirectional.
	// Informational only; the decoder itself is always unidirectional.
	Bidirectional bool
	// DropoutP is the dropout probability, applied to embedded inputs and
	// between stacked layers while training.
	DropoutP float64
	// UseAttention enables attention over encoder outputs.
	UseAttention bool
}

// DefaultConfig returns a config with the usual defaults; VocabSize,
// MaxLength, HiddenSize and the token ids still have to be filled in.
func DefaultConfig() Config {
	return Config{
		NumLayers:     1,
		CellKind:      rnn.CellGRU,
		Bidirectional: true,
		UseAttention:  true,
	}
}

// withDefaults fills zero-valued optional fields.
func (c Config) withDefaults() Config {
	if c.NumLayers == 0 {
		c.NumLayers = 1
	}
	if c.CellKind == "" {
		c.CellKind = rnn.CellGRU
	}
	return c
}

// Validate reports configuration errors. Unsupported cell kinds and
// out-of-range values are rejected before any weight allocation happens.
func (c Config) Validate() error {
	if c.VocabSize <= 0 {
		return fmt.Errorf("%w: vocab size must be positive, got %d", ErrInvalidConfig, c.VocabSize)
	}
	if c.MaxLength <= 0 {
		return fmt.Errorf("%w: max length must be positive, got %d", ErrInvalidConfig, c.MaxLength)
	}
	if c.HiddenSize <= 0 {
		return fmt.Errorf("%w: hidden size must be positive, got %d", ErrInvalidConfig, c.HiddenSize)
	}
	if c.NumLayers < 1 {
		return fmt.Errorf("%w: layer count must be at least 1, got %d", ErrInvalidConfig, c.NumLayers)
	}
	if c.DropoutP < 0 || c.DropoutP > 1 {
		return fmt.Errorf("%w: dropout probability must be in [0,1], got %g", ErrInvalidConfig, c.DropoutP)
	}
	if c.SOSID < 0 || c.SOSID >= c.VocabSize {
		return fmt.Errorf("%w: sos id %d outside vocabulary", ErrInvalidConfig, c.SOSID)
	}
	if c.EOSID < 0 || c.EOSID >= c.VocabSize {
		return fmt.Errorf("%w: eos id %d outside vocabulary", ErrInvalidConfig, c.EOSID)
	}
	if _, err := rnn.ParseCellKind(string(c.CellKind)); err != nil {
		return err
	}
	return nil
}
