package model

import (
	"errors"
	"fmt"

	"decodelm/pkg/sampling"
)

var (
	// ErrConfiguration is wrapped by every configuration failure.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrSequenceTooLong is wrapped when a sequence exceeds MaxSeqLen.
	ErrSequenceTooLong = errors.New("sequence too long")
	// ErrTokenOutOfRange is wrapped when a token id is outside [0, VocabSize).
	ErrTokenOutOfRange = errors.New("token out of range")
	// ErrEmptySequence is returned when a forward pass receives no tokens.
	ErrEmptySequence = errors.New("empty token sequence")
	// ErrInvalidTemperature is returned for a non-positive sampling temperature.
	ErrInvalidTemperature = sampling.ErrInvalidTemperature
)

// ConfigurationError reports a rejected configuration field.
type ConfigurationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s=%v %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// SequenceTooLongError reports a sequence longer than the model supports.
type SequenceTooLongError struct {
	Length    int
	MaxSeqLen int
}

func (e *SequenceTooLongError) Error() string {
	return fmt.Sprintf("sequence length %d exceeds max_seq_len %d", e.Length, e.MaxSeqLen)
}

func (e *SequenceTooLongError) Unwrap() error { return ErrSequenceTooLong }

// TokenOutOfRangeError reports a token id outside the vocabulary.
type TokenOutOfRangeError struct {
	Position  int
	Token     int
	VocabSize int
}

func (e *TokenOutOfRangeError) Error() string {
	return fmt.Sprintf("token %d at position %d is outside [0, %d)", e.Token, e.Position, e.VocabSize)
}

func (e *TokenOutOfRangeError) Unwrap() error { return ErrTokenOutOfRange }
