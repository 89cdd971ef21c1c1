package nl2sql

import (
	"context"
	"errors"
	"fmt"
)

// DefaultTemperature keeps SQL generation close to deterministic.
const DefaultTemperature = 0.1

var ErrNoSQL = errors.New("model response did not contain a valid SQL query")

// Model is a text-completion backend.
type Model interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

// ModelFunc adapts a plain function to Model.
type ModelFunc func(ctx context.Context, prompt string, temperature float64) (string, error)

func (f ModelFunc) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	return f(ctx, prompt, temperature)
}

// GenerationError reports a failed generation. Err is either ErrNoSQL or the
// model transport error.
type GenerationError struct {
	Err error
	Raw string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate sql: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
