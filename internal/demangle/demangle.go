// Package demangle turns batches of Itanium-mangled names into C++ text.
//
// A Demangler must answer every batch with exactly one line per input name,
// in input order. Addresses are paired with names by position, so Batches
// treats any other count as fatal.
package demangle

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrBatchMismatch = errors.New("demangle: batch count mismatch")
	ErrTimeout       = errors.New("demangle: timed out")
	ErrTool          = errors.New("demangle: tool failed")
)

// DefaultBatchSize is the number of names handed to a Demangler per call.
const DefaultBatchSize = 100

// DefaultTimeout bounds a single external demangler invocation.
const DefaultTimeout = 30 * time.Second

// Demangler demangles an ordered batch of names.
type Demangler interface {
	Demangle(ctx context.Context, names []string) ([]string, error)
}

// Func adapts a function to the Demangler interface.
type Func func(ctx context.Context, names []string) ([]string, error)

func (f Func) Demangle(ctx context.Context, names []string) ([]string, error) {
	return f(ctx, names)
}

// Batches demangles names in chunks of size. The result is aligned with names.
func Batches(ctx context.Context, d Demangler, names []string, size int) ([]string, error) {
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([]string, 0, len(names))
	for start := 0; start < len(names); start += size {
		end := start + size
		if end > len(names) {
			end = len(names)
		}
		batch := names[start:end]
		got, err := d.Demangle(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("demangle: batch at %d: %w", start, err)
		}
		if len(got) != len(batch) {
			return nil, fmt.Errorf("%w: batch at %d sent %d names, got %d lines",
				ErrBatchMismatch, start, len(batch), len(got))
		}
		out = append(out, got...)
	}
	return out, nil
}

// New returns the demangler registered under name: "native" selects the
// in-process decoder, anything else is taken as an external filter program.
func New(name string, timeout time.Duration) Demangler {
	if name == "native" {
		return Native{}
	}
	if name == "" {
		name = "llvm-cxxfilt"
	}
	return &Tool{Path: name, Timeout: timeout}
}
