// Package rules compiles tenant rule sources and runs events through them.
package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/itchyny/gojq"
)

// Transform is a compiled rule body.
type Transform interface {
	Run(ctx context.Context, input any) (any, error)
}

// Compiler turns source text into a Transform.
type Compiler interface {
	Compile(source string) (Transform, error)
}

// CompileError reports source that could not be compiled.
type CompileError struct {
	Err error
}

func (e *CompileError) Error() string { return "compile rule: " + e.Err.Error() }
func (e *CompileError) Unwrap() error { return e.Err }

// RunError reports a transform that failed while running.
type RunError struct {
	Err error
}

func (e *RunError) Error() string { return "run rule: " + e.Err.Error() }
func (e *RunError) Unwrap() error { return e.Err }

var errNoOutput = errors.New("transform produced no output")

// JQCompiler compiles jq programs. A program's first emitted value is its output.
type JQCompiler struct{}

// Compile parses and compiles source.
func (JQCompiler) Compile(source string) (Transform, error) {
	query, err := gojq.Parse(source)
	if err != nil {
		return nil, &CompileError{Err: err}
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, &CompileError{Err: err}
	}
	return jqTransform{code: code}, nil
}

type jqTransform struct {
	code *gojq.Code
}

func (t jqTransform) Run(ctx context.Context, input any) (any, error) {
	iter := t.code.RunWithContext(ctx, input)
	v, ok := iter.Next()
	if !ok {
		return nil, &RunError{Err: errNoOutput}
	}
	if err, isErr := v.(error); isErr {
		return nil, &RunError{Err: err}
	}
	return v, nil
}

// Document converts v into the plain map/slice/float64 shape transforms accept.
func Document(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}
