// Copyright 2025 The VoxFlow Authors
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

// Package jq evaluates the user-supplied `select` query parameter
// against API response payloads. Expressions are untrusted input, so
// evaluation is bounded in both time and payload size.
package jq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"

	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

const (
	// DefaultTimeout bounds one expression evaluation.
	DefaultTimeout = 1 * time.Second

	// DefaultMaxInput bounds the payload an expression may run over.
	DefaultMaxInput = 1 << 20 // 1 MiB
)

// Selector applies jq expressions to response payloads.
type Selector struct {
	timeout  time.Duration
	maxInput int64
}

// NewSelector builds a selector; zero values take the defaults.
func NewSelector(timeout time.Duration, maxInput int64) *Selector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxInput <= 0 {
		maxInput = DefaultMaxInput
	}
	return &Selector{timeout: timeout, maxInput: maxInput}
}

// Apply evaluates expression over payload. An empty expression returns
// the payload unchanged. A single jq output is returned bare, multiple
// outputs as an array. All failure modes surface as ValidationError on
// the select field: the expression, not the server, is at fault.
func (s *Selector) Apply(ctx context.Context, expression string, payload any) (any, error) {
	if expression == "" {
		return payload, nil
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jq: encode payload: %w", err)
	}
	if int64(len(encoded)) > s.maxInput {
		return nil, &vferrors.ValidationError{
			Field:   "select",
			Message: fmt.Sprintf("payload is %d bytes, select supports up to %d", len(encoded), s.maxInput),
		}
	}

	// Round-trip through JSON so the expression sees plain maps and
	// slices, never this package's structs.
	var data any
	if err := json.Unmarshal(encoded, &data); err != nil {
		return nil, fmt.Errorf("jq: decode payload: %w", err)
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, &vferrors.ValidationError{
			Field:      "select",
			Message:    fmt.Sprintf("invalid jq expression: %v", err),
			Suggestion: "check the expression with a local jq first",
		}
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, &vferrors.ValidationError{
			Field:   "select",
			Message: fmt.Sprintf("jq expression does not compile: %v", err),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	iter := code.RunWithContext(execCtx, data)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if execCtx.Err() != nil {
				return nil, &vferrors.ValidationError{
					Field:   "select",
					Message: fmt.Sprintf("expression exceeded the %s evaluation limit", s.timeout),
				}
			}
			return nil, &vferrors.ValidationError{
				Field:   "select",
				Message: fmt.Sprintf("jq evaluation failed: %v", err),
			}
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// Validate compiles the expression without running it.
func (s *Selector) Validate(expression string) error {
	if expression == "" {
		return nil
	}
	query, err := gojq.Parse(expression)
	if err != nil {
		return &vferrors.ValidationError{
			Field:   "select",
			Message: fmt.Sprintf("invalid jq expression: %v", err),
		}
	}
	if _, err := gojq.Compile(query); err != nil {
		return &vferrors.ValidationError{
			Field:   "select",
			Message: fmt.Sprintf("jq expression does not compile: %v", err),
		}
	}
	return nil
}
