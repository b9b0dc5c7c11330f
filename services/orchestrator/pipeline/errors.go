// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"errors"
	"fmt"

	"github.com/finsightai/finsight/services/orchestrator/datatypes"
)

// FetchError marks the failure of one evidence branch. It is recorded in the
// turn record and never aborts the turn.
type FetchError struct {
	Branch datatypes.Branch
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed for branch %s: %v", e.Branch, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchError reports whether err is (or wraps) a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// EmitError marks a failure to deliver an event to the client, which almost
// always means the client disconnected. The orchestrator aborts the turn and
// skips the history commit when it sees one.
type EmitError struct {
	Err error
}

func (e *EmitError) Error() string {
	return fmt.Sprintf("event delivery failed: %v", e.Err)
}

func (e *EmitError) Unwrap() error {
	return e.Err
}

// IsEmitError reports whether err is (or wraps) an EmitError.
func IsEmitError(err error) bool {
	var ee *EmitError
	return errors.As(err, &ee)
}

// SynthesisError marks a failed answer generation. ChunksEmitted tells the
// caller whether the client already saw partial output.
type SynthesisError struct {
	ChunksEmitted int
	Err           error
}

func (e *SynthesisError) Error() string {
	if e.ChunksEmitted > 0 {
		return fmt.Sprintf("synthesis failed after %d chunks: %v", e.ChunksEmitted, e.Err)
	}
	return fmt.Sprintf("synthesis failed before any chunk: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}
