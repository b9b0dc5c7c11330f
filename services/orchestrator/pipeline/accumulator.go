// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// =============================================================================
// Answer accumulation
// =============================================================================

// answerBufferSize is the capacity of the answer buffer. 512 KB holds around
// 131,000 tokens at 4 bytes per token, far beyond any single answer.
const answerBufferSize = 512 * 1024

// minMlockLimitKB is the mlock limit required for locked-memory accumulation.
const minMlockLimitKB = 512

var (
	memlockCheckOnce  sync.Once
	memlockSufficient bool
	memlockLimitKB    int64
)

// AnswerAccumulator collects streamed answer tokens for one turn.
//
// # Description
//
// Tokens are appended to memory locked against swapping (mlock) and hashed
// incrementally as they arrive. Finalize extracts the assembled answer and
// its SHA-256, then wipes the buffer; Destroy wipes without extracting, for
// error paths. Neither can be followed by further writes.
//
// On hosts whose RLIMIT_MEMLOCK is below the buffer size the accumulator
// falls back to ordinary heap memory with a warning, unless
// FINSIGHT_REQUIRE_SECURE_MEMORY=true makes the shortfall fatal.
//
// # Thread Safety
//
// Safe for concurrent use.
type AnswerAccumulator interface {
	// Write appends one token. Fails once the buffer capacity is exceeded
	// or the accumulator has been finalized or destroyed.
	Write(token string) error

	// Finalize returns the assembled answer and its hex SHA-256, then
	// wipes the buffer. Callable once.
	Finalize() (answer string, hash string, err error)

	// Destroy wipes the buffer without extracting. Idempotent.
	Destroy()
}

// NewAnswerAccumulator returns a locked-memory accumulator, or a heap-backed
// one when the mlock limit is too low and secure memory is not required.
func NewAnswerAccumulator() (AnswerAccumulator, error) {
	memlockCheckOnce.Do(func() {
		memguard.CatchInterrupt()
		memlockSufficient, memlockLimitKB = checkMemlockLimit()
	})

	if !memlockSufficient {
		if os.Getenv("FINSIGHT_REQUIRE_SECURE_MEMORY") == "true" {
			return nil, fmt.Errorf("mlock limit insufficient: have %d KB, need %d KB",
				memlockLimitKB, minMlockLimitKB)
		}
		slog.Warn("mlock limit insufficient, accumulating answer in unlocked memory",
			"limit_kb", memlockLimitKB, "required_kb", minMlockLimitKB)
		return newHeapAccumulator(), nil
	}

	buf := memguard.NewBuffer(answerBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate locked buffer of %d bytes", answerBufferSize)
	}
	buf.Melt()
	return &lockedAccumulator{buffer: buf, hasher: sha256.New()}, nil
}

// checkMemlockLimit reads RLIMIT_MEMLOCK. An unreadable limit is treated as
// sufficient so an odd kernel never disables accumulation outright.
func checkMemlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= minMlockLimitKB, limitKB
}

// lockedAccumulator stores tokens in a memguard buffer. Guard pages and
// canaries detect overruns; the buffer is zeroed on wipe.
type lockedAccumulator struct {
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	destroyed bool
}

var _ AnswerAccumulator = (*lockedAccumulator)(nil)

func (a *lockedAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already finalized")
	}
	if a.offset+len(token) > answerBufferSize {
		return fmt.Errorf("answer buffer overflow: need %d bytes, have %d remaining",
			len(token), answerBufferSize-a.offset)
	}

	copy(a.buffer.Bytes()[a.offset:], token)
	a.offset += len(token)
	a.hasher.Write([]byte(token))
	return nil
}

func (a *lockedAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already finalized")
	}

	answer := string(a.buffer.Bytes()[:a.offset])
	digest := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipeLocked()
	return answer, digest, nil
}

func (a *lockedAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	a.wipeLocked()
}

func (a *lockedAccumulator) wipeLocked() {
	a.buffer.Destroy()
	a.destroyed = true
}

// heapAccumulator is the fallback for hosts without usable mlock. Zeroing on
// wipe is best effort only; the garbage collector may have copied the data.
type heapAccumulator struct {
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	destroyed bool
}

var _ AnswerAccumulator = (*heapAccumulator)(nil)

func newHeapAccumulator() *heapAccumulator {
	return &heapAccumulator{
		data:   make([]byte, 0, answerBufferSize),
		hasher: sha256.New(),
	}
}

func (a *heapAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already finalized")
	}
	if len(a.data)+len(token) > answerBufferSize {
		return fmt.Errorf("answer buffer overflow: need %d bytes, have %d remaining",
			len(token), answerBufferSize-len(a.data))
	}

	a.data = append(a.data, token...)
	a.hasher.Write([]byte(token))
	return nil
}

func (a *heapAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already finalized")
	}

	answer := string(a.data)
	digest := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipeLocked()
	return answer, digest, nil
}

func (a *heapAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	a.wipeLocked()
}

func (a *heapAccumulator) wipeLocked() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}
