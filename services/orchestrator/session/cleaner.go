// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Idle Session Cleaner
// =============================================================================

const defaultCleanerInterval = 5 * time.Minute

// Cleaner periodically evicts idle sessions from a Store.
//
// # Description
//
// Runs EvictIdle on a fixed interval in a background goroutine. Uses the
// ticker + done channel pattern for graceful shutdown.
//
// # Thread Safety
//
// All public methods are thread-safe. Only one Cleaner should run per Store.
type Cleaner struct {
	store    *Store
	interval time.Duration

	mu      sync.Mutex
	done    chan struct{}
	running bool
}

// NewCleaner builds a Cleaner. interval <= 0 selects the 5 minute default.
func NewCleaner(store *Store, interval time.Duration) *Cleaner {
	if interval <= 0 {
		interval = defaultCleanerInterval
	}
	return &Cleaner{store: store, interval: interval}
}

// Start launches the cleanup goroutine. Starting a running cleaner is an
// error.
func (c *Cleaner) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("session cleaner already running")
	}
	c.done = make(chan struct{})
	c.running = true

	go c.runLoop(ctx, c.done)
	slog.Info("Session cleaner started", "interval", c.interval)
	return nil
}

// Stop signals the cleanup goroutine to exit. Safe to call when not running.
func (c *Cleaner) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	close(c.done)
	c.running = false
	slog.Info("Session cleaner stopped")
}

// RunNow performs one eviction pass immediately, outside the schedule.
func (c *Cleaner) RunNow() int {
	return c.store.EvictIdle()
}

func (c *Cleaner) runLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Session cleaner stopped (context cancelled)")
			return
		case <-done:
			return
		case <-ticker.C:
			if n := c.store.EvictIdle(); n > 0 {
				slog.Info("Idle session sweep completed", "evicted", n)
			}
		}
	}
}
