// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session holds conversation state in memory and enforces one
// in-flight turn per session. State lives only for the process lifetime; a
// background cleaner evicts idle sessions.
package session

import (
	"errors"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/finsightai/finsight/services/orchestrator/datatypes"
	"github.com/finsightai/finsight/services/orchestrator/observability"
)

// =============================================================================
// Errors
// =============================================================================

// ErrSessionBusy is returned when a turn is already running on the session.
var ErrSessionBusy = errors.New("session has a turn in flight")

// ErrSessionNotFound is returned for lookups of unknown or evicted sessions.
var ErrSessionNotFound = errors.New("session not found")

// =============================================================================
// Clock
// =============================================================================

// Clock abstracts time.Now so eviction tests can drive time directly.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall-clock implementation used in production.
func SystemClock() Clock { return systemClock{} }

// =============================================================================
// Store
// =============================================================================

const (
	defaultMaxSessions = 1000
	defaultIdleTTL     = 30 * time.Minute
)

// StoreConfig configures the in-memory session store.
//
// # Fields
//
//   - MaxSessions: hard cap on live sessions; at the cap the oldest idle
//     session is evicted to admit a new one. Default 1000.
//   - IdleTTL: idle duration after which the cleaner evicts a session.
//     Default 30 minutes.
//   - Clock: time source. Defaults to the system clock.
//   - Metrics: eviction counters. Defaults to an unregistered set.
type StoreConfig struct {
	MaxSessions int
	IdleTTL     time.Duration
	Clock       Clock
	Metrics     *observability.TurnMetrics
}

// StoreConfigFromEnv reads FINSIGHT_MAX_SESSIONS and
// FINSIGHT_SESSION_TTL_MINUTES, logging and keeping defaults on bad values.
func StoreConfigFromEnv() StoreConfig {
	cfg := StoreConfig{
		MaxSessions: defaultMaxSessions,
		IdleTTL:     defaultIdleTTL,
	}

	if raw := os.Getenv("FINSIGHT_MAX_SESSIONS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.MaxSessions = n
			slog.Info("Using configured session cap", "maxSessions", n)
		} else {
			slog.Warn("Invalid FINSIGHT_MAX_SESSIONS, using default",
				"value", raw, "default", defaultMaxSessions)
		}
	}
	if raw := os.Getenv("FINSIGHT_SESSION_TTL_MINUTES"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.IdleTTL = time.Duration(n) * time.Minute
			slog.Info("Using configured session TTL", "minutes", n)
		} else {
			slog.Warn("Invalid FINSIGHT_SESSION_TTL_MINUTES, using default",
				"value", raw, "default", defaultIdleTTL)
		}
	}
	return cfg
}

type entry struct {
	state *datatypes.ConversationState
	busy  bool
}

// Store is the in-memory session registry.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The mutex guards the map and the
// per-session busy flag only; turn execution happens outside the lock.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry

	maxSessions int
	idleTTL     time.Duration
	clock       Clock
	metrics     *observability.TurnMetrics
}

// NewStore builds a Store, filling zero config fields with defaults.
func NewStore(cfg StoreConfig) *Store {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.DefaultMetrics
	}
	if cfg.Metrics == nil {
		// Not registered anywhere; keeps the store usable before
		// InitMetrics runs.
		cfg.Metrics = observability.NewTurnMetrics(prometheus.NewRegistry())
	}

	return &Store{
		sessions:    make(map[string]*entry),
		maxSessions: cfg.MaxSessions,
		idleTTL:     cfg.IdleTTL,
		clock:       cfg.Clock,
		metrics:     cfg.Metrics,
	}
}

// Acquire hands out exclusive turn ownership of a session.
//
// # Description
//
// An empty sessionID creates a fresh session under a new UUID; an unknown
// sessionID creates one under the given id so clients can pin their own ids.
// The returned release func MUST be called exactly once when the turn ends,
// success or failure. A second Acquire on the same session before release
// returns ErrSessionBusy.
//
// # Outputs
//
//   - *datatypes.ConversationState: the live state; the caller may append to
//     History while holding ownership.
//   - func(): release callback; also refreshes LastActive.
//   - error: ErrSessionBusy when a turn is already in flight.
func (s *Store) Acquire(sessionID string) (*datatypes.ConversationState, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	e, ok := s.sessions[sessionID]
	if !ok {
		if err := s.makeRoomLocked(); err != nil {
			return nil, nil, err
		}
		e = &entry{state: &datatypes.ConversationState{
			SessionID:  sessionID,
			CreatedAt:  now,
			LastActive: now,
		}}
		s.sessions[sessionID] = e
		slog.Info("Session created", "sessionId", sessionID, "sessions", len(s.sessions))
	}

	if e.busy {
		return nil, nil, ErrSessionBusy
	}
	e.busy = true
	e.state.LastActive = now

	release := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.sessions[sessionID]; ok {
			cur.busy = false
			cur.state.LastActive = s.clock.Now()
		}
	}
	return e.state, release, nil
}

// makeRoomLocked evicts the oldest idle session when the cap is reached.
// Callers must hold s.mu.
func (s *Store) makeRoomLocked() error {
	if len(s.sessions) < s.maxSessions {
		return nil
	}

	var victimID string
	var victimAt time.Time
	for id, e := range s.sessions {
		if e.busy {
			continue
		}
		if victimID == "" || e.state.LastActive.Before(victimAt) {
			victimID = id
			victimAt = e.state.LastActive
		}
	}
	if victimID == "" {
		// Every session mid-turn at the cap. Refusing beats unbounded growth.
		return ErrSessionBusy
	}

	delete(s.sessions, victimID)
	s.metrics.RecordEviction("capacity")
	slog.Warn("Session evicted at capacity",
		"sessionId", victimID, "lastActive", victimAt, "maxSessions", s.maxSessions)
	return nil
}

// Get returns the state of a session for read-only use.
func (s *Store) Get(sessionID string) (*datatypes.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.state, nil
}

// Summary is one row of the sessions admin listing.
type Summary struct {
	SessionID  string    `json:"session_id"`
	Turns      int       `json:"turns"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Busy       bool      `json:"busy"`
}

// List returns a summary of every live session, most recently active first.
func (s *Store) List() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Summary, 0, len(s.sessions))
	for id, e := range s.sessions {
		out = append(out, Summary{
			SessionID:  id,
			Turns:      len(e.state.History),
			CreatedAt:  e.state.CreatedAt,
			LastActive: e.state.LastActive,
			Busy:       e.busy,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActive.After(out[j].LastActive)
	})
	return out
}

// Delete removes a session. A busy session cannot be deleted mid-turn.
func (s *Store) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if e.busy {
		return ErrSessionBusy
	}
	delete(s.sessions, sessionID)
	slog.Info("Session deleted", "sessionId", sessionID)
	return nil
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// EvictIdle removes every idle session whose LastActive is older than the
// configured TTL and returns how many were evicted. Busy sessions are never
// evicted regardless of age.
func (s *Store) EvictIdle() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-s.idleTTL)
	evicted := 0
	for id, e := range s.sessions {
		if e.busy || e.state.LastActive.After(cutoff) {
			continue
		}
		delete(s.sessions, id)
		s.metrics.RecordEviction("idle")
		evicted++
		slog.Info("Session evicted after idle TTL",
			"sessionId", id, "lastActive", e.state.LastActive)
	}
	return evicted
}
