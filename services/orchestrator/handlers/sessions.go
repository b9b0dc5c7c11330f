// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finsightai/finsight/services/orchestrator/session"
)

// ListSessions returns every live session, most recently active first.
func ListSessions(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		slog.Info("Received request to list sessions")
		c.JSON(http.StatusOK, gin.H{"sessions": store.List()})
	}
}

// GetSessionHistory returns the committed turns of one session.
func GetSessionHistory(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")

		state, err := store.Get(sessionID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id": state.SessionID,
			"created_at": state.CreatedAt,
			"history":    state.History,
		})
	}
}

// DeleteSession removes a session and its history. Sessions with a turn in
// flight cannot be deleted.
func DeleteSession(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		slog.Info("Received a request to delete a session", "sessionId", sessionID)

		switch err := store.Delete(sessionID); {
		case errors.Is(err, session.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		case errors.Is(err, session.ErrSessionBusy):
			c.JSON(http.StatusConflict, gin.H{"error": "session has a turn in progress"})
		case err != nil:
			slog.Error("Failed to delete session", "sessionId", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete session"})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": sessionID})
		}
	}
}
