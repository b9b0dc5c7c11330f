// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/finsightai/finsight/services/orchestrator/handlers"
	"github.com/finsightai/finsight/services/orchestrator/pipeline"
	"github.com/finsightai/finsight/services/orchestrator/session"
)

// SetupRoutes registers every endpoint of the orchestrator service. The
// weaviate client may be nil; filing admin routes are skipped then and the
// documents branch reports failure per turn instead.
func SetupRoutes(router *gin.Engine, orchestrator *pipeline.Orchestrator,
	store *session.Store, weaviateClient *weaviate.Client) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	turnHandler := handlers.NewTurnStreamHandler(orchestrator, store)

	v1 := router.Group("/v1")
	{
		v1.POST("/turns/stream", turnHandler.HandleTurnStream)

		sessions := v1.Group("/sessions")
		{
			sessions.GET("", handlers.ListSessions(store))
			sessions.GET("/:sessionId/history", handlers.GetSessionHistory(store))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(store))
		}

		if weaviateClient != nil {
			v1.POST("/documents", handlers.IngestFiling(weaviateClient))
			v1.GET("/documents", handlers.ListFilings(weaviateClient))
		}
	}
}
