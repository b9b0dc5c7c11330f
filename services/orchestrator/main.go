// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"

	"github.com/finsightai/finsight/pkg/logging"
	"github.com/finsightai/finsight/services/llm"
	"github.com/finsightai/finsight/services/orchestrator/datatypes"
	"github.com/finsightai/finsight/services/orchestrator/fetchers"
	"github.com/finsightai/finsight/services/orchestrator/observability"
	"github.com/finsightai/finsight/services/orchestrator/pipeline"
	"github.com/finsightai/finsight/services/orchestrator/routes"
	"github.com/finsightai/finsight/services/orchestrator/session"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "finsight-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("orchestrator-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newWeaviateClient builds a client from WEAVIATE_SERVICE_URL, or nil when
// the store is not configured. The documents branch degrades per turn.
func newWeaviateClient() *weaviate.Client {
	weaviateURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("WEAVIATE_SERVICE_URL not set. Filing retrieval disabled.")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid. Filing retrieval disabled.",
			"url", weaviateURL, "error", err)
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return nil
	}
	datatypes.EnsureWeaviateSchema(client)
	return client
}

// newCandleCache wires the InfluxDB candle cache when configured. A missing
// or unhealthy InfluxDB is not fatal; the market branch fetches direct.
func newCandleCache() fetchers.CandleCache {
	influxURL := os.Getenv("INFLUXDB_URL")
	if influxURL == "" {
		slog.Info("INFLUXDB_URL not set. Candle caching disabled.")
		return nil
	}

	client := influxdb2.NewClient(influxURL, os.Getenv("INFLUXDB_TOKEN"))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := fetchers.WaitReady(ctx, client, 5, 2*time.Second); err != nil {
		slog.Warn("InfluxDB not ready, candle caching disabled", "error", err)
		return nil
	}

	org := os.Getenv("INFLUXDB_ORG")
	bucket := os.Getenv("INFLUXDB_BUCKET")
	if org == "" || bucket == "" {
		slog.Warn("INFLUXDB_ORG or INFLUXDB_BUCKET not set, candle caching disabled")
		return nil
	}
	slog.Info("Candle cache connected", "url", influxURL, "bucket", bucket)
	return fetchers.NewInfluxCandleCache(client, org, bucket)
}

// newLLMClient selects the generation backend from LLM_BACKEND_TYPE.
func newLLMClient() (llm.LLMClient, error) {
	switch backend := os.Getenv("LLM_BACKEND_TYPE"); backend {
	case "openai":
		slog.Info("Using OpenAI LLM backend")
		return llm.NewOpenAIClient()
	case "ollama":
		slog.Info("Using Ollama LLM backend")
		return llm.NewOllamaClient()
	default:
		slog.Warn("LLM_BACKEND_TYPE not set or invalid, defaulting to ollama",
			"value", backend)
		return llm.NewOllamaClient()
	}
}

func main() {
	port := os.Getenv("ORCHESTRATOR_PORT")
	if port == "" {
		port = "12210"
	}

	logConfig := logging.ConfigFromEnv("orchestrator")
	logConfig.JSON = true
	logger := logging.New(logConfig)
	defer logger.Close()
	logging.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	llmClient, err := newLLMClient()
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	weaviateClient := newWeaviateClient()

	yahoo := fetchers.NewYahooClient(nil)
	fetcherSet := pipeline.FetcherSet{
		Market: fetchers.NewMarketDataFetcher(yahoo, newCandleCache()),
	}
	if apiKey := os.Getenv("SERPAPI_KEY"); apiKey != "" {
		fetcherSet.News = fetchers.NewSerpNewsFetcher(apiKey, nil, llmClient)
	} else {
		slog.Warn("SERPAPI_KEY not set. News branch will report failure when routed.")
	}
	if weaviateClient != nil {
		fetcherSet.Documents = fetchers.NewWeaviateDocumentsFetcher(weaviateClient)
	}

	orchestrator := pipeline.NewOrchestrator(llmClient, fetcherSet, pipeline.ConfigFromEnv())

	store := session.NewStore(session.StoreConfigFromEnv())
	cleaner := session.NewCleaner(store, 0)
	if err := cleaner.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start session cleaner: %v", err)
	}
	defer cleaner.Stop()

	router := gin.Default()
	router.Use(otelgin.Middleware("orchestrator-service"))

	routes.SetupRoutes(router, orchestrator, store, weaviateClient)

	log.Println("Starting the orchestrator server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
