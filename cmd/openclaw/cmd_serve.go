// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/openclaw/openclaw/pkg/logging"
	"github.com/openclaw/openclaw/pkg/ux"
	"github.com/openclaw/openclaw/services/gateway"
)

const shutdownGrace = 10 * time.Second

// initTracer wires the OTLP gRPC exporter when an endpoint is
// configured. The returned func flushes spans at shutdown.
func initTracer(ctx context.Context, endpoint string) (func(context.Context), error) {
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("openclaw-gateway")))
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
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "otlp exporter shutdown: %v\n", err)
		}
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New(logging.Config{
		Level:   config.LogLevel(),
		LogDir:  config.Log.Dir,
		Service: "gateway",
		JSON:    config.Log.JSON,
	})
	defer logger.Close()

	if config.OtelEndpoint != "" {
		flush, err := initTracer(ctx, config.OtelEndpoint)
		if err != nil {
			return fmt.Errorf("initializing tracer: %w", err)
		}
		defer flush(context.Background())
	}

	stateDir := config.ResolvedStateDir()
	secure := tlsEnabled(stateDir)

	credPassword := credentialsPass
	if credPassword == "" {
		credPassword = os.Getenv("OPENCLAW_CREDENTIALS_PASSWORD")
	}

	g, err := gateway.New(gateway.Config{
		StateDir:            stateDir,
		CredentialsPassword: credPassword,
		UIDir:               config.UIDir,
		AuditRetention:      config.AuditRetention,
		LegacyToken:         config.LegacyToken,
		LegacyTokenUser:     config.LegacyTokenUser,
		LegacyTokenRole:     config.LegacyTokenRole,
		Secure:              secure,
		WatchCredentials:    config.WatchCredentials,
	}, logger.Slog())
	if err != nil {
		return err
	}
	defer g.Shutdown()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	if config.OtelEndpoint != "" {
		engine.Use(otelgin.Middleware("openclaw-gateway"))
	}
	g.Mount(engine)

	srv := &http.Server{
		Addr:              config.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	scheme := "http"
	if secure {
		scheme = "https"
	}
	ux.Title("OpenClaw gateway")
	ux.KeyValue("Listening", fmt.Sprintf("%s://%s", scheme, config.Listen))
	ux.KeyValue("State dir", stateDir)
	ux.KeyValue("TLS", map[bool]string{true: "enabled", false: "disabled"}[secure])
	logger.Info("gateway starting", "addr", config.Listen, "tls", secure)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		if secure {
			err = srv.ListenAndServeTLS(tlsCertPath(stateDir), tlsKeyPath(stateDir))
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("gateway stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	ux.Success("Gateway stopped cleanly")
	return nil
}
