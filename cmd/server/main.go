// Package main serves the backtest engine over gRPC and REST.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	pb "quant-backtest/proto"
	"quant-backtest/services/clickhouse"
	"quant-backtest/services/config"
	"quant-backtest/services/engine"
	"quant-backtest/services/monitoring"
	"quant-backtest/services/reportstore"
	"quant-backtest/services/runner"
)

func main() {
	configPath := flag.String("config", "", "YAML config path")
	debug := flag.Bool("debug", false, "development logging")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if *debug {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting backtesting service",
		zap.String("version", engine.EngineVersion),
		zap.String("environment", cfg.Environment),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	var store runner.BarSource
	var sinks []runner.Sink
	if ch, err := clickhouse.Open(ctx, cfg.ClickHouse, logger); err != nil {
		logger.Warn("ClickHouse unavailable, serving inline bars only", zap.Error(err))
	} else {
		defer ch.Close()
		if err := ch.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to create ClickHouse schema", zap.Error(err))
		}
		store = ch
		sinks = append(sinks, ch)
	}
	if cfg.Postgres.DSN != "" {
		pg, err := reportstore.Open(ctx, cfg.Postgres.DSN, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to create report schema", zap.Error(err))
		}
		sinks = append(sinks, pg)
	}
	cancel()

	service := NewBacktestService(cfg, store, monitoring.New(), logger, sinks...)

	// Setup gRPC server
	grpcServer := grpc.NewServer()
	pb.RegisterBacktestServiceServer(grpcServer, service)
	reflection.Register(grpcServer)

	// Setup HTTP server
	gin.SetMode(gin.ReleaseMode)
	httpRouter := gin.New()
	httpRouter.Use(gin.Recovery())
	service.setupHTTPRoutes(httpRouter)

	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			logger.Fatal("Failed to listen on gRPC port", zap.Error(err))
		}
		logger.Info("Starting gRPC server", zap.Int("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("Failed to serve gRPC", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpRouter.Run(fmt.Sprintf(":%d", cfg.Server.HTTPPort)); err != nil {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")
	grpcServer.GracefulStop()
	logger.Info("Servers stopped")
}
