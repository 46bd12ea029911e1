package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"transfer-monitor/internal/config"
	apphttp "transfer-monitor/internal/http"
	"transfer-monitor/internal/monitor"
	"transfer-monitor/internal/repository/sqlite"
	"transfer-monitor/internal/service"
	"transfer-monitor/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		logger.Fatalf("auth jwt secret is required")
	}
	if strings.TrimSpace(cfg.Auth.RegisterSecret) == "" {
		logger.Fatalf("auth registration secret is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	transferRepo := sqlite.NewTransferRepository(db)
	fileRepo := sqlite.NewTransferFileRepository(db)
	userRepo := sqlite.NewUserRepository(db)

	if err := transferRepo.Init(ctx); err != nil {
		logger.Fatalf("init transfer repository: %v", err)
	}
	if err := fileRepo.Init(ctx); err != nil {
		logger.Fatalf("init file repository: %v", err)
	}
	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}

	transferService := service.NewTransferService(transferRepo, fileRepo)
	userService := service.NewUserService(userRepo, cfg.Auth.RegisterSecret)

	storageSvc, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}

	mon := monitor.NewMonitor(monitor.Config{
		DataDir:         cfg.Download.DataDir,
		MaxConcurrent:   cfg.Monitor.MaxConcurrent,
		TickInterval:    time.Duration(cfg.Monitor.TickSeconds) * time.Second,
		GatherPeers:     cfg.Monitor.GatherPeers,
		PrebufferPieces: cfg.Monitor.PrebufferPieces,
		Logger:          logger,
	}, transferService)

	if err := mon.Start(ctx); err != nil {
		logger.Fatalf("start monitor: %v", err)
	}
	if err := mon.Resume(ctx); err != nil {
		logger.Warnf("resume transfers: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(
		transferService,
		mon,
		storageSvc,
		userService,
		cfg.Storage.Bucket,
		cfg.Storage.KeyPrefix,
		cfg.Download.DataDir,
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute,
	)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	mon.Shutdown()

	logger.Info("bye")
}

// buildStorage sets up the report archive. The archive is optional; without a
// bucket the report endpoints answer with an explanatory error instead.
func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		logger.Warn("no report bucket configured, report archiving disabled")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("archiving reports to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
