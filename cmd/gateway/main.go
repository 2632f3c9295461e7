package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/thiran-symposium/gateway-api/internal/catalog"
	"github.com/thiran-symposium/gateway-api/internal/clients"
	"github.com/thiran-symposium/gateway-api/internal/config"
	"github.com/thiran-symposium/gateway-api/internal/contact"
	"github.com/thiran-symposium/gateway-api/internal/countdown"
	"github.com/thiran-symposium/gateway-api/internal/logging"
	"github.com/thiran-symposium/gateway-api/internal/metrics"
	"github.com/thiran-symposium/gateway-api/internal/middleware"
	"github.com/thiran-symposium/gateway-api/internal/registration"
	"github.com/thiran-symposium/gateway-api/internal/routes"
	"github.com/thiran-symposium/gateway-api/internal/sessions"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg)

	if err := metrics.Init(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize metrics")
	}

	tracingShutdown, err := middleware.InitTracing(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to setup tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingShutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to shutdown tracing")
		}
	}()

	clock := clockwork.NewRealClock()

	target, err := cfg.Countdown.TargetInstant()
	if err != nil {
		logger.WithError(err).Fatal("Invalid countdown target")
	}
	engine, err := countdown.NewEngine(target, clock)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create countdown engine")
	}

	events, err := catalog.Default()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load event catalogue")
	}

	middlewareManager, err := middleware.NewManager(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize middleware manager")
	}
	defer middlewareManager.Close()

	dynamoClient, err := initializeDynamoDB(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize DynamoDB client")
	}
	contactService := contact.NewService(contact.NewDynamoStore(dynamoClient, cfg.DynamoDB.ContactTableName), clock, logger)

	backend := clients.NewRegistrationClient(&cfg.Registration, logger)
	sessionManager := sessions.NewManager(backend, sessions.Config{
		TTL:           cfg.Registration.SessionTTL,
		SweepInterval: cfg.Registration.SweepInterval,
		ResetDelay:    cfg.Registration.ResetDelay,
	}, logger,
		sessions.WithClock(clock),
		sessions.WithObserver(func(from, to registration.Phase) {
			metrics.RecordPhaseTransition(from.String(), to.String())
		}),
		sessions.WithCountHook(metrics.SetActiveSessions),
	)
	defer sessionManager.Close()

	// Cancelled first on shutdown so open countdown streams end
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	go sessionManager.Run(ctx)

	app := routes.NewApp(routes.Dependencies{
		Config:        cfg,
		Logger:        logger,
		Middleware:    middlewareManager,
		Countdown:     engine,
		Sessions:      sessionManager,
		Catalog:       events,
		Contact:       contactService,
		Breaker:       backend.Breaker(),
		StreamContext: ctx,
	})

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		logger.Info("Gracefully shutting down...")
		stop()
		if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"port":             cfg.Server.Port,
		"countdown_target": target.Format(time.RFC3339),
		"backend_url":      cfg.Registration.BackendURL,
	}).Info("Starting Gateway API server")

	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		logger.WithError(err).Fatal("Server failed to start")
	}
}

func initializeDynamoDB(cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	ctx := context.Background()

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.DynamoDB.Region),
	}
	if cfg.AWS.Profile != "" {
		// Use specific profile for local development
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	creds, credErr := awsCfg.Credentials.Retrieve(ctx)
	if credErr != nil {
		logger.WithError(credErr).Warn("Failed to retrieve credentials (will retry on first API call)")
	} else {
		logger.WithFields(logrus.Fields{
			"provider":          creds.Source,
			"has_session_token": creds.SessionToken != "",
			"region":            cfg.DynamoDB.Region,
		}).Debug("AWS credentials retrieved")
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		// DynamoDB Local or LocalStack during development
		if cfg.DynamoDB.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
		}
	})

	logger.WithFields(logrus.Fields{
		"region":     cfg.DynamoDB.Region,
		"table_name": cfg.DynamoDB.ContactTableName,
		"endpoint":   cfg.DynamoDB.Endpoint,
	}).Info("DynamoDB client initialized")

	return dynamoClient, nil
}
