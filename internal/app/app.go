// Package app wires the configured drivers into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/stefando/imageHostAWS/internal/api"
	"github.com/stefando/imageHostAWS/internal/config"
	"github.com/stefando/imageHostAWS/internal/events"
	"github.com/stefando/imageHostAWS/internal/memstore"
	"github.com/stefando/imageHostAWS/internal/metadata"
	"github.com/stefando/imageHostAWS/internal/metrics"
	"github.com/stefando/imageHostAWS/internal/objectstore"
	"github.com/stefando/imageHostAWS/internal/upload"
	"github.com/stefando/imageHostAWS/internal/worker"
)

// App holds the wired service and everything that must be closed with it.
type App struct {
	Service *upload.Service
	Router  http.Handler
	Reaper  *worker.Reaper
	Metrics *metrics.Metrics

	closers []io.Closer
}

// Build constructs the object store, metadata store, event publisher and
// HTTP router selected by cfg.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{}

	// Load the AWS configuration only when a driver needs it
	var awsCfg aws.Config
	if cfg.Storage.Driver == config.ObjectStoreS3 || cfg.Metadata.Driver == config.MetadataDynamo {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Storage.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
	}

	objects, err := a.buildObjectStore(ctx, cfg, awsCfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	meta, err := a.buildMetadataStore(cfg, awsCfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	// Events are optional; without brokers nothing is published
	var publisher upload.EventPublisher = events.Nop{}
	if len(cfg.Events.Brokers) > 0 {
		p := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Events.Brokers), cfg.Events.Topic)
		a.closers = append(a.closers, p)
		publisher = p
	}

	opts := []upload.Option{
		upload.WithLogger(logger),
		upload.WithPublisher(publisher),
	}
	var routerOpts []api.RouterOption
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		opts = append(opts, upload.WithRecorder(a.Metrics))
		routerOpts = append(routerOpts, api.WithMetrics(a.Metrics.Middleware, a.Metrics.Handler()))
	}

	a.Service = upload.NewService(objects, meta, cfg.Storage.Bucket, opts...)
	a.Router = api.NewRouter(api.NewHandler(a.Service, cfg.Service, logger), logger, routerOpts...)
	a.Reaper = worker.NewReaper(a.Service, logger, cfg.Reaper.Interval, cfg.Reaper.PendingTTL, cfg.Reaper.Timeout)

	logger.Info("service initialized",
		"object_store", cfg.Storage.Driver,
		"metadata", cfg.Metadata.Driver,
		"bucket", cfg.Storage.Bucket,
		"events", len(cfg.Events.Brokers) > 0,
	)
	return a, nil
}

// Close releases the stores and the publisher.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) buildObjectStore(ctx context.Context, cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (upload.ObjectStore, error) {
	switch cfg.Storage.Driver {
	case config.ObjectStoreS3:
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Storage.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			}
			o.UsePathStyle = cfg.Storage.UsePathStyle
		})

		s3Opts := []objectstore.S3Option{objectstore.WithS3Logger(logger)}
		if cfg.Storage.ScopedRoleArn != "" {
			creds := objectstore.NewScopedCredentials(sts.NewFromConfig(awsCfg), cfg.Storage.ScopedRoleArn)
			s3Opts = append(s3Opts, objectstore.WithScopedCredentials(creds))
		}
		return objectstore.NewS3Gateway(client, s3Opts...), nil

	case config.ObjectStoreMinio:
		gw, err := objectstore.NewMinioGateway(objectstore.MinioConfig{
			Endpoint:  cfg.Storage.MinioEndpoint,
			AccessKey: cfg.Storage.MinioAccessKey,
			SecretKey: cfg.Storage.MinioSecretKey,
			Region:    cfg.Storage.Region,
			Secure:    cfg.Storage.MinioSecure,
		})
		if err != nil {
			return nil, err
		}
		if err := gw.EnsureBucket(ctx, cfg.Storage.Bucket); err != nil {
			return nil, err
		}
		return gw, nil

	case config.ObjectStoreMemory:
		return memstore.NewObjects(cfg.Storage.MemoryBaseURL), nil
	}
	return nil, fmt.Errorf("unknown object store driver %q", cfg.Storage.Driver)
}

func (a *App) buildMetadataStore(cfg *config.Config, awsCfg aws.Config) (upload.MetadataStore, error) {
	switch cfg.Metadata.Driver {
	case config.MetadataDynamo:
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.Storage.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			}
		})
		return metadata.NewDynamoStore(client, cfg.Metadata.Table), nil

	case config.MetadataSQLite:
		store, err := metadata.NewSQLiteStore(cfg.Metadata.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		return store, nil

	case config.MetadataBadger:
		store, err := metadata.NewBadgerStore(cfg.Metadata.BadgerDir)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		return store, nil

	case config.MetadataMemory:
		return memstore.NewMetadata(), nil
	}
	return nil, fmt.Errorf("unknown metadata driver %q", cfg.Metadata.Driver)
}
