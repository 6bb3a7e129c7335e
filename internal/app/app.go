// Package app assembles the long-lived collaborators shared by cmd/api,
// cmd/worker and cmd/pawctl.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/dunamismax/pawtrait/internal/breed"
	"github.com/dunamismax/pawtrait/internal/config"
	"github.com/dunamismax/pawtrait/internal/imaging"
	"github.com/dunamismax/pawtrait/internal/pipeline"
	provider "github.com/dunamismax/pawtrait/internal/provider/openai"
	"github.com/dunamismax/pawtrait/internal/stage"
	"github.com/dunamismax/pawtrait/internal/storage"
	"github.com/dunamismax/pawtrait/internal/store"
	"github.com/rs/zerolog"
)

// OpenJobStore returns the Postgres store, backed by object storage, when a
// database DSN is configured, and the in-memory store otherwise. The
// returned close func is never nil.
func OpenJobStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.JobStore, func() error, error) {
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		logger.Warn().Msg("POSTGRES_DSN not set, using in-memory job store")
		return store.NewMemoryJobStore(), func() error { return nil }, nil
	}

	blobs, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init object storage: %w", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("ensure bucket %s: %w", blobs.Bucket(), err)
	}

	jobs, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN, blobs)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Str("bucket", blobs.Bucket()).Msg("using postgres job store")
	return jobs, jobs.Close, nil
}

// NewOrchestrator wires the OpenAI-backed classifier and stage executor.
func NewOrchestrator(cfg config.Config, jobs store.JobStore, logger zerolog.Logger, opts ...pipeline.Option) *pipeline.Orchestrator {
	client := NewProvider(cfg, logger)
	return pipeline.NewOrchestrator(
		jobs,
		NewClassifier(cfg, client, logger),
		NewExecutor(cfg, client, logger),
		pipeline.Models{
			Legacy:  cfg.OpenAI.LegacyEditModel,
			Current: cfg.OpenAI.EditModel,
		},
		logger,
		opts...,
	)
}

func NewProvider(cfg config.Config, logger zerolog.Logger) *provider.Client {
	return provider.NewClient(provider.Config{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		RequestsPerMin: cfg.OpenAI.RequestsPerMin,
		Timeout:        cfg.OpenAI.Timeout,
	}, logger)
}

func NewClassifier(cfg config.Config, vision breed.Vision, logger zerolog.Logger) *breed.Classifier {
	return breed.NewClassifier(vision, breed.ClassifierConfig{
		PrimaryModel:   cfg.OpenAI.VisionPrimary,
		SecondaryModel: cfg.OpenAI.VisionSecondary,
		MaxDim:         cfg.Pipeline.ClassifierMaxDim,
	}, nil, logger)
}

func NewExecutor(cfg config.Config, client *provider.Client, logger zerolog.Logger) *stage.Executor {
	return stage.NewExecutor(
		client,
		client,
		imaging.NewNormalizer(cfg.Pipeline.FallbackSize, cfg.Pipeline.PNGThreshold),
		stage.Config{
			CanonicalSize: cfg.Pipeline.CanonicalSize,
			SafeRadius:    cfg.Pipeline.SafeRadius,
			TempDir:       cfg.Pipeline.TempDir,
		},
		logger,
	)
}
