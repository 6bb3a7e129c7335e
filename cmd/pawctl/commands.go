package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dunamismax/pawtrait/internal/app"
	"github.com/dunamismax/pawtrait/internal/config"
	"github.com/dunamismax/pawtrait/internal/domain"
	"github.com/dunamismax/pawtrait/internal/imaging"
	"github.com/dunamismax/pawtrait/internal/logging"
	"github.com/dunamismax/pawtrait/internal/mask"
	"github.com/dunamismax/pawtrait/internal/pipeline"
	"github.com/dunamismax/pawtrait/internal/store"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "pawctl",
		Usage:     "run pawtrait transformations from the command line",
		Writer:    out,
		ErrWriter: out,
		Commands: []*cli.Command{
			{
				Name:  "transform",
				Usage: "run a photo through one or both pipelines and write every stage to disk",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "image", Usage: "path to the source photo", Required: true},
					&cli.StringFlag{Name: "pipeline", Usage: "dalle_gpt, gpt_only or both", Value: string(domain.SelectGPTOnly)},
					&cli.StringFlag{Name: "out", Usage: "output directory", Value: "out"},
					&cli.StringFlag{Name: "owner", Usage: "account the jobs are created for", Value: "local"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return transformAction(ctx, cmd, out)
				},
			},
			{
				Name:  "mask",
				Usage: "render an edit mask as PNG",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "shape", Usage: "face, safe_radius, full_head or head_and_body", Value: string(mask.ShapeFace)},
					&cli.IntFlag{Name: "size", Usage: "mask side in pixels", Value: imaging.DefaultCanonicalSize},
					&cli.FloatFlag{Name: "safe-radius", Usage: "growth factor for the safe_radius shape", Value: mask.DefaultSafeRadius},
					&cli.StringFlag{Name: "out", Usage: "output file", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return maskAction(ctx, cmd, out)
				},
			},
			{
				Name:  "classify",
				Usage: "detect the dog breed that best matches a portrait",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "image", Usage: "path to the photo", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return classifyAction(ctx, cmd, out)
				},
			},
		},
	}
}

func loadRuntime() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	logger := logging.New(cfg.Log.Env, cfg.Log.Level).With().Str("service", "pawctl").Logger()
	return cfg, logger, nil
}

func transformAction(ctx context.Context, cmd *cli.Command, out io.Writer) error {
	selection, err := domain.ParseSelection(cmd.String("pipeline"))
	if err != nil {
		return err
	}
	source, err := os.ReadFile(cmd.String("image"))
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	if err := imaging.Startup(); err != nil {
		return fmt.Errorf("start image runtime: %w", err)
	}
	defer imaging.Shutdown()

	jobs := store.NewMemoryJobStore()
	created := domain.NewJobs(cmd.String("owner"), selection, time.Now().UTC())
	if err := jobs.CreateJobs(ctx, created, source); err != nil {
		return err
	}

	orchestrator := app.NewOrchestrator(cfg, jobs, logger)
	return runAndExport(ctx, orchestrator, jobs, created, cmd.String("out"), out)
}

type jobRunner interface {
	Run(ctx context.Context, exec pipeline.Execution) error
}

// runAndExport runs every job concurrently, then writes whatever each one
// produced. One job failing does not cancel its batch sibling.
func runAndExport(ctx context.Context, runner jobRunner, jobs store.JobStore, created []domain.Job, dir string, out io.Writer) error {
	var (
		mu       sync.Mutex
		failures []error
	)
	var g errgroup.Group
	for _, job := range created {
		g.Go(func() error {
			if err := runner.Run(ctx, pipeline.Execution{OwnerID: job.OwnerID, JobID: job.ID}); err != nil {
				mu.Lock()
				failures = append(failures, fmt.Errorf("%s: %w", job.Pipeline, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, job := range created {
		final, _, err := jobs.Get(ctx, job.ID)
		if err != nil {
			return err
		}
		written, err := pipeline.Export(ctx, jobs, job.ID, dir)
		if err != nil {
			return fmt.Errorf("export %s: %w", job.ID, err)
		}

		fmt.Fprintf(out, "%s  %s  status=%s breed=%s\n", job.ID, job.Pipeline, final.Status, final.Breed)
		if final.ErrorDetail != "" {
			fmt.Fprintf(out, "  error: %s\n", final.ErrorDetail)
		}
		for _, img := range written {
			fmt.Fprintf(out, "  %-12s %s (%d bytes)\n", img.Slot, img.Path, img.Bytes)
		}
	}
	return errors.Join(failures...)
}

func maskAction(_ context.Context, cmd *cli.Command, out io.Writer) error {
	shape, err := mask.ParseShape(cmd.String("shape"))
	if err != nil {
		return err
	}
	data, err := mask.Render(cmd.Int("size"), shape, mask.Options{SafeRadius: cmd.Float("safe-radius")})
	if err != nil {
		return err
	}

	path := cmd.String("out")
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write mask: %w", err)
	}
	fmt.Fprintf(out, "%s mask written to %s\n", shape, path)
	return nil
}

func classifyAction(ctx context.Context, cmd *cli.Command, out io.Writer) error {
	data, err := os.ReadFile(cmd.String("image"))
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	client := app.NewProvider(cfg, logger)
	if err := client.Ready(); err != nil {
		return err
	}

	res := app.NewClassifier(cfg, client, logger).Classify(ctx, data)
	fmt.Fprintf(out, "breed=%s resolution=%s model=%s\n", res.Key, res.Resolution, res.Model)
	if res.Description != "" {
		fmt.Fprintf(out, "description=%s\n", res.Description)
	}
	return nil
}
