package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/tealfox/shelfsync/internal"
	"github.com/tealfox/shelfsync/internal/apperr"
	"github.com/tealfox/shelfsync/internal/watcher"
	pkgconfig "github.com/tealfox/shelfsync/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cmd.Bool("verbose") {
		cfg.App.LogLevel = slog.LevelDebug
	}
	return cfg, nil
}

func runPipeline(ctx context.Context, cmd *cli.Command, importPhase, exportPhase bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.Run(ctx,
		internal.WithConfig(cfg),
		internal.WithPhases(importPhase, exportPhase),
		internal.WithDestructiveExport(cmd.Bool("clean")),
		internal.WithForce(cmd.Bool("force")),
	)
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return watcher.Watch(ctx, cfg.Manifest.Path, logger, func(runCtx context.Context) error {
		err := internal.Run(runCtx,
			internal.WithConfig(cfg),
			internal.WithPhases(true, true),
			internal.WithDestructiveExport(cmd.Bool("clean")),
			internal.WithForce(cmd.Bool("force")),
		)
		if errors.Is(err, apperr.ErrPartial) {
			// Keep watching; the failures are in the receipt.
			return nil
		}
		return err
	})
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to config file",
			DefaultText: "config/config.yaml",
			Value:       "config/config.yaml",
			Sources:     cli.EnvVars("SHELFSYNC_CONFIG_FILE"),
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable debug logging",
		},
		&cli.BoolFlag{
			Name:  "clean",
			Usage: "Clear the export directory before writing (destructive)",
		},
		&cli.BoolFlag{
			Name:  "force",
			Usage: "Bypass change-tag checks and re-fetch everything",
		},
	}
}

func main() {
	cmd := &cli.Command{
		Name:  "shelfsync",
		Usage: "Synchronize bibliographic collections from a remote repository into a local cache and export a filtered package",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Import into the cache, then export the package",
				Flags: commonFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runPipeline(ctx, cmd, true, true)
				},
			},
			{
				Name:  "import",
				Usage: "Import whitelisted collections into the cache",
				Flags: commonFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runPipeline(ctx, cmd, true, false)
				},
			},
			{
				Name:  "export",
				Usage: "Export the package from the current cache",
				Flags: commonFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runPipeline(ctx, cmd, false, true)
				},
			},
			{
				Name:  "watch",
				Usage: "Re-run the pipeline whenever the sync manifest changes",
				Flags: commonFlags(),
				Action: runWatch,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		if !errors.Is(err, apperr.ErrPartial) {
			slog.Error("application error", slog.String("error", err.Error()))
		}
		os.Exit(1)
	}
}
