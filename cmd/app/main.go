package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/wikigraph/internal"
	pkgconfig "github.com/starford/wikigraph/pkg/config"
)

var version = "dev"

func run(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if cmd.IsSet("config") {
		if err := pkgconfig.Load(configPath, cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	} else if found, err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	} else if !found {
		slog.Info("config file not found, using defaults", slog.String("path", configPath))
	}

	if mode := cmd.String("mode"); mode != "" {
		cfg.App.Mode = mode
	}
	if wiki := cmd.String("wiki"); wiki != "" {
		cfg.Wiki.Path = wiki
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "wikigraph",
		Usage:   "Live entity graph over a directory of wiki pages, served over REST or MCP",
		Version: version,
		Action:  run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "mode",
				Aliases: []string{"m"},
				Usage:   "Transport: http or stdio (overrides app.mode)",
				Sources: cli.EnvVars("APP_MODE"),
			},
			&cli.StringFlag{
				Name:    "wiki",
				Aliases: []string{"w"},
				Usage:   "Wiki directory (overrides wiki.path)",
				Sources: cli.EnvVars("WIKI_PATH"),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
