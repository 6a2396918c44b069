package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/zettelstack/internal"
	pkgconfig "github.com/starford/zettelstack/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if origin := cmd.String("origin"); origin != "" {
		cfg.Site.Origin = origin
		if err := cfg.Site.Validate(); err != nil {
			return nil, fmt.Errorf("origin: %w", err)
		}
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

func open(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("open: expected one address argument")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var steps []internal.OpenStep
	for _, raw := range cmd.StringSlice("follow") {
		level, href, err := parseStep(raw)
		if err != nil {
			return err
		}
		steps = append(steps, internal.OpenStep{Level: level, Href: href})
	}
	for _, raw := range cmd.StringSlice("graph") {
		level, node, err := parseStep(raw)
		if err != nil {
			return err
		}
		steps = append(steps, internal.OpenStep{Level: level, Node: node})
	}

	return internal.RunOpen(ctx, cmd.Args().First(), steps, cmd.Bool("html"), internal.WithConfig(cfg))
}

// parseStep splits "LEVEL:VALUE".
func parseStep(raw string) (int, string, error) {
	lvl, val, ok := strings.Cut(raw, ":")
	if !ok || val == "" {
		return 0, "", fmt.Errorf("step %q: want LEVEL:VALUE", raw)
	}
	level, err := strconv.Atoi(lvl)
	if err != nil || level < 1 {
		return 0, "", fmt.Errorf("step %q: bad level", raw)
	}
	return level, val, nil
}

func originFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "origin",
		Usage:   "Base URL notes are fetched from (overrides site.origin)",
		Sources: cli.EnvVars("SITE_ORIGIN"),
	}
}

func main() {
	cmd := &cli.Command{
		Name:   "zettelstack",
		Usage:  "Stacked-notes viewer: side-by-side note panels restored from the address",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the note site, link index API and a shared viewer session",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Expose a viewer session as MCP tools over stdio",
				Flags:  []cli.Flag{originFlag()},
				Action: mcp,
			},
			{
				Name:      "open",
				Usage:     "Load an address, replay clicks and print the resulting stack",
				ArgsUsage: "ADDRESS",
				Flags: []cli.Flag{
					originFlag(),
					&cli.StringSliceFlag{
						Name:  "follow",
						Usage: "Click a link, as LEVEL:HREF (repeatable)",
					},
					&cli.StringSliceFlag{
						Name:  "graph",
						Usage: "Double-click a graph node after the links, as LEVEL:NODE (repeatable)",
					},
					&cli.BoolFlag{
						Name:  "html",
						Usage: "Print the document instead of the JSON snapshot",
					},
				},
				Action: open,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
