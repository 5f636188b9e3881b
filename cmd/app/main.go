package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/tagdex/internal"
	"github.com/starford/tagdex/internal/mcpserver"
	"github.com/starford/tagdex/internal/models"
	"github.com/starford/tagdex/internal/service"
	pkgconfig "github.com/starford/tagdex/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// openApp wires the application for a one-shot command. Logs go to stderr so
// stdout carries only the command result.
func openApp(ctx context.Context, cmd *cli.Command) (*internal.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return internal.Open(ctx, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
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

func scan(ctx context.Context, cmd *cli.Command) error {
	app, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	rep, err := app.Service.Scan(ctx)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, rep)
}

func plan(ctx context.Context, cmd *cli.Command) error {
	token := cmd.Args().First()
	if token == "" {
		return fmt.Errorf("plan: tag token is required")
	}
	app, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	minimum := int(cmd.Int("minimum-count"))
	if cmd.Bool("apply") {
		res, err := app.Service.Reconcile(ctx, token, minimum)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, res)
	}
	specs, err := app.Service.Plan(ctx, token, minimum)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, specs)
}

// parsePartition reads "from..to"; either bound may be empty.
func parsePartition(s string) (models.Query, error) {
	from, to, ok := strings.Cut(s, "..")
	if !ok {
		return models.Query{}, fmt.Errorf("partition %q: want from..to", s)
	}
	return models.Query{IDFrom: from, IDTo: to}, nil
}

func recommitCmd(ctx context.Context, cmd *cli.Command) error {
	app, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	window := int(cmd.Int("window"))
	keyset := cmd.Bool("keyset")

	if runID := cmd.String("resume"); runID != "" {
		st, err := app.Service.ResumeRecommit(ctx, runID, window, keyset)
		if perr := printJSON(os.Stdout, st); perr != nil {
			return perr
		}
		return err
	}

	req := service.RecommitRequest{
		RunID:  cmd.String("run-id"),
		Query:  models.Query{Populated: cmd.StringSlice("populated")},
		Window: window,
		Keyset: keyset,
	}
	for _, raw := range cmd.StringSlice("partition") {
		q, err := parsePartition(raw)
		if err != nil {
			return err
		}
		q.Populated = req.Query.Populated
		req.Partitions = append(req.Partitions, q)
	}

	stats, err := app.Service.Recommit(ctx, req)
	if perr := printJSON(os.Stdout, stats); perr != nil {
		return perr
	}
	return err
}

func listTags(ctx context.Context, cmd *cli.Command) error {
	app, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()
	return printJSON(os.Stdout, app.Service.Tags(ctx))
}

func putTag(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("tags put: want <serial> <identifier>")
	}
	serial, ok := models.ParseSerial(cmd.Args().Get(0))
	if !ok {
		return fmt.Errorf("tags put: bad serial %q", cmd.Args().Get(0))
	}
	app, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	tag, err := app.Service.PutTag(ctx, serial, cmd.Args().Get(1))
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, tag)
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	app, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()
	return mcpserver.New(app.Service, version).ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:    "tagdex",
		Usage:   "Tag dictionary, usage counters and offset indexes over a JSON document collection",
		Version: version,
		Action:  serve,
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
				Usage:  "Run the HTTP API",
				Action: serve,
			},
			{
				Name:   "scan",
				Usage:  "Recount tag usage over the whole collection",
				Action: scan,
			},
			{
				Name:      "plan",
				Usage:     "Plan offset indexes for a tag",
				ArgsUsage: "<tag>",
				Action:    plan,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "minimum-count",
						Usage: "Index offsets used by more than this many documents (negative: configured default)",
						Value: -1,
					},
					&cli.BoolFlag{
						Name:  "apply",
						Usage: "Create planned indexes and drop stale ones",
					},
				},
			},
			{
				Name:   "recommit",
				Usage:  "Rebuild the derived tag section of every matching document",
				Action: recommitCmd,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "run-id", Usage: "Run identifier (generated when empty)"},
					&cli.StringFlag{Name: "resume", Usage: "Resume the run saved under this identifier"},
					&cli.IntFlag{Name: "window", Usage: "Documents per batch (0: configured default)"},
					&cli.BoolFlag{Name: "keyset", Usage: "Page by row key instead of skip"},
					&cli.StringSliceFlag{Name: "populated", Usage: "Only documents with this offset path set"},
					&cli.StringSliceFlag{Name: "partition", Usage: "Identity range from..to, run in parallel"},
				},
			},
			{
				Name:   "tags",
				Usage:  "List the tag dictionary",
				Action: listTags,
				Commands: []*cli.Command{
					{
						Name:      "put",
						Usage:     "Register or rename a tag",
						ArgsUsage: "<serial> <identifier>",
						Action:    putTag,
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools over stdio",
				Action: mcp,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
