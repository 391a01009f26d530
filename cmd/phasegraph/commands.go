package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rendis/phasegraph/internal/canvas"
	"github.com/rendis/phasegraph/internal/conditions"
	"github.com/rendis/phasegraph/internal/logging"
	"github.com/rendis/phasegraph/internal/render"
	"github.com/rendis/phasegraph/internal/scheduler"
	"github.com/rendis/phasegraph/internal/store"
	"github.com/rendis/phasegraph/internal/validation"
	"github.com/rendis/phasegraph/pkg/mcp"
	"github.com/rendis/phasegraph/pkg/schema"
)

func newLogger(cfg Config) (*slog.Logger, error) {
	return logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
}

// openCanvas opens and migrates the database and wires the canvas service.
// The caller closes the returned store.
func openCanvas(ctx context.Context, cfg Config, logger *slog.Logger) (*canvas.Service, store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.NewLibSQLStore(cfg.dsn())
	if err != nil {
		return nil, nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	svc, err := newCanvas(s, cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	return svc, s, nil
}

// newCanvas wires the canvas service. Document-only operations never touch
// the store, so s may be nil for them.
func newCanvas(s store.Store, cfg Config, logger *slog.Logger) (*canvas.Service, error) {
	evaluator, err := conditions.NewEvaluator(logger)
	if err != nil {
		return nil, err
	}
	return canvas.NewService(s, evaluator, cfg.canvas(), logger)
}

func readDocument(svc *canvas.Service, path string) (*schema.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return svc.Decode(data, validation.FormatFromPath(path))
}

func runRender(args []string) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	in := fs.String("in", "", "workflow document (.json, .yaml or .yml)")
	workflowID := fs.String("workflow", "", "stored workflow ID, used when -in is empty")
	formatName := fs.String("format", "json", "output format: json, mermaid, dot, svg, png")
	out := fs.String("out", "", "output file (default: stdout)")
	title := fs.String("title", "", "diagram title (default: workflow name)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" && *workflowID == "" {
		return fmt.Errorf("one of -in or -workflow is required")
	}
	format, err := render.ParseFormat(*formatName)
	if err != nil {
		return err
	}

	cfg := loadConfig()
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	ctx := context.Background()

	var svc *canvas.Service
	if *in != "" {
		if svc, err = newCanvas(nil, cfg, logger); err != nil {
			return err
		}
	} else {
		var s store.Store
		if svc, s, err = openCanvas(ctx, cfg, logger); err != nil {
			return err
		}
		defer s.Close()
	}

	heading := *title
	var data []byte
	if *in != "" {
		doc, err := readDocument(svc, *in)
		if err != nil {
			return err
		}
		if heading == "" && doc.Workflow != nil {
			heading = doc.Workflow.Name
		}
		g, err := svc.BuildDocument(ctx, doc)
		if err != nil {
			return err
		}
		data, err = render.Render(ctx, g, format, renderOptions(cfg, heading))
		if err != nil {
			return err
		}
	} else {
		g, err := svc.Graph(ctx, *workflowID)
		if err != nil {
			return err
		}
		if heading == "" {
			heading = *workflowID
		}
		data, err = render.Render(ctx, g, format, renderOptions(cfg, heading))
		if err != nil {
			return err
		}
	}

	if *out == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	logger.Info("graph rendered", slog.String("format", string(format)), slog.String("out", *out))
	return nil
}

func renderOptions(cfg Config, title string) render.Options {
	return render.Options{
		Title: title,
		DOT:   render.DOTOptions{NodeSize: cfg.layout().NodeSize},
	}
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	in := fs.String("in", "", "workflow document (.json, .yaml or .yml)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("-in is required")
	}

	cfg := loadConfig()
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	svc, err := newCanvas(nil, cfg, logger)
	if err != nil {
		return err
	}
	doc, err := readDocument(svc, *in)
	if err != nil {
		return err
	}

	result := svc.ValidateDocument(doc)
	printIssues(os.Stdout, result)
	if !result.Valid() {
		return fmt.Errorf("%s: %d error(s)", *in, len(result.Errors))
	}
	printOK(os.Stdout, "%s: ok (%d phases)", *in, len(doc.Phases))
	return nil
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	in := fs.String("in", "", "workflow document (.json, .yaml or .yml)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("-in is required")
	}

	cfg := loadConfig()
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	ctx := context.Background()
	svc, s, err := openCanvas(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	doc, err := readDocument(svc, *in)
	if err != nil {
		return err
	}
	wf, err := svc.Import(ctx, doc)
	if err != nil {
		return err
	}
	printOK(os.Stdout, "imported workflow %s (%s) with %d phases", wf.ID, wf.Name, len(doc.Phases))
	return nil
}

func runInit(args []string) error {
	def := defaultConfig()
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dbPath := fs.String("db-path", def.DBPath, "database path")
	logLevel := fs.String("log-level", def.LogLevel, "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", def.LogFormat, "log format: text, json, pretty")
	vacuum := fs.String("vacuum-schedule", def.VacuumSchedule, "cron schedule for VACUUM (empty disables)")
	prune := fs.String("prune-schedule", def.PruneSchedule, "cron schedule for layout revision pruning (empty disables)")
	retention := fs.Int("layout-retention", def.LayoutRetention, "layout revisions kept per workflow")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := logging.ParseLevel(*logLevel); err != nil {
		return err
	}

	dir := phasegraphDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}

	cfg := def
	cfg.DBPath = *dbPath
	cfg.LogLevel = *logLevel
	cfg.LogFormat = *logFormat
	cfg.VacuumSchedule = *vacuum
	cfg.PruneSchedule = *prune
	cfg.LayoutRetention = *retention

	data, _ := json.MarshalIndent(cfg, "", "  ")
	path := settingsPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	fmt.Printf("Config written to %s\n", path)
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := loadConfig()
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, s, err := openCanvas(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	sched, err := scheduler.NewScheduler(s, cfg.scheduler(), logger)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = sched.Stop() }()

	srv := mcp.NewServer(mcp.ServerDeps{
		Canvas:   svc,
		NodeSize: cfg.layout().NodeSize,
		Version:  version,
		Logger:   logger,
	})

	logger.Info("phasegraph serving on stdio",
		slog.String("version", version),
		slog.String("db_path", cfg.DBPath),
	)
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
