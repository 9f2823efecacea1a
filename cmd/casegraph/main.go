package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/casegraph/internal/config"
	"github.com/hurttlocker/casegraph/internal/display"
	"github.com/hurttlocker/casegraph/internal/engine"
	"github.com/hurttlocker/casegraph/internal/ingest"
	"github.com/hurttlocker/casegraph/internal/logger"
	casemcp "github.com/hurttlocker/casegraph/internal/mcp"
	"github.com/hurttlocker/casegraph/internal/resolve"
	"github.com/hurttlocker/casegraph/internal/store"
)

var version = "0.1.0-dev"

// Global flags, set by parseGlobalFlags.
var (
	globalDBPath     string
	globalProject    string
	globalConfigPath string
	globalLogMode    string
	globalVerbose    bool
)

func main() {
	args := parseGlobalFlags(os.Args[1:])
	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch args[0] {
	case "ingest":
		err = runIngest(args[1:])
	case "import":
		err = runImport(args[1:])
	case "export":
		err = runExport(args[1:])
	case "projects":
		err = runProjects(args[1:])
	case "stats":
		err = runStats(args[1:])
	case "serve":
		err = runServe(args[1:])
	case "mcp":
		err = runMCP(args[1:])
	case "config":
		err = runConfig(args[1:])
	case "version", "--version":
		fmt.Printf("casegraph %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseGlobalFlags extracts --db, --project, --config, --log and --verbose
// from anywhere in args and returns the rest.
func parseGlobalFlags(args []string) []string {
	var filtered []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		matched := false
		for _, f := range []struct {
			name string
			dst  *string
		}{
			{"--db", &globalDBPath},
			{"--project", &globalProject},
			{"--config", &globalConfigPath},
			{"--log", &globalLogMode},
		} {
			if v, next, ok := flagValue(args, i, f.name); ok {
				*f.dst = v
				i = next
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if arg == "--verbose" {
			globalVerbose = true
			continue
		}
		filtered = append(filtered, arg)
	}
	return filtered
}

// flagValue matches "--name value" or "--name=value" at args[i]. next is the
// index of the last consumed argument.
func flagValue(args []string, i int, name string) (value string, next int, ok bool) {
	arg := args[i]
	if strings.HasPrefix(arg, name+"=") {
		return strings.TrimPrefix(arg, name+"="), i, true
	}
	if arg == name && i+1 < len(args) {
		return args[i+1], i + 1, true
	}
	return "", i, false
}

func resolveConfig(policy, port string) (config.ResolvedConfig, error) {
	return config.ResolveConfig(config.ResolveOptions{
		ConfigPath: globalConfigPath,
		CLIDBPath:  globalDBPath,
		CLIProject: globalProject,
		CLIPolicy:  policy,
		CLILog:     globalLogMode,
		CLIPort:    port,
	})
}

// runtime is an opened store plus an engine loaded with the current project.
type runtime struct {
	cfg config.ResolvedConfig
	log *logger.Logger
	st  store.Store
	eng *engine.Engine
}

func openRuntime(ctx context.Context, cfg config.ResolvedConfig) (*runtime, error) {
	mode := cfg.LogMode.Value
	if !globalVerbose && globalLogMode == "" && cfg.LogMode.Source == config.SourceDefault {
		mode = "quiet"
	}
	log, err := logger.New(mode)
	if err != nil {
		return nil, err
	}
	undoCap, err := cfg.UndoCapacityInt()
	if err != nil {
		return nil, err
	}

	st, err := store.NewStore(store.StoreConfig{DBPath: cfg.DBPath.Value})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	eng := engine.New(engine.Options{
		Logger:               log.With("project", cfg.Project.Value),
		Thresholds:           cfg.Thresholds,
		UndoCapacity:         undoCap,
		AutoLinkHypothetical: cfg.AutoLinkHypothetical,
	})

	data, err := st.LoadProject(ctx, cfg.Project.Value)
	switch {
	case errors.Is(err, store.ErrProjectNotFound):
		log.Debug("starting new project", "project", cfg.Project.Value)
	case err != nil:
		st.Close()
		return nil, fmt.Errorf("loading project %s: %w", cfg.Project.Value, err)
	default:
		rep, err := eng.Load(data)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("loading project %s: %w", cfg.Project.Value, err)
		}
		if rep.Repaired() {
			log.Warn("project document repaired on load", "project", cfg.Project.Value, "report", rep)
		}
	}
	return &runtime{cfg: cfg, log: log, st: st, eng: eng}, nil
}

func (r *runtime) close() {
	r.st.Close()
	r.log.Sync()
}

// save writes the engine document as a new project revision and journals op.
func (r *runtime) save(ctx context.Context, op, description string) (*store.ProjectInfo, error) {
	data, err := r.eng.ExportJSON()
	if err != nil {
		return nil, err
	}
	info, err := r.st.SaveProject(ctx, r.cfg.Project.Value, data)
	if err != nil {
		return nil, fmt.Errorf("saving project: %w", err)
	}
	if err := r.st.LogEvent(ctx, &store.Event{Project: r.cfg.Project.Value, Op: op, Description: description}); err != nil {
		r.log.Warn("journal write failed", "op", op, "error", err)
	}
	return info, nil
}

func runIngest(args []string) error {
	var paths []string
	var policy string
	opts := ingest.ImportOptions{}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if v, next, ok := flagValue(args, i, "--policy"); ok {
			policy, i = v, next
			continue
		}
		if v, next, ok := flagValue(args, i, "--kind"); ok {
			opts.DefaultKind, i = v, next
			continue
		}
		if v, next, ok := flagValue(args, i, "--max-size"); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --max-size %q", v)
			}
			opts.MaxFileSize, i = n, next
			continue
		}
		switch {
		case arg == "--recursive" || arg == "-r":
			opts.Recursive = true
		case arg == "--dry-run" || arg == "-n":
			opts.DryRun = true
		case arg == "--force":
			opts.Force = true
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			paths = append(paths, arg)
		}
	}
	if len(paths) == 0 {
		return fmt.Errorf("usage: casegraph ingest <path> [--recursive] [--dry-run] [--policy auto|create|merge|link|cancel] [--kind <kind>]")
	}

	cfg, err := resolveConfig(policy, "")
	if err != nil {
		return err
	}
	decider, err := resolve.ParsePolicy(cfg.Policy.Value)
	if err != nil {
		return err
	}

	ctx := context.Background()
	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	if opts.DryRun {
		fmt.Println("Dry run mode: no changes will be written")
		fmt.Println()
	}

	eng := ingest.NewEngine(rt.eng, decider)
	total := &ingest.ImportResult{}
	for _, path := range paths {
		fmt.Printf("Ingesting %s into project %s (policy %s)...\n", path, cfg.Project.Value, cfg.Policy.Value)
		opts.ProgressFn = func(current, n int, file string) {
			fmt.Printf("  [%d/%d] %s\n", current, n, file)
		}
		result, err := eng.ImportFile(ctx, path, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  Error: %v\n", err)
			continue
		}
		total.Add(result)
	}

	fmt.Println()
	fmt.Print(ingest.FormatImportResult(total))

	if opts.DryRun || total.EntitiesNew+total.Relationships+total.HypotheticalLinks == 0 {
		return nil
	}
	info, err := rt.save(ctx, "ingest", fmt.Sprintf("ingest %s: %d new, %d existing, %d relationships",
		strings.Join(paths, ", "), total.EntitiesNew, total.EntitiesExisting, total.Relationships))
	if err != nil {
		return err
	}
	fmt.Printf("Saved project %s (%d entities, revision %d)\n", info.Name, info.Entities, info.Revisions)
	return nil
}

func runImport(args []string) error {
	if len(args) != 1 || strings.HasPrefix(args[0], "-") {
		return fmt.Errorf("usage: casegraph import <document.json>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	cfg, err := resolveConfig("", "")
	if err != nil {
		return err
	}
	ctx := context.Background()
	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	rep, err := rt.eng.Import(data)
	if err != nil {
		return err
	}
	if rep.Repaired() {
		out, _ := json.MarshalIndent(rep, "", "  ")
		fmt.Printf("Document repaired on load:\n%s\n", out)
	}
	info, err := rt.save(ctx, "import", "import "+args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Imported %s into project %s (%d entities, %d relationships, %d clusters)\n",
		args[0], info.Name, info.Entities, info.Relationships, info.Clusters)
	return nil
}

func runExport(args []string) error {
	var outPath string
	var revision int64
	for i := 0; i < len(args); i++ {
		if v, next, ok := flagValue(args, i, "--out"); ok {
			outPath, i = v, next
			continue
		}
		if v, next, ok := flagValue(args, i, "--revision"); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid --revision %q", v)
			}
			revision, i = n, next
			continue
		}
		return fmt.Errorf("unknown argument: %s", args[i])
	}

	cfg, err := resolveConfig("", "")
	if err != nil {
		return err
	}
	st, err := store.NewStore(store.StoreConfig{DBPath: cfg.DBPath.Value})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	var data []byte
	if revision > 0 {
		data, err = st.LoadRevision(ctx, cfg.Project.Value, revision)
	} else {
		data, err = st.LoadProject(ctx, cfg.Project.Value)
	}
	if err != nil {
		return err
	}

	if outPath == "" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(outPath, data, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Exported project %s to %s\n", cfg.Project.Value, outPath)
	return nil
}

func runProjects(args []string) error {
	cfg, err := resolveConfig("", "")
	if err != nil {
		return err
	}
	st, err := store.NewStore(store.StoreConfig{DBPath: cfg.DBPath.Value})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	ctx := context.Background()

	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "list":
		projects, err := st.ListProjects(ctx)
		if err != nil {
			return err
		}
		if len(projects) == 0 {
			fmt.Println("No projects yet.")
			return nil
		}
		for _, p := range projects {
			marker := " "
			if p.Name == cfg.Project.Value {
				marker = "*"
			}
			fmt.Printf("%s %-24s %5d entities %5d relationships %3d clusters  %d revisions  %s\n",
				marker, p.Name, p.Entities, p.Relationships, p.Clusters, p.Revisions, p.UpdatedAt.Format("2006-01-02 15:04"))
		}
	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: casegraph projects delete <name>")
		}
		if err := st.DeleteProject(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("Deleted project %s\n", args[1])
	case "revisions":
		name := cfg.Project.Value
		if len(args) > 1 {
			name = args[1]
		}
		revs, err := st.ListRevisions(ctx, name, 0)
		if err != nil {
			return err
		}
		for _, r := range revs {
			fmt.Printf("%6d  %s  %s  %d entities\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Hash[:12], r.Entities)
		}
	case "events":
		limit := store.DefaultEventLimit
		for i := 1; i < len(args); i++ {
			if v, next, ok := flagValue(args, i, "--limit"); ok {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid --limit %q", v)
				}
				limit, i = n, next
			}
		}
		events, err := st.ListEvents(ctx, cfg.Project.Value, limit)
		if err != nil {
			return err
		}
		for _, e := range events {
			fmt.Printf("%s  %-22s %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Op, e.Description)
		}
	default:
		return fmt.Errorf("unknown projects subcommand %q (valid: list, delete, revisions, events)", sub)
	}
	return nil
}

func runStats(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("usage: casegraph stats")
	}
	cfg, err := resolveConfig("", "")
	if err != nil {
		return err
	}
	ctx := context.Background()
	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	storeStats, err := rt.st.Stats(ctx)
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(map[string]interface{}{
		"project": cfg.Project.Value,
		"graph":   rt.eng.Stats(),
		"store":   storeStats,
	}, "", "  ")
	fmt.Println(string(out))
	return nil
}

func runServe(args []string) error {
	var port string
	for i := 0; i < len(args); i++ {
		if v, next, ok := flagValue(args, i, "--port"); ok {
			port, i = v, next
			continue
		}
		return fmt.Errorf("unknown argument: %s", args[i])
	}

	cfg, err := resolveConfig("", port)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	p, _ := cfg.Port()
	fmt.Fprintf(os.Stderr, "Serving project %s on http://localhost:%d (Ctrl-C to stop)\n", cfg.Project.Value, p)
	return display.Serve(ctx, displayConfig(rt, p))
}

func runMCP(args []string) error {
	var port string
	for i := 0; i < len(args); i++ {
		if v, next, ok := flagValue(args, i, "--port"); ok {
			port, i = v, next
			continue
		}
		return fmt.Errorf("unknown argument: %s", args[i])
	}

	cfg, err := resolveConfig("", port)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	// The graph API runs next to the stdio transport only when asked for.
	if port != "" {
		p, _ := cfg.Port()
		go func() {
			if err := display.Serve(ctx, displayConfig(rt, p)); err != nil {
				rt.log.Error("graph API stopped", "error", err)
			}
		}()
	}

	srv := casemcp.NewServer(casemcp.ServerConfig{
		Engine:  rt.eng,
		Store:   rt.st,
		Project: cfg.Project.Value,
		Version: version,
		Logger:  rt.log,
	})
	return server.ServeStdio(srv)
}

func displayConfig(rt *runtime, port int) display.ServerConfig {
	return display.ServerConfig{
		Source: rt.eng,
		Port:   port,
		Logger: rt.log,
		Stats: func() any {
			return rt.eng.Stats()
		},
	}
}

func runConfig(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("usage: casegraph config")
	}
	cfg, err := resolveConfig("", "")
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(cfg, "", "  ")
	fmt.Println(string(out))
	return nil
}

func printUsage() {
	fmt.Printf(`casegraph %s: entity resolution and versioned investigation graphs

Usage:
  casegraph [global flags] <command> [arguments]

Commands:
  ingest <path>         Add entity records from JSON, JSONL, CSV, TSV, YAML or text files
  import <file>         Replace the project document with a saved document
  export                Print the project document (or --out <file>)
  projects [sub]        list | delete <name> | revisions [name] | events [--limit n]
  stats                 Show graph and store statistics
  serve                 Serve the read-only graph API and /metrics
  mcp                   Run the MCP server over stdio
  config                Show the resolved configuration and where each value came from
  version               Print version

Ingest Flags:
  -r, --recursive       Recurse into subdirectories
  -n, --dry-run         Report what would be added without writing
  --policy <name>       Near-duplicate policy: auto, create, merge, link, cancel
  --kind <kind>         Kind for records that do not name one
  --force               Create duplicates even for exact matches
  --max-size <bytes>    Skip files larger than this

Global Flags:
  --db <path>           Database path (default: ~/.casegraph/casegraph.db)
  --project <name>      Project name (default: default)
  --config <path>       Config file (default: ~/.casegraph/config.yaml)
  --log <mode>          Log mode: dev, prod, quiet
  --verbose             Log engine activity to stderr
`, version)
}
