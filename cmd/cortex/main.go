package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"omnicortex/internal/broadcast"
	"omnicortex/internal/config"
	"omnicortex/internal/cortex"
	"omnicortex/internal/logging"
	"omnicortex/internal/rpc"
	"omnicortex/internal/store"
	"omnicortex/internal/types"
)

var (
	// Global flags
	projectPath string
	useGlobal   bool
	verbose     bool

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cortex",
	Short: "Omni-Cortex - persistent knowledge store for coding assistants",
	Long: `Omni-Cortex keeps a per-project catalog of memories, activities, and
sessions so a coding assistant can remember, recall, link, and review
knowledge across turns.

The serve command speaks newline-delimited JSON over stdio; the other
commands operate on the catalog directly.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if projectPath == "" {
			if projectPath, err = os.Getwd(); err != nil {
				return fmt.Errorf("failed to resolve working directory: %w", err)
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// serveCmd runs the stdio dispatcher
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tool surface over stdio",
	Long: `Serves newline-delimited JSON requests on stdin and writes responses to
stdout. The first request must be initialize. Exits 0 on EOF.`,
	RunE: runServe,
}

// exportCmd dumps the catalog
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the catalog to stdout",
	RunE:  runExport,
}

// importCmd loads an export
var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import an export file into the catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

// migrateCmd applies pending schema migrations
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Open the catalog and apply pending migrations",
	RunE:  runMigrate,
}

// statsCmd prints per-table row counts
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print per-table row counts",
	RunE:  runStats,
}

var (
	exportFormat  string
	importFormat  string
	importRestore bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectPath, "project", "p", "", "project directory (default: working directory)")
	rootCmd.PersistentFlags().BoolVar(&useGlobal, "global", false, "operate on the cross-project global catalog")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "export format: json or jsonl")
	importCmd.Flags().StringVar(&importFormat, "format", "json", "import format: json or jsonl")
	importCmd.Flags().BoolVar(&importRestore, "restore", false, "preserve access counts and last-accessed timestamps")

	rootCmd.AddCommand(serveCmd, exportCmd, importCmd, migrateCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openCore builds a core from the project config and returns the bound
// project handle.
func openCore() (*cortex.Core, *cortex.Project, error) {
	cfg, err := config.Load(projectPath)
	if err != nil {
		return nil, nil, err
	}

	core := cortex.New(cortex.Options{
		Config: cfg,
		Logger: logger,
	})

	var project *cortex.Project
	if useGlobal {
		project, err = core.Global()
	} else {
		project, err = core.Project(projectPath)
	}
	if err != nil {
		core.Close()
		return nil, nil, err
	}
	return core, project, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	core, project, err := openCore()
	if err != nil {
		return err
	}
	defer core.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher := broadcast.NewWatcher(core.Broadcaster(), project.Catalog().Path(), project.Path(), logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("external-change watcher disabled", zap.Error(err))
	} else {
		defer watcher.Stop()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rpc.NewServer(core, logger).Serve(ctx, os.Stdin, os.Stdout)
	})

	logger.Info("serving", zap.String("catalog", project.Catalog().Path()))
	return g.Wait()
}

func runExport(cmd *cobra.Command, args []string) error {
	core, project, err := openCore()
	if err != nil {
		return err
	}
	defer core.Close()

	return project.Export(cmd.Context(), exportFormat, os.Stdout)
}

func runImport(cmd *cobra.Command, args []string) error {
	core, project, err := openCore()
	if err != nil {
		return err
	}
	defer core.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("%w: failed to open export file: %v", types.ErrIO, err)
	}
	defer f.Close()

	snap, err := store.ReadSnapshot(f, importFormat)
	if err != nil {
		return err
	}
	if err := project.Import(cmd.Context(), snap, importRestore); err != nil {
		return err
	}

	fmt.Printf("Imported %d memories, %d activities, %d sessions\n",
		len(snap.Memories), len(snap.Activities), len(snap.Sessions))
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	core, project, err := openCore()
	if err != nil {
		return err
	}
	defer core.Close()

	version, err := project.Catalog().SchemaVersion()
	if err != nil {
		return err
	}
	fmt.Printf("Catalog %s at schema version %d\n", project.Catalog().Path(), version)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	core, project, err := openCore()
	if err != nil {
		return err
	}
	defer core.Close()

	stats, err := project.Stats(cmd.Context())
	if err != nil {
		return err
	}
	for _, table := range []string{"memories", "memory_tags", "memory_links", "memory_vectors", "sessions", "activities", "user_messages"} {
		fmt.Printf("%-15s %d\n", table, stats[table])
	}
	return nil
}
