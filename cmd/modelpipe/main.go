package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/modelpipe/internal/config"
	"github.com/banshee-data/modelpipe/internal/fsutil"
	"github.com/banshee-data/modelpipe/internal/model"
	"github.com/banshee-data/modelpipe/internal/pipeline"
	"github.com/banshee-data/modelpipe/internal/security"
	"github.com/banshee-data/modelpipe/internal/tracker"
	"github.com/banshee-data/modelpipe/internal/tracker/mlflow"
	"github.com/banshee-data/modelpipe/internal/tracker/sqlitestore"
	"github.com/banshee-data/modelpipe/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("modelpipe: %v", err)
	}
}

// options holds the command-line flags. Flags that were set explicitly
// override the config file.
type options struct {
	configPath  string
	trackingURI string
	experiment  string
	modelName   string
	stage       string
	archive     bool
	dataPath    string
	label       string
	raw         bool
	reportPath  string
	workers     int
	seed        uint64
	runID       string
	debugListen string
	showVersion bool
}

func newFlagSet(o *options, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("modelpipe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "Path to a .json/.yaml pipeline config (defaults are built in)")
	fs.StringVar(&o.trackingURI, "tracking-uri", "", "MLflow server URL or local SQLite tracker path")
	fs.StringVar(&o.experiment, "experiment", "", "Experiment name")
	fs.StringVar(&o.modelName, "model-name", "", "Registered model name")
	fs.StringVar(&o.stage, "stage", "", "Stage for the new model version")
	fs.BoolVar(&o.archive, "archive-existing", false, "Archive versions already in the target stage")
	fs.StringVar(&o.dataPath, "data", "", "Training data CSV")
	fs.StringVar(&o.label, "label", "", "Label column of an engineered CSV")
	fs.BoolVar(&o.raw, "raw", true, "Treat -data as a raw extract and apply the preparation recipe")
	fs.StringVar(&o.reportPath, "report", "", "Write an HTML comparison report to this path")
	fs.IntVar(&o.workers, "workers", 0, "Grid search workers per family (0 = one per CPU)")
	fs.Uint64Var(&o.seed, "seed", 0, "Random seed for splits and folds")
	fs.StringVar(&o.runID, "run-id", "", "Pipeline run id embedded in run names (random when empty)")
	fs.StringVar(&o.debugListen, "debug-listen", "", "Serve tracker admin routes on this address while running (local tracker only)")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	return fs
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) > 0 && args[0] == "migrate" {
		return runMigrate(args[1:], stdout)
	}

	var o options
	fs := newFlagSet(&o, os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if o.showVersion {
		fmt.Fprintln(stdout, version.String())
		return nil
	}

	cfg, err := loadConfig(o, fs)
	if err != nil {
		return err
	}
	log.Printf("%s starting: experiment=%s tracker=%s", version.String(), cfg.ExperimentName, cfg.TrackingURI)

	client, store, closeTracker, err := openTracker(cfg)
	if err != nil {
		return err
	}
	defer closeTracker()

	if o.debugListen != "" {
		if store == nil {
			log.Printf("-debug-listen ignored: admin routes need the local tracker")
		} else {
			shutdown, err := serveAdmin(store, o.debugListen)
			if err != nil {
				return err
			}
			defer shutdown()
		}
	}

	specs, err := cfg.Specs(model.DefaultRegistry())
	if err != nil {
		return err
	}
	orch, err := pipeline.New(pipeline.Options{
		Tracker:         client,
		Families:        specs,
		Experiment:      cfg.ExperimentName,
		ModelName:       cfg.ModelName,
		Stage:           cfg.Stage,
		ArchiveExisting: cfg.ArchiveExisting,
		Trainer:         cfg.TrainerConfig(),
		PipelineRunID:   o.runID,
		ReportPath:      cfg.ReportPath,
		FS:              fsutil.OSFileSystem{},
	})
	if err != nil {
		return err
	}

	out, err := orch.RunSource(ctx, cfg.Source())
	if err != nil {
		return fmt.Errorf("pipeline %s: %w", orch.PipelineRunID(), err)
	}
	printOutcome(stdout, out)
	return nil
}

// loadConfig reads the config file (or the built-in defaults) and applies
// the flags that were set on the command line.
func loadConfig(o options, fs *flag.FlagSet) (*config.PipelineConfig, error) {
	var cfg *config.PipelineConfig
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		d := config.Default()
		cfg = &d
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "tracking-uri":
			cfg.TrackingURI = o.trackingURI
		case "experiment":
			cfg.ExperimentName = o.experiment
		case "model-name":
			cfg.ModelName = o.modelName
		case "stage":
			cfg.Stage = o.stage
		case "archive-existing":
			cfg.ArchiveExisting = o.archive
		case "data":
			cfg.Data.Path = o.dataPath
		case "label":
			cfg.Data.Label = o.label
		case "raw":
			cfg.Data.Raw = o.raw
		case "report":
			cfg.ReportPath = o.reportPath
		case "workers":
			cfg.Workers = o.workers
		case "seed":
			cfg.Seed = o.seed
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.ReportPath != "" {
		if err := security.ValidateOutputPath(cfg.ReportPath); err != nil {
			return nil, fmt.Errorf("invalid report path: %w", err)
		}
	}
	return cfg, nil
}

func isRemote(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}

// openTracker returns the shared tracking client. The local store is also
// returned so its admin routes can be mounted.
func openTracker(cfg *config.PipelineConfig) (tracker.Client, *sqlitestore.Store, func(), error) {
	if isRemote(cfg.TrackingURI) {
		hc := &http.Client{Timeout: 60 * time.Second}
		return mlflow.New(cfg.TrackingURI, cfg.TrackingToken, hc), nil, func() {}, nil
	}
	store, err := sqlitestore.Open(cfg.TrackingURI, sqlitestore.Options{ArtifactRoot: cfg.ArtifactRoot})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open tracker %s: %w", cfg.TrackingURI, err)
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			log.Printf("close tracker: %v", err)
		}
	}
	return store, store, closeFn, nil
}

func serveAdmin(store *sqlitestore.Store, addr string) (func(), error) {
	mux := http.NewServeMux()
	if err := store.AttachAdminRoutes(mux); err != nil {
		return nil, fmt.Errorf("attach admin routes: %w", err)
	}
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("debug server: %v", err)
		}
	}()
	log.Printf("debug routes on http://%s/debug/", addr)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("debug server shutdown: %v", err)
		}
	}, nil
}

func runMigrate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbPath := fs.String("db", config.Default().TrackingURI, "Local tracker database")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if isRemote(*dbPath) {
		return fmt.Errorf("migrate works on a local tracker database, got %s", *dbPath)
	}
	return sqlitestore.RunMigrateCommand(fs.Args(), *dbPath, stdout)
}

func printOutcome(w io.Writer, out pipeline.Outcome) {
	fmt.Fprintf(w, "pipeline %s\n", out.PipelineRunID)
	for _, c := range out.Best.Candidates {
		marker := " "
		if c.RunID == out.Best.RunID {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-20s run=%s auc=%.4f accuracy=%.4f\n", marker, c.Family, c.RunID, c.AUC, c.Accuracy)
	}
	fmt.Fprintf(w, "best params: %s\n", out.Best.Params.Describe())
	fmt.Fprintf(w, "final run: %s\n", out.FinalRunID)
	fmt.Fprintf(w, "registered %s version %d (%s)\n", out.Version.Name, out.Version.Version, out.Version.Stage)
}
