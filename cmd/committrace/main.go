package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/committrace/committrace/internal/analyzer"
	"github.com/committrace/committrace/internal/config"
	"github.com/committrace/committrace/internal/ingest"
	"github.com/committrace/committrace/internal/logging"
	"github.com/committrace/committrace/internal/metrics"
	"github.com/committrace/committrace/internal/retryq"
	"github.com/committrace/committrace/internal/search"
	"github.com/committrace/committrace/internal/store"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "committrace",
	Short: "Commit intake and analysis pipeline",
	Long: `committrace ingests commit events from webhook pushes and local
repository scans, deduplicates them by diff fingerprint, analyzes the
diff for security and quality signals, and keeps a full-text search
index and productivity metrics over the result.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		logger = logging.New(logging.Options{Level: level, Format: cfg.Log.Format})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .committrace/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`committrace {{.Version}}
Build time: ` + BuildTime + `
`)

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(migrateCmd)
}

// openStore builds the configured storage backend.
func openStore() (store.Store, error) {
	switch cfg.Storage.Type {
	case "postgres":
		return store.NewPostgresStore(cfg.Storage.PostgresDSN, cfg.Storage.Timeout, logger)
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.LocalPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
		return store.NewSQLiteStore(cfg.Storage.LocalPath, cfg.Storage.Timeout, logger)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// newService wires the full pipeline. The returned cleanup closes the
// store and retry queue.
func newService() (*ingest.Service, func(), error) {
	s, err := openStore()
	if err != nil {
		return nil, nil, err
	}

	var retry *retryq.Queue
	if cfg.Retry.QueuePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Retry.QueuePath), 0o755); err == nil {
			retry, err = retryq.Open(cfg.Retry.QueuePath, logger)
			if err != nil {
				logger.WithError(err).Warn("Retry queue unavailable, failed steps will not be replayed")
				retry = nil
			}
		}
	}

	svc := ingest.NewService(
		s,
		analyzer.New(nil),
		search.NewIndexer(s, logger),
		metrics.New(nil),
		retry,
		logger,
		ingest.Options{
			Workers:         cfg.Ingestion.Workers,
			RateLimit:       rate.Limit(cfg.Ingestion.RateLimit),
			StorageAttempts: cfg.Ingestion.StorageAttempts,
			StorageBackoff:  cfg.Ingestion.StorageBackoff,
		},
	)
	cleanup := func() {
		if retry != nil {
			retry.Close()
		}
		s.Close()
	}
	return svc, cleanup, nil
}

func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return &t, nil
}
