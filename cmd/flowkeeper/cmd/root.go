package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/solatis/flowkeeper/internal/core/db"
	"github.com/solatis/flowkeeper/internal/core/logging"
)

// Version is the build version reported by serve.
const Version = "0.1.0"

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string

	logger = logging.Discard()
)

var rootCmd = &cobra.Command{
	Use:   "flowkeeper",
	Short: "flowkeeper conversational flow engine",
	Long:  `flowkeeper resolves inbound chat messages against per-step rules and drives conversation flows.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(logLevel, logFormat, os.Stderr)
		if err != nil {
			return err
		}
		logger = l
		slog.SetDefault(l)
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...); defaults to FK_DB_URL")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

// openDatabase opens --db-url, falling back to FK_DB_URL.
func openDatabase(ctx context.Context) (*sqlx.DB, error) {
	url := dbURL
	if url == "" {
		url = os.Getenv("FK_DB_URL")
	}
	if url == "" {
		return nil, fmt.Errorf("--db-url or FK_DB_URL required")
	}
	database, err := db.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}
