package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kozaktomas/photo-annotator/internal/logging"
	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
	logger    = logging.Discard()
)

var rootCmd = &cobra.Command{
	Use:   "photo-annotator",
	Short: "Annotate a photo catalog with tags, objects and identities",
	Long: `Photo Annotator walks a PostgreSQL photo catalog and annotates every
analysable item with semantic tags, detected objects and face identities.
Identities are clustered incrementally and can be renamed or merged, and
items can be found with natural-language search.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logging.New(os.Stderr, envOr(logLevel, "LOG_LEVEL", "info"), envOr(logFormat, "LOG_FORMAT", "text"))
		slog.SetDefault(logger)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (env LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (env LOG_FORMAT)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// envOr prefers an explicit flag value, then the environment.
func envOr(flag, key, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
