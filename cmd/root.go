package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/voucherscan/internal/config"
	"github.com/andresmejia3/voucherscan/internal/logger"
	"github.com/andresmejia3/voucherscan/internal/store"
	"github.com/andresmejia3/voucherscan/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// needsDB marks commands that cannot run without PostgreSQL.
const needsDB = "needs-db"

var (
	// DB is the global database connection shared by subcommands. Nil when no command needs it.
	DB *store.Store
	// Cfg is the merged configuration (defaults, file, environment, flags).
	Cfg *config.Config
	// Log is the process-wide structured logger.
	Log = zap.NewNop()

	dbURL      string
	configPath string
	logLevel   string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "voucherscan",
	Short:   "Find voucher codes shown on screen in YouTube videos",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if cmd.Flags().Changed("log-level") {
			Cfg.LogLevel = logLevel
		}
		if Log, err = logger.New(Cfg.LogLevel); err != nil {
			return err
		}

		if !wantsDB(cmd) {
			return nil
		}
		url := resolveDBURL(dbURL, Cfg.DatabaseURL)
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), url)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
		Log.Sync()
	},
}

// wantsDB is true for list, for reset unless only downloads are cleared, and
// for scans asked to persist their result.
func wantsDB(cmd *cobra.Command) bool {
	if _, ok := cmd.Annotations[needsDB]; ok {
		return true
	}
	switch cmd {
	case scanCmd:
		return scanOpts.Persist
	case resetCmd:
		return resetDB || !resetDownloads
	}
	return false
}

// resolveDBURL picks the --db flag, then DATABASE_URL, then the POSTGRES_* variables.
func resolveDBURL(flag, fromConfig string) string {
	if flag != "" {
		return flag
	}
	if fromConfig != "" {
		return fromConfig
	}
	// If no flag was provided, try to build the connection string from the environment
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	// Fallback to local default if no env vars are present
	return "postgres://localhost:5432/voucherscan"
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.SilenceErrors = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "🛑 Interrupted")
			os.Exit(130)
		}
		utils.Die("Command failed", err, nil)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: $DATABASE_URL or postgres://localhost:5432/voucherscan)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML file with settings (keys are lower-case env names, e.g. scan_workers)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
}
