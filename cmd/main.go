package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/app"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/fingerprint"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

var (
	configFile string
	log        *logger.Logger
	cfg        app.Config
)

var rootCmd = &cobra.Command{
	Use:   "driftd",
	Short: "Schema drift detection and mapping repair",
	Long: `driftd fingerprints upstream sources, detects schema drift, proposes
mapping repairs, and routes them through a confidence gate into the
versioned mapping registry or the human review queue.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scan/sweep scheduler",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := app.New(cmd.Context(), log, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Run(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables",
	RunE: func(_ *cobra.Command, _ []string) error {
		return app.Migrate(log, cfg)
	},
}

var scanKey fingerprint.Key

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan every declared source once, or one key with --tenant/--source/--entity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := app.New(cmd.Context(), log, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if scanKey.TenantID != "" || scanKey.SourceID != "" || scanKey.Entity != "" {
			if scanKey.TenantID == "" || scanKey.SourceID == "" || scanKey.Entity == "" {
				return fmt.Errorf("--tenant, --source and --entity must be given together")
			}
			res, err := a.ScanKey(cmd.Context(), scanKey)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		if failed := a.ScanOnce(cmd.Context()); failed > 0 {
			return fmt.Errorf("%d key(s) failed to scan", failed)
		}
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire overdue review items",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := app.New(cmd.Context(), log, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		n, err := a.SweepOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "expired %d review item(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (environment variables take precedence)")
	scanCmd.Flags().StringVar(&scanKey.TenantID, "tenant", "", "tenant id")
	scanCmd.Flags().StringVar(&scanKey.SourceID, "source", "", "source id")
	scanCmd.Flags().StringVar(&scanKey.Entity, "entity", "", "source entity")
	rootCmd.AddCommand(serveCmd, migrateCmd, scanCmd, sweepCmd)
}

func setup(_ *cobra.Command, _ []string) error {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	l, err := logger.New(logMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log = l
	cfg, err = app.LoadConfig(log, configFile)
	return err
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if log != nil {
			log.Error("driftd failed", "error", err)
			log.Sync()
		}
		os.Exit(1)
	}
}
