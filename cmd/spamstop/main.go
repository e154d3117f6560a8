package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"spamstop/internal/config"
)

var (
	// Global flags
	configPath string
	verbose    bool
	dryRun     bool
	timeout    time.Duration
	delay      time.Duration

	// Per-invocation state set in PersistentPreRunE
	logger *zap.Logger
	runID  string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "spamstop",
	Short: "Reply STOP to spam senders found in the Messages database",
	Long: `spamstop scans the local Messages database (chat.db) for spam markers,
derives the sender numbers and replies STOP to each one through an
AppleScript run by osascript.

Every number that has been sent STOP is recorded in the opt-out set, so no
number is ever sent STOP twice.

Mark a spam sender by texting yourself "spam: <number>". Only the digits
before the last four are trusted; all 10,000 completions are contacted.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		base, err := zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		runID = uuid.NewString()
		logger = base.With(zap.String("run_id", runID))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		syncLogger()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Print what would be sent without sending or recording")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Abort the whole command after this long (0 = no limit)")
	rootCmd.PersistentFlags().DurationVar(&delay, "delay", 0, "Pause between sends (default from config)")

	rootCmd.AddCommand(unsubscribeCmd)
	rootCmd.AddCommand(bulkCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(politicalCmd)
	rootCmd.AddCommand(optoutsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// cobra skips PersistentPostRun when RunE fails, so sync here too.
	err := rootCmd.ExecuteContext(ctx)
	syncLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// syncLogger flushes buffered log entries. Safe before the logger exists.
func syncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
