package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spamstop/internal/logging"
	"spamstop/internal/messages"
)

// cleanupCmd deletes the STOP replies from chat.db.
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete sent STOP messages from the Messages database",
	Long: `Deletes every message whose text is exactly the STOP reply, so thousands
of sent replies do not clutter Messages.app. Quit Messages.app first.

With --dry-run the matching messages are only counted.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logging.Initialize(cfg.Logging.LogsDir(), cfg.Logging.Settings()); err == nil {
		if err := logging.InitAudit(); err != nil {
			logger.Warn("audit trail disabled", zap.Error(err))
		}
		defer logging.CloseAll()
		defer logging.CloseAudit()
	}
	audit := logging.AuditFor(runID, "cleanup")
	start := time.Now()

	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	store, err := messages.Open(cfg.ChatDBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	if dryRun {
		n, err := store.CountByText(ctx, cfg.Send.Message)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "[dry-run] Would delete %d %q messages\n", n, cfg.Send.Message)
		return nil
	}

	audit.RunStart(false)
	n, err := store.DeleteByText(ctx, cfg.Send.Message)
	audit.Cleanup(n, err)
	audit.RunEnd(time.Since(start), err, map[string]interface{}{"deleted": n})
	if err != nil {
		return err
	}

	logger.Info("cleanup finished", zap.Int64("deleted", n))
	fmt.Fprintf(out, "Deleted %d %q messages\n", n, cfg.Send.Message)
	return nil
}
