package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spamstop/internal/config"
	"spamstop/internal/embedding"
	"spamstop/internal/logging"
	"spamstop/internal/optout"
	"spamstop/internal/report"
	"spamstop/internal/sender"
	"spamstop/internal/unsub"
)

// Constructors swapped out by tests.
var (
	newSender = func(cfg *config.Config) (sender.Sender, error) {
		return sender.NewScriptSender(nil, sender.ScriptOptions{
			Binary:  cfg.Send.Binary,
			Script:  config.ExpandHome(cfg.Send.Script),
			Timeout: cfg.GetSendTimeout(),
		})
	}

	newEngine = func(cfg config.EmbeddingConfig) (embedding.EmbeddingEngine, error) {
		return embedding.NewEngine(embedding.Config{
			Provider:       cfg.Provider,
			OllamaEndpoint: cfg.OllamaEndpoint,
			OllamaModel:    cfg.OllamaModel,
			GenAIAPIKey:    cfg.GenAIAPIKey,
			GenAIModel:     cfg.GenAIModel,
			GenAIBaseURL:   cfg.GenAIBaseURL,
			TaskType:       cfg.TaskType,
		})
	}
)

// app is the state shared by one command invocation.
type app struct {
	name  string
	cfg   *config.Config
	set   *optout.Service
	out   io.Writer
	audit *logging.AuditLogger
	start time.Time
}

// loadConfig reads and validates the config file named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openApp loads config, starts file logging and the audit trail, and opens
// the opt-out set. The caller must call close.
func openApp(cmd *cobra.Command, name string) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if err := logging.Initialize(cfg.Logging.LogsDir(), cfg.Logging.Settings()); err != nil {
		logger.Warn("file logging disabled", zap.Error(err))
	} else if err := logging.InitAudit(); err != nil {
		logger.Warn("audit trail disabled", zap.Error(err))
	}
	if logging.IsDebugMode() {
		logger.Debug("category logs enabled", zap.String("dir", cfg.Logging.LogsDir()))
	}
	logging.Boot("%s started: run %s, dry-run %v, backend %s", name, runID, dryRun, cfg.OptOut.Backend)

	repo, err := optout.Open(cmd.Context(), cfg.OptOut)
	if err != nil {
		logging.CloseAudit()
		logging.CloseAll()
		return nil, fmt.Errorf("open opt-out set: %w", err)
	}
	logger.Debug("opened opt-out set", zap.String("backend", cfg.OptOut.Backend))

	a := &app{
		name:  name,
		cfg:   cfg,
		set:   optout.NewService(repo),
		out:   cmd.OutOrStdout(),
		audit: logging.AuditFor(runID, name),
		start: time.Now(),
	}
	a.audit.RunStart(dryRun)
	return a, nil
}

// close flushes the opt-out set and closes the log files. It runs on every
// exit path, including cancellation.
func (a *app) close(runErr error, counts map[string]interface{}) error {
	a.audit.RunEnd(time.Since(a.start), runErr, counts)

	err := a.set.Close()
	if err != nil {
		logger.Error("failed to close opt-out set", zap.Error(err))
		err = fmt.Errorf("close opt-out set: %w", err)
	}
	logging.CloseAudit()
	logging.CloseAll()
	return errors.Join(runErr, err)
}

// context applies --timeout to the command context.
func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// sendDelay resolves --delay against the configured delay. Zero means no
// pause at all.
func (a *app) sendDelay() time.Duration {
	d := a.cfg.GetSendDelay()
	if delay > 0 {
		d = delay
	}
	if d == 0 {
		return -1
	}
	return d
}

// runner builds the send loop for this invocation.
func (a *app) runner(source string) (*unsub.Runner, error) {
	var snd sender.Sender
	if dryRun {
		snd = sender.NewDryRunSender()
	} else {
		s, err := newSender(a.cfg)
		if err != nil {
			return nil, err
		}
		snd = s
	}

	flushEvery := a.cfg.OptOut.FlushEvery
	if flushEvery == 0 {
		flushEvery = -1
	}

	return &unsub.Runner{
		OptOuts:    a.set,
		Sender:     snd,
		Delay:      a.sendDelay(),
		FlushEvery: flushEvery,
		Message:    a.cfg.Send.Message,
		Source:     source,
		RunID:      runID,
		DryRun:     dryRun,
		Out:        a.out,
	}, nil
}

// summarize prints the run summary and logs the counters.
func (a *app) summarize(title string, res unsub.Result) {
	fmt.Fprint(a.out, report.New().Summary(title, res, dryRun))
	logger.Info("run finished",
		zap.String("command", a.name),
		zap.Int("candidates", res.Candidates),
		zap.Int("sent", res.Sent),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Int("would_send", res.WouldSend),
		zap.Duration("duration", res.Duration),
	)
}
