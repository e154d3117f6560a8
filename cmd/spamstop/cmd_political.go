package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spamstop/internal/classify"
	"spamstop/internal/embedding"
	"spamstop/internal/messages"
	"spamstop/internal/phone"
	"spamstop/internal/report"
	"spamstop/internal/unsub"
)

var (
	politicalLimit     int
	politicalThreshold float64
)

// politicalCmd replies STOP to political campaign texts.
var politicalCmd = &cobra.Command{
	Use:     "unsubscribe-political",
	Aliases: []string{"unsubscribe_political"},
	Short:   "Reply STOP to political campaign texts",
	Long: `Embeds the newest US SMS messages and compares each with the opt-out
footer phrase ("Text STOP to quit"). A message whose similarity reaches the
threshold and that mentions a campaign buzz word is political; its sender
is sent STOP.

Needs an embedding engine: a local Ollama with the configured model, or a
Gemini API key. A key in GENAI_API_KEY or GEMINI_API_KEY selects genai
unless the config file sets embedding.provider.`,
	Args: cobra.NoArgs,
	RunE: runPolitical,
}

func init() {
	politicalCmd.Flags().IntVar(&politicalLimit, "limit", 0, "Recent messages to classify (default from config)")
	politicalCmd.Flags().Float64Var(&politicalThreshold, "threshold", 0, "Similarity threshold (default from config)")
}

func runPolitical(cmd *cobra.Command, args []string) (err error) {
	a, err := openApp(cmd, "unsubscribe-political")
	if err != nil {
		return err
	}
	var res unsub.Result
	defer func() { err = a.close(err, res.Counts()) }()

	ctx, cancel := a.context(cmd)
	defer cancel()

	pc := a.cfg.Political
	limit := politicalLimit
	if limit <= 0 {
		limit = pc.Limit
	}

	engine, err := newEngine(a.cfg.Embedding)
	if err != nil {
		return fmt.Errorf("create embedding engine: %w", err)
	}
	if hc, ok := engine.(embedding.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding engine %s unavailable: %w", engine.Name(), err)
		}
	}

	store, err := messages.Open(a.cfg.ChatDBPath())
	if err != nil {
		return err
	}
	recent, err := store.RecentSMS(ctx, limit)
	store.Close()
	if err != nil {
		return err
	}

	c := classify.New(engine)
	if pc.TargetPhrase != "" {
		c.TargetPhrase = pc.TargetPhrase
	}
	if len(pc.BuzzWords) > 0 {
		c.BuzzWords = pc.BuzzWords
	}
	c.Threshold = pc.Threshold
	if cmd.Flags().Changed("threshold") {
		c.Threshold = politicalThreshold
	}
	if pc.Concurrency > 0 {
		c.Concurrency = pc.Concurrency
	}

	verdicts, err := c.Match(ctx, recent)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, report.New().Verdicts(verdicts))

	matches := classify.Matches(verdicts)
	logger.Info("classified recent messages",
		zap.Int("messages", len(recent)),
		zap.Int("political", len(matches)),
		zap.String("engine", engine.Name()),
	)
	if len(matches) == 0 {
		return nil
	}

	handles := make([]string, 0, len(matches))
	for _, v := range matches {
		handles = append(handles, phone.National(v.Message.Handle))
	}

	r, err := a.runner("unsubscribe-political")
	if err != nil {
		return err
	}
	res, err = r.Run(ctx, phone.Slice(handles))
	a.summarize("unsubscribe-political", res)
	return err
}
