package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spamstop/internal/messages"
	"spamstop/internal/phone"
	"spamstop/internal/unsub"
	"spamstop/internal/watch"
)

var (
	unsubscribeLimit int
	unsubscribeWatch bool
)

// unsubscribeCmd replies STOP to every number derived from spam markers.
var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe",
	Short: "Reply STOP to numbers flagged with spam markers",
	Long: `Reads the newest "spam: <number>" messages from chat.db, keeps the digits
before the last four as a prefix, and replies STOP to all 10,000 completions
of every distinct prefix. Numbers already in the opt-out set are skipped.

With --watch the scan reruns whenever chat.db changes, until interrupted.

Examples:
  spamstop unsubscribe --dry-run
  spamstop unsubscribe --limit 20 --watch`,
	Args: cobra.NoArgs,
	RunE: runUnsubscribe,
}

func init() {
	unsubscribeCmd.Flags().IntVar(&unsubscribeLimit, "limit", 0, "Marker messages to scan (default from config)")
	unsubscribeCmd.Flags().BoolVar(&unsubscribeWatch, "watch", false, "Rescan whenever chat.db changes")
}

func runUnsubscribe(cmd *cobra.Command, args []string) (err error) {
	a, err := openApp(cmd, "unsubscribe")
	if err != nil {
		return err
	}
	var total unsub.Result
	defer func() { err = a.close(err, total.Counts()) }()

	ctx, cancel := a.context(cmd)
	defer cancel()

	limit := unsubscribeLimit
	if limit <= 0 {
		limit = a.cfg.Messages.Limit
	}

	scan := func(ctx context.Context) error {
		res, err := scanMarkers(ctx, a, limit)
		total.Candidates += res.Candidates
		total.Sent += res.Sent
		total.Skipped += res.Skipped
		total.Failed += res.Failed
		total.WouldSend += res.WouldSend
		total.Duration += res.Duration
		return err
	}

	if err := scan(ctx); err != nil {
		return err
	}
	if !unsubscribeWatch {
		return nil
	}

	fmt.Fprintf(a.out, "Watching %s for new spam markers (Ctrl+C to stop)\n", a.cfg.ChatDBPath())
	return watch.New(a.cfg.ChatDBPath(), a.cfg.GetWatchDebounce(), scan).Run(ctx)
}

// scanMarkers runs one pass: markers -> prefixes -> expansion -> send loop.
func scanMarkers(ctx context.Context, a *app, limit int) (unsub.Result, error) {
	store, err := messages.Open(a.cfg.ChatDBPath())
	if err != nil {
		return unsub.Result{}, err
	}
	markers, err := store.SpamMarkers(ctx, limit)
	store.Close()
	if err != nil {
		return unsub.Result{}, err
	}

	prefixes := markerPrefixes(markers)
	logger.Debug("scanned spam markers",
		zap.Int("markers", len(markers)),
		zap.Int("prefixes", len(prefixes)),
	)
	if len(prefixes) == 0 {
		fmt.Fprintln(a.out, "No spam markers found")
		return unsub.Result{}, nil
	}
	fmt.Fprintf(a.out, "Found %d spam prefixes (%d candidate numbers)\n", len(prefixes), len(prefixes)*phone.SuffixCount)

	r, err := a.runner("unsubscribe")
	if err != nil {
		return unsub.Result{}, err
	}
	res, err := r.Run(ctx, phone.ExpandAll(prefixes))
	a.summarize("unsubscribe", res)
	return res, err
}

// markerPrefixes returns the distinct prefixes carried by markers, newest
// marker first.
func markerPrefixes(markers []messages.Message) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range markers {
		p, ok := phone.MarkerPrefix(m.Text)
		if !ok {
			logger.Debug("ignoring marker without a usable number", zap.Int64("rowid", m.RowID))
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
