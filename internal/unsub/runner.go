// Package unsub is the send loop shared by every command: it walks a
// stream of candidate numbers, skips the ones already opted out, sends the
// STOP reply to the rest and records each success.
package unsub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"spamstop/internal/logging"
	"spamstop/internal/phone"
	"spamstop/internal/sender"
)

// Defaults used when a Runner field is left zero.
const (
	DefaultDelay      = 100 * time.Millisecond
	DefaultFlushEvery = 100
)

// OptOutSet is the part of the opt-out service the loop needs.
type OptOutSet interface {
	IsOptedOut(ctx context.Context, number string) (bool, error)
	Add(ctx context.Context, number, source, runID string) error
	Flush(ctx context.Context) error
}

// Result counts what a run did. Candidates counts distinct non-empty
// numbers; each lands in exactly one of the other counters unless the run
// was interrupted.
type Result struct {
	Candidates int
	Sent       int
	Skipped    int
	Failed     int
	WouldSend  int
	Duration   time.Duration
}

// Counts returns the counters as audit fields.
func (r Result) Counts() map[string]interface{} {
	return map[string]interface{}{
		"candidates": r.Candidates,
		"sent":       r.Sent,
		"skipped":    r.Skipped,
		"failed":     r.Failed,
		"would_send": r.WouldSend,
	}
}

// Runner sends the STOP reply to a stream of numbers.
type Runner struct {
	OptOuts OptOutSet
	Sender  sender.Sender

	// Delay is the pause after every successful send. Negative means none.
	Delay time.Duration
	// FlushEvery flushes the opt-out set after that many successful sends.
	// Zero uses DefaultFlushEvery; negative flushes only at the end.
	FlushEvery int

	Message string // default sender.DefaultMessage
	Source  string // recorded with each opt-out, usually the command name
	RunID   string
	DryRun  bool

	// Out receives one progress line per send. Nil discards them.
	Out io.Writer
}

// Run processes numbers until the sequence ends or ctx is canceled. A
// failed send is counted and the loop moves on; a storage error stops the
// run. The opt-out set is flushed before returning in every case, and the
// partial Result is returned alongside any error.
func (r *Runner) Run(ctx context.Context, numbers iter.Seq[string]) (Result, error) {
	start := time.Now()
	log := logging.WithRunID(logging.CategoryUnsub, r.RunID)
	audit := logging.AuditFor(r.RunID, r.Source)

	out := r.Out
	if out == nil {
		out = io.Discard
	}
	text := r.Message
	if text == "" {
		text = sender.DefaultMessage
	}
	delay := r.Delay
	if delay == 0 {
		delay = DefaultDelay
	}
	flushEvery := r.FlushEvery
	if flushEvery == 0 {
		flushEvery = DefaultFlushEvery
	}

	var (
		res        Result
		runErr     error
		sinceFlush int
		seen       = make(map[string]struct{})
	)

	for raw := range numbers {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		number := phone.Clean(raw)
		if number == "" {
			continue
		}
		if _, dup := seen[number]; dup {
			continue
		}
		seen[number] = struct{}{}
		res.Candidates++

		opted, err := r.OptOuts.IsOptedOut(ctx, number)
		if err != nil {
			runErr = fmt.Errorf("check opt-out: %w", err)
			break
		}
		// Skips are only counted; RunEnd carries the total.
		if opted {
			res.Skipped++
			log.Debug("skip %s: already opted out", logging.MaskPhone(number))
			continue
		}

		if r.DryRun {
			res.WouldSend++
			audit.DryRun(number)
			fmt.Fprintf(out, "[dry-run] Would send %s to %s\n", text, number)
			continue
		}

		fmt.Fprintf(out, "Sending %s to %s\n", text, number)
		sendStart := time.Now()
		err = r.Sender.Send(ctx, number, text)
		audit.Send(number, time.Since(sendStart), err)
		if err != nil {
			if ctx.Err() != nil {
				runErr = ctx.Err()
				break
			}
			res.Failed++
			log.Warn("send to %s failed: %v", logging.MaskPhone(number), err)
			continue
		}

		if err := r.OptOuts.Add(ctx, number, r.Source, r.RunID); err != nil {
			runErr = fmt.Errorf("record opt-out: %w", err)
			break
		}
		res.Sent++
		sinceFlush++

		if flushEvery > 0 && sinceFlush >= flushEvery {
			if err := r.OptOuts.Flush(ctx); err != nil {
				runErr = fmt.Errorf("flush opt-outs: %w", err)
				break
			}
			log.Debug("flushed opt-out set after %d sends", res.Sent)
			sinceFlush = 0
		}

		if err := sleep(ctx, delay); err != nil {
			runErr = err
			break
		}
	}

	// Flush even when canceled so completed sends are never forgotten.
	if sinceFlush > 0 {
		if err := r.OptOuts.Flush(context.WithoutCancel(ctx)); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("flush opt-outs: %w", err))
		}
	}

	res.Duration = time.Since(start)
	log.Info("run done: candidates=%d sent=%d skipped=%d failed=%d would_send=%d in %s",
		res.Candidates, res.Sent, res.Skipped, res.Failed, res.WouldSend, res.Duration)
	return res, runErr
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
