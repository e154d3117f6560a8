// Package sender delivers the STOP reply through an external script.
package sender

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"spamstop/internal/logging"
)

// DefaultMessage is the reply text carriers recognize as an opt-out.
const DefaultMessage = "STOP"

// ErrScriptMissing is returned when the delivery script does not exist.
var ErrScriptMissing = errors.New("delivery script not found")

// Sender delivers one message to one number.
type Sender interface {
	Send(ctx context.Context, number, text string) error
}

// ScriptSender runs `<binary> <script> <number> <text>`, which on macOS is
// osascript driving Messages.app.
type ScriptSender struct {
	executor Executor
	binary   string
	script   string
	timeout  time.Duration
}

// ScriptOptions configures a ScriptSender.
type ScriptOptions struct {
	Binary  string // default "osascript"
	Script  string
	Timeout time.Duration
}

// NewScriptSender checks that the script exists and returns a sender that
// runs it through executor (a DirectExecutor when nil).
func NewScriptSender(executor Executor, opts ScriptOptions) (*ScriptSender, error) {
	if opts.Script == "" {
		return nil, fmt.Errorf("%w: no script configured", ErrScriptMissing)
	}
	if _, err := os.Stat(opts.Script); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrScriptMissing, opts.Script)
	}
	if opts.Binary == "" {
		opts.Binary = "osascript"
	}
	if executor == nil {
		executor = NewDirectExecutor()
	}
	logging.Sender("script sender ready: %s %s", opts.Binary, opts.Script)
	return &ScriptSender{
		executor: executor,
		binary:   opts.Binary,
		script:   opts.Script,
		timeout:  opts.Timeout,
	}, nil
}

// Send runs the script once. A killed process or non-zero exit is an error
// carrying stderr.
func (s *ScriptSender) Send(ctx context.Context, number, text string) error {
	cmd := Command{
		Binary:    s.binary,
		Arguments: []string{s.script, number, text},
		Timeout:   s.timeout,
	}
	logging.SenderDebug("sending %q to %s", text, logging.MaskPhone(number))

	res, err := s.executor.Execute(ctx, cmd)
	if err != nil {
		return err
	}
	if res.Killed {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s killed: %s", s.binary, res.KillReason)
	}
	if res.ExitCode != 0 {
		stderr := strings.TrimSpace(res.Stderr)
		if stderr == "" {
			return fmt.Errorf("%s exited %d", s.binary, res.ExitCode)
		}
		return fmt.Errorf("%s exited %d: %s", s.binary, res.ExitCode, stderr)
	}
	return nil
}

// Delivery is one message a DryRunSender would have sent.
type Delivery struct {
	Number string
	Text   string
}

// DryRunSender records deliveries instead of running anything.
type DryRunSender struct {
	mu         sync.Mutex
	deliveries []Delivery
}

// NewDryRunSender creates an empty dry-run sender.
func NewDryRunSender() *DryRunSender {
	return &DryRunSender{}
}

func (d *DryRunSender) Send(ctx context.Context, number, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	d.deliveries = append(d.deliveries, Delivery{Number: number, Text: text})
	d.mu.Unlock()
	logging.SenderDebug("dry-run: would send %q to %s", text, logging.MaskPhone(number))
	return nil
}

// Deliveries returns a copy of what was recorded.
func (d *DryRunSender) Deliveries() []Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Delivery, len(d.deliveries))
	copy(out, d.deliveries)
	return out
}
