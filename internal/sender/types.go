package sender

import "time"

// Command describes one process invocation. Arguments are passed to the
// process directly, never through a shell.
type Command struct {
	Binary    string
	Arguments []string
	Timeout   time.Duration
}

// ExecutionResult is what a finished (or killed) process left behind.
type ExecutionResult struct {
	ExitCode int
	Stdout   string
	Stderr   string

	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration

	// Killed is set when the timeout or the caller's context ended the
	// process.
	Killed     bool
	KillReason string

	Truncated      bool
	TruncatedBytes int64
}

// Succeeded reports a clean zero exit.
func (r *ExecutionResult) Succeeded() bool {
	return r != nil && !r.Killed && r.ExitCode == 0
}

// ExecutorConfig holds executor defaults.
type ExecutorConfig struct {
	DefaultTimeout time.Duration
	MaxOutputBytes int64

	// AllowedEnvironment lists the variables inherited from our own
	// environment. osascript needs HOME and USER to reach Messages.app.
	AllowedEnvironment []string
}

// DefaultExecutorConfig returns sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultTimeout:     30 * time.Second,
		MaxOutputBytes:     64 * 1024,
		AllowedEnvironment: []string{"PATH", "HOME", "USER", "LANG", "TMPDIR"},
	}
}
