package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType names a line in the send audit trail.
type AuditEventType string

const (
	AuditRunStart     AuditEventType = "run_start"
	AuditRunEnd       AuditEventType = "run_end"
	AuditSendOK       AuditEventType = "send_ok"
	AuditSendError    AuditEventType = "send_error"
	AuditDryRun       AuditEventType = "dry_run"
	AuditOptOutRemove AuditEventType = "optout_remove"
	AuditCleanup      AuditEventType = "cleanup"
)

// AuditEvent is one JSON line of the audit trail. Numbers are stored
// masked unless the event is an opt-out mutation the operator asked for.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`
	EventType  AuditEventType         `json:"event"`
	RunID      string                 `json:"run,omitempty"`
	Command    string                 `json:"cmd,omitempty"`
	Number     string                 `json:"number,omitempty"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// AuditLogger writes audit events scoped to one run.
type AuditLogger struct {
	runID   string
	command string
}

// InitAudit opens the audit trail for the day. No-op unless audit is enabled.
func InitAudit() error {
	configMu.RLock()
	enabled := settings.Audit
	configMu.RUnlock()
	if !enabled || logsDir == "" {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.jsonl", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// AuditFor returns an audit logger bound to a run and command name.
func AuditFor(runID, command string) *AuditLogger {
	return &AuditLogger{runID: runID, command: command}
}

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.RunID == "" {
		event.RunID = a.runID
	}
	if event.Command == "" {
		event.Command = a.command
	}

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.Write(append(data, '\n'))
	}
}

// =============================================================================
// CONVENIENCE METHODS
// =============================================================================

// RunStart records the start of a command.
func (a *AuditLogger) RunStart(dryRun bool) {
	a.Log(AuditEvent{
		EventType: AuditRunStart,
		Success:   true,
		Fields:    map[string]interface{}{"dry_run": dryRun},
	})
}

// RunEnd records the end of a command with its counters.
func (a *AuditLogger) RunEnd(d time.Duration, err error, counts map[string]interface{}) {
	ev := AuditEvent{
		EventType:  AuditRunEnd,
		Success:    err == nil,
		DurationMs: d.Milliseconds(),
		Fields:     counts,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	a.Log(ev)
}

// Send records one delivery attempt.
func (a *AuditLogger) Send(number string, d time.Duration, err error) {
	ev := AuditEvent{
		EventType:  AuditSendOK,
		Number:     MaskPhone(number),
		Success:    err == nil,
		DurationMs: d.Milliseconds(),
	}
	if err != nil {
		ev.EventType = AuditSendError
		ev.Error = err.Error()
	}
	a.Log(ev)
}

// DryRun records a send that was suppressed by --dry-run.
func (a *AuditLogger) DryRun(number string) {
	a.Log(AuditEvent{EventType: AuditDryRun, Number: MaskPhone(number), Success: true})
}

// OptOutRemove records a manual removal from the opt-out set.
func (a *AuditLogger) OptOutRemove(number string) {
	a.Log(AuditEvent{EventType: AuditOptOutRemove, Number: number, Success: true})
}

// Cleanup records how many STOP messages were deleted from chat.db.
func (a *AuditLogger) Cleanup(deleted int64, err error) {
	ev := AuditEvent{
		EventType: AuditCleanup,
		Success:   err == nil,
		Fields:    map[string]interface{}{"deleted": deleted},
	}
	if err != nil {
		ev.Error = err.Error()
	}
	a.Log(ev)
}
