package unsub

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"spamstop/internal/logging"
	"spamstop/internal/optout"
	"spamstop/internal/phone"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingSender records every send and fails the numbers in fail.
type recordingSender struct {
	mu     sync.Mutex
	sent   []string
	fail   map[string]bool
	onSend func(n int)
}

func (s *recordingSender) Send(ctx context.Context, number, text string) error {
	s.mu.Lock()
	s.sent = append(s.sent, number+"|"+text)
	n := len(s.sent)
	s.mu.Unlock()
	if s.onSend != nil {
		s.onSend(n)
	}
	if s.fail[number] {
		return errors.New("osascript exited 1")
	}
	return ctx.Err()
}

// countingSet wraps the real service to count flushes.
type countingSet struct {
	*optout.Service
	flushes int
	addErr  error
}

func (c *countingSet) Flush(ctx context.Context) error {
	c.flushes++
	return c.Service.Flush(ctx)
}

func (c *countingSet) Add(ctx context.Context, number, source, runID string) error {
	if c.addErr != nil {
		return c.addErr
	}
	return c.Service.Add(ctx, number, source, runID)
}

func newSet(t *testing.T, existing ...string) (*countingSet, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "opted_out_list.txt")
	if len(existing) > 0 {
		require.NoError(t, os.WriteFile(path, []byte(strings.Join(existing, "\n")+"\n"), 0644))
	}
	repo, err := optout.OpenFile(path)
	require.NoError(t, err)
	return &countingSet{Service: optout.NewService(repo)}, path
}

func TestRunner_SendsSkipsAndRecords(t *testing.T) {
	set, path := newSet(t, "5550000001")
	snd := &recordingSender{}
	var out bytes.Buffer

	r := &Runner{OptOuts: set, Sender: snd, Delay: -1, Source: "bulk", RunID: "run-1", Out: &out}
	res, err := r.Run(context.Background(), phone.Slice([]string{
		"555-000-0001", // already opted out
		"+1 (555) 000-0002",
		"",
		"5550000002", // same number again
		"5550000003",
	}))
	require.NoError(t, err)

	assert.Equal(t, Result{Candidates: 3, Sent: 2, Skipped: 1, Duration: res.Duration}, res)
	assert.Equal(t, []string{"5550000002|STOP", "5550000003|STOP"}, snd.sent)
	assert.Contains(t, out.String(), "Sending STOP to 5550000002")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "5550000001\n5550000002\n5550000003\n", string(data))
}

func TestRunner_AuditTrailCountsSkips(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, logging.Initialize(dir, logging.Settings{Audit: true}))
	require.NoError(t, logging.InitAudit())
	t.Cleanup(func() {
		logging.CloseAudit()
		logging.CloseAll()
		_ = logging.Initialize(dir, logging.Settings{})
	})

	set, _ := newSet(t, "5550000001", "5550000002")
	r := &Runner{OptOuts: set, Sender: &recordingSender{}, Delay: -1, Source: "unsubscribe", RunID: "run-2"}
	res, err := r.Run(context.Background(), phone.Slice([]string{"5550000001", "5550000002", "5550000003"}))
	require.NoError(t, err)
	require.Equal(t, 2, res.Skipped)

	logging.AuditFor("run-2", "unsubscribe").RunEnd(res.Duration, nil, res.Counts())
	logging.CloseAudit()

	matches, err := filepath.Glob(filepath.Join(dir, "*_audit.jsonl"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()

	var events []string
	var runEnd logging.AuditEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev logging.AuditEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, string(ev.EventType))
		if ev.EventType == logging.AuditRunEnd {
			runEnd = ev
		}
	}
	require.NoError(t, sc.Err())

	assert.Equal(t, []string{"send_ok", "run_end"}, events, "opted-out numbers write no per-number lines")
	assert.EqualValues(t, 2, runEnd.Fields["skipped"])
}

func TestRunner_FailedSendIsNotRecorded(t *testing.T) {
	set, _ := newSet(t)
	snd := &recordingSender{fail: map[string]bool{"5550000002": true}}

	r := &Runner{OptOuts: set, Sender: snd, Delay: -1}
	res, err := r.Run(context.Background(), phone.Slice([]string{"5550000001", "5550000002", "5550000003"}))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)

	ctx := context.Background()
	ok, err := set.IsOptedOut(ctx, "5550000002")
	require.NoError(t, err)
	assert.False(t, ok, "a failed number stays eligible for the next run")
	ok, err = set.IsOptedOut(ctx, "5550000003")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunner_DryRun(t *testing.T) {
	set, path := newSet(t, "5550000001")
	snd := &recordingSender{}
	var out bytes.Buffer

	r := &Runner{OptOuts: set, Sender: snd, DryRun: true, Out: &out}
	res, err := r.Run(context.Background(), phone.Slice([]string{"5550000001", "5550000002", "5550000002"}))
	require.NoError(t, err)

	assert.Equal(t, 1, res.WouldSend)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Sent)
	assert.Empty(t, snd.sent)
	assert.Zero(t, set.flushes)
	assert.Contains(t, out.String(), "[dry-run] Would send STOP to 5550000002")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "5550000001\n", string(data), "dry run leaves the set untouched")
}

func TestRunner_FlushCadence(t *testing.T) {
	set, _ := newSet(t)
	snd := &recordingSender{}

	var numbers []string
	for i := range 7 {
		numbers = append(numbers, "555000000"+string(rune('0'+i)))
	}

	r := &Runner{OptOuts: set, Sender: snd, Delay: -1, FlushEvery: 3}
	res, err := r.Run(context.Background(), phone.Slice(numbers))
	require.NoError(t, err)
	assert.Equal(t, 7, res.Sent)
	assert.Equal(t, 3, set.flushes, "after 3, after 6, and the final partial batch")
}

func TestRunner_DelayBetweenSends(t *testing.T) {
	set, _ := newSet(t)
	snd := &recordingSender{}

	r := &Runner{OptOuts: set, Sender: snd, Delay: 30 * time.Millisecond}
	start := time.Now()
	_, err := r.Run(context.Background(), phone.Slice([]string{"5550000001", "5550000002", "5550000003"}))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestRunner_CancelStopsAndFlushes(t *testing.T) {
	set, path := newSet(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	snd := &recordingSender{onSend: func(n int) {
		if n == 2 {
			cancel()
		}
	}}

	r := &Runner{OptOuts: set, Sender: snd, Delay: -1}
	res, err := r.Run(ctx, phone.Expand("555123"))
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 1, res.Sent, "second send saw the canceled context")
	assert.Len(t, snd.sent, 2)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "5551230000\n", string(data))
}

func TestRunner_CancelDuringDelay(t *testing.T) {
	set, path := newSet(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := &Runner{OptOuts: set, Sender: &recordingSender{}, Delay: time.Hour}
	start := time.Now()
	res, err := r.Run(ctx, phone.Expand("555123"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, res.Sent)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "5551230000\n", string(data))
}

func TestRunner_StorageErrorStops(t *testing.T) {
	set, _ := newSet(t)
	set.addErr = errors.New("disk full")
	snd := &recordingSender{}

	r := &Runner{OptOuts: set, Sender: snd, Delay: -1}
	res, err := r.Run(context.Background(), phone.Slice([]string{"5550000001", "5550000002"}))
	require.ErrorIs(t, err, set.addErr)
	assert.Len(t, snd.sent, 1)
	assert.Zero(t, res.Sent)
}

func TestRunner_FullExpansionSendsEverySuffixOnce(t *testing.T) {
	set, _ := newSet(t, "5551230042")
	snd := &recordingSender{}

	r := &Runner{OptOuts: set, Sender: snd, Delay: -1, FlushEvery: -1}
	res, err := r.Run(context.Background(), phone.ExpandAll([]string{"555123", "555123"}))
	require.NoError(t, err)

	assert.Equal(t, phone.SuffixCount, res.Candidates)
	assert.Equal(t, phone.SuffixCount-1, res.Sent)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, set.flushes)
	assert.True(t, slices.IsSortedFunc(snd.sent, strings.Compare))
	assert.Equal(t, "5551230000|STOP", snd.sent[0])
	assert.Equal(t, "5551239999|STOP", snd.sent[len(snd.sent)-1])
}

func TestResult_Counts(t *testing.T) {
	c := Result{Candidates: 3, Sent: 1, Skipped: 1, Failed: 1}.Counts()
	assert.Equal(t, 3, c["candidates"])
	assert.Equal(t, 0, c["would_send"])
}
