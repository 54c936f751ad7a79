package auditlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStore_AppendAndListNewestFirst(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	s, err := New(Options{StateDir: t.TempDir(), Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	s.Append(Entry{Action: ActionPendingStaged, UserID: 1, ActionID: "a1", Tools: []string{"send_email"}})
	s.Append(Entry{Action: ActionPendingConfirmed, UserID: 1, ActionID: "a1"})
	s.Append(Entry{Action: ActionToolExecuted, UserID: 2, Status: StatusFailure, Error: "TIMEOUT"})

	got, err := s.List(0, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len=%d, want 3", len(got))
	}
	if got[0].Action != ActionToolExecuted || got[2].Action != ActionPendingStaged {
		t.Fatalf("order=%q..%q, want tool_executed first and pending_staged last", got[0].Action, got[2].Action)
	}
	if got[1].Status != StatusSuccess || !got[1].CreatedAt.Equal(now) {
		t.Fatalf("defaults not applied: %+v", got[1])
	}

	mine, err := s.List(1, 10)
	if err != nil {
		t.Fatalf("List(1): %v", err)
	}
	if len(mine) != 2 || mine[0].Action != ActionPendingConfirmed {
		t.Fatalf("user 1 entries=%+v, want confirmed then staged", mine)
	}

	limited, err := s.List(0, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("List(limit 1)=%d entries, err=%v", len(limited), err)
	}
}

func TestStore_RotatesAndKeepsBackups(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var tick int64
	s, err := New(Options{
		StateDir:   dir,
		MaxBytes:   200,
		MaxBackups: 2,
		Now: func() time.Time {
			tick++
			return time.Unix(0, tick)
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	for i := 0; i < 30; i++ {
		s.Append(Entry{Action: ActionToolExecuted, UserID: int64(i), Error: strings.Repeat("x", 50)})
	}

	ents, err := os.ReadDir(filepath.Join(dir, "audit"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	rotated := 0
	for _, ent := range ents {
		if strings.HasPrefix(ent.Name(), rotatedPrefix) {
			rotated++
		}
	}
	if rotated != 2 {
		t.Fatalf("rotated files=%d, want 2", rotated)
	}
	st, err := os.Stat(filepath.Join(dir, "audit", activeName))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := st.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm=%o, want 600", perm)
	}

	got, err := s.List(0, 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].UserID != 29 {
		t.Fatalf("newest=%+v, want user 29", got)
	}
}

func TestStore_AppendAfterCloseReopens(t *testing.T) {
	t.Parallel()

	s, err := New(Options{StateDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	s.Append(Entry{Action: ActionPendingCanceled, UserID: 3})
	t.Cleanup(func() { _ = s.Close() })

	got, err := s.List(3, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Action != ActionPendingCanceled {
		t.Fatalf("entries=%+v, want one canceled", got)
	}
}

func TestStore_SkipsCorruptLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(Options{StateDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	s.Append(Entry{Action: ActionPendingExpired, UserID: 1})

	f, err := os.OpenFile(filepath.Join(dir, "audit", activeName), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	_, _ = f.WriteString("{not json\n")
	_ = f.Close()

	got, err := s.List(0, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len=%d, want 1", len(got))
	}
}

func TestNew_RequiresStateDir(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error for missing StateDir")
	}
}
