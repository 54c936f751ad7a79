// Package auditlog records confirmation and tool events as rotated JSON lines.
package auditlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxBytes   = int64(4 << 20)
	defaultMaxBackups = 3
	defaultListLimit  = 200

	activeName    = "actions.jsonl"
	rotatedPrefix = "actions-"
	rotatedSuffix = ".jsonl"
)

// Action identifiers written by the assistant.
const (
	ActionPendingStaged        = "pending_staged"
	ActionPendingConfirmed     = "pending_confirmed"
	ActionPendingCanceled      = "pending_canceled"
	ActionPendingTokenMismatch = "pending_token_mismatch"
	ActionPendingExpired       = "pending_expired"
	ActionToolExecuted         = "tool_executed"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Entry is one audit record. Tool arguments are never recorded.
type Entry struct {
	CreatedAt time.Time `json:"created_at"`
	Action    string    `json:"action"`

	// Status is StatusSuccess unless set.
	Status string `json:"status"`

	// Error is a short non-secret summary, usually a tool error code.
	Error string `json:"error,omitempty"`

	UserID   int64    `json:"user_id"`
	ActionID string   `json:"action_id,omitempty"`
	Tools    []string `json:"tools,omitempty"`
}

type Options struct {
	Logger *slog.Logger
	// StateDir is the assistant state directory; entries go to <StateDir>/audit.
	StateDir string

	// MaxBytes is the rotation threshold of the active file. If <= 0, a default is used.
	MaxBytes int64
	// MaxBackups keeps the latest N rotated files. If <= 0, a default is used.
	MaxBackups int

	// Now is a test seam.
	Now func() time.Time
}

// Store appends entries to <state_dir>/audit/actions.jsonl and rotates it by size.
//
// Append never fails the caller: write errors are logged and the entry is dropped.
type Store struct {
	log *slog.Logger
	now func() time.Time

	dir        string
	maxBytes   int64
	maxBackups int

	mu   sync.Mutex
	f    *os.File
	size int64
}

func New(opts Options) (*Store, error) {
	stateDir := strings.TrimSpace(opts.StateDir)
	if stateDir == "" {
		return nil, errors.New("missing StateDir")
	}
	dir := filepath.Join(stateDir, "audit")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	s := &Store{
		log:        opts.Logger,
		now:        opts.Now,
		dir:        dir,
		maxBytes:   opts.MaxBytes,
		maxBackups: opts.MaxBackups,
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.maxBytes <= 0 {
		s.maxBytes = defaultMaxBytes
	}
	if s.maxBackups <= 0 {
		s.maxBackups = defaultMaxBackups
	}
	if err := s.openActiveLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) activePath() string {
	return filepath.Join(s.dir, activeName)
}

func (s *Store) openActiveLocked() error {
	f, err := os.OpenFile(s.activePath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	s.f = f
	s.size = st.Size()
	return nil
}

// Append writes e, filling CreatedAt and Status when empty.
func (s *Store) Append(e Entry) {
	if s == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	if strings.TrimSpace(e.Status) == "" {
		e.Status = StatusSuccess
	}
	line, err := json.Marshal(&e)
	if err != nil {
		s.log.Warn("auditlog encode failed", "action", e.Action, "error", err)
		return
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		if err := s.openActiveLocked(); err != nil {
			s.log.Warn("auditlog reopen failed", "error", err)
			return
		}
	}
	n, err := s.f.Write(line)
	s.size += int64(n)
	if err != nil {
		s.log.Warn("auditlog append failed", "action", e.Action, "error", err)
		return
	}
	if s.size > s.maxBytes {
		s.rotateLocked()
	}
}

// Close releases the active file. Later Appends reopen it.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// List returns up to limit entries, newest first. userID > 0 keeps only that user's entries.
func (s *Store) List(userID int64, limit int) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	s.mu.Lock()
	files := append([]string{s.activePath()}, s.rotatedLocked()...)
	s.mu.Unlock()

	out := make([]Entry, 0, min(limit, 64))
	for _, path := range files {
		entries, err := readFile(path)
		if err != nil {
			return out, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
			if userID > 0 && entries[i].UserID != userID {
				continue
			}
			out = append(out, entries[i])
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// rotatedLocked lists rotated files newest first.
func (s *Store) rotatedLocked() []string {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, ent := range ents {
		name := ent.Name()
		if ent.IsDir() || !strings.HasPrefix(name, rotatedPrefix) || !strings.HasSuffix(name, rotatedSuffix) {
			continue
		}
		out = append(out, filepath.Join(s.dir, name))
	}
	// Zero-padded nanosecond suffixes sort in time order.
	slices.Sort(out)
	slices.Reverse(out)
	return out
}

func (s *Store) rotateLocked() {
	_ = s.f.Close()
	s.f = nil

	dst := filepath.Join(s.dir, fmt.Sprintf("%s%020d%s", rotatedPrefix, s.now().UnixNano(), rotatedSuffix))
	if err := os.Rename(s.activePath(), dst); err != nil {
		s.log.Warn("auditlog rotate failed", "error", err)
	}
	if err := s.openActiveLocked(); err != nil {
		s.log.Warn("auditlog reopen failed", "error", err)
	}

	rotated := s.rotatedLocked()
	for _, path := range rotated[min(len(rotated), s.maxBackups):] {
		_ = os.Remove(path)
	}
}

// readFile decodes every well-formed line of path, oldest first.
func readFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var entries []Entry
	for sc.Scan() {
		var e Entry
		if json.Unmarshal(sc.Bytes(), &e) != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}
