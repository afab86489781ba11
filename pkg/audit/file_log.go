package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/intake-labs/ire/pkg/fault"
	"github.com/intake-labs/ire/pkg/schema"
)

// FileLog persists one JSONL file per (message_id, run_id) under
// baseDir/audit/<message_id>/<run_id>.jsonl. Appends fsync before
// acknowledging. When a registry is supplied, every event is
// schema-validated before it is written.
type FileLog struct {
	baseDir  string
	registry *schema.Registry

	mu    sync.Mutex
	heads map[chainKey]string
}

// NewFileLog creates a file-backed log rooted at baseDir.
func NewFileLog(baseDir string, registry *schema.Registry) *FileLog {
	return &FileLog{
		baseDir:  baseDir,
		registry: registry,
		heads:    make(map[chainKey]string),
	}
}

// BaseDir returns the root the log writes under.
func (l *FileLog) BaseDir() string { return l.baseDir }

func (l *FileLog) pathFor(messageID, runID string) string {
	return filepath.Join(l.baseDir, "audit", url.PathEscape(messageID), url.PathEscape(runID)+".jsonl")
}

func (l *FileLog) Append(ctx context.Context, e *Event) error {
	if e.MessageID == "" || e.RunID == "" {
		return fault.New(fault.KindValidation, e.Stage, "audit_event_missing_chain_key")
	}
	if err := ctx.Err(); err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, e.Stage, "audit_append_cancelled", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := chainKey{e.MessageID, e.RunID}
	prev, ok := l.heads[key]
	if !ok {
		recovered, err := l.recoverHead(e.MessageID, e.RunID)
		if err != nil {
			return err
		}
		prev = recovered
	}
	if err := e.Seal(prev); err != nil {
		return err
	}

	if l.registry != nil {
		if err := l.registry.Validate(e.SchemaID, e); err != nil {
			return err
		}
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fault.Wrap(fault.KindInternal, e.Stage, "audit_event_not_serializable", err)
	}

	path := l.pathFor(e.MessageID, e.RunID)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, e.Stage, "audit_dir_unwritable", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, e.Stage, "audit_open_failed", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, e.Stage, "audit_write_failed", err)
	}
	if err := f.Sync(); err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, e.Stage, "audit_fsync_failed", err)
	}

	l.heads[key] = e.EventHash
	return nil
}

// recoverHead re-reads the tail of an existing chain file after a
// restart so new appends continue the chain instead of restarting it.
func (l *FileLog) recoverHead(messageID, runID string) (string, error) {
	events, err := l.readChain(messageID, runID)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "", nil
	}
	return events[len(events)-1].EventHash, nil
}

func (l *FileLog) readChain(messageID, runID string) ([]Event, error) {
	path := l.pathFor(messageID, runID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "audit_open_failed", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fault.Wrap(fault.KindIntegrity, "", "audit_line_unparsable", err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "audit_read_failed", err)
	}
	return events, nil
}

func (l *FileLog) Chain(_ context.Context, messageID, runID string) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readChain(messageID, runID)
}

func (l *FileLog) Verify(ctx context.Context, messageID, runID string) (*Report, error) {
	events, err := l.Chain(ctx, messageID, runID)
	if err != nil {
		return nil, err
	}
	return VerifyEvents(events), nil
}

// Chains lists every (message_id, run_id) pair present on disk, sorted
// by path for stable iteration.
func (l *FileLog) Chains(_ context.Context) ([][2]string, error) {
	root := filepath.Join(l.baseDir, "audit")
	var out [][2]string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".jsonl") {
			return nil
		}
		escapedMsg := filepath.Base(filepath.Dir(path))
		escapedRun := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		messageID, err := url.PathUnescape(escapedMsg)
		if err != nil {
			return err
		}
		runID, err := url.PathUnescape(escapedRun)
		if err != nil {
			return err
		}
		out = append(out, [2]string{messageID, runID})
		return nil
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "audit_walk_failed", err)
	}
	return out, nil
}
