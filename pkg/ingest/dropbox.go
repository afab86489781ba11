package ingest

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/intake-labs/ire/pkg/fault"
)

// Dropbox reads .eml files from a directory. Ordering is stable by
// (mtime, name); consumed files are recorded in a cursor file next to
// the directory so a restart resumes instead of reingesting.
type Dropbox struct {
	dir        string
	cursorPath string

	mu   sync.Mutex
	done map[string]bool
}

// NewDropbox opens the directory source and loads its cursor.
func NewDropbox(dir string) (*Dropbox, error) {
	d := &Dropbox{
		dir:        dir,
		cursorPath: filepath.Join(dir, ".cursor"),
		done:       make(map[string]bool),
	}
	if err := d.loadCursor(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dropbox) loadCursor() error {
	f, err := os.Open(d.cursorPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fault.Wrap(fault.KindDependencyUnavailable, "", "ingest_cursor_unreadable", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name != "" {
			d.done[name] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, "", "ingest_cursor_unreadable", err)
	}
	return nil
}

func (d *Dropbox) Next(ctx context.Context) (*RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "ingest_cancelled", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "ingest_dir_unreadable", err)
	}

	type candidate struct {
		name  string
		mtime int64
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".eml") || d.done[e.Name()] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{name: e.Name(), mtime: info.ModTime().UnixNano()})
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].mtime != candidates[j].mtime {
			return candidates[i].mtime < candidates[j].mtime
		}
		return candidates[i].name < candidates[j].name
	})

	name := candidates[0].name
	data, err := os.ReadFile(filepath.Join(d.dir, name))
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "ingest_file_unreadable", err)
	}
	return &RawMessage{SourceMessageID: name, Source: "dropbox", RawMIME: data}, nil
}

func (d *Dropbox) Commit(_ context.Context, sourceMessageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done[sourceMessageID] {
		return nil
	}
	f, err := os.OpenFile(d.cursorPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, "", "ingest_cursor_unwritable", err)
	}
	defer f.Close()

	if _, err := f.WriteString(sourceMessageID + "\n"); err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, "", "ingest_cursor_write_failed", err)
	}
	if err := f.Sync(); err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, "", "ingest_cursor_fsync_failed", err)
	}
	d.done[sourceMessageID] = true
	return nil
}
