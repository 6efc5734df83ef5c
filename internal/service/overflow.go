package service

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// OverflowLog is the append-only ndjson fallback used when every tier write
// fails. Entries survive process restarts and are drained oldest first by the
// maintenance cycle once a backend recovers. An advisory flock guards against
// a second process sharing the file.
type OverflowLog struct {
	mu   sync.Mutex
	path string
}

func NewOverflowLog(path string) (*OverflowLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir overflow dir: %w", err)
	}
	return &OverflowLog{path: path}, nil
}

type overflowEntry struct {
	Record    *domain.Record `json:"record"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// Append writes one record as a single ndjson line.
func (o *OverflowLog) Append(r *domain.Record) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	f, err := os.OpenFile(o.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open overflow log: %w", err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock overflow log: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	line, err := json.Marshal(overflowEntry{Record: r, Embedding: r.Embedding})
	if err != nil {
		return fmt.Errorf("marshal overflow entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append overflow entry: %w", err)
	}
	return f.Sync()
}

// Drain reads up to max entries oldest first, hands each to apply, and
// rewrites the log with whatever remains. Entries whose apply fails stay in
// the log for the next drain.
func (o *OverflowLog) Drain(max int, apply func(*domain.Record) error) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries, err := o.readAll()
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	applied := 0
	var remaining []overflowEntry
	for i, e := range entries {
		if max > 0 && applied >= max {
			remaining = append(remaining, entries[i:]...)
			break
		}
		e.Record.Embedding = e.Embedding
		if err := apply(e.Record); err != nil {
			remaining = append(remaining, e)
			continue
		}
		applied++
	}

	if err := o.rewrite(remaining); err != nil {
		return applied, err
	}
	return applied, nil
}

// Depth reports the number of queued entries.
func (o *OverflowLog) Depth() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries, err := o.readAll()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (o *OverflowLog) readAll() ([]overflowEntry, error) {
	f, err := os.Open(o.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open overflow log: %w", err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH); err != nil {
		return nil, fmt.Errorf("lock overflow log: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	var out []overflowEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e overflowEntry
		if err := json.Unmarshal(line, &e); err != nil {
			// A torn tail line from a crash mid-append is dropped.
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func (o *OverflowLog) rewrite(entries []overflowEntry) error {
	tmp := o.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open overflow tmp: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			f.Close()
			return fmt.Errorf("marshal overflow entry: %w", err)
		}
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			f.Close()
			return fmt.Errorf("write overflow tmp: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, o.path)
}
