package record

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Store is an append-only directory of record JSON documents, one file per
// record, named <id>.json. It is the source of truth for an instance; the
// vector index is derived from it.
type Store struct {
	dir    string
	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used for per-file read warnings.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore opens (creating if needed) a record directory.
func NewStore(dir string, opts ...StoreOption) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	s := &Store{dir: dir, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string { return s.dir }

func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid record id %q", id)
	}
	return nil
}

// Put writes raw JSON bytes as <id>.json, atomically (temp file then rename).
// Re-writing an existing id replaces it; records are otherwise immutable.
func (s *Store) Put(id string, raw []byte) error {
	if err := validID(id); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "record-*.tmp")
	if err != nil {
		return fmt.Errorf("put %s: %w", id, err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("put %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("put %s: %w", id, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, id+".json")); err != nil {
		return fmt.Errorf("put %s: %w", id, err)
	}
	cleanup = false
	return nil
}

// PutRecord marshals and writes a Record under its derived id.
func (s *Store) PutRecord(r Record) error {
	id, ok := r.ID()
	if !ok {
		return fmt.Errorf("record has unparseable timestamp %q", r.Timestamp)
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.Put(id, raw)
}

// Exists reports whether a record id is present.
func (s *Store) Exists(id string) bool {
	if validID(id) != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(s.dir, id+".json"))
	return err == nil
}

// Get reads one record by id, filling derived defaults the way Load does.
func (s *Store) Get(id string) (Record, error) {
	if err := validID(id); err != nil {
		return Record{}, err
	}
	return s.load(filepath.Join(s.dir, id+".json"))
}

// ListIDs enumerates all record ids (filename stems). Files appearing
// mid-scan are tolerated; the result is sorted for stable diffs.
func (s *Store) ListIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Entry is a record reference produced by a range scan. Only the filename
// has been consulted; call Load to read the document body.
type Entry struct {
	ID   string
	Time time.Time
	path string
}

// IterInRange scans the directory and returns entries whose timestamp falls
// in [start, end], without reading document bodies. Filenames that do not
// parse fall back to the file mtime. Results are sorted by time.
func (s *Store) IterInRange(start, end time.Time) ([]Entry, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}

	var out []Entry
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".json")
		ts, err := StemTime(stem)
		if err != nil {
			info, ierr := e.Info()
			if ierr != nil {
				continue
			}
			ts = info.ModTime()
		}
		if ts.Before(start) || ts.After(end) {
			continue
		}
		out = append(out, Entry{ID: stem, Time: ts, path: filepath.Join(s.dir, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// Load reads the record behind an entry. Read errors are reported to the
// caller; batch operations log and skip them rather than failing.
func (s *Store) Load(e Entry) (Record, error) {
	return s.load(e.path)
}

func (s *Store) load(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("read record: %w", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("parse record %s: %w", filepath.Base(path), err)
	}

	if r.Timestamp == "" {
		stem := strings.TrimSuffix(filepath.Base(path), ".json")
		if ts, err := StemTime(stem); err == nil {
			r.Timestamp = ts.Format(time.RFC3339Nano)
		} else if info, err := os.Stat(path); err == nil {
			r.Timestamp = info.ModTime().Format(time.RFC3339Nano)
		}
	}
	if r.ScreenName == "" {
		r.ScreenName = "unknown"
	}
	if r.TextLength == 0 {
		r.TextLength = len(r.Text)
	}
	if r.WordCount == 0 {
		r.WordCount = len(strings.Fields(r.Text))
	}
	return r, nil
}

// Count returns the number of records on disk.
func (s *Store) Count() (int, error) {
	ids, err := s.ListIDs()
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DirSize returns the total byte size of all record files.
func (s *Store) DirSize() (int64, error) {
	var total int64
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("record.scan_error", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total, err
}
