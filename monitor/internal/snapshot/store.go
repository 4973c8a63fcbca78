// Package snapshot persists fetched documents on the filesystem, one
// directory per tracked identifier, and trims each directory to a configured
// keep count after every write.
//
// Files are written atomically (write .tmp then rename) so a reader never
// observes a torn snapshot. "Latest" is a total order: modification time
// descending, ties broken by a process-monotonic write counter and finally
// by filename, so later writes always rank newer.
package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrUnsafeName is returned when an identifier or batch id cannot be used
// as a path component under the store root.
var ErrUnsafeName = errors.New("snapshot: unsafe name component")

// Snapshot describes one retained document on disk.
type Snapshot struct {
	RIN     string
	PubID   string
	Path    string
	ModTime time.Time
}

// Store is a filesystem snapshot store rooted at a single directory.
// Write and Sweep are serialized per identifier, so concurrent passes can
// not race one identifier's retained set.
type Store struct {
	root      string
	keepFiles int
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	seq   uint64            // monotonic write counter, tie-break for equal mtimes
	seqs  map[string]uint64 // path -> seq for files written by this process
}

// New creates a Store. keepFiles is the number of snapshots retained per
// identifier after each write; zero retains nothing, making every pass a
// fresh baseline.
func New(root string, keepFiles int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if keepFiles < 0 {
		keepFiles = 0
	}
	return &Store{
		root:      root,
		keepFiles: keepFiles,
		logger:    logger,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
		seqs:      make(map[string]uint64),
	}
}

// Write persists content for (rin, pubID) under a filename embedding both
// plus a second-granularity fetch timestamp, then sweeps the identifier's
// directory. Two writes within the same second get distinct names via a
// numeric suffix; data is never silently overwritten. Returns the path of
// the written file. Sweep failures are logged, not returned.
func (s *Store) Write(rin, pubID, content string) (string, error) {
	if !validComponent(rin) || !validComponent(pubID) {
		return "", fmt.Errorf("%w: rin=%q pub_id=%q", ErrUnsafeName, rin, pubID)
	}

	lock := s.lock(rin)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(s.root, rin)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: mkdir %s: %w", dir, err)
	}

	ts := s.now().Format("20060102_150405")
	target := filepath.Join(dir, fmt.Sprintf("rin_%s_%s_%s.xml", rin, pubID, ts))
	for n := 1; fileExists(target); n++ {
		target = filepath.Join(dir, fmt.Sprintf("rin_%s_%s_%s_%02d.xml", rin, pubID, ts, n))
	}

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("snapshot: write tmp: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("snapshot: rename: %w", err)
	}

	s.mu.Lock()
	s.seq++
	s.seqs[target] = s.seq
	s.mu.Unlock()

	s.sweepLocked(rin)
	return target, nil
}

// Latest returns the most recently written snapshot for rin, or false when
// the identifier has none (first run, or keepFiles is zero).
func (s *Store) Latest(rin string) (Snapshot, bool, error) {
	if !validComponent(rin) {
		return Snapshot{}, false, fmt.Errorf("%w: rin=%q", ErrUnsafeName, rin)
	}
	snaps, err := s.list(rin)
	if err != nil {
		return Snapshot{}, false, err
	}
	if len(snaps) == 0 {
		return Snapshot{}, false, nil
	}
	s.orderNewestFirst(snaps)
	return snaps[0], true, nil
}

// Content reads a snapshot's document back from disk.
func (s *Store) Content(snap Snapshot) (string, error) {
	b, err := os.ReadFile(snap.Path)
	if err != nil {
		return "", fmt.Errorf("snapshot: read %s: %w", snap.Path, err)
	}
	return string(b), nil
}

// Sweep trims rin's directory to the keep count, deleting oldest first.
// Individual delete failures are logged and do not stop the sweep.
func (s *Store) Sweep(rin string) error {
	if !validComponent(rin) {
		return fmt.Errorf("%w: rin=%q", ErrUnsafeName, rin)
	}
	lock := s.lock(rin)
	lock.Lock()
	defer lock.Unlock()
	s.sweepLocked(rin)
	return nil
}

// sweepLocked assumes the identifier's lock is held.
func (s *Store) sweepLocked(rin string) {
	snaps, err := s.list(rin)
	if err != nil {
		s.logger.Warn("snapshot: sweep list", "rin", rin, "error", err)
		return
	}
	if len(snaps) <= s.keepFiles {
		return
	}
	s.orderNewestFirst(snaps)
	for _, old := range snaps[s.keepFiles:] {
		if err := os.Remove(old.Path); err != nil {
			s.logger.Warn("snapshot: delete old file", "path", old.Path, "error", err)
			continue
		}
		s.logger.Debug("snapshot: deleted old file", "path", old.Path)
		s.mu.Lock()
		delete(s.seqs, old.Path)
		s.mu.Unlock()
	}
}

// list returns all snapshots currently on disk for rin, unordered.
func (s *Store) list(rin string) ([]Snapshot, error) {
	dir := filepath.Join(s.root, rin)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: list %s: %w", dir, err)
	}

	prefix := "rin_" + rin + "_"
	var snaps []Snapshot
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".xml") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		// Remainder after the prefix is "{pubID}_{timestamp}[_{nn}].xml".
		rest := strings.TrimPrefix(name, prefix)
		pubID, _, ok := strings.Cut(rest, "_")
		if !ok {
			continue
		}
		snaps = append(snaps, Snapshot{
			RIN:     rin,
			PubID:   pubID,
			Path:    filepath.Join(dir, name),
			ModTime: info.ModTime(),
		})
	}
	return snaps, nil
}

func (s *Store) orderNewestFirst(snaps []Snapshot) {
	s.mu.Lock()
	seqs := make(map[string]uint64, len(snaps))
	for _, sn := range snaps {
		seqs[sn.Path] = s.seqs[sn.Path]
	}
	s.mu.Unlock()

	sort.Slice(snaps, func(i, j int) bool {
		a, b := snaps[i], snaps[j]
		if !a.ModTime.Equal(b.ModTime) {
			return a.ModTime.After(b.ModTime)
		}
		if seqs[a.Path] != seqs[b.Path] {
			return seqs[a.Path] > seqs[b.Path]
		}
		return a.Path > b.Path
	})
}

func (s *Store) lock(rin string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[rin]
	if !ok {
		l = &sync.Mutex{}
		s.locks[rin] = l
	}
	return l
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// validComponent reports whether s is safe as a single path component:
// non-empty, no separators, no traversal, no NUL.
func validComponent(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	if strings.ContainsAny(s, `/\`) || strings.ContainsRune(s, 0) {
		return false
	}
	return true
}
