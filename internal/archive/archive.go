// Package archive stores failing inputs found by the fuzzing lanes.
//
// Crashes are content addressed: an input whose SHA-1 is already known is not
// written again, only counted. Timeouts are stored per task. An index of all
// records, including the seed each input was generated from, is kept next to
// the artifacts as a msgpack file.
package archive

import (
	"crypto/sha1" //nolint:gosec // content addressing, not security
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"fortio.org/safecast"
	"github.com/google/uuid"

	"difffuzz/internal/outcome"
)

// IndexFile is the name of the index inside the archive directory.
const IndexFile = "index.mp"

// flushEvery is how many duplicate hits may accumulate before the index is
// rewritten. New records are always written through.
const flushEvery = 64

// Entry is one failing input handed to Store.
type Entry struct {
	Kind   outcome.Kind // Crash or Timeout
	TaskID uint64
	Data   []byte
	Seed   []byte
	Shrunk bool
}

// Record describes one stored artifact.
type Record struct {
	Kind      string
	ID        string // hex SHA-1 for crashes, task id for timeouts
	Name      string // file name inside the archive directory
	Size      uint64
	Seed      []byte
	Shrunk    bool
	RunID     string
	FirstSeen time.Time
	Hits      uint64 // how many times the input was found
}

// Archive is safe for concurrent use by all lanes of a run.
type Archive struct {
	mu      sync.Mutex
	dir     string
	ext     string
	runID   string
	records map[string]*Record // by Name
	pending int                // hits not yet in the index file
}

// Open prepares dir and loads its index if present.
func Open(dir, ext string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	a := &Archive{
		dir:     dir,
		ext:     ext,
		runID:   uuid.NewString(),
		records: make(map[string]*Record),
	}
	records, err := readIndex(filepath.Join(dir, IndexFile))
	if err != nil {
		return nil, err
	}
	for i := range records {
		rec := records[i]
		a.records[rec.Name] = &rec
	}
	return a, nil
}

// Dir returns the archive directory.
func (a *Archive) Dir() string { return a.dir }

// RunID identifies the records stored by this Archive value.
func (a *Archive) RunID() string { return a.runID }

// Path returns the absolute-or-relative path of a record's artifact.
func (a *Archive) Path(rec Record) string {
	return filepath.Join(a.dir, rec.Name)
}

// Store persists e and returns its record. The boolean is false when the
// entry was a crash already present in the archive; nothing is written then.
func (a *Archive) Store(e Entry) (Record, bool, error) {
	switch e.Kind {
	case outcome.Crash:
		return a.storeCrash(e)
	case outcome.Timeout:
		rec, err := a.storeTimeout(e)
		return rec, err == nil, err
	default:
		return Record{}, false, fmt.Errorf("cannot archive %s outcome", e.Kind)
	}
}

func (a *Archive) storeCrash(e Entry) (Record, bool, error) {
	sum := sha1.Sum(e.Data) //nolint:gosec
	id := hex.EncodeToString(sum[:])
	name := outcome.Crash.String() + "-" + id + a.ext

	a.mu.Lock()
	defer a.mu.Unlock()

	if rec, ok := a.records[name]; ok {
		rec.Hits++
		a.pending++
		if a.pending < flushEvery {
			return *rec, false, nil
		}
		return *rec, false, a.saveLocked()
	}

	rec := a.newRecord(e, id, name)
	path := filepath.Join(a.dir, name)
	if _, err := os.Stat(path); err == nil {
		// artifact from a run whose index was lost; adopt it
		a.records[name] = rec
		return *rec, false, a.saveLocked()
	}
	if err := writeAtomic(path, e.Data); err != nil {
		return Record{}, false, err
	}
	a.records[name] = rec
	return *rec, true, a.saveLocked()
}

func (a *Archive) storeTimeout(e Entry) (Record, error) {
	id := strconv.FormatUint(e.TaskID, 10)
	name := outcome.Timeout.String() + "-" + id + a.ext

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.taken(name) {
		// task ids restart with every run; keep the earlier artifact
		name = outcome.Timeout.String() + "-" + id + "-" + a.runID[:8] + a.ext
		if a.taken(name) {
			return Record{}, fmt.Errorf("timeout artifact %s already exists", name)
		}
	}
	if err := writeAtomic(filepath.Join(a.dir, name), e.Data); err != nil {
		return Record{}, err
	}
	rec := a.newRecord(e, id, name)
	a.records[name] = rec
	return *rec, a.saveLocked()
}

func (a *Archive) newRecord(e Entry, id, name string) *Record {
	size, err := safecast.Conv[uint64](len(e.Data))
	if err != nil {
		size = 0
	}
	return &Record{
		Kind:      e.Kind.String(),
		ID:        id,
		Name:      name,
		Size:      size,
		Seed:      append([]byte(nil), e.Seed...),
		Shrunk:    e.Shrunk,
		RunID:     a.runID,
		FirstSeen: time.Now().UTC(),
		Hits:      1,
	}
}

func (a *Archive) taken(name string) bool {
	if _, ok := a.records[name]; ok {
		return true
	}
	_, err := os.Stat(filepath.Join(a.dir, name))
	return err == nil
}

// MaxTaskID returns the highest task id among the archived timeouts, or 0.
// A run that numbers its tasks above it never reuses an earlier name.
func (a *Archive) MaxTaskID() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var highest uint64
	for _, rec := range a.records {
		if rec.Kind != outcome.Timeout.String() {
			continue
		}
		if id, err := strconv.ParseUint(rec.ID, 10, 64); err == nil && id > highest {
			highest = id
		}
	}
	return highest
}

// Flush writes hit counts that are still only held in memory.
func (a *Archive) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == 0 {
		return nil
	}
	return a.saveLocked()
}

// Records returns a snapshot sorted by kind, then name.
func (a *Archive) Records() []Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return sortedRecords(a.records)
}

// Count returns the number of stored records of kind.
func (a *Archive) Count(kind outcome.Kind) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, rec := range a.records {
		if rec.Kind == kind.String() {
			n++
		}
	}
	return n
}

func (a *Archive) saveLocked() error {
	if err := writeIndex(filepath.Join(a.dir, IndexFile), sortedRecords(a.records)); err != nil {
		return err
	}
	a.pending = 0
	return nil
}

func sortedRecords(m map[string]*Record) []Record {
	out := make([]Record, 0, len(m))
	for _, rec := range m {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func writeAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to store %s: %w", filepath.Base(path), err)
	}
	return nil
}

// IsArtifact reports whether name looks like an archived input with extension ext.
func IsArtifact(name, ext string) bool {
	if !strings.HasSuffix(name, ext) || strings.HasPrefix(name, "tmp-") {
		return false
	}
	return strings.HasPrefix(name, outcome.Crash.String()+"-") || strings.HasPrefix(name, outcome.Timeout.String()+"-")
}

var errSchema = errors.New("unsupported archive index schema")
