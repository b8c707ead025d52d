// Package checkpoint persists the intermediate state of a pipeline run so an
// interrupted run can resume without collecting or classifying again.
//
// Layout of one run directory:
//
//	run_<YYYYMMDD_HHMMSS>/
//	    collected.json       deduplicated, filtered opportunities (JSON array)
//	    classified.json      classified results, one JSON object per line
//	    classified_ids.json  classified ids, one JSON string per line
//	    metadata.json        last completed stage, counts, settings hash
//	    run.lock             present while a process classifies into the run
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	collectedFile     = "collected.json"
	classifiedFile    = "classified.json"
	classifiedIDsFile = "classified_ids.json"
	metadataFile      = "metadata.json"
	lockFile          = "run.lock"

	runPrefix = "run_"
)

var (
	ErrNotFound  = errors.New("checkpoint not found")
	ErrUnknownID = errors.New("opportunity id is not in the collected set")
	ErrLocked    = errors.New("checkpoint is locked by another run")
)

// Stage is the last completed pipeline stage recorded in metadata.
type Stage string

const (
	StageCollected   Stage = "collected"
	StageClassifying Stage = "classifying"
	StageClassified  Stage = "classified"
	StageEnriched    Stage = "enriched"
	StageComplete    Stage = "complete"
)

type Metadata struct {
	RunID        string         `json:"run_id"`
	Stage        Stage          `json:"stage"`
	UpdatedAt    time.Time      `json:"updated_at"`
	SettingsHash string         `json:"settings_hash,omitempty"`
	Counts       map[string]int `json:"counts,omitempty"`
}

// Resumable reports whether a run stopped before completing.
func (m Metadata) Resumable() bool {
	return m.Stage != StageComplete
}

// Store is the root directory holding one sub-directory per run.
type Store struct {
	root string
	loc  *time.Location
	now  func() time.Time
	log  *zap.SugaredLogger
}

// NewStore returns a store rooted at root. Run ids are timestamps in loc.
func NewStore(root string, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{
		root: root,
		loc:  loc,
		now:  time.Now,
		log:  zap.S().Named("checkpoint"),
	}
}

func (s *Store) Root() string { return s.root }

// Create makes a new, empty run directory.
func (s *Store) Create() (*Run, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint root: %w", err)
	}

	base := runPrefix + s.now().In(s.loc).Format("20060102_150405")
	id := base
	for i := 2; ; i++ {
		err := os.Mkdir(filepath.Join(s.root, id), 0o755)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create run directory: %w", err)
		}
		id = fmt.Sprintf("%s_%d", base, i)
	}

	s.log.Infow("checkpoint created", "run_id", id, "dir", filepath.Join(s.root, id))
	return newRun(id, filepath.Join(s.root, id)), nil
}

// Open returns an existing run.
func (s *Store) Open(runID string) (*Run, error) {
	if !validRunID(runID) {
		return nil, fmt.Errorf("invalid run id %q: %w", runID, ErrNotFound)
	}
	dir := filepath.Join(s.root, runID)
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return newRun(runID, dir), nil
}

// List returns the metadata of every run that has any, newest first.
func (s *Store) List() ([]Metadata, error) {
	ids, err := s.runIDs()
	if err != nil {
		return nil, err
	}
	out := make([]Metadata, 0, len(ids))
	for _, id := range ids {
		meta, err := newRun(id, filepath.Join(s.root, id)).LoadMetadata()
		if err != nil {
			continue
		}
		out = append(out, *meta)
	}
	return out, nil
}

// FindLatestResumable returns the newest run whose stage is not complete.
func (s *Store) FindLatestResumable() (*Run, error) {
	ids, err := s.runIDs()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		run := newRun(id, filepath.Join(s.root, id))
		meta, err := run.LoadMetadata()
		if err != nil {
			continue
		}
		if meta.Resumable() {
			s.log.Infow("found resumable run", "run_id", id, "stage", meta.Stage)
			return run, nil
		}
	}
	return nil, ErrNotFound
}

// runIDs lists run directory names, newest first. Names sort by timestamp.
func (s *Store) runIDs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint root: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), runPrefix) {
			ids = append(ids, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

func validRunID(id string) bool {
	return strings.HasPrefix(id, runPrefix) && !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}

// writeFileAtomic replaces path through a synced temp file and a rename.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}
