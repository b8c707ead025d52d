package checkpoint

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/models"
)

// Run is one checkpoint directory. Its methods are safe for concurrent use
// within a process; across processes, use Lock.
type Run struct {
	id  string
	dir string

	mu sync.Mutex
	// collected and classified are loaded lazily from disk.
	collected  map[string]struct{}
	classified map[string]struct{}

	now func() time.Time
	log *zap.SugaredLogger
}

func newRun(id, dir string) *Run {
	return &Run{
		id:  id,
		dir: dir,
		now: time.Now,
		log: zap.S().Named("checkpoint").With("run_id", id),
	}
}

func (r *Run) ID() string { return r.id }

func (r *Run) Dir() string { return r.dir }

func (r *Run) path(name string) string { return filepath.Join(r.dir, name) }

// SaveCollected replaces the collected set.
func (r *Run) SaveCollected(opps []models.Opportunity) error {
	if opps == nil {
		opps = []models.Opportunity{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := writeJSONAtomic(r.path(collectedFile), opps); err != nil {
		return fmt.Errorf("failed to save collected opportunities: %w", err)
	}
	r.collected = idSet(opps)
	r.log.Infow("saved collected opportunities", "count", len(opps))
	return nil
}

// LoadCollected returns the collected set, ErrNotFound when none was saved.
func (r *Run) LoadCollected() ([]models.Opportunity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	opps, err := r.readCollected()
	if err != nil {
		return nil, err
	}
	r.collected = idSet(opps)
	r.log.Infow("loaded collected opportunities", "count", len(opps))
	return opps, nil
}

func (r *Run) readCollected() ([]models.Opportunity, error) {
	data, err := os.ReadFile(r.path(collectedFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("collected set of %s: %w", r.id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collected opportunities: %w", err)
	}
	var opps []models.Opportunity
	if err := json.Unmarshal(data, &opps); err != nil {
		return nil, fmt.Errorf("failed to decode collected opportunities: %w", err)
	}
	return opps, nil
}

// AppendClassified durably records one result. Appending an id that is
// already recorded is a no-op; an id outside the collected set is rejected
// with ErrUnknownID.
//
// The result line is synced before its id, so a crash between the two
// writes can only cause the item to be classified again, never lost.
func (r *Run) AppendClassified(item models.ClassifiedOpportunity) error {
	id := item.Opportunity.ID

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureSets(); err != nil {
		return err
	}
	if _, ok := r.collected[id]; !ok {
		return fmt.Errorf("%q: %w", id, ErrUnknownID)
	}
	if _, done := r.classified[id]; done {
		return nil
	}

	line, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode classified opportunity: %w", err)
	}
	if err := appendLine(r.path(classifiedFile), line); err != nil {
		return fmt.Errorf("failed to append classified opportunity: %w", err)
	}
	idLine, _ := json.Marshal(id)
	if err := appendLine(r.path(classifiedIDsFile), idLine); err != nil {
		return fmt.Errorf("failed to append classified id: %w", err)
	}
	r.classified[id] = struct{}{}
	return nil
}

// ClassifiedIDs returns a copy of the classified-id index.
func (r *Run) ClassifiedIDs() (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.classified == nil {
		ids, err := r.readClassifiedIDs()
		if err != nil {
			return nil, err
		}
		r.classified = ids
	}
	out := make(map[string]struct{}, len(r.classified))
	for id := range r.classified {
		out[id] = struct{}{}
	}
	return out, nil
}

// IsClassified answers from the id index without reading the result log.
func (r *Run) IsClassified(id string) (bool, error) {
	ids, err := r.ClassifiedIDs()
	if err != nil {
		return false, err
	}
	_, ok := ids[id]
	return ok, nil
}

// LoadClassified reads the result log in append order. Corrupt lines are
// skipped; a repeated id keeps its first entry.
func (r *Run) LoadClassified() ([]models.ClassifiedOpportunity, error) {
	f, err := os.Open(r.path(classifiedFile))
	if errors.Is(err, os.ErrNotExist) {
		return []models.ClassifiedOpportunity{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open classified log: %w", err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	out := []models.ClassifiedOpportunity{}
	skipped := 0
	err = scanLines(f, func(line []byte) {
		var item models.ClassifiedOpportunity
		if err := json.Unmarshal(line, &item); err != nil || item.Opportunity.ID == "" {
			skipped++
			return
		}
		if _, dup := seen[item.Opportunity.ID]; dup {
			return
		}
		seen[item.Opportunity.ID] = struct{}{}
		out = append(out, item)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read classified log: %w", err)
	}
	if skipped > 0 {
		r.log.Warnw("skipped corrupt classified entries", "count", skipped)
	}
	return out, nil
}

// RewriteClassified replaces the result log, used after the deadline
// back-fill changed already recorded items. The id index is left as is, so
// items must keep their ids.
func (r *Run) RewriteClassified(items []models.ClassifiedOpportunity) error {
	var buf bytes.Buffer
	for _, item := range items {
		line, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to encode classified opportunity: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := writeFileAtomic(r.path(classifiedFile), buf.Bytes()); err != nil {
		return fmt.Errorf("failed to rewrite classified log: %w", err)
	}
	return nil
}

// SaveMetadata records stage as the last completed stage.
func (r *Run) SaveMetadata(stage Stage, settingsHash string, counts map[string]int) error {
	meta := Metadata{
		RunID:        r.id,
		Stage:        stage,
		UpdatedAt:    r.now(),
		SettingsHash: settingsHash,
		Counts:       counts,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := writeJSONAtomic(r.path(metadataFile), meta); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

func (r *Run) LoadMetadata() (*Metadata, error) {
	data, err := os.ReadFile(r.path(metadataFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("metadata of %s: %w", r.id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if meta.RunID == "" {
		meta.RunID = r.id
	}
	return &meta, nil
}

// ensureSets loads the collected and classified id sets. Caller holds mu.
func (r *Run) ensureSets() error {
	if r.collected == nil {
		opps, err := r.readCollected()
		if err != nil {
			return err
		}
		r.collected = idSet(opps)
	}
	if r.classified == nil {
		ids, err := r.readClassifiedIDs()
		if err != nil {
			return err
		}
		r.classified = ids
	}
	return nil
}

func (r *Run) readClassifiedIDs() (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	f, err := os.Open(r.path(classifiedIDsFile))
	if errors.Is(err, os.ErrNotExist) {
		return ids, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open classified ids: %w", err)
	}
	defer f.Close()

	err = scanLines(f, func(line []byte) {
		var id string
		if json.Unmarshal(line, &id) == nil && id != "" {
			ids[id] = struct{}{}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read classified ids: %w", err)
	}
	return ids, nil
}

func idSet(opps []models.Opportunity) map[string]struct{} {
	set := make(map[string]struct{}, len(opps))
	for _, o := range opps {
		set[o.ID] = struct{}{}
	}
	return set
}

// appendLine appends line and a newline, then fsyncs.
func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	bw.Write(line)
	bw.WriteByte('\n')
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func scanLines(f *os.File, fn func([]byte)) error {
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		fn(line)
	}
	return sc.Err()
}
