package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"interruptd/internal/logger"
	"interruptd/internal/storage"
	"interruptd/pkg/metrics"
)

// Store owns the persisted rule documents plus the in-memory pending
// side table. Pending membership marks a matched one-off rule awaiting
// dispatch confirmation; it is deliberately kept outside the documents
// so it can never leak into the file.
type Store struct {
	path string
	log  logger.Logger

	mu      sync.Mutex
	docs    []Rule
	pending map[string]struct{}
}

func NewStore(path string, log logger.Logger) *Store {
	return &Store{
		path:    path,
		log:     log,
		pending: make(map[string]struct{}),
	}
}

// Load reads the rules file. A missing file is an empty rule set. The
// pending table survives a reload so an in-flight one-off cannot
// re-match mid-dispatch.
func (s *Store) Load() error {
	var docs []Rule

	raw, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return fmt.Errorf("failed to read rules: %w", err)
	default:
		if err := json.Unmarshal(raw, &docs); err != nil {
			return fmt.Errorf("failed to parse rules: %w", err)
		}
	}

	for i := range docs {
		docs[i] = docs[i].Normalize()
	}

	s.mu.Lock()
	s.docs = docs
	s.updateGauge()
	s.mu.Unlock()
	return nil
}

// Reload is the file-watch callback for external edits.
func (s *Store) Reload() {
	if err := s.Load(); err != nil {
		s.log.Errorw("Failed to reload rules, keeping previous", "error", err)
		return
	}
	s.mu.Lock()
	count := len(s.docs)
	s.mu.Unlock()
	s.log.Infow("Rules reloaded from disk", "rules", count)
}

// List returns every rule, including disabled and pending ones, with
// the pending flag filled in from the side table.
func (s *Store) List() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Rule, len(s.docs))
	copy(out, s.docs)
	for i := range out {
		_, out[i].Pending = s.pending[out[i].ID]
	}
	return out
}

// Active returns rules eligible for matching: enabled and not pending.
func (s *Store) Active() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Rule, 0, len(s.docs))
	for _, r := range s.docs {
		if !r.IsEnabled() {
			continue
		}
		if _, isPending := s.pending[r.ID]; isPending {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s *Store) Get(id string) (Rule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.docs {
		if r.ID == id {
			_, r.Pending = s.pending[id]
			return r, true
		}
	}
	return Rule{}, false
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// Upsert inserts or replaces a rule by id and persists. It returns the
// prior document when one existed so a failed collector push can roll
// the mutation back.
func (s *Store) Upsert(r Rule) (*Rule, error) {
	r = r.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *Rule
	replaced := false
	for i := range s.docs {
		if s.docs[i].ID == r.ID {
			p := s.docs[i]
			prev = &p
			s.docs[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		s.docs = append(s.docs, r)
	}

	if err := s.persist(); err != nil {
		// Undo the in-memory mutation so memory and disk stay aligned.
		if prev != nil {
			s.replaceLocked(*prev)
		} else {
			s.removeLocked(r.ID)
		}
		return nil, err
	}

	s.updateGauge()
	return prev, nil
}

// Delete removes a rule by id and persists. The removed document is
// returned for rollback and for watchlist recomputation.
func (s *Store) Delete(id string) (Rule, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, found := s.removeLocked(id)
	if !found {
		return Rule{}, false, nil
	}

	if err := s.persist(); err != nil {
		s.docs = append(s.docs, removed)
		return Rule{}, true, err
	}

	delete(s.pending, id)
	s.updateGauge()
	return removed, true, nil
}

// Restore reverses an upsert: the prior document is reinstated when one
// existed, otherwise the freshly inserted rule is removed.
func (s *Store) Restore(id string, prev *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev != nil {
		s.replaceLocked(*prev)
	} else {
		s.removeLocked(id)
	}

	if err := s.persist(); err != nil {
		return err
	}
	s.updateGauge()
	return nil
}

// MarkPending flags matched one-off rules in the side table only; the
// persisted documents are untouched.
func (s *Store) MarkPending(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.pending[id] = struct{}{}
	}
}

// ClearPending re-arms rules after a failed or dropped dispatch.
func (s *Store) ClearPending(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.pending, id)
	}
}

// Consume permanently removes confirmed one-off rules and persists.
func (s *Store) Consume(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removedAny := false
	for _, id := range ids {
		if _, found := s.removeLocked(id); found {
			removedAny = true
		}
		delete(s.pending, id)
	}
	if !removedAny {
		return nil
	}

	if err := s.persist(); err != nil {
		return err
	}
	s.updateGauge()
	return nil
}

// DistinctConditionValues returns the sorted distinct values of one
// condition field across all enabled rules of a source. Used to compute
// collector watchlists.
func (s *Store) DistinctConditionValues(source, field string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for _, r := range s.docs {
		if r.Source != source || !r.IsEnabled() {
			continue
		}
		if v, ok := r.Condition[field]; ok && v != nil {
			seen[*v] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (s *Store) replaceLocked(r Rule) {
	for i := range s.docs {
		if s.docs[i].ID == r.ID {
			s.docs[i] = r
			return
		}
	}
	s.docs = append(s.docs, r)
}

func (s *Store) removeLocked(id string) (Rule, bool) {
	for i := range s.docs {
		if s.docs[i].ID == id {
			removed := s.docs[i]
			s.docs = append(s.docs[:i], s.docs[i+1:]...)
			return removed, true
		}
	}
	return Rule{}, false
}

func (s *Store) persist() error {
	docs := s.docs
	if docs == nil {
		docs = []Rule{}
	}
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}
	return storage.WriteWithBackup(s.path, append(data, '\n'))
}

func (s *Store) updateGauge() {
	enabled := 0
	for _, r := range s.docs {
		if r.IsEnabled() {
			enabled++
		}
	}
	metrics.ActiveRules.Set(float64(enabled))
}
