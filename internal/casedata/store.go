// Package casedata holds the per-case JSON document and per-work-item JSON
// documents (C2), and applies the predicate-language input/output queries
// that move data between them. Grounded on the teacher's content-addressed
// storage pattern (cmd/orchestrator/service/cas.go) for idempotent merge,
// and cmd/workflow-runner/resolver/resolver.go's gjson-based field
// extraction for query application.
package casedata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/yawlcore/engine/internal/engineerr"
)

// Queryer evaluates a predicate-language query (XPath surface, CEL
// underneath) against a document and returns the resulting value. Net
// data bindings use this instead of plain gjson so computed projections
// (count(...), concatenations) work, not just field paths.
type Queryer interface {
	Query(doc map[string]interface{}, query string) (interface{}, error)
}

// Store owns one case's document plus a document per live work item.
// Safe for concurrent use, though in practice every mutating call happens
// while the case's registry lock is held (spec.md §4.5.7) — the internal
// mutex exists only to protect readers (getCaseStatus) racing a
// lock-holding writer snapshot.
type Store struct {
	mu          sync.RWMutex
	caseDoc     map[string]interface{}
	workItemDoc map[string]map[string]interface{}
	lastMergeHash map[string]string // work-item id -> content hash of last merged output
	queryer     Queryer
}

func New(queryer Queryer, initial map[string]interface{}) *Store {
	if initial == nil {
		initial = map[string]interface{}{}
	}
	return &Store{
		caseDoc:       initial,
		workItemDoc:   map[string]map[string]interface{}{},
		lastMergeHash: map[string]string{},
		queryer:       queryer,
	}
}

// GetNetVariable reads a top-level (or dotted-path) variable from the case
// document.
func (s *Store) GetNetVariable(name string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, _ := json.Marshal(s.caseDoc)
	r := gjson.GetBytes(raw, name)
	if !r.Exists() {
		return nil, false
	}
	return r.Value(), true
}

// SetNetVariable writes a top-level variable into the case document.
func (s *Store) SetNetVariable(name string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caseDoc[name] = value
}

// CaseDocument returns a shallow copy of the case document (safe for a
// read-only snapshot; callers must not mutate nested structures returned).
func (s *Store) CaseDocument() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.caseDoc))
	for k, v := range s.caseDoc {
		out[k] = v
	}
	return out
}

// ExtractTaskInput applies a task's input queries to the case document to
// build an input document for the work item, per spec.md §4.2.
func (s *Store) ExtractTaskInput(workItemID string, queries map[string]string) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := map[string]interface{}{}
	for name, query := range queries {
		val, err := s.queryer.Query(s.caseDoc, query)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.KindNetSemantic, "extractTaskInput: query "+query, err)
		}
		doc[name] = val
	}
	s.workItemDoc[workItemID] = doc
	return doc, nil
}

// MergeTaskOutput folds a completed work item's output document back into
// the case document per the task's output queries. Idempotent: a repeat
// call with the same taskDoc content hash for the same work item is a
// no-op, matching spec.md §8's "idempotent checkin" invariant and grounded
// on the teacher's CAS content-hash dedup (cmd/orchestrator/service/cas.go).
func (s *Store) MergeTaskOutput(workItemID string, taskDoc map[string]interface{}, queries map[string]string) (applied bool, err error) {
	hash, herr := contentHash(taskDoc)
	if herr != nil {
		return false, engineerr.Wrap(engineerr.KindValidation, "hash task output", herr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastMergeHash[workItemID] == hash {
		return false, nil
	}
	for targetName, query := range queries {
		val, qerr := s.queryer.Query(taskDoc, query)
		if qerr != nil {
			return false, engineerr.Wrap(engineerr.KindNetSemantic, "mergeTaskOutput: query "+query, qerr)
		}
		s.caseDoc[targetName] = val
	}
	s.lastMergeHash[workItemID] = hash
	return true, nil
}

func contentHash(doc map[string]interface{}) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
