package store

import (
	"encoding/json"
	"fmt"
	"sort"
)

// MemStore is an in-memory PageStore for tests.
type MemStore struct {
	pages map[string]map[int][]json.RawMessage
	// FailWrites makes every WritePage call return an error, simulating a
	// full disk during live collection.
	FailWrites bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{pages: make(map[string]map[int][]json.RawMessage)}
}

func (s *MemStore) WritePage(entity string, seq int, records []json.RawMessage) error {
	if s.FailWrites {
		return fmt.Errorf("writing page %d for %q: write failure injected", seq, entity)
	}
	if s.pages[entity] == nil {
		s.pages[entity] = make(map[int][]json.RawMessage)
	}
	s.pages[entity][seq] = append([]json.RawMessage(nil), records...)
	return nil
}

func (s *MemStore) ReadPages(entity string) ([]json.RawMessage, error) {
	byPage, ok := s.pages[entity]
	if !ok {
		return nil, fmt.Errorf("no pages for entity %q", entity)
	}
	var seqs []int
	for seq := range byPage {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)

	var all []json.RawMessage
	for _, seq := range seqs {
		all = append(all, byPage[seq]...)
	}
	return all, nil
}

func (s *MemStore) Entities() ([]string, error) {
	var entities []string
	for entity := range s.pages {
		if entity != "" {
			entities = append(entities, entity)
		}
	}
	sort.Strings(entities)
	return entities, nil
}

func (s *MemStore) HasEntity(entity string) bool {
	_, ok := s.pages[entity]
	return ok
}

// PageCount returns how many pages were written for an entity.
func (s *MemStore) PageCount(entity string) int {
	return len(s.pages[entity])
}
