// Package store provides the durable page checkpoint log used by the
// ingestion pipeline. Each page of API results is persisted as one
// immutable JSON array file; reading an entity back concatenates every
// page's records. The filesystem is the only shared state between pipeline
// stages, so a crashed run resumes by re-reading what earlier stages wrote.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PageStore is the storage contract for raw paginated API data. An entity
// is a logical record set ("" for the store root, or a subdirectory such as
// "owner__repo" for one repository's commits).
type PageStore interface {
	// WritePage persists one page of records. Pages are numbered from 1.
	// A write failure is fatal to the caller: losing a durable checkpoint
	// must not be silently ignored.
	WritePage(entity string, seq int, records []json.RawMessage) error

	// ReadPages loads every page file for an entity and returns the
	// concatenation of their record lists. Files that fail to parse or do
	// not contain a JSON array are logged and skipped.
	ReadPages(entity string) ([]json.RawMessage, error)

	// Entities lists the entity subdirectories present in the store.
	Entities() ([]string, error)

	// HasEntity reports whether the entity has any persisted data.
	HasEntity(entity string) bool
}

// FSStore is the filesystem-backed PageStore. Pages live at
// <root>/<entity>/page_<N>.json as UTF-8 JSON arrays.
type FSStore struct {
	root   string
	logger *slog.Logger
}

// NewFSStore creates a store rooted at dir. The directory is created on
// first write, not here, so read-only consumers can probe missing stores.
func NewFSStore(dir string, logger *slog.Logger) *FSStore {
	return &FSStore{root: dir, logger: logger.With("component", "store", "root", dir)}
}

// Root returns the store's base directory.
func (s *FSStore) Root() string {
	return s.root
}

func (s *FSStore) entityDir(entity string) string {
	if entity == "" {
		return s.root
	}
	return filepath.Join(s.root, entity)
}

func (s *FSStore) WritePage(entity string, seq int, records []json.RawMessage) error {
	dir := s.entityDir(entity)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating page directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding page %d for %q: %w", seq, entity, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("page_%d.json", seq))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing page file %s: %w", path, err)
	}

	s.logger.Debug("Persisted page", "entity", entity, "page", seq, "records", len(records))
	return nil
}

func (s *FSStore) ReadPages(entity string) ([]json.RawMessage, error) {
	dir := s.entityDir(entity)
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading page directory %s: %w", dir, err)
	}

	var names []string
	for _, de := range dirents {
		if !de.IsDir() && strings.HasSuffix(de.Name(), ".json") {
			names = append(names, de.Name())
		}
	}
	sort.Strings(names)

	var all []json.RawMessage
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("Skipping unreadable page file", "path", path, "error", err)
			continue
		}
		var records []json.RawMessage
		if err := json.Unmarshal(data, &records); err != nil {
			s.logger.Warn("Skipping corrupt page file", "path", path, "error", err)
			continue
		}
		all = append(all, records...)
	}
	return all, nil
}

func (s *FSStore) Entities() ([]string, error) {
	dirents, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading store root %s: %w", s.root, err)
	}
	var entities []string
	for _, de := range dirents {
		if de.IsDir() {
			entities = append(entities, de.Name())
		}
	}
	sort.Strings(entities)
	return entities, nil
}

func (s *FSStore) HasEntity(entity string) bool {
	info, err := os.Stat(s.entityDir(entity))
	return err == nil && info.IsDir()
}
