// Package registrystore implements the Registry Store (C2): durable,
// crash-safe storage of the agent catalog as one YAML document, with
// atomic save-plus-backup semantics.
//
// The atomic-write pattern (temp file in the same directory, fsync,
// rename, with a pre-rename backup copy) ensures a crash mid-save can
// never corrupt the live document in place.
package registrystore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/orchestra/internal/agentmodel"
	"github.com/kadirpekel/orchestra/internal/orcherr"
)

// SchemaVersion is the current on-disk document version.
const SchemaVersion = "1.0.0"

// Document is the on-disk registry document shape.
type Document struct {
	Version string `yaml:"version"`
	LastUpdated time.Time `yaml:"last_updated"`
	Agents map[string]agentmodel.AgentRecord `yaml:"agents"`
}

// Store persists a Document to a single path with a sibling backup,
// serializing writers with a process-local mutex.
type Store struct {
	path string
	mu sync.Mutex
}

// New creates a Store for the document at path.
func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) backupPath() string {
	return s.path + ".backup"
}

// Load parses the live document, schema-validates it, and falls back to
// the backup on malformed content. If neither file exists yet, it returns
// an empty registry and no error. If both are unreadable, it returns an
// empty registry and a StoreCorrupt-wrapped error.
func (s *Store) Load() (*Document, error) {
	doc, err := s.loadFrom(s.path)
	if err == nil {
		return doc, nil
	}

	backupDoc, backupErr := s.loadFrom(s.backupPath())
	if backupErr == nil {
		return backupDoc, nil
	}

	if os.IsNotExist(err) && os.IsNotExist(backupErr) {
		return &Document{Version: SchemaVersion, Agents: map[string]agentmodel.AgentRecord{}}, nil
	}

	return &Document{Version: SchemaVersion, Agents: map[string]agentmodel.AgentRecord{}},
	fmt.Errorf("registrystore: live and backup unreadable (live: %v, backup: %v): %w", err, backupErr, orcherr.ErrStoreCorrupt)
}

func (s *Store) loadFrom(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return &Document{Version: SchemaVersion, Agents: map[string]agentmodel.AgentRecord{}}, nil
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("registrystore: parse %s: %w", path, err)
	}

	if doc.Agents == nil {
		doc.Agents = map[string]agentmodel.AgentRecord{}
	}

	if err := validateVersion(doc.Version); err != nil {
		return nil, err
	}

	return &doc, nil
}

// validateVersion fails closed on an incompatible (higher major) schema
// version.
func validateVersion(version string) error {
	if version == "" {
		return nil // freshly-initialized document
	}
	var major int
	if _, err := fmt.Sscanf(version, "%d.", &major); err != nil {
		return fmt.Errorf("registrystore: unparseable schema version %q: %w", version, orcherr.ErrStoreCorrupt)
	}
	var currentMajor int
	_, _ = fmt.Sscanf(SchemaVersion, "%d.", &currentMajor)
	if major > currentMajor {
		return fmt.Errorf("registrystore: schema version %q newer than supported %q: %w", version, SchemaVersion, orcherr.ErrStoreCorrupt)
	}
	return nil
}

// Save atomically replaces the live document: it first copies the
// current live file over the backup, then writes the new content to a
// sibling temp file, fsyncs it, and renames it into place. A crash
// mid-save always leaves at least one of {live, backup} intact.
func (s *Store) Save(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc.Version = SchemaVersion
	doc.LastUpdated = time.Now()

	if err := s.backupLocked(); err != nil {
		return fmt.Errorf("registrystore: backup before save: %w", err)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("registrystore: marshal: %w", err)
	}

	if err := atomicWriteFile(s.path, data); err != nil {
		return fmt.Errorf("registrystore: atomic write: %w", err)
	}
	return nil
}

// backupLocked copies the current live file over the backup path,
// overwriting any prior backup. A missing live file (first save ever) is
// not an error.
func (s *Store) backupLocked() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return atomicWriteFile(s.backupPath(), data)
}

// RestoreFromBackup copies the backup over the live file.
func (s *Store) RestoreFromBackup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.backupPath())
	if err != nil {
		return fmt.Errorf("registrystore: read backup: %w", err)
	}
	return atomicWriteFile(s.path, data)
}

// atomicWriteFile writes data to a temp file in dir(path), fsyncs it,
// then renames it over path.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}
