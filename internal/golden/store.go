// Package golden persists named reference screens and compares live captures
// against them. A golden is the expected-state oracle for regression
// assertions: digest equality decides the match, a line diff explains a miss.
package golden

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tsoflow/internal/fingerprint"
	"tsoflow/internal/screen"
)

// ErrGoldenNotFound is returned when a named golden doesn't exist.
var ErrGoldenNotFound = errors.New("golden not found")

// Meta is the metadata record stored next to a golden's screen text.
type Meta struct {
	Name       string    `json:"name"`
	Digest     string    `json:"digest"`
	Rows       int       `json:"rows"`
	Cols       int       `json:"cols"`
	FieldCount int       `json:"field_count"`
	Cursor     [2]int    `json:"cursor"`
	SavedAt    time.Time `json:"saved_at"`
}

// Golden is a loaded reference snapshot.
type Golden struct {
	Meta Meta
	Text string
}

// Store manages golden persistence. One record per name, lookup by name,
// blind overwrite on save; concurrent writers to the same name are the
// caller's problem (single-writer assumption).
type Store struct {
	Dir string
}

// NewStore creates a store rooted at the given directory.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// DefaultDir returns the default golden directory (~/.tsoflow/goldens).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tsoflow/goldens"
	}
	return filepath.Join(home, ".tsoflow", "goldens")
}

// ResolveDir returns the golden directory from the environment or the default.
func ResolveDir(environ []string) string {
	for _, env := range environ {
		if dir, ok := strings.CutPrefix(env, "TSOFLOW_GOLDEN_DIR="); ok && dir != "" {
			return dir
		}
	}
	return DefaultDir()
}

// Save persists a snapshot under the given name, overwriting any existing
// golden of that name. It returns the metadata file path.
func (s *Store) Save(name string, snap *screen.Snapshot) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", err
	}

	if err := os.WriteFile(s.textPath(name), []byte(snap.Text), 0o644); err != nil {
		return "", err
	}

	digest := snap.Digest
	if digest == "" {
		digest = fingerprint.Digest(snap.Text)
	}
	meta := Meta{
		Name:       name,
		Digest:     digest,
		Rows:       snap.Rows,
		Cols:       snap.Cols,
		FieldCount: len(snap.Fields),
		Cursor:     [2]int{snap.Cursor.Row, snap.Cursor.Col},
		SavedAt:    time.Now().UTC(),
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	path := s.metaPath(name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Load retrieves a golden by name.
func (s *Store) Load(name string) (Golden, error) {
	text, err := os.ReadFile(s.textPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Golden{}, ErrGoldenNotFound
		}
		return Golden{}, err
	}

	data, err := os.ReadFile(s.metaPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Golden{}, ErrGoldenNotFound
		}
		return Golden{}, err
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Golden{}, fmt.Errorf("golden %q: corrupt metadata: %w", name, err)
	}

	return Golden{Meta: meta, Text: string(text)}, nil
}

// Assert compares a snapshot against the named golden. A missing golden is a
// non-matching result with a descriptive message, not an error. On a digest
// mismatch the diagnostic is a unified line diff between golden and current.
func (s *Store) Assert(name string, snap *screen.Snapshot) (bool, string) {
	g, err := s.Load(name)
	if err != nil {
		if errors.Is(err, ErrGoldenNotFound) {
			return false, fmt.Sprintf("Golden '%s' not found", name)
		}
		return false, err.Error()
	}

	current := snap.Digest
	if current == "" {
		current = fingerprint.Digest(snap.Text)
	}
	if current == g.Meta.Digest {
		return true, "Digests match"
	}

	return false, Diff("golden/"+name, "current", g.Text, snap.Text)
}

// List returns metadata for all stored goldens, by directory order.
func (s *Store) List() ([]Meta, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Meta{}, nil
		}
		return nil, err
	}

	var metas []Meta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.Dir, entry.Name()))
		if err != nil {
			continue // skip unreadable files
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			continue // skip invalid JSON
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// Delete removes a golden by name.
func (s *Store) Delete(name string) error {
	errMeta := os.Remove(s.metaPath(name))
	errText := os.Remove(s.textPath(name))
	if os.IsNotExist(errMeta) && os.IsNotExist(errText) {
		return ErrGoldenNotFound
	}
	if errMeta != nil && !os.IsNotExist(errMeta) {
		return errMeta
	}
	if errText != nil && !os.IsNotExist(errText) {
		return errText
	}
	return nil
}

// Prune removes goldens saved before the cutoff. Returns the number deleted.
func (s *Store) Prune(olderThan time.Duration) (int, error) {
	metas, err := s.List()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	deleted := 0
	for _, m := range metas {
		if m.SavedAt.Before(cutoff) {
			if err := s.Delete(m.Name); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}

// Exists checks whether a golden of the given name is stored.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.metaPath(name))
	return err == nil
}

func (s *Store) textPath(name string) string {
	return filepath.Join(s.Dir, sanitize(name)+".txt")
}

func (s *Store) metaPath(name string) string {
	return filepath.Join(s.Dir, sanitize(name)+".json")
}

// sanitize keeps golden names filesystem-safe.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
