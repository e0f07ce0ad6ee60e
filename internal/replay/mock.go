// Package replay re-runs recorded transcripts against golden screens to
// check that an automation flow is still deterministic. Nothing here talks
// to a live terminal.
package replay

import (
	"context"
	"fmt"
	"strings"

	"tsoflow/internal/golden"
	"tsoflow/internal/screen"
	"tsoflow/internal/session"
)

// initialGolden, when present, is the screen a mock session shows right
// after connect.
const initialGolden = "initial"

// MockDriver implements session.Driver from a golden store. The screen it
// shows is driven from outside via digest lookups rather than by terminal
// traffic; input actions are accepted and discarded.
type MockDriver struct {
	byDigest map[string]golden.Golden
	byName   map[string]golden.Golden
	current  *golden.Golden
}

// NewMockDriver loads every golden in the store and indexes it by digest.
func NewMockDriver(store *golden.Store) (*MockDriver, error) {
	metas, err := store.List()
	if err != nil {
		return nil, fmt.Errorf("load goldens: %w", err)
	}

	d := &MockDriver{
		byDigest: make(map[string]golden.Golden, len(metas)),
		byName:   make(map[string]golden.Golden, len(metas)),
	}
	for _, m := range metas {
		g, err := store.Load(m.Name)
		if err != nil {
			return nil, fmt.Errorf("load golden %q: %w", m.Name, err)
		}
		d.byDigest[g.Meta.Digest] = g
		d.byName[g.Meta.Name] = g
	}
	return d, nil
}

// ShowByDigest switches the current screen to the golden whose digest
// starts with the given prefix. Reports whether one was found.
func (d *MockDriver) ShowByDigest(prefix string) bool {
	if prefix == "" {
		return false
	}
	for digest, g := range d.byDigest {
		if strings.HasPrefix(digest, prefix) {
			d.current = &g
			return true
		}
	}
	return false
}

// Screen returns the currently shown golden, or nil before connect.
func (d *MockDriver) Screen() *golden.Golden {
	return d.current
}

func (d *MockDriver) Connect(ctx context.Context, host string) error {
	if g, ok := d.byName[initialGolden]; ok {
		d.current = &g
	}
	return nil
}

func (d *MockDriver) Disconnect() error { return nil }

func (d *MockDriver) SnapshotRaw(ctx context.Context) (session.Raw, error) {
	if d.current == nil {
		return session.Raw{Rows: 24, Cols: 80}, nil
	}
	raw := session.Raw{
		Rows:   d.current.Meta.Rows,
		Cols:   d.current.Meta.Cols,
		Cursor: screen.Position{Row: d.current.Meta.Cursor[0], Col: d.current.Meta.Cursor[1]},
		Ascii:  d.current.Text,
	}
	if raw.Rows == 0 {
		raw.Rows, raw.Cols = 24, 80
	}
	return raw, nil
}

func (d *MockDriver) MoveAndType(ctx context.Context, row, col int, text string, submit bool) error {
	return nil
}

func (d *MockDriver) PressKey(ctx context.Context, name string) error {
	_, err := session.NormalizeAID(name)
	return err
}

func (d *MockDriver) Ready(ctx context.Context) (bool, error) { return true, nil }
