// Package store persists the ledger documents. A document is a nested
// mapping serialized as structured text; saves are last-writer-wins.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Document ids owned by the two ledgers.
const (
	DocStash     = "inventory"
	DocWorkStats = "workstats"
)

const (
	DriverJSON   = "json"
	DriverYAML   = "yaml"
	DriverSQLite = "sqlite"
)

var ErrNotFound = errors.New("store: document not found")

type Store interface {
	// Load decodes the document into v. It returns ErrNotFound when the
	// document has never been saved.
	Load(ctx context.Context, docID string, v any) error
	Save(ctx context.Context, docID string, v any) error
	Close() error
}

// Open returns the store selected by driver. dir holds file documents and
// dbPath the SQLite database; an empty dbPath defaults to dir/stash.db.
func Open(driver, dir, dbPath string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverJSON:
		return NewFileStore(dir, JSONCodec{})
	case DriverYAML:
		return NewFileStore(dir, YAMLCodec{})
	case DriverSQLite:
		if dbPath == "" {
			dbPath = filepath.Join(dir, "stash.db")
		}
		return NewSQLiteStore(dbPath)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
