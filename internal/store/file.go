package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps one file per document under a directory.
type FileStore struct {
	dir   string
	codec Codec
}

func NewFileStore(dir string, codec Codec) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: directory is required")
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{dir: dir, codec: codec}, nil
}

func (s *FileStore) Path(docID string) string {
	return filepath.Join(s.dir, docID+s.codec.Ext())
}

func (s *FileStore) Load(_ context.Context, docID string, v any) error {
	data, err := os.ReadFile(s.Path(docID))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read %s: %w", docID, err)
	}
	if len(data) == 0 {
		return ErrNotFound
	}
	if err := s.codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", docID, err)
	}
	return nil
}

// Save writes to a temporary file and renames it over the document so a
// crash mid-write never leaves a truncated document behind.
func (s *FileStore) Save(_ context.Context, docID string, v any) error {
	data, err := s.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", docID, err)
	}
	tmp, err := os.CreateTemp(s.dir, docID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", docID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", docID, err)
	}
	if err := os.Rename(tmpName, s.Path(docID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", docID, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
