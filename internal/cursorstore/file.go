// Package cursorstore implements the file-backed cursor store (C5's
// "File" backend): an atomically written JSON document mapping each
// source_ref to its opaque resume token, used by document sources (spec
// §4.6, §6).
package cursorstore

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/myyrakle/clockpipe/internal/types"
)

// ErrCorrupt is returned by Load when the on-disk file exists but cannot
// be parsed. Per a corrupt file must never be silently treated
// as "first run" — the caller is expected to exit(2).
var ErrCorrupt = errors.New("cursorstore: cursor file is corrupt")

// FirstRun is the sentinel Load returns (with a nil error) when the
// cursor file does not exist yet.
var FirstRun = types.OpaqueBytes(nil)

// File is an atomic write-rename JSON cursor store keyed by
// "<schema>.<name>". One File instance is shared by every SourceRef in a
// single document-source pairing so that Save always rewrites the whole
// document.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) *File {
	return &File{path: path}
}

func key(ref types.SourceRef) string {
	return fmt.Sprintf("%s.%s", ref.Schema, ref.Name)
}

// Load returns the last successfully saved token for ref, or FirstRun if
// the file does not exist yet. A file that exists but fails to parse is
// ErrCorrupt, which the caller must treat as fatal, not as "first run".
func (f *File) Load(ref types.SourceRef) (types.OpaqueBytes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.readDoc()
	if err != nil {
		if os.IsNotExist(err) {
			return FirstRun, nil
		}
		return nil, err
	}

	encoded, ok := doc[key(ref)]
	if !ok {
		return FirstRun, nil
	}

	token, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, f.path, err)
	}
	return types.OpaqueBytes(token), nil
}

// Save durably persists token for ref. It must not return success until
// the write is fsynced to disk, so it writes to a
// sibling temp file, fsyncs it, then renames it over the target path —
// rename is atomic on POSIX filesystems, so a crash mid-write never
// exposes a partially written cursor file.
func (f *File) Save(ref types.SourceRef, token types.OpaqueBytes) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.readDoc()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if doc == nil {
		doc = make(map[string]string)
	}
	doc[key(ref)] = hex.EncodeToString(token)

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("cursorstore: marshal: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%s", filepath.Base(f.path), uuid.NewString()))

	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("cursorstore: create temp file: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("cursorstore: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("cursorstore: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cursorstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cursorstore: rename into place: %w", err)
	}
	return nil
}

func (f *File) readDoc() (map[string]string, error) {
	body, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return make(map[string]string), nil
	}

	var doc map[string]string
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, f.path, err)
	}
	return doc, nil
}
