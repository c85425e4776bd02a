package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	documentFileMode = 0644
	documentDirMode  = 0755
)

// Document is one JSON file holding a store's full contents.
type Document struct {
	path string
	name string
}

// NewDocument creates a document at <baseDir>/state/<file>.
func NewDocument(baseDir, file string) Document {
	return Document{
		path: filepath.Join(baseDir, "state", file),
		name: strings.TrimSuffix(file, filepath.Ext(file)),
	}
}

// Path returns the on-disk location of the document.
func (d Document) Path() string {
	return d.path
}

// Load decodes the document into v. A missing file leaves v untouched and
// reports false.
func (d Document) Load(v any) (bool, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s store: %w", d.name, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s store: %w", d.name, err)
	}
	return true, nil
}

// Save replaces the document with v via temp file and rename.
func (d Document) Save(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s store: %w", d.name, err)
	}

	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, documentDirMode); err != nil {
		return fmt.Errorf("create %s store dir: %w", d.name, err)
	}

	tmpFile, err := os.CreateTemp(dir, d.name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp %s store: %w", d.name, err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(encoded); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp %s store: %w", d.name, err)
	}
	if err := tmpFile.Chmod(documentFileMode); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp %s store: %w", d.name, err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("sync temp %s store: %w", d.name, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp %s store: %w", d.name, err)
	}

	if err := os.Rename(tmpPath, d.path); err != nil {
		// Windows refuses to rename over an existing file.
		if removeErr := os.Remove(d.path); removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("replace %s store: rename failed (%v), remove failed (%v)", d.name, err, removeErr)
		}
		if retryErr := os.Rename(tmpPath, d.path); retryErr != nil {
			return fmt.Errorf("replace %s store after remove: %w", d.name, retryErr)
		}
	}
	return nil
}
