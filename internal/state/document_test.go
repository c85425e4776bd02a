package state

import (
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Items []string `json:"items"`
}

func TestDocument_SaveAndLoad(t *testing.T) {
	baseDir := t.TempDir()
	doc := NewDocument(baseDir, "sample.json")

	if err := doc.Save(sample{Items: []string{"a", "b"}}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if doc.Path() != filepath.Join(baseDir, "state", "sample.json") {
		t.Fatalf("unexpected path: %s", doc.Path())
	}

	var got sample
	found, err := doc.Load(&got)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !found {
		t.Fatal("expected document to exist")
	}
	if len(got.Items) != 2 || got.Items[1] != "b" {
		t.Fatalf("unexpected items: %v", got.Items)
	}

	entries, err := os.ReadDir(filepath.Join(baseDir, "state"))
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestDocument_LoadMissingFile(t *testing.T) {
	doc := NewDocument(t.TempDir(), "missing.json")
	var got sample
	found, err := doc.Load(&got)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if found {
		t.Fatal("expected missing document to report not found")
	}
}

func TestDocument_LoadCorruptFileFails(t *testing.T) {
	baseDir := t.TempDir()
	doc := NewDocument(baseDir, "broken.json")
	if err := os.MkdirAll(filepath.Dir(doc.Path()), 0755); err != nil {
		t.Fatalf("MkdirAll error: %v", err)
	}
	if err := os.WriteFile(doc.Path(), []byte("{broken"), 0644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	var got sample
	if _, err := doc.Load(&got); err == nil {
		t.Fatal("expected parse error for corrupt document")
	}
}
