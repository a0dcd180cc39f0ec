package blob

import (
	"os"
	"strings"
	"testing"
)

func TestLocalStoreSaveAndPath(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	ref, err := store.Save(strings.NewReader("proof bytes"), "receipt.JPG")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasSuffix(ref, ".jpg") {
		t.Errorf("ref = %q, want .jpg suffix", ref)
	}
	if strings.Contains(ref, "receipt") {
		t.Errorf("ref = %q leaks original name", ref)
	}

	path, err := store.Path(ref)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "proof bytes" {
		t.Errorf("content = %q, want %q", data, "proof bytes")
	}
}

func TestLocalStorePathRejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	tests := []string{"", "../etc/passwd", "a/b.jpg", "./x.jpg"}
	for _, ref := range tests {
		if _, err := store.Path(ref); err == nil {
			t.Errorf("Path(%q) succeeded, want error", ref)
		}
	}
}

func TestLocalStorePathUnknownRef(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if _, err := store.Path("missing.jpg"); err == nil {
		t.Error("Path for missing file succeeded, want error")
	}
}
