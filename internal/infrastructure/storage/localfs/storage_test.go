package localfs

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
)

func TestSaveOpenDelete(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	n, err := s.Save(ctx, "abc_contract.pdf", strings.NewReader("%PDF-1.7"))
	if err != nil || n != 8 {
		t.Fatalf("Save() = %d, %v", n, err)
	}

	rc, err := s.Open(ctx, "abc_contract.pdf")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	raw, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(raw) != "%PDF-1.7" {
		t.Fatalf("unexpected content %q", raw)
	}

	if err := s.Delete(ctx, "abc_contract.pdf"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(s.Path("abc_contract.pdf")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected file to be removed, stat err = %v", err)
	}
	if err := s.Delete(ctx, "abc_contract.pdf"); err != nil {
		t.Fatalf("second Delete() must be a no-op, got %v", err)
	}
}

func TestRejectsTraversalKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, key := range []string{"../escape.pdf", "a/b.pdf", "", ".hidden"} {
		if _, err := s.Save(context.Background(), key, strings.NewReader("x")); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}
