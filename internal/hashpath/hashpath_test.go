package hashpath

import (
	"strings"
	"testing"
)

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestHashIsDeterministic(t *testing.T) {
	h, err := New("s3cret")
	if err != nil {
		t.Fatalf("failed to create hasher: %v", err)
	}

	a := h.Hash("Movies/Heat (1995)/heat.mv-encoded.mp4")
	b := h.Hash("Movies/Heat (1995)/heat.mv-encoded.mp4")
	if a != b {
		t.Fatalf("same path hashed differently: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestHashVariesWithPathAndSecret(t *testing.T) {
	h1, _ := New("secret-one")
	h2, _ := New("secret-two")

	path := "tv shows/Show/s01e01.mv-encoded.mp4"
	if h1.Hash(path) == h1.Hash(path+"x") {
		t.Fatal("different paths produced the same identifier")
	}
	if h1.Hash(path) == h2.Hash(path) {
		t.Fatal("different secrets produced the same identifier")
	}
}

func TestHashDoesNotLeakPath(t *testing.T) {
	h, _ := New("s3cret")
	id := h.Hash("Movies/Secret Film/file.mp4")
	if strings.Contains(id, "Secret") || strings.Contains(id, "Movies") {
		t.Fatalf("identifier leaks path material: %q", id)
	}
}
