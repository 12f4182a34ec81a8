package attachment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/prism-chat/prism/internal/log"
)

func newTestSpool(t *testing.T) *Spool {
	t.Helper()
	s, err := NewSpool(t.TempDir(), log.NewNop())
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}
	return s
}

func TestSaveAndOpen(t *testing.T) {
	t.Parallel()
	s := newTestSpool(t)

	payload := []byte("hello attachment")
	saved, err := s.Save(context.Background(), "notes.txt", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	wantHash := sha256.Sum256(payload)
	if saved.Hash != hex.EncodeToString(wantHash[:]) {
		t.Errorf("hash = %s", saved.Hash)
	}
	if saved.Size != int64(len(payload)) {
		t.Errorf("size = %d", saved.Size)
	}
	if !strings.HasPrefix(saved.ContentType, "text/plain") {
		t.Errorf("content type = %s", saved.ContentType)
	}
	if saved.Name != "notes.txt" {
		t.Errorf("name = %s", saved.Name)
	}

	rc, err := s.Open(saved.Hash)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading payload: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload round trip mismatch")
	}
}

func TestSaveDeduplicates(t *testing.T) {
	t.Parallel()
	s := newTestSpool(t)

	payload := []byte("same bytes")
	first, err := s.Save(context.Background(), "a.txt", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	second, err := s.Save(context.Background(), "b.txt", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if first.Hash != second.Hash {
		t.Errorf("hashes differ: %s vs %s", first.Hash, second.Hash)
	}
}

func TestSaveRejectsOversized(t *testing.T) {
	t.Parallel()
	s := newTestSpool(t)

	big := io.LimitReader(neverEnding('x'), MaxFileSize+1)
	_, err := s.Save(context.Background(), "big.bin", big)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("got %v, want ErrTooLarge", err)
	}
}

type neverEnding byte

func (b neverEnding) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(b)
	}
	return len(p), nil
}

func TestOpenValidatesHash(t *testing.T) {
	t.Parallel()
	s := newTestSpool(t)

	if _, err := s.Open("../../etc/passwd"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("traversal attempt: got %v", err)
	}
	if _, err := s.Open(strings.Repeat("0", 64)); !errors.Is(err, ErrNotFound) {
		t.Errorf("absent object: got %v", err)
	}
}

func TestExtractText(t *testing.T) {
	t.Parallel()
	s := newTestSpool(t)

	saved, err := s.Save(context.Background(), "doc.txt", strings.NewReader("extract me"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	text, ok, err := s.ExtractText(context.Background(), saved.Hash, saved.ContentType)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if !ok || text != "extract me" {
		t.Errorf("extracted = %q, ok = %v", text, ok)
	}

	// Binary content types have no extractor.
	_, ok, err = s.ExtractText(context.Background(), saved.Hash, "image/png")
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if ok {
		t.Error("image content type matched a text extractor")
	}
}

func TestDetectContentType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		head []byte
		want string
	}{
		{"report.json", nil, "application/json"},
		{"photo.png", nil, "image/png"},
		{"unknown", []byte("plain words here"), "text/plain; charset=utf-8"},
	}
	for _, tt := range tests {
		got := detectContentType(tt.name, tt.head)
		if !strings.HasPrefix(got, strings.Split(tt.want, ";")[0]) {
			t.Errorf("detectContentType(%q) = %q, want prefix %q", tt.name, got, tt.want)
		}
	}
}
