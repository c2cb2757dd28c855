package storage

import (
	"bytes"
	"context"
	"testing"
)

func TestFileStoreWriteReadRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	key, err := store.Write(context.Background(), "exports/one.png", []byte("pixels"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if key != "exports/one.png" {
		t.Fatalf("canonical key %q", key)
	}

	data, err := store.Read(context.Background(), key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(data, []byte("pixels")) {
		t.Fatalf("read back %q", data)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	for _, key := range []string{"", "../escape.txt", "a/../../escape.txt", "."} {
		if _, err := store.Write(context.Background(), key, []byte("x")); err == nil {
			t.Fatalf("key %q was accepted", key)
		}
	}
}

func TestFileStoreNormalizesKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	key, err := store.Write(context.Background(), "./exports//two.wav", []byte("riff"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if key != "exports/two.wav" {
		t.Fatalf("canonical key %q", key)
	}
}

func TestExtensionFor(t *testing.T) {
	cases := map[string]string{
		"image/png":       "png",
		"image/jpeg":      "jpg",
		"image/webp":      "webp",
		"audio/wav":       "wav",
		"video/mp4":       "mp4",
		"application/x-?": "bin",
	}
	for format, want := range cases {
		if got := extensionFor(format); got != want {
			t.Fatalf("extensionFor(%q) = %q, want %q", format, got, want)
		}
	}
}
