package hasher

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseAlgorithm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Algorithm
		wantErr bool
	}{
		{"", MD5, false},
		{"md5", MD5, false},
		{" SHA256 ", SHA256, false},
		{"sha1", SHA1, false},
		{"blake2b", BLAKE2b, false},
		{"crc32", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseAlgorithm(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAlgorithm(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseAlgorithm(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestKnownDigests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		algo Algorithm
		want string
	}{
		{MD5, "900150983cd24fb0d6963f7d28e17f72"},
		{SHA1, "a9993e364706816aba3e25717850c26c9cd0d89d"},
		{SHA256, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{BLAKE2b, "bddd813c634239723171ef3fee98579b94964e3bb1cb3e427262c8c068d52319"},
	}

	for _, tt := range tests {
		t.Run(string(tt.algo), func(t *testing.T) {
			t.Parallel()
			sum, err := tt.algo.Reader(context.Background(), strings.NewReader("abc"))
			if err != nil {
				t.Fatalf("Reader: %v", err)
			}
			if sum.Fingerprint != tt.want {
				t.Errorf("digest = %s, want %s", sum.Fingerprint, tt.want)
			}
			if sum.Size != 3 {
				t.Errorf("Size = %d, want 3", sum.Size)
			}
		})
	}
}

func TestFileMatchesContentNotName(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	content := bytes.Repeat([]byte("pixel"), 3*ChunkSize)

	a := filepath.Join(dir, "a.jpg")
	b := filepath.Join(dir, "copy-of-a.png")
	c := filepath.Join(dir, "c.jpg")
	for path, data := range map[string][]byte{a: content, b: content, c: append([]byte("x"), content...)} {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ctx := context.Background()
	sa, err := MD5.File(ctx, a)
	if err != nil {
		t.Fatalf("File(a): %v", err)
	}
	sb, err := MD5.File(ctx, b)
	if err != nil {
		t.Fatalf("File(b): %v", err)
	}
	sc, err := MD5.File(ctx, c)
	if err != nil {
		t.Fatalf("File(c): %v", err)
	}

	if sa.Fingerprint != sb.Fingerprint {
		t.Errorf("identical content produced %s and %s", sa.Fingerprint, sb.Fingerprint)
	}
	if sa.Fingerprint == sc.Fingerprint {
		t.Error("different content produced the same fingerprint")
	}
	if sa.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", sa.Size, len(content))
	}
}

func TestFileMissing(t *testing.T) {
	t.Parallel()
	_, err := MD5.File(context.Background(), filepath.Join(t.TempDir(), "gone.jpg"))
	var pathErr *fs.PathError
	if !errors.As(err, &pathErr) || !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("File(missing) error = %v, want *fs.PathError wrapping ErrNotExist", err)
	}
}

func TestReaderHonorsCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := SHA256.Reader(ctx, strings.NewReader("abc")); !errors.Is(err, context.Canceled) {
		t.Errorf("Reader error = %v, want context.Canceled", err)
	}
}
