package scanner

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"image-analyzer/internal/logging"
	"image-analyzer/internal/mediatypes"
)

func createTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func relPaths(files []SourceFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.RelPath
	}
	return out
}

func TestScan(t *testing.T) {
	t.Parallel()

	root := createTree(t, map[string]string{
		"a.jpg":                "a",
		"b.PNG":                "bb",
		"notes.txt":            "text",
		".hidden.jpg":          "hidden",
		".cache/thumb.jpg":     "hidden dir",
		"trips/2024/beach.jpg": "beach",
		"trips/raw/big.tiff":   "raw",
		"trips/skip/x.webp":    "skip",
	})

	tests := []struct {
		name   string
		config Config
		want   []string
	}{
		{
			name:   "defaults",
			config: Config{},
			want:   []string{"a.jpg", "b.PNG", "trips/2024/beach.jpg", "trips/raw/big.tiff", "trips/skip/x.webp"},
		},
		{
			name:   "exclude globs",
			config: Config{Exclude: []string{"**/raw/**", "trips/skip"}},
			want:   []string{"a.jpg", "b.PNG", "trips/2024/beach.jpg"},
		},
		{
			name:   "extension allow-list",
			config: Config{Extensions: mediatypes.NewExtensionSet(".jpg")},
			want:   []string{"a.jpg", "trips/2024/beach.jpg"},
		},
		{
			name:   "include hidden",
			config: Config{IncludeHidden: true, Extensions: mediatypes.NewExtensionSet(".jpg")},
			want:   []string{".cache/thumb.jpg", ".hidden.jpg", "a.jpg", "trips/2024/beach.jpg"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.config.Validate(); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			files, stats, err := New(tt.config, logging.Discard()).Scan(context.Background(), root)
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			got := relPaths(files)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Scan = %v, want %v", got, tt.want)
			}
			if stats.Matched != int64(len(tt.want)) {
				t.Errorf("Matched = %d, want %d", stats.Matched, len(tt.want))
			}
		})
	}
}

func TestScanSourceFileFields(t *testing.T) {
	t.Parallel()
	root := createTree(t, map[string]string{"sub/pic.jpg": "12345"})

	files, _, err := New(Config{}, logging.Discard()).Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("Scan returned %d files, want 1", len(files))
	}
	f := files[0]
	if !filepath.IsAbs(f.AbsPath) {
		t.Errorf("AbsPath %q is not absolute", f.AbsPath)
	}
	if f.Name() != "pic.jpg" || filepath.Base(f.Dir) != "sub" || f.Size != 5 {
		t.Errorf("unexpected SourceFile %+v", f)
	}
	if f.DiscoveredAt.IsZero() {
		t.Error("DiscoveredAt not set")
	}
}

func TestScanMissingRoot(t *testing.T) {
	t.Parallel()
	_, _, err := New(Config{}, logging.Discard()).Scan(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if !os.IsNotExist(err) {
		t.Errorf("Scan(missing) error = %v, want not-exist", err)
	}
}

func TestScanCanceled(t *testing.T) {
	t.Parallel()
	root := createTree(t, map[string]string{"a.jpg": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := New(Config{}, logging.Discard()).Scan(ctx, root); err == nil {
		t.Error("Scan with canceled context returned nil error")
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	if err := (Config{Exclude: []string{"[unclosed"}}).Validate(); err == nil {
		t.Error("Validate accepted a malformed pattern")
	}
}
