package analyzer

import (
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"image-analyzer/internal/retry"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			v := uint8(x * 255 / max(w-1, 1))
			img.Set(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestMetadataAnalyze(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "gradient.png")
	writePNG(t, path, gradient(320, 200))

	payload, err := NewMetadata(MetadataConfig{}).Analyze(context.Background(), path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if payload["width"] != 320 || payload["height"] != 200 {
		t.Errorf("dimensions = %v x %v", payload["width"], payload["height"])
	}
	if payload["format"] != "PNG" {
		t.Errorf("format = %v", payload["format"])
	}
	if payload["color_mode"] != "RGBA" { // opaque PNGs are stored as truecolor
		t.Errorf("color_mode = %v", payload["color_mode"])
	}
	if payload["aspect_ratio"] != 1.6 {
		t.Errorf("aspect_ratio = %v", payload["aspect_ratio"])
	}
	if payload["filename"] != "gradient.png" {
		t.Errorf("filename = %v", payload["filename"])
	}

	thumb, ok := payload["thumbnail"].(string)
	if !ok {
		t.Fatalf("thumbnail missing: %T", payload["thumbnail"])
	}
	data, err := base64.StdEncoding.DecodeString(thumb)
	if err != nil {
		t.Fatalf("thumbnail not base64: %v", err)
	}
	cfg, err := png.DecodeConfig(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("thumbnail not PNG: %v", err)
	}
	if cfg.Width != DefaultThumbnailSize || cfg.Height != 80 {
		t.Errorf("thumbnail = %dx%d, want %dx80", cfg.Width, cfg.Height, DefaultThumbnailSize)
	}

	hashes, ok := payload["perceptual_hashes"].(map[string]string)
	if !ok || len(hashes["average_hash"]) != 16 || len(hashes["difference_hash"]) != 16 {
		t.Errorf("perceptual_hashes = %v", payload["perceptual_hashes"])
	}
}

func TestMetadataThumbnailDisabled(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "a.png")
	writePNG(t, path, gradient(16, 16))

	payload, err := NewMetadata(MetadataConfig{ThumbnailSize: -1}).Analyze(context.Background(), path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, ok := payload["thumbnail"]; ok {
		t.Error("thumbnail present although disabled")
	}
}

func TestMetadataJPEG(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "photo.jpg")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := jpeg.Encode(f, gradient(64, 48), nil); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	payload, err := NewMetadata(MetadataConfig{}).Analyze(context.Background(), path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if payload["format"] != "JPEG" || payload["color_mode"] != "YCbCr" {
		t.Errorf("format/color = %v/%v", payload["format"], payload["color_mode"])
	}
}

func TestMetadataErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	corrupt := filepath.Join(dir, "corrupt.png")
	if err := os.WriteFile(corrupt, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewMetadata(MetadataConfig{}).Analyze(context.Background(), corrupt)
	if kind := retry.KindOf(err); kind != retry.KindMalformed {
		t.Errorf("corrupt image kind = %s (%v), want malformed", kind, err)
	}

	_, err = NewMetadata(MetadataConfig{}).Analyze(context.Background(), filepath.Join(dir, "missing.png"))
	if kind := retry.KindOf(err); kind != retry.KindFileIO || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file kind = %s (%v), want file_io", kind, err)
	}
}

func TestPerceptualHashes(t *testing.T) {
	t.Parallel()

	flat := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for i := range flat.Pix {
		flat.Pix[i] = 128
	}
	if got := AverageHash(flat); got != 0 {
		t.Errorf("AverageHash(flat) = %016x, want 0", got)
	}
	if got := DifferenceHash(flat); got != 0 {
		t.Errorf("DifferenceHash(flat) = %016x, want 0", got)
	}

	a := gradient(64, 64)
	b := gradient(128, 128)
	if d := HammingDistance(AverageHash(a), AverageHash(b)); d > 4 {
		t.Errorf("rescaled image average-hash distance = %d, want <= 4", d)
	}
	if AverageHash(a) == 0 {
		t.Error("gradient average hash should not be zero")
	}
}

func TestHammingDistance(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b uint64
		want int
	}{
		{0, 0, 0},
		{0, 1, 1},
		{0xFF, 0, 8},
		{^uint64(0), 0, 64},
	}
	for _, tt := range tests {
		if got := HammingDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("HammingDistance(%x, %x) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
