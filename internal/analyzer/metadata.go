package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/bits"
	"os"
	"path/filepath"
	"strings"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // BMP format support
	_ "golang.org/x/image/tiff" // TIFF format support
	_ "golang.org/x/image/webp" // WebP format support

	"image-analyzer/internal/record"
	"image-analyzer/internal/retry"
)

// DefaultThumbnailSize is the bounding box of generated thumbnails.
const DefaultThumbnailSize = 128

// MetadataConfig configures the metadata analyzer.
type MetadataConfig struct {
	// ThumbnailSize is the thumbnail bounding box; 0 uses the default and
	// a negative value disables thumbnails.
	ThumbnailSize int
}

// MetadataAnalyzer extracts file and image properties locally.
type MetadataAnalyzer struct {
	thumbSize int
}

// NewMetadata creates the metadata analyzer.
func NewMetadata(cfg MetadataConfig) *MetadataAnalyzer {
	size := cfg.ThumbnailSize
	if size == 0 {
		size = DefaultThumbnailSize
	}
	return &MetadataAnalyzer{thumbSize: size}
}

// Name implements Analyzer.
func (m *MetadataAnalyzer) Name() string { return Metadata }

// Category implements Analyzer. Only local file access can fail
// transiently here.
func (m *MetadataAnalyzer) Category() retry.Category { return retry.CategoryStorage }

// Analyze implements Analyzer.
func (m *MetadataAnalyzer) Analyze(ctx context.Context, path string) (record.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	cfg, format, err := image.DecodeConfig(f)
	_ = f.Close()
	if err != nil {
		return nil, retry.Mark(retry.KindMalformed, fmt.Errorf("reading image header: %w", err))
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, retry.Mark(retry.KindMalformed, fmt.Errorf("decoding image: %w", err))
	}
	bounds := img.Bounds()

	payload := record.Payload{
		"filename":      filepath.Base(path),
		"date_modified": info.ModTime().UTC().Format("2006-01-02T15:04:05Z07:00"),
		"width":         cfg.Width,
		"height":        cfg.Height,
		"format":        strings.ToUpper(format),
		"color_mode":    colorModelName(cfg.ColorModel),
		"file_size":     info.Size(),
		"perceptual_hashes": map[string]string{
			"average_hash":    fmt.Sprintf("%016x", AverageHash(img)),
			"difference_hash": fmt.Sprintf("%016x", DifferenceHash(img)),
		},
	}
	if cfg.Height > 0 {
		payload["aspect_ratio"] = float64(cfg.Width) / float64(cfg.Height)
	}
	if bounds.Dx() != cfg.Width || bounds.Dy() != cfg.Height {
		payload["oriented_width"] = bounds.Dx()
		payload["oriented_height"] = bounds.Dy()
	}

	if m.thumbSize > 0 {
		thumb, err := encodeThumbnail(img, m.thumbSize)
		if err != nil {
			return nil, err
		}
		payload["thumbnail"] = thumb
	}
	return payload, nil
}

func encodeThumbnail(img image.Image, size int) (string, error) {
	thumb := imaging.Fit(img, size, size, imaging.Lanczos)
	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return "", fmt.Errorf("encoding thumbnail: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// AverageHash computes a 64-bit average hash: the image is reduced to 8x8
// greyscale and each bit is set when the pixel is above the mean.
func AverageHash(img image.Image) uint64 {
	small := imaging.Grayscale(imaging.Resize(img, 8, 8, imaging.Box))

	var sum int
	px := make([]uint8, 0, 64)
	for y := range 8 {
		for x := range 8 {
			v := small.Pix[y*small.Stride+x*4]
			px = append(px, v)
			sum += int(v)
		}
	}
	mean := sum / 64

	var h uint64
	for i, v := range px {
		if int(v) > mean {
			h |= 1 << uint(63-i)
		}
	}
	return h
}

// DifferenceHash computes a 64-bit difference hash over a 9x8 greyscale
// reduction: each bit records whether a pixel is brighter than its right
// neighbour.
func DifferenceHash(img image.Image) uint64 {
	small := imaging.Grayscale(imaging.Resize(img, 9, 8, imaging.Box))

	var h uint64
	i := 0
	for y := range 8 {
		row := small.Pix[y*small.Stride:]
		for x := range 8 {
			if row[x*4] > row[(x+1)*4] {
				h |= 1 << uint(63-i)
			}
			i++
		}
	}
	return h
}

// HammingDistance returns the number of differing bits between two hashes.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

func colorModelName(m color.Model) string {
	switch m {
	case color.RGBAModel:
		return "RGBA"
	case color.RGBA64Model:
		return "RGBA64"
	case color.NRGBAModel:
		return "NRGBA"
	case color.NRGBA64Model:
		return "NRGBA64"
	case color.GrayModel:
		return "L"
	case color.Gray16Model:
		return "L16"
	case color.CMYKModel:
		return "CMYK"
	case color.YCbCrModel:
		return "YCbCr"
	case color.AlphaModel, color.Alpha16Model:
		return "A"
	}
	if _, ok := m.(color.Palette); ok {
		return "P"
	}
	return "unknown"
}
