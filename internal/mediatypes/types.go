package mediatypes

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultImageExtensions is the allow-list used when none is configured.
var DefaultImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif", ".webp"}

// MimeTypes maps image extensions to their MIME types.
var MimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".heic": "image/heic",
	".heif": "image/heif",
}

// GetMimeType returns the MIME type for a given file extension.
// The extension is matched case-insensitively and must include the dot.
// Returns "application/octet-stream" if the extension is not recognized.
func GetMimeType(ext string) string {
	if mime, ok := MimeTypes[strings.ToLower(ext)]; ok {
		return mime
	}
	return "application/octet-stream"
}

// ExtensionSet is a case-insensitive set of file extensions.
type ExtensionSet map[string]struct{}

// NewExtensionSet builds a set from normalized extensions.
func NewExtensionSet(exts ...string) ExtensionSet {
	set := make(ExtensionSet, len(exts))
	for _, ext := range exts {
		set[normalizeExt(ext)] = struct{}{}
	}
	return set
}

// DefaultExtensions returns a fresh set of DefaultImageExtensions.
func DefaultExtensions() ExtensionSet {
	return NewExtensionSet(DefaultImageExtensions...)
}

// ParseExtensions parses a comma or space separated list. Empty input
// yields DefaultExtensions. Extensions outside MimeTypes are rejected.
func ParseExtensions(s string) (ExtensionSet, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})
	if len(fields) == 0 {
		return DefaultExtensions(), nil
	}

	set := make(ExtensionSet, len(fields))
	for _, f := range fields {
		ext := normalizeExt(f)
		if _, ok := MimeTypes[ext]; !ok {
			return nil, fmt.Errorf("unsupported image extension %q", f)
		}
		set[ext] = struct{}{}
	}
	return set, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Match reports whether name has an extension in the set.
func (s ExtensionSet) Match(name string) bool {
	_, ok := s[strings.ToLower(filepath.Ext(name))]
	return ok
}

// List returns the extensions in sorted order.
func (s ExtensionSet) List() []string {
	out := make([]string, 0, len(s))
	for ext := range s {
		out = append(out, ext)
	}
	slices.Sort(out)
	return out
}

// String implements fmt.Stringer.
func (s ExtensionSet) String() string {
	return strings.Join(s.List(), ",")
}
