package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"

	"image-analyzer/internal/logging"
	"image-analyzer/internal/mediatypes"
)

// SourceFile is an image discovered by a scan. It is never mutated.
type SourceFile struct {
	// AbsPath is the absolute path at scan time; it is the file's identity
	// until it is fingerprinted.
	AbsPath string
	// Dir is the containing directory.
	Dir string
	// RelPath is AbsPath relative to the scan root, slash separated.
	RelPath string
	// Size is the size reported by the walk.
	Size         int64
	DiscoveredAt time.Time
}

// Name returns the base file name.
func (f SourceFile) Name() string {
	return filepath.Base(f.AbsPath)
}

// Config configures a scan.
type Config struct {
	// Extensions is the allow-list. Nil means mediatypes.DefaultExtensions.
	Extensions mediatypes.ExtensionSet
	// Exclude holds doublestar patterns matched against RelPath.
	Exclude []string
	// IncludeHidden disables skipping of dot files and directories.
	IncludeHidden bool
}

// Validate checks that every exclude pattern is well formed.
func (c Config) Validate() error {
	for _, p := range c.Exclude {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	return nil
}

// Stats summarizes a completed scan.
type Stats struct {
	Matched     int64
	Bytes       int64
	Skipped     int64
	Excluded    int64
	Errors      int64
	Directories int64
	Duration    time.Duration
}

// Scanner walks a directory tree for images.
type Scanner struct {
	config Config
	log    *logging.Logger

	matched     atomic.Int64
	bytes       atomic.Int64
	skipped     atomic.Int64
	excluded    atomic.Int64
	errorsCount atomic.Int64
	dirs        atomic.Int64
}

// New creates a Scanner. The config must already be validated.
func New(config Config, log *logging.Logger) *Scanner {
	if config.Extensions == nil {
		config.Extensions = mediatypes.DefaultExtensions()
	}
	return &Scanner{config: config, log: log}
}

// Scan walks root and returns every matching image in walk order.
// Unreadable entries are logged and skipped; only a missing or
// non-directory root, or cancellation, is an error.
func (s *Scanner) Scan(ctx context.Context, root string) ([]SourceFile, Stats, error) {
	start := time.Now()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, Stats{}, err
	}
	if !info.IsDir() {
		return nil, Stats{}, fmt.Errorf("%s is not a directory", absRoot)
	}

	var files []SourceFile
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			s.errorsCount.Add(1)
			s.log.Warn("Error accessing path %s: %v", path, err)
			if d != nil && d.IsDir() && path != absRoot {
				return filepath.SkipDir
			}
			return nil
		}

		if path == absRoot {
			return nil
		}

		if !s.config.IncludeHidden && strings.HasPrefix(d.Name(), ".") {
			s.skipped.Add(1)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			//nolint:nilerr // skip this entry but keep walking
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if s.isExcluded(relPath) {
			s.excluded.Add(1)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			s.dirs.Add(1)
			return nil
		}

		if !d.Type().IsRegular() || !s.config.Extensions.Match(d.Name()) {
			s.skipped.Add(1)
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			s.errorsCount.Add(1)
			s.log.Warn("Error getting info for %s: %v", path, err)
			return nil
		}

		files = append(files, SourceFile{
			AbsPath:      path,
			Dir:          filepath.Dir(path),
			RelPath:      relPath,
			Size:         fi.Size(),
			DiscoveredAt: time.Now(),
		})
		s.matched.Add(1)
		s.bytes.Add(fi.Size())
		return nil
	})

	stats := s.Stats()
	stats.Duration = time.Since(start)

	if walkErr != nil {
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			return nil, stats, walkErr
		}
		return files, stats, walkErr
	}

	s.log.Info("Scan complete: %s images (%s) in %v (skipped: %d, excluded: %d, errors: %d)",
		humanize.Comma(stats.Matched), humanize.Bytes(uint64(stats.Bytes)),
		stats.Duration.Round(time.Millisecond), stats.Skipped, stats.Excluded, stats.Errors)
	return files, stats, nil
}

func (s *Scanner) isExcluded(relPath string) bool {
	for _, p := range s.config.Exclude {
		if ok, _ := doublestar.Match(p, relPath); ok {
			return true
		}
	}
	return false
}

// Stats returns the running counters.
func (s *Scanner) Stats() Stats {
	return Stats{
		Matched:     s.matched.Load(),
		Bytes:       s.bytes.Load(),
		Skipped:     s.skipped.Load(),
		Excluded:    s.excluded.Load(),
		Errors:      s.errorsCount.Load(),
		Directories: s.dirs.Load(),
	}
}
