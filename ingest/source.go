package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/nevindra/mergerag"
)

// DirectorySource reads every file with a required extension under a
// directory, recursively, and combines their text into one document joined by
// blank lines. Hidden files and directories are skipped. Text is normalised to
// NFC so visually identical corpora chunk identically.
type DirectorySource struct {
	exts       []string
	extractors map[ContentType]Extractor
	logger     *slog.Logger
}

var _ mergerag.DocumentSource = (*DirectorySource)(nil)

// SourceOption configures a DirectorySource.
type SourceOption func(*DirectorySource)

// WithExtensions sets the required file extensions (default ".md").
func WithExtensions(exts ...string) SourceOption {
	return func(s *DirectorySource) {
		s.exts = s.exts[:0]
		for _, e := range exts {
			e = strings.ToLower(e)
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			s.exts = append(s.exts, e)
		}
	}
}

// WithExtractor registers ex for content type ct, replacing the default.
func WithExtractor(ct ContentType, ex Extractor) SourceOption {
	return func(s *DirectorySource) { s.extractors[ct] = ex }
}

// WithSourceLogger sets the logger. If not set, nothing is logged.
func WithSourceLogger(l *slog.Logger) SourceOption {
	return func(s *DirectorySource) { s.logger = l }
}

// NewDirectorySource creates a DirectorySource reading markdown files.
func NewDirectorySource(opts ...SourceOption) *DirectorySource {
	s := &DirectorySource{
		exts:       []string{".md"},
		extractors: DefaultExtractors(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = nopLogger
	}
	sort.Strings(s.exts)
	return s
}

// Load implements mergerag.DocumentSource.
func (s *DirectorySource) Load(ctx context.Context, dir string) (mergerag.SourceDocument, error) {
	files, err := s.files(dir)
	if err != nil {
		return mergerag.SourceDocument{}, err
	}

	var parts []string
	var used []string
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return mergerag.SourceDocument{}, err
		}
		content, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			return mergerag.SourceDocument{}, fmt.Errorf("read %s: %w", rel, err)
		}
		text, err := extractFile(s.extractors, rel, content)
		if err != nil {
			return mergerag.SourceDocument{}, fmt.Errorf("%s: %w", rel, err)
		}
		text = strings.TrimSpace(norm.NFC.String(text))
		if text == "" {
			s.logger.Debug("skipping empty document", "dir", dir, "file", rel)
			continue
		}
		parts = append(parts, text)
		used = append(used, rel)
	}
	s.logger.Info("documents loaded", "dir", dir, "files", len(used))
	return mergerag.SourceDocument{Text: strings.Join(parts, "\n\n"), Files: used}, nil
}

// Fingerprint implements mergerag.DocumentSource. It hashes the extension
// filter and the path and content of every matching file.
func (s *DirectorySource) Fingerprint(ctx context.Context, dir string) (string, error) {
	files, err := s.files(dir)
	if err != nil {
		return "", err
	}
	h := xxhash.New()
	_, _ = h.WriteString(strings.Join(s.exts, ",") + "\x00")
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		content, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			return "", fmt.Errorf("read %s: %w", rel, err)
		}
		_, _ = h.WriteString(filepath.ToSlash(rel) + "\x00")
		_, _ = h.WriteString(fmt.Sprintf("%016x\x00", xxhash.Sum64(content)))
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// files returns matching paths relative to dir in lexical order.
func (s *DirectorySource) files(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("corpus directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus directory: %s is not a directory", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !s.wants(filepath.Ext(path)) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s files under %s", strings.Join(s.exts, "/"), dir)
	}
	return files, nil
}

func (s *DirectorySource) wants(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range s.exts {
		if e == ext {
			return true
		}
	}
	return false
}
