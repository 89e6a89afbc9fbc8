// Package walker lists the indexable files of a cloned repository and
// classifies each one by content type.
package walker

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-enry/go-enry/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repolens/internal/ignore"
	"github.com/fyrsmithlabs/repolens/internal/logging"
)

// MaxFileSize is the size ceiling above which files are skipped.
const MaxFileSize int64 = 10 * 1024 * 1024

// ContentType selects the chunking strategy for a file.
type ContentType string

const (
	Markdown ContentType = "markdown"
	Code     ContentType = "code"
	Text     ContentType = "text"
)

var markdownExtensions = map[string]bool{
	".md": true, ".mdx": true, ".markdown": true,
}

var codeExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".mjs": true, ".cjs": true,
	".json": true, ".yml": true, ".yaml": true, ".toml": true,
	".css": true, ".scss": true, ".html": true, ".sql": true, ".prisma": true,
	".py": true, ".go": true, ".rs": true, ".java": true, ".rb": true, ".php": true,
	".c": true, ".h": true, ".cpp": true, ".hpp": true, ".cs": true, ".sh": true,
	".env": true,
}

var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".ico": true,
	".pdf": true, ".zip": true, ".gz": true, ".tar": true, ".7z": true,
	".mp4": true, ".mp3": true, ".mov": true, ".avi": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true,
	".exe": true, ".dylib": true, ".so": true, ".bin": true,
}

// Classify maps a lowercase extension (with dot) to its content type.
func Classify(ext string) ContentType {
	switch {
	case markdownExtensions[ext]:
		return Markdown
	case codeExtensions[ext]:
		return Code
	default:
		return Text
	}
}

// IsBinary reports whether a file is binary by extension or by a NUL byte.
func IsBinary(path string, content []byte) bool {
	if binaryExtensions[strings.ToLower(filepath.Ext(path))] {
		return true
	}
	return bytes.IndexByte(content, 0) >= 0
}

// File is an eligible file read from the working copy.
type File struct {
	// Path is relative to the clone root and slash-separated.
	Path     string
	Ext      string
	Type     ContentType
	Content  string
	Language string
	Size     int64
}

// Option configures a Walker.
type Option func(*Walker)

// WithMatcher replaces the default ignore matcher.
func WithMatcher(m *ignore.Matcher) Option {
	return func(w *Walker) { w.matcher = m }
}

// WithMaxFileSize overrides MaxFileSize.
func WithMaxFileSize(n int64) Option {
	return func(w *Walker) { w.maxSize = n }
}

// Walker enumerates files under a clone root.
type Walker struct {
	matcher *ignore.Matcher
	maxSize int64
	logger  *logging.Logger
}

// New creates a Walker that prunes ignore.DefaultDirs.
func New(logger *logging.Logger, opts ...Option) *Walker {
	if logger == nil {
		logger = logging.Nop()
	}
	w := &Walker{
		matcher: ignore.NewMatcher(),
		maxSize: MaxFileSize,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Walk returns the eligible files under root in lexical order. Unreadable
// entries below root are logged and skipped.
func (w *Walker) Walk(ctx context.Context, root string) ([]File, error) {
	var files []File

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			w.logger.Warn(ctx, "skipping unreadable path", zap.String("path", path), zap.Error(walkErr))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if w.matcher.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || w.matcher.Match(rel, false) {
			return nil
		}

		file, ok := w.readFile(ctx, path, rel, d)
		if ok {
			files = append(files, file)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	w.logger.Debug(ctx, "walk complete", zap.String("root", root), zap.Int("files", len(files)))
	return files, nil
}

func (w *Walker) readFile(ctx context.Context, path, rel string, d fs.DirEntry) (File, bool) {
	info, err := d.Info()
	if err != nil {
		w.logger.Warn(ctx, "skipping file", zap.String("path", rel), zap.Error(err))
		return File{}, false
	}
	if info.Size() > w.maxSize {
		w.logger.Debug(ctx, "skipping oversized file", zap.String("path", rel), zap.Int64("size", info.Size()))
		return File{}, false
	}

	content, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn(ctx, "skipping file", zap.String("path", rel), zap.Error(err))
		return File{}, false
	}
	if IsBinary(rel, content) {
		return File{}, false
	}

	text := string(content)
	if strings.TrimSpace(text) == "" {
		return File{}, false
	}

	ext := strings.ToLower(filepath.Ext(rel))
	return File{
		Path:     rel,
		Ext:      ext,
		Type:     Classify(ext),
		Content:  text,
		Language: enry.GetLanguage(filepath.Base(rel), content),
		Size:     info.Size(),
	}, true
}
