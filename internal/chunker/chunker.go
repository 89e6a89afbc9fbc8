// Package chunker splits walked files into overlapping, bounded chunks ready
// for embedding.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/repolens/internal/tokens"
	"github.com/fyrsmithlabs/repolens/internal/walker"
)

// Chunk sizing, measured in runes.
const (
	DefaultSize    = 1000
	DefaultOverlap = 100
)

// Chunk is one embeddable piece of a repository file.
type Chunk struct {
	RepositoryID  string
	RepositoryURL string
	FilePath      string
	FileExtension string
	ChunkIndex    int
	Type          walker.ContentType
	Content       string
	TokenCount    int
	Language      string
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithSplitter replaces the default TextSplitter.
func WithSplitter(s Splitter) Option {
	return func(c *Chunker) { c.splitter = s }
}

// WithEstimator sets the estimator used for TokenCount.
func WithEstimator(e tokens.Estimator) Option {
	return func(c *Chunker) { c.estimator = e }
}

// WithSize overrides the chunk size and overlap.
func WithSize(size, overlap int) Option {
	return func(c *Chunker) {
		c.size = size
		c.overlap = overlap
	}
}

// Chunker turns files into chunks.
type Chunker struct {
	splitter  Splitter
	estimator tokens.Estimator
	size      int
	overlap   int
}

// New creates a Chunker with 1000-rune chunks and 100-rune overlap.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		splitter:  TextSplitter{},
		estimator: tokens.Heuristic,
		size:      DefaultSize,
		overlap:   DefaultOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChunkFile splits a single file. When the splitter yields nothing usable the
// whole trimmed file becomes one chunk. Chunk indexes are ordinal.
func (c *Chunker) ChunkFile(repoID, repoURL string, f walker.File) ([]Chunk, error) {
	trimmed := strings.TrimSpace(f.Content)
	if trimmed == "" {
		return nil, nil
	}

	pieces, err := c.splitter.Split(f.Content, f.Type, c.size, c.overlap)
	if err != nil {
		return nil, fmt.Errorf("splitting %s: %w", f.Path, err)
	}

	texts := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			texts = append(texts, p)
		}
	}
	if len(texts) == 0 {
		texts = []string{trimmed}
	}

	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{
			RepositoryID:  repoID,
			RepositoryURL: repoURL,
			FilePath:      f.Path,
			FileExtension: f.Ext,
			ChunkIndex:    i,
			Type:          f.Type,
			Content:       text,
			TokenCount:    c.estimator.Estimate(text),
			Language:      f.Language,
		}
	}
	return chunks, nil
}

// ChunkFiles chunks every file in order.
func (c *Chunker) ChunkFiles(repoID, repoURL string, files []walker.File) ([]Chunk, error) {
	var all []Chunk
	for _, f := range files {
		chunks, err := c.ChunkFile(repoID, repoURL, f)
		if err != nil {
			return nil, err
		}
		all = append(all, chunks...)
	}
	return all, nil
}

// Texts returns chunk contents in order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Content
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
