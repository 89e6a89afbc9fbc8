package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/repolens/internal/walker"
)

// Splitter breaks text into pieces of at most maxSize runes with overlap
// runes shared between neighbours.
type Splitter interface {
	Split(text string, typ walker.ContentType, maxSize, overlap int) ([]string, error)
}

// TextSplitter slides a maxSize window over the text. Each window is cut at
// the latest structural boundary in its second half and the next window
// starts exactly overlap runes before that cut, so piece i+1 always begins
// with the last overlap runes of piece i. Markdown prefers cutting right
// before a heading line, then at blank lines; everything else prefers blank
// lines, then line ends, then spaces.
type TextSplitter struct{}

var _ Splitter = TextSplitter{}

var headingLine = regexp.MustCompile(`(?m)^#{1,6}[ \t]`)

var boundaries = []string{"\n\n", "\n", " "}

// Split implements Splitter.
func (TextSplitter) Split(text string, typ walker.ContentType, maxSize, overlap int) ([]string, error) {
	runes := []rune(text)
	if maxSize <= 0 || len(runes) <= maxSize {
		if text == "" {
			return nil, nil
		}
		return []string{text}, nil
	}
	if overlap < 0 || overlap >= maxSize {
		overlap = 0
	}
	minCut := max(overlap+1, maxSize/2)

	var pieces []string
	for start := 0; ; {
		if len(runes)-start <= maxSize {
			pieces = append(pieces, string(runes[start:]))
			return pieces, nil
		}
		end := start + cut(string(runes[start:start+maxSize]), typ, minCut)
		pieces = append(pieces, string(runes[start:end]))
		start = end - overlap
	}
}

// cut returns the rune length of the piece taken from window. The result is
// never below minCut, which keeps every window advancing past the overlap.
func cut(window string, typ walker.ContentType, minCut int) int {
	if typ == walker.Markdown {
		locs := headingLine.FindAllStringIndex(window, -1)
		for i := len(locs) - 1; i >= 0; i-- {
			if n := utf8.RuneCountInString(window[:locs[i][0]]); n >= minCut {
				return n
			}
		}
	}
	for _, sep := range boundaries {
		if i := strings.LastIndex(window, sep); i >= 0 {
			if n := utf8.RuneCountInString(window[:i+len(sep)]); n >= minCut {
				return n
			}
		}
	}
	return utf8.RuneCountInString(window)
}
