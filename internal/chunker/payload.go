package chunker

import (
	"fmt"
	"strconv"

	"github.com/fyrsmithlabs/repolens/internal/walker"
)

// Payload keys stored alongside each vector.
const (
	KeyRepositoryID  = "repositoryId"
	KeyRepositoryURL = "repositoryUrl"
	KeyFilePath      = "filePath"
	KeyFileExtension = "fileExtension"
	KeyChunkIndex    = "chunkIndex"
	KeyType          = "type"
	KeyContent       = "content"
	KeyTokenCount    = "tokenCount"
	KeyLanguage      = "language"
)

// Payload returns the vector payload for the chunk.
func (c Chunk) Payload() map[string]any {
	p := map[string]any{
		KeyRepositoryID:  c.RepositoryID,
		KeyRepositoryURL: c.RepositoryURL,
		KeyFilePath:      c.FilePath,
		KeyFileExtension: c.FileExtension,
		KeyChunkIndex:    c.ChunkIndex,
		KeyType:          string(c.Type),
		KeyContent:       c.Content,
		KeyTokenCount:    c.TokenCount,
	}
	if c.Language != "" {
		p[KeyLanguage] = c.Language
	}
	return p
}

// FromPayload rebuilds a chunk from a stored payload. Numeric fields may
// arrive as any integer or float type, or as decimal strings.
func FromPayload(p map[string]any) (Chunk, error) {
	if p == nil {
		return Chunk{}, fmt.Errorf("nil payload")
	}
	idx, err := intField(p, KeyChunkIndex)
	if err != nil {
		return Chunk{}, err
	}
	count, err := intField(p, KeyTokenCount)
	if err != nil {
		return Chunk{}, err
	}
	return Chunk{
		RepositoryID:  stringField(p, KeyRepositoryID),
		RepositoryURL: stringField(p, KeyRepositoryURL),
		FilePath:      stringField(p, KeyFilePath),
		FileExtension: stringField(p, KeyFileExtension),
		ChunkIndex:    idx,
		Type:          walker.ContentType(stringField(p, KeyType)),
		Content:       stringField(p, KeyContent),
		TokenCount:    count,
		Language:      stringField(p, KeyLanguage),
	}, nil
}

func stringField(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

// intField returns 0 for a missing key.
func intField(p map[string]any, key string) (int, error) {
	switch v := p[key].(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float32:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("payload %s: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("payload %s: unexpected type %T", key, v)
	}
}
