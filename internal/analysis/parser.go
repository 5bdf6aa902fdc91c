package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"lease-analyzer/internal/apperr"
	"lease-analyzer/internal/models"
)

// TextParser reads UTF-8 text documents. Pages are separated by form feeds
// and paragraphs by blank lines.
type TextParser struct {
	MaxBytes int64
	now      func() time.Time
}

// NewTextParser returns a parser capped at the accepted upload size.
func NewTextParser() *TextParser {
	return &TextParser{MaxBytes: models.MaxFileSize, now: time.Now}
}

func (p *TextParser) Parse(ctx context.Context, req models.AnalysisRequest, r io.Reader) (models.ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return models.ParsedDocument{}, err
	}
	raw, err := io.ReadAll(io.LimitReader(r, p.MaxBytes+1))
	if err != nil {
		return models.ParsedDocument{}, apperr.Transient(fmt.Errorf("read document: %w", err))
	}
	if int64(len(raw)) > p.MaxBytes {
		return models.ParsedDocument{}, apperr.Permanent(fmt.Errorf("document exceeds %d bytes", p.MaxBytes))
	}
	if !utf8.Valid(raw) {
		return models.ParsedDocument{}, apperr.Permanent(fmt.Errorf("document %s is not UTF-8 text (content type %s)", req.FileName, req.ContentType))
	}
	content := strings.ReplaceAll(string(raw), "\r\n", "\n")
	content = strings.TrimPrefix(content, "\ufeff")
	if strings.TrimSpace(content) == "" {
		return models.ParsedDocument{}, apperr.Permanent(errors.New("document contains no text"))
	}

	pages := strings.Split(content, "\f")
	var paragraphs []string
	for _, page := range pages {
		for _, block := range strings.Split(page, "\n\n") {
			if block = strings.TrimSpace(block); block != "" {
				paragraphs = append(paragraphs, block)
			}
		}
	}
	return models.ParsedDocument{
		FileID:     req.FileID,
		FileName:   req.FileName,
		Content:    strings.ReplaceAll(content, "\f", "\n"),
		Pages:      len(pages),
		Paragraphs: paragraphs,
		ParsedAt:   p.now().UTC(),
	}, nil
}
