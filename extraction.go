/*
Copyright 2025 Docpipe Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package docpipe

import (
	"context"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"github.com/docpipehq/docpipe/model"
)

// charsPerPage approximates page boundaries for content that carries no
// explicit page markers.
const charsPerPage = 3000

// ContentExtractor turns the raw bytes of an uploaded document into text.
type ContentExtractor interface {
	Extract(ctx context.Context, doc *model.Document, raw []byte) (*model.ExtractedContent, error)
}

// TextExtractor extracts text content from uploaded documents. Plain-text
// uploads pass through unchanged; binary formats are scanned for printable
// runs as a best-effort fallback.
type TextExtractor struct {
	engine string
}

// NewTextExtractor creates an extractor reporting the given engine name in
// its results.
func NewTextExtractor(engine string) *TextExtractor {
	return &TextExtractor{engine: engine}
}

func (e *TextExtractor) Extract(ctx context.Context, doc *model.Document, raw []byte) (*model.ExtractedContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("document has no content")
	}

	var text string
	switch doc.Type {
	case model.TypePlain:
		text = string(raw)
	case model.TypePDF, model.TypePNG, model.TypeJPG, model.TypeTIFF:
		text = printableRuns(raw)
		if strings.TrimSpace(text) == "" {
			return nil, errors.Errorf("no extractable text in %s document", doc.Type)
		}
	default:
		return nil, errors.Errorf("unsupported document type: %s", doc.Type)
	}

	return &model.ExtractedContent{
		FullText:  text,
		PageCount: countPages(text),
		Engine:    e.engine,
	}, nil
}

// countPages uses form feeds as page separators when present, otherwise
// falls back to a size heuristic.
func countPages(text string) int {
	if strings.Contains(text, "\f") {
		return strings.Count(text, "\f") + 1
	}
	pages := (len(text) + charsPerPage - 1) / charsPerPage
	if pages < 1 {
		pages = 1
	}
	return pages
}

// printableRuns collects runs of printable characters from binary content,
// dropping short fragments that are unlikely to be real words.
func printableRuns(raw []byte) string {
	var b strings.Builder
	var run []rune
	flush := func() {
		if len(run) >= 4 {
			b.WriteString(string(run))
			b.WriteByte(' ')
		}
		run = run[:0]
	}
	for _, r := range string(raw) {
		if unicode.IsPrint(r) && r != unicode.ReplacementChar {
			run = append(run, r)
			continue
		}
		flush()
	}
	flush()
	return strings.TrimSpace(b.String())
}
