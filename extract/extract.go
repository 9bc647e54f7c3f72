package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"
)

// ErrExtraction is returned when a PDF cannot be opened or decoded.
// WalkProducts logs and skips a document that fails with it.
var ErrExtraction = errors.New("extract: extraction failed")

// Extractor walks a product documentation root and produces one Page per
// physical PDF page.
type Extractor struct {
	sources SourceMap
}

// New builds an Extractor, loading the optional sources manifest at
// sourcesFile ("" disables source attribution).
func New(sourcesFile string) (*Extractor, error) {
	sm, err := loadSourceMap(sourcesFile)
	if err != nil {
		return nil, fmt.Errorf("loading sources manifest: %w", err)
	}
	return &Extractor{sources: sm}, nil
}

// WalkProducts walks root/<product_name>/*.pdf, extracting every page of
// every PDF it finds. A PDF that fails to open is logged and skipped; it
// does not abort extraction of the remaining documents.
func (e *Extractor) WalkProducts(ctx context.Context, root string) ([]Page, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading docs root %s: %w", root, err)
	}

	var pages []Page
	for _, entry := range entries {
		if ctx.Err() != nil {
			return pages, ctx.Err()
		}
		if !entry.IsDir() {
			continue
		}
		product := entry.Name()
		productDir := filepath.Join(root, product)

		docs, err := os.ReadDir(productDir)
		if err != nil {
			slog.Warn("extract: skipping unreadable product directory", "product", product, "error", err)
			continue
		}
		for _, doc := range docs {
			if doc.IsDir() || !strings.EqualFold(filepath.Ext(doc.Name()), ".pdf") {
				continue
			}
			path := filepath.Join(productDir, doc.Name())
			docPages, err := e.extractFile(product, path, doc.Name())
			if err != nil {
				slog.Error("extract: skipping document", "product", product, "file", doc.Name(), "error", err)
				continue
			}
			pages = append(pages, docPages...)
		}
	}
	return pages, nil
}

// extractFile extracts every page of a single PDF as flat Pages.
func (e *Extractor) extractFile(product, path, filename string) ([]Page, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrExtraction, path, err)
	}
	defer f.Close()

	docType := classifyDocType(filename)
	rel := filename
	src := e.sources[product][rel]

	totalPages := reader.NumPage()
	pages := make([]Page, 0, totalPages)
	for i := 1; i <= totalPages; i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			pages = append(pages, Page{
				ProductName: product,
				DocType:     docType,
				PageNum:     i,
				SourceFile:  filename,
				SourceURL:   src.SourceURL,
				SourceName:  src.SourceName,
				Text:        "",
			})
			continue
		}

		text, err := extractPageTextOrdered(p)
		if err != nil {
			text = ""
		}
		text = norm.NFC.String(strings.TrimSpace(text))

		pages = append(pages, Page{
			ProductName: product,
			DocType:     docType,
			PageNum:     i,
			SourceFile:  filename,
			SourceURL:   src.SourceURL,
			SourceName:  src.SourceName,
			Text:        text,
		})
	}
	return pages, nil
}

// extractPageTextOrdered extracts text from a PDF page sorted by visual
// position (top-to-bottom). The default GetPlainText reads text in PDF
// object order, which can differ from visual layout.
//
// Groups Content() elements into visual lines by Y proximity (preserving
// content-stream order within each line, which GetPlainText relies on for
// correct character sequencing), then sorts lines by Y for reading order.
func extractPageTextOrdered(page pdf.Page) (string, error) {
	content := page.Content()
	if len(content.Text) == 0 {
		return page.GetPlainText(nil)
	}

	const lineTolerance = 3.0

	type visualLine struct {
		y   float64
		buf strings.Builder
	}

	var lines []*visualLine
	var cur *visualLine

	for _, t := range content.Text {
		if cur == nil || math.Abs(t.Y-cur.y) > lineTolerance {
			lines = append(lines, &visualLine{y: t.Y})
			cur = lines[len(lines)-1]
		}
		cur.buf.WriteString(t.S)
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].y > lines[j].y
	})

	var parts []string
	for _, l := range lines {
		text := strings.TrimSpace(l.buf.String())
		if text != "" {
			parts = append(parts, text)
		}
	}

	result := strings.Join(parts, "\n")
	if strings.TrimSpace(result) == "" {
		return page.GetPlainText(nil)
	}
	return result, nil
}
