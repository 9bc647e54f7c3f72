// Package chunker splits extracted pages into token-bounded chunks using
// a recursive separator preference: paragraph, then newline, then
// sentence, then word, then character.
package chunker

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/verifyr-ai/verifyr-core/extract"
	"github.com/verifyr-ai/verifyr-core/store"
)

// Config controls chunking behaviour.
type Config struct {
	TargetTokens int // Target chunk size in tokens.
	OverlapTokens int // Overlap between consecutive chunks, in tokens.
}

// separators, tried in order; an empty string means "fall back to
// character-level splitting" and always succeeds.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker converts extracted pages into store-ready chunks.
type Chunker struct {
	cfg Config
	enc *tiktoken.Tiktoken
}

// New returns a Chunker with the given configuration. Zero-value fields
// are replaced with the spec's defaults (800 / 200 tokens).
func New(cfg Config) (*Chunker, error) {
	if cfg.TargetTokens == 0 {
		cfg.TargetTokens = 800
	}
	if cfg.OverlapTokens == 0 {
		cfg.OverlapTokens = 200
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("chunker: loading tokenizer: %w", err)
	}
	return &Chunker{cfg: cfg, enc: enc}, nil
}

func (c *Chunker) tokenCount(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// Chunk splits one page's text into deterministically-identified chunks.
// Pages with empty text yield no chunks.
func (c *Chunker) Chunk(p extract.Page) []store.Chunk {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return nil
	}

	fragments := c.split(text, separators)

	chunks := make([]store.Chunk, 0, len(fragments))
	for i, frag := range fragments {
		frag = strings.TrimSpace(frag)
		if frag == "" {
			continue
		}
		chunks = append(chunks, store.Chunk{
			ChunkID:     fmt.Sprintf("%s_%s_p%d_c%d", p.ProductName, p.DocType, p.PageNum, i),
			ProductName: p.ProductName,
			DocType:     p.DocType,
			PageNum:     p.PageNum,
			ChunkIndex:  i,
			Content:     frag,
			TokenCount:  c.tokenCount(frag),
			SourceFile:  p.SourceFile,
			SourceURL:   p.SourceURL,
			SourceName:  p.SourceName,
		})
	}
	return chunks
}

// split recursively breaks text into TargetTokens-bounded fragments,
// trying each separator in order before falling back to a hard
// character cut. When a fragment is closed because the next piece would
// exceed the target, the following fragment starts with up to
// OverlapTokens of its trailing text, and the first sub-fragment of an
// oversized piece starts with the overlap of the fragment before it.
// The fragment after an oversized piece's last sub-fragment starts
// without overlap, and hardSplit windows do not overlap each other.
func (c *Chunker) split(text string, seps []string) []string {
	if c.tokenCount(text) <= c.cfg.TargetTokens {
		return []string{text}
	}

	pieces := splitOn(text, seps[0])
	if len(pieces) <= 1 && len(seps) > 1 {
		// This separator didn't divide the text further; try the next.
		return c.split(text, seps[1:])
	}

	var fragments []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() == 0 {
			return
		}
		fragments = append(fragments, strings.TrimSpace(current.String()))
	}

	for _, piece := range pieces {
		pieceTokens := c.tokenCount(piece)

		if pieceTokens > c.cfg.TargetTokens {
			// A single piece still exceeds the target: recurse with the
			// next separator level (character-level always terminates).
			flush()
			overlap := extractOverlap(current.String(), c.cfg.OverlapTokens, c.enc)
			current.Reset()
			currentTokens = 0

			var sub []string
			if len(seps) > 1 {
				sub = c.split(piece, seps[1:])
			} else {
				sub = hardSplit(piece, c.cfg.TargetTokens, c.enc)
			}
			for j, s := range sub {
				if j == 0 && overlap != "" {
					s = overlap + s
				}
				fragments = append(fragments, strings.TrimSpace(s))
			}
			continue
		}

		if currentTokens+pieceTokens > c.cfg.TargetTokens && current.Len() > 0 {
			flush()
			overlap := extractOverlap(current.String(), c.cfg.OverlapTokens, c.enc)
			current.Reset()
			currentTokens = 0
			if overlap != "" {
				current.WriteString(overlap)
				currentTokens = c.tokenCount(overlap)
			}
		}

		current.WriteString(piece)
		currentTokens += pieceTokens
	}
	flush()

	return fragments
}

// splitOn divides text on sep, keeping the separator attached to the
// preceding piece so re-joining fragments reconstructs the source
// faithfully. sep == "" returns text whole, leaving it to split's
// character-level fallback (hardSplit).
func splitOn(text, sep string) []string {
	if sep == "" {
		return []string{text}
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			p += sep
		}
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// hardSplit is the character-level fallback: cut text into TargetTokens
// pieces by encoding to tokens and decoding fixed-size windows.
func hardSplit(text string, targetTokens int, enc *tiktoken.Tiktoken) []string {
	ids := enc.Encode(text, nil, nil)
	if len(ids) == 0 {
		return nil
	}
	var out []string
	for start := 0; start < len(ids); start += targetTokens {
		end := start + targetTokens
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, enc.Decode(ids[start:end]))
	}
	return out
}

// extractOverlap returns the trailing portion of text whose token count
// is at most maxTokens.
func extractOverlap(text string, maxTokens int, enc *tiktoken.Tiktoken) string {
	ids := enc.Encode(text, nil, nil)
	if len(ids) == 0 {
		return ""
	}
	if maxTokens > len(ids) {
		maxTokens = len(ids)
	}
	if maxTokens == 0 {
		return ""
	}
	return enc.Decode(ids[len(ids)-maxTokens:])
}
