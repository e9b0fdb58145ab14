// Package chunk splits extracted text into overlapping, indexed chunks
// sized by document type.
package chunk

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/harleven/casedocs/internal/errs"
	"github.com/harleven/casedocs/internal/models"
)

// Separators tried in priority order. The empty string means a hard
// character cut and always succeeds.
var separators = []string{"\n\n\n", "\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " ", ""}

// MinChunkChars is the floor below which a chunk is discarded, unless it
// is the only chunk of the document.
const MinChunkChars = 100

var (
	pageMarkerRe = regexp.MustCompile(`(?m)^--- Page (\d+) ---$`)
	spaceRunRe   = regexp.MustCompile(`[ \t]+`)
	newlineRunRe = regexp.MustCompile(`\n{4,}`)
	nonPrintRe   = regexp.MustCompile(`[^\x20-\x7E\n\t£€]`)
)

type pageSegment struct {
	page int
	text string
}

// Split chunks text for the given document type. Returned chunks carry
// contiguous indices from 0; ids and document ids are assigned by the
// caller.
func Split(text string, docType models.DocumentType) ([]*models.DocumentChunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errs.NewChunkingError(errors.New("empty text"))
	}

	size, overlap := docType.SizeProfile()
	segments := splitPages(text)

	// Concatenate cleaned segments, remembering where each page starts.
	type pageStart struct {
		offset int
		page   int
	}
	var (
		b      strings.Builder
		starts []pageStart
	)
	for _, seg := range segments {
		cleaned := clean(seg.text)
		if cleaned == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		starts = append(starts, pageStart{offset: b.Len(), page: seg.page})
		b.WriteString(cleaned)
	}
	full := b.String()
	if full == "" {
		return nil, errs.NewChunkingError(errors.New("no text survived cleaning"))
	}

	pieces := splitRecursive(full, size, separators)

	// Track each piece's start offset in the full text for page
	// attribution, before overlap rewrites the text.
	offsets := make([]int, len(pieces))
	pos := 0
	for i, p := range pieces {
		offsets[i] = pos
		pos += len(p)
	}

	pageFor := func(offset int) *int {
		var page int
		for _, ps := range starts {
			if ps.offset > offset {
				break
			}
			page = ps.page
		}
		if page == 0 {
			return nil
		}
		p := page
		return &p
	}

	withOverlap := applyOverlap(pieces, overlap)

	var chunks []*models.DocumentChunk
	for i, piece := range withOverlap {
		trimmed := strings.TrimSpace(piece)
		if len(trimmed) < MinChunkChars && len(pieces) > 1 {
			continue
		}
		chunks = append(chunks, &models.DocumentChunk{
			Text:       trimmed,
			CharCount:  len(trimmed),
			TokenCount: estimateTokens(trimmed),
			PageNumber: pageFor(offsets[i]),
			Metadata:   extractMetadata(trimmed, docType),
		})
	}
	if len(chunks) == 0 {
		return nil, errs.NewChunkingError(errors.New("no chunks survived the size floor"))
	}

	for i, ch := range chunks {
		ch.ChunkIndex = i
		ch.Heading = ch.Metadata.Heading
	}
	return chunks, nil
}

// splitPages slices raw text on page markers. Text without markers is a
// single unattributed segment.
func splitPages(text string) []pageSegment {
	matches := pageMarkerRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []pageSegment{{page: 0, text: text}}
	}

	var segments []pageSegment
	if head := text[:matches[0][0]]; strings.TrimSpace(head) != "" {
		segments = append(segments, pageSegment{page: 0, text: head})
	}
	for i, m := range matches {
		page := 0
		for _, c := range text[m[2]:m[3]] {
			page = page*10 + int(c-'0')
		}
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		segments = append(segments, pageSegment{page: page, text: text[m[1]:end]})
	}
	return segments
}

// clean normalizes whitespace and strips artifacts that OCR tends to
// produce, preserving paragraph structure.
func clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = nonPrintRe.ReplaceAllString(text, "")
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = newlineRunRe.ReplaceAllString(text, "\n\n\n")
	return strings.TrimSpace(text)
}

// splitRecursive cuts text into pieces no longer than size, preferring
// the earliest separator that produces a usable split.
func splitRecursive(text string, size int, seps []string) []string {
	if len(text) <= size {
		return []string{text}
	}
	if len(seps) == 0 {
		return hardCut(text, size)
	}

	sep := seps[0]
	if sep == "" {
		return hardCut(text, size)
	}

	parts := strings.SplitAfter(text, sep)
	if len(parts) == 1 {
		return splitRecursive(text, size, seps[1:])
	}

	// Greedily merge parts back up to size; oversized buffers recurse
	// with the next separator.
	var (
		out []string
		buf strings.Builder
	)
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		piece := buf.String()
		buf.Reset()
		if len(piece) > size {
			out = append(out, splitRecursive(piece, size, seps[1:])...)
		} else {
			out = append(out, piece)
		}
	}
	for _, part := range parts {
		if buf.Len() > 0 && buf.Len()+len(part) > size {
			flush()
		}
		buf.WriteString(part)
	}
	flush()
	return out
}

func hardCut(text string, size int) []string {
	var out []string
	for len(text) > size {
		// Back up so the cut never lands inside a multi-byte rune.
		cut := size
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = size
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

// applyOverlap prefixes every piece after the first with the word-aligned
// tail of its predecessor.
func applyOverlap(pieces []string, overlap int) []string {
	if overlap <= 0 || len(pieces) < 2 {
		return pieces
	}
	out := make([]string, len(pieces))
	out[0] = pieces[0]
	for i := 1; i < len(pieces); i++ {
		prev := pieces[i-1]
		tail := prev
		if len(prev) > overlap {
			start := len(prev) - overlap
			for start < len(prev) && !utf8.RuneStart(prev[start]) {
				start++
			}
			tail = prev[start:]
			// Extend left to the previous word boundary so the overlap
			// never starts mid-word.
			if idx := strings.IndexAny(tail, " \n"); idx >= 0 {
				tail = tail[idx+1:]
			}
		}
		tail = strings.TrimSpace(tail)
		if tail == "" {
			out[i] = pieces[i]
			continue
		}
		out[i] = tail + " " + strings.TrimLeft(pieces[i], " \n")
	}
	return out
}

// estimateTokens approximates the token count at four characters per
// token, rounding up.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
