package chunk

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/harleven/casedocs/internal/errs"
	"github.com/harleven/casedocs/internal/models"
)

func TestSplit_EmptyText(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "empty", text: ""},
		{name: "whitespace only", text: "   \n\t  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split(tt.text, models.DocTypeOther)
			if err == nil {
				t.Fatal("Split() expected error for empty text")
			}
			var stageErr *errs.StageError
			if !errs.IsRetryable(err) {
				// Chunking errors are retryable stage errors.
				t.Errorf("Split() error = %v, want retryable stage error (%T)", err, stageErr)
			}
		})
	}
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	text := "Settlement of £15,000 dated 1 January 2024"
	chunks, err := Split(text, models.DocTypeLetter)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("Split() got %d chunks, want 1", len(chunks))
	}

	ch := chunks[0]
	if ch.ChunkIndex != 0 {
		t.Errorf("ChunkIndex = %d, want 0", ch.ChunkIndex)
	}
	if ch.Text != text {
		t.Errorf("Text = %q, want %q", ch.Text, text)
	}
	if ch.CharCount != len(text) {
		t.Errorf("CharCount = %d, want %d", ch.CharCount, len(text))
	}
	if want := (len(text) + 3) / 4; ch.TokenCount != want {
		t.Errorf("TokenCount = %d, want %d", ch.TokenCount, want)
	}

	if len(ch.Metadata.Dates) != 1 || ch.Metadata.Dates[0] != "1 January 2024" {
		t.Errorf("Dates = %v, want [1 January 2024]", ch.Metadata.Dates)
	}
	if len(ch.Metadata.Amounts) != 1 || ch.Metadata.Amounts[0] != "£15,000" {
		t.Errorf("Amounts = %v, want [£15,000]", ch.Metadata.Amounts)
	}
}

func TestSplit_BelowFloorKeptWhenAlone(t *testing.T) {
	// Shorter than the size floor but the whole document: must survive.
	text := "Tiny note."
	chunks, err := Split(text, models.DocTypeOther)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if len(chunks[0].Text) >= MinChunkChars {
		t.Fatalf("test text unexpectedly above floor: %d chars", len(chunks[0].Text))
	}
}

func TestSplit_IndicesContiguous(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&sb, "Paragraph %d carries enough words to matter for chunk sizing purposes.\n\n", i)
	}

	for _, docType := range []models.DocumentType{
		models.DocTypeLetter,
		models.DocTypeReport,
		models.DocTypeWitnessStatement,
		models.DocTypeOther,
	} {
		t.Run(string(docType), func(t *testing.T) {
			chunks, err := Split(sb.String(), docType)
			if err != nil {
				t.Fatalf("Split() error = %v", err)
			}
			if len(chunks) < 2 {
				t.Fatalf("got %d chunks, want several", len(chunks))
			}
			for i, ch := range chunks {
				if ch.ChunkIndex != i {
					t.Errorf("chunk[%d].ChunkIndex = %d", i, ch.ChunkIndex)
				}
				if strings.TrimSpace(ch.Text) == "" {
					t.Errorf("chunk[%d] is empty", i)
				}
			}
		})
	}
}

func TestSplit_SizeProfiles(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 120; i++ {
		fmt.Fprintf(&sb, "Sentence number %d adds to the running total of characters. ", i)
	}
	text := sb.String()

	tests := []struct {
		docType models.DocumentType
		size    int
		overlap int
	}{
		{models.DocTypeLetter, 800, 150},
		{models.DocTypeReport, 1200, 200},
		{models.DocTypeWitnessStatement, 1000, 200},
		{models.DocTypeOther, 1000, 200},
	}
	for _, tt := range tests {
		t.Run(string(tt.docType), func(t *testing.T) {
			gotSize, gotOverlap := tt.docType.SizeProfile()
			if gotSize != tt.size || gotOverlap != tt.overlap {
				t.Fatalf("SizeProfile() = (%d, %d), want (%d, %d)", gotSize, gotOverlap, tt.size, tt.overlap)
			}

			chunks, err := Split(text, tt.docType)
			if err != nil {
				t.Fatalf("Split() error = %v", err)
			}
			// Overlap can push a chunk past the target but never past
			// size plus overlap plus trimming slack.
			limit := tt.size + tt.overlap + 1
			for i, ch := range chunks {
				if len(ch.Text) > limit {
					t.Errorf("chunk[%d] has %d chars, limit %d", i, len(ch.Text), limit)
				}
			}
		})
	}
}

func TestSplit_OverlapCarriesTail(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 80; i++ {
		fmt.Fprintf(&sb, "Clause %d of the agreement continues the preceding obligations. ", i)
	}
	chunks, err := Split(sb.String(), models.DocTypeLetter)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}

	// Each chunk after the first starts with text repeated from its
	// predecessor's tail.
	for i := 1; i < len(chunks); i++ {
		firstWords := strings.Join(strings.Fields(chunks[i].Text)[:3], " ")
		if !strings.Contains(chunks[i-1].Text, firstWords) {
			t.Errorf("chunk[%d] opening %q not found in chunk[%d]", i, firstWords, i-1)
		}
	}
}

func TestSplit_PageAttribution(t *testing.T) {
	var sb strings.Builder
	for page := 1; page <= 3; page++ {
		fmt.Fprintf(&sb, "--- Page %d ---\n", page)
		for i := 0; i < 15; i++ {
			fmt.Fprintf(&sb, "Page %d line %d with enough words to fill a chunk eventually. ", page, i)
		}
		sb.WriteString("\n")
	}

	chunks, err := Split(sb.String(), models.DocTypeOther)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	seen := make(map[int]bool)
	for i, ch := range chunks {
		if ch.PageNumber == nil {
			t.Errorf("chunk[%d] has no page number", i)
			continue
		}
		seen[*ch.PageNumber] = true
		if !strings.Contains(ch.Text, fmt.Sprintf("Page %d", *ch.PageNumber)) {
			t.Errorf("chunk[%d] attributed to page %d but does not mention it: %q", i, *ch.PageNumber, ch.Text[:40])
		}
	}
	if !seen[1] || !seen[3] {
		t.Errorf("pages covered = %v, want first and last pages represented", seen)
	}
}

func TestSplit_NoMarkersNoPage(t *testing.T) {
	chunks, err := Split("A plain text document with no page markers anywhere in it.", models.DocTypeOther)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if chunks[0].PageNumber != nil {
		t.Errorf("PageNumber = %d, want nil for unpaginated text", *chunks[0].PageNumber)
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "CRLF normalized",
			in:   "line one\r\nline two\rline three",
			want: "line one\nline two\nline three",
		},
		{
			name: "space runs collapsed",
			in:   "too    many\tspaces",
			want: "too many spaces",
		},
		{
			name: "newline runs capped",
			in:   "a\n\n\n\n\n\nb",
			want: "a\n\n\nb",
		},
		{
			name: "non printable stripped, currency kept",
			in:   "cost £10 and €5 \x00\a done",
			want: "cost £10 and €5 done",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clean(tt.in); got != tt.want {
				t.Errorf("clean() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitRecursive_HardCut(t *testing.T) {
	// No separators at all forces fixed-width cuts.
	text := strings.Repeat("x", 2500)
	pieces := splitRecursive(text, 1000, separators)
	if len(pieces) != 3 {
		t.Fatalf("got %d pieces, want 3", len(pieces))
	}
	for i, p := range pieces[:2] {
		if len(p) != 1000 {
			t.Errorf("piece[%d] has %d chars, want 1000", i, len(p))
		}
	}
	if len(pieces[2]) != 500 {
		t.Errorf("last piece has %d chars, want 500", len(pieces[2]))
	}
}

func TestHardCut_RuneBoundaries(t *testing.T) {
	// Two bytes per rune, with an odd cut width that would land mid-rune.
	text := strings.Repeat("£", 700)
	pieces := hardCut(text, 999)
	var rebuilt strings.Builder
	for i, p := range pieces {
		if !utf8.ValidString(p) {
			t.Errorf("piece[%d] is not valid UTF-8", i)
		}
		if len(p) > 999 {
			t.Errorf("piece[%d] has %d bytes, want <= 999", i, len(p))
		}
		rebuilt.WriteString(p)
	}
	if rebuilt.String() != text {
		t.Error("pieces do not reassemble into the original text")
	}
}

func TestApplyOverlap_RuneBoundaries(t *testing.T) {
	// 300 bytes of three-byte runes; an overlap of 50 bytes starts
	// mid-rune and must advance to the next rune start.
	pieces := []string{strings.Repeat("€", 100), "second piece"}
	out := applyOverlap(pieces, 50)
	if !utf8.ValidString(out[1]) {
		t.Fatalf("overlapped piece is not valid UTF-8: %q", out[1])
	}
	wantPrefix := strings.Repeat("€", 16) + " "
	if !strings.HasPrefix(out[1], wantPrefix) {
		t.Errorf("overlapped piece = %q, want prefix %q", out[1], wantPrefix)
	}
}

func TestSplitRecursive_PrefersParagraphs(t *testing.T) {
	para := strings.Repeat("word ", 100) // ~500 chars
	text := para + "\n\n" + para + "\n\n" + para
	pieces := splitRecursive(text, 600, separators)
	for i, p := range pieces {
		if len(p) > 600 {
			t.Errorf("piece[%d] has %d chars, want <= 600", i, len(p))
		}
	}
	if len(pieces) != 3 {
		t.Errorf("got %d pieces, want 3 paragraph-aligned pieces", len(pieces))
	}
}

func TestExtractMetadata_Patterns(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		wantDates     []string
		wantAmounts   []string
		wantCitations []string
	}{
		{
			name:      "numeric dates",
			text:      "Filed on 12/03/2024 and served 2024-03-15.",
			wantDates: []string{"12/03/2024", "2024-03-15"},
		},
		{
			name:      "textual dates with ordinals",
			text:      "Signed on 3rd February 2023 and again on 1 January 2024.",
			wantDates: []string{"3rd February 2023", "1 January 2024"},
		},
		{
			name:      "month first date",
			text:      "Hearing listed for March 15, 2024 in court.",
			wantDates: []string{"March 15, 2024"},
		},
		{
			name:        "amounts across currencies",
			text:        "Claim for £1,250,000.50 plus costs of $300 and €45.99.",
			wantAmounts: []string{"£1,250,000.50", "$300", "€45.99"},
		},
		{
			name:          "neutral citation and case name",
			text:          "Following Smith v Jones [2019] EWCA Civ 123 the position changed.",
			wantCitations: []string{"[2019] EWCA Civ 123", "Smith v Jones"},
		},
		{
			name:          "statute reference",
			text:          "Pursuant to section 8 of the Housing Act 1988 notice was given.",
			wantCitations: []string{"section 8 of the Housing Act 1988"},
		},
		{
			name:      "duplicates collapsed",
			text:      "On 1 January 2024, then again 1 January 2024.",
			wantDates: []string{"1 January 2024"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := extractMetadata(tt.text, models.DocTypeOther)
			assertStrings(t, "Dates", meta.Dates, tt.wantDates)
			assertStrings(t, "Amounts", meta.Amounts, tt.wantAmounts)
			assertStrings(t, "Citations", meta.Citations, tt.wantCitations)
		})
	}
}

func assertStrings(t *testing.T, field string, got, want []string) {
	t.Helper()
	if len(want) == 0 {
		return
	}
	if len(got) != len(want) {
		t.Errorf("%s = %v, want %v", field, got, want)
		return
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s[%d] = %q, want %q", field, i, got[i], want[i])
		}
	}
}

func TestDetectHeading(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "all caps first line", text: "WITNESS STATEMENT\nI, John Smith, state as follows.", want: "WITNESS STATEMENT"},
		{name: "label form", text: "Background:\nThe parties entered into a contract.", want: "Background"},
		{name: "ordinary sentence", text: "The claimant wrote to the defendant.", want: ""},
		{name: "too long", text: strings.ToUpper(strings.Repeat("LONG ", 20)) + "\nbody", want: ""},
		{name: "too few letters", text: "OK\nbody follows here.", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectHeading(tt.text); got != tt.want {
				t.Errorf("detectHeading() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCountSentences(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"One. Two! Three?", 3},
		{"No terminal punctuation at all", 1},
		{"Trailing period.", 1},
		{"", 0},
	}
	for _, tt := range tests {
		if got := countSentences(tt.text); got != tt.want {
			t.Errorf("countSentences(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 100), 25},
	}
	for _, tt := range tests {
		if got := estimateTokens(tt.text); got != tt.want {
			t.Errorf("estimateTokens(%d chars) = %d, want %d", len(tt.text), got, tt.want)
		}
	}
}
