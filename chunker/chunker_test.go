package chunker

import (
	"strings"
	"testing"
)

func TestApproxTokenCountEmpty(t *testing.T) {
	if got := ApproxTokenCount("", KindDoc); got != 0 {
		t.Fatalf("ApproxTokenCount(empty) = %d, want 0", got)
	}
}

func TestApproxTokenCountCodeDenserThanDoc(t *testing.T) {
	text := strings.Repeat("x=1; y=2; z=3;\n", 20)
	doc := ApproxTokenCount(text, KindDoc)
	code := ApproxTokenCount(text, KindCode)
	if code <= doc {
		t.Fatalf("expected code estimate (%d) to exceed doc estimate (%d) for symbol-dense text", code, doc)
	}
}

func TestChunkByParagraphsKeepsFencedCodeIntact(t *testing.T) {
	text := "Intro paragraph.\n\n```go\nfunc main() {}\n```\n\nClosing paragraph.\n"
	frags := ChunkByParagraphs(text, 800, 0, 0)
	if len(frags) == 0 {
		t.Fatal("expected at least one fragment")
	}
	joined := frags[0].Text
	if !strings.Contains(joined, "```go\nfunc main() {}\n```") {
		t.Fatalf("fenced code block was split or mangled: %q", joined)
	}
}

func TestChunkByParagraphsRespectsTargetBudget(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("This is a reasonably long sentence about nothing in particular. ")
		b.WriteString("\n\n")
	}
	frags := ChunkByParagraphs(b.String(), 100, 20, 50)
	if len(frags) < 2 {
		t.Fatalf("expected multiple fragments for long text, got %d", len(frags))
	}
	for _, f := range frags {
		if f.EstTokens > 300 {
			t.Fatalf("fragment token estimate %d grossly exceeds target", f.EstTokens)
		}
	}
}

func TestChunkByParagraphsCoversWholeInput(t *testing.T) {
	text := "para one\n\npara two\n\npara three\n"
	frags := ChunkByParagraphs(text, 800, 0, 0)
	var total strings.Builder
	for _, f := range frags {
		total.WriteString(f.Text)
	}
	if !strings.Contains(total.String(), "para one") || !strings.Contains(total.String(), "para three") {
		t.Fatalf("fragments do not cover full input: %q", total.String())
	}
}

func TestChunkByLinesAccumulatesUntilBudget(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("var x = 1;\n")
	}
	frags := ChunkByLines(b.String(), 30, 0)
	if len(frags) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(frags))
	}
}

func TestChunkByLinesEmptyInputProducesNoFragments(t *testing.T) {
	frags := ChunkByLines("", 800, 0)
	if len(frags) != 0 {
		t.Fatalf("expected no fragments for empty input, got %d", len(frags))
	}
}

func TestChunkDispatchesByMode(t *testing.T) {
	code := "func main() {\n\tfmt.Println(1);\n}\n"
	frags := Chunk(code, Policy{Mode: ModeCode, TargetTokens: 800})
	if len(frags) != 1 {
		t.Fatalf("expected single fragment for small code input, got %d", len(frags))
	}
}

func TestChunkAutoPicksCodeForSymbolDenseText(t *testing.T) {
	code := strings.Repeat("a=1;b=2;c=3;d=4;\n", 10)
	if !looksLikeCode(code) {
		t.Fatal("expected symbol-dense text to be classified as code")
	}
	prose := strings.Repeat("The quick brown fox jumps over the lazy dog.\n", 10)
	if looksLikeCode(prose) {
		t.Fatal("expected prose to be classified as doc")
	}
}

func TestSplitIntoSentencesKeepsTerminators(t *testing.T) {
	got := splitIntoSentences("One fish. Two fish! Red fish? Blue fish.")
	want := []string{"One fish.", "Two fish!", "Red fish?", "Blue fish."}
	if len(got) != len(want) {
		t.Fatalf("got %d sentences, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPolicyValidateRejectsBadBudgets(t *testing.T) {
	cases := []Policy{
		{TargetTokens: 0, OverlapTokens: 0, MinTokens: 0},
		{TargetTokens: 100, OverlapTokens: 100, MinTokens: 0},
		{TargetTokens: 100, OverlapTokens: -1, MinTokens: 0},
		{TargetTokens: 100, OverlapTokens: 0, MinTokens: 200},
	}
	for _, p := range cases {
		if err := p.Validate(); err == nil {
			t.Fatalf("expected %+v to be invalid", p)
		}
	}
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("DefaultPolicy should validate, got: %v", err)
	}
}
